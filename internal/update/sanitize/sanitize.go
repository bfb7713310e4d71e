// Package sanitize strips untrusted bytes coming back from a qube
// before they appear in logs or aggregated output (spec §6).
package sanitize

// Bytes decodes b as ASCII, discarding anything that doesn't decode,
// and keeps only printable ASCII (0x20..0x7E) plus newline. It never
// returns an error: malformed input is simply dropped, matching the
// "decode as ASCII, discard non-decodable bytes" rule in spec §6.
func Bytes(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c == '\n' || (c >= 0x20 && c <= 0x7E) {
			out = append(out, c)
		}
	}
	return string(out)
}

// String is a convenience wrapper for callers that already have a
// string (e.g. qrexec adapters that hand back decoded text).
func String(s string) string {
	return Bytes([]byte(s))
}
