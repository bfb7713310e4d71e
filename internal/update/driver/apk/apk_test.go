package apk

import "testing"

func TestSplitNameVersion(t *testing.T) {
	cases := []struct {
		in, wantName, wantVersion string
	}{
		{"musl-1.2.4-r2", "musl", "1.2.4-r2"},
		{"bash-5.2.21-r0", "bash", "5.2.21-r0"},
		{"a-b-c-1.0-r0", "a-b-c", "1.0-r0"},
		{"nover", "nover", ""},
	}
	for _, c := range cases {
		name, version := splitNameVersion(c.in)
		if name != c.wantName || version != c.wantVersion {
			t.Errorf("splitNameVersion(%q) = (%q, %q), want (%q, %q)", c.in, name, version, c.wantName, c.wantVersion)
		}
	}
}
