package nixos

import "testing"

func TestSplitStorePath(t *testing.T) {
	cases := []struct {
		in, wantName, wantVersion string
	}{
		{"/nix/store/abcdef0123456789-hello-2.12.1", "hello", "2.12.1"},
		{"/nix/store/abcdef0123456789-openssl-3.0.13", "openssl", "3.0.13"},
		{"/nix/store/abcdef0123456789-glibc", "glibc", ""},
		{"not-a-path", "", ""},
	}
	for _, c := range cases {
		name, version := splitStorePath(c.in)
		if name != c.wantName || version != c.wantVersion {
			t.Errorf("splitStorePath(%q) = (%q, %q), want (%q, %q)", c.in, name, version, c.wantName, c.wantVersion)
		}
	}
}
