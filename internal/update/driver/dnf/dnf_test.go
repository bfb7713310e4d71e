package dnf

import "testing"

func TestFedoraVersionAtLeast41(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"41", true},
		{"42", true},
		{"40", false},
		{"", false},
		{"not-a-number", false},
	}
	for _, c := range cases {
		if got := FedoraVersionAtLeast41(c.in); got != c.want {
			t.Errorf("FedoraVersionAtLeast41(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
