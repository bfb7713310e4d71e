package apt

import "testing"

func TestParseKernelPurgeCandidates(t *testing.T) {
	out := `NOTE: This is only a simulation!
Remv linux-image-6.1.0-9-amd64 [6.1.37-1]
Remv linux-headers-6.1.0-9-amd64 [6.1.37-1]
Remv linux-image-6.1.0-10-amd64 [6.1.55-1]
`
	got := parseKernelPurgeCandidates(out)
	want := []string{"linux-image-6.1.0-9-amd64", "linux-image-6.1.0-10-amd64"}
	if len(got) != len(want) {
		t.Fatalf("parseKernelPurgeCandidates = %v, want %v", got, want)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("parseKernelPurgeCandidates = %v, want %v", got, want)
		}
	}
}

func TestParseKernelPurgeCandidatesEmpty(t *testing.T) {
	if got := parseKernelPurgeCandidates("NOTE: This is only a simulation!\n"); len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
}
