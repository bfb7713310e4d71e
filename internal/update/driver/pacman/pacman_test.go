package pacman

import "testing"

func TestParseOrphanList(t *testing.T) {
	out := "orphan-a\norphan-b\n\n"
	got := parseOrphanList(out)
	want := []string{"orphan-a", "orphan-b"}
	if len(got) != len(want) {
		t.Fatalf("parseOrphanList = %v, want %v", got, want)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("parseOrphanList = %v, want %v", got, want)
		}
	}
}

func TestParseOrphanListEmpty(t *testing.T) {
	if got := parseOrphanList(""); len(got) != 0 {
		t.Fatalf("expected no orphans, got %v", got)
	}
}
