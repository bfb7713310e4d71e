package qubesadmin

import "testing"

func TestNewStoreRejectsDuplicateNames(t *testing.T) {
	_, err := NewStore([]*Qube{
		{Name: "a", Class: ClassStandaloneVM},
		{Name: "a", Class: ClassStandaloneVM},
	})
	if err == nil {
		t.Fatal("expected error for duplicate qube name")
	}
}

func TestNewStoreRejectsUnknownTemplate(t *testing.T) {
	_, err := NewStore([]*Qube{
		{Name: "app", Class: ClassAppVM, Template: "missing"},
	})
	if err == nil {
		t.Fatal("expected error for unknown template reference")
	}
}

func TestNewStoreDerivesBackrefs(t *testing.T) {
	store, err := NewStore([]*Qube{
		{Name: "tmpl", Class: ClassTemplateVM},
		{Name: "b-app", Class: ClassAppVM, Template: "tmpl"},
		{Name: "a-app", Class: ClassAppVM, Template: "tmpl"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tmpl := store.Get("tmpl")
	if tmpl == nil {
		t.Fatal("expected to find tmpl")
	}
	want := []string{"a-app", "b-app"}
	if len(tmpl.DerivedVMs) != len(want) {
		t.Fatalf("DerivedVMs = %v, want %v", tmpl.DerivedVMs, want)
	}
	for i, name := range want {
		if tmpl.DerivedVMs[i] != name {
			t.Fatalf("DerivedVMs = %v, want %v", tmpl.DerivedVMs, want)
		}
	}
}

func TestAllSortedByName(t *testing.T) {
	store, err := NewStore([]*Qube{
		{Name: "zeta", Class: ClassStandaloneVM},
		{Name: "alpha", Class: ClassStandaloneVM},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all := store.All()
	if all[0].Name != "alpha" || all[1].Name != "zeta" {
		t.Fatalf("All() not sorted: %v", all)
	}
}
