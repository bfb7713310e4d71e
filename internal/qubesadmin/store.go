package qubesadmin

import (
	"fmt"
	"sort"
)

// Store is the arena owning every known Qube, keyed by name. It is
// the single source of truth the selector, scheduler and applier read
// from; workers never create or delete qubes (spec §3 "Lifecycle:
// qubes pre-exist; the orchestrator never creates them").
type Store struct {
	qubes map[string]*Qube
}

// NewStore builds a Store from a flat qube list, deriving each
// TemplateVM's DerivedVMs set from its members' Template references
// so callers only need to populate Template, not both directions.
func NewStore(qubes []*Qube) (*Store, error) {
	s := &Store{qubes: make(map[string]*Qube, len(qubes))}
	for _, q := range qubes {
		if _, dup := s.qubes[q.Name]; dup {
			return nil, fmt.Errorf("qubesadmin: duplicate qube name %q", q.Name)
		}
		s.qubes[q.Name] = q
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	s.deriveBackrefs()
	return s, nil
}

func (s *Store) validate() error {
	for _, q := range s.qubes {
		switch q.Class {
		case ClassAppVM, ClassDispVM:
			if q.Template == "" {
				return fmt.Errorf("qubesadmin: %s %q has no template", q.Class, q.Name)
			}
			if _, ok := s.qubes[q.Template]; !ok {
				return fmt.Errorf("qubesadmin: %s %q references unknown template %q", q.Class, q.Name, q.Template)
			}
		case ClassAdminVM:
			if q.Template != "" {
				return fmt.Errorf("qubesadmin: AdminVM %q must not have a template", q.Name)
			}
		}
	}
	return nil
}

func (s *Store) deriveBackrefs() {
	byTemplate := make(map[string][]string)
	for _, q := range s.qubes {
		if q.Template != "" {
			byTemplate[q.Template] = append(byTemplate[q.Template], q.Name)
		}
	}
	for tmpl, derived := range byTemplate {
		if t, ok := s.qubes[tmpl]; ok {
			sort.Strings(derived)
			t.DerivedVMs = derived
		}
	}
}

// Get returns the qube with the given name, or nil if unknown.
func (s *Store) Get(name string) *Qube {
	return s.qubes[name]
}

// All returns every known qube, sorted by name for deterministic
// iteration order (tests and the multi-bar UI both want this).
func (s *Store) All() []*Qube {
	out := make([]*Qube, 0, len(s.qubes))
	for _, q := range s.qubes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DerivedVMs resolves a template's DerivedVMs name list to Qube
// pointers, skipping any name that has since vanished from the
// store (defensive; the store never actually mutates mid-run).
func (s *Store) DerivedVMs(template *Qube) []*Qube {
	out := make([]*Qube, 0, len(template.DerivedVMs))
	for _, name := range template.DerivedVMs {
		if q := s.qubes[name]; q != nil {
			out = append(out, q)
		}
	}
	return out
}
