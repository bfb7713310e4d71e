package selector

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/qubesos/vmupdate/internal/qubesadmin"
)

func newTestStore(t *testing.T) *qubesadmin.Store {
	t.Helper()
	qubes := []*qubesadmin.Qube{
		{Name: "dom0", Class: qubesadmin.ClassAdminVM, Updateable: true},
		{Name: "fedora-41", Class: qubesadmin.ClassTemplateVM, Updateable: true},
		{Name: "skip-me", Class: qubesadmin.ClassTemplateVM, Updateable: true,
			Features: map[string]string{qubesadmin.FeatureSkipUpdate: "1"}},
		{Name: "not-updateable", Class: qubesadmin.ClassStandaloneVM, Updateable: false},
		{Name: "work", Class: qubesadmin.ClassAppVM, Updateable: true, Template: "fedora-41", Running: true},
		{Name: "stopped-app", Class: qubesadmin.ClassAppVM, Updateable: true, Template: "fedora-41", Running: false},
	}
	store, err := qubesadmin.NewStore(qubes)
	assert.NilError(t, err)
	return store
}

func TestSelectDefaultSetExcludesStoppedAppVMs(t *testing.T) {
	store := newTestStore(t)
	got, err := Select(store, Options{Filter: FilterForceUpdate})
	assert.NilError(t, err)

	// fedora-41 (running by zero-value default on TemplateVM is
	// irrelevant; templates are never excluded for being stopped),
	// work (running AppVM); skip-me dropped by skip-update, stopped-app
	// dropped as a stopped AppVM, not-updateable dropped, dom0 dropped.
	assert.DeepEqual(t, namesOf(got), []string{"fedora-41", "work"})
}

func TestSelectTargetsRejectsDuplicate(t *testing.T) {
	store := newTestStore(t)
	_, err := Select(store, Options{Targets: []string{"work", "work"}, Filter: FilterForceUpdate})
	assert.ErrorContains(t, err, "duplicate target")
}

func TestSelectTargetsAllowsSkipUpdateAndStoppedQubes(t *testing.T) {
	store := newTestStore(t)
	got, err := Select(store, Options{Targets: []string{"skip-me", "stopped-app", "not-updateable"}, Filter: FilterForceUpdate})
	assert.NilError(t, err)
	assert.DeepEqual(t, namesOf(got), []string{"not-updateable", "skip-me", "stopped-app"})
}

func TestSelectTargetsRejectsUnknown(t *testing.T) {
	store := newTestStore(t)
	_, err := Select(store, Options{Targets: []string{"does-not-exist"}, Filter: FilterForceUpdate})
	assert.ErrorContains(t, err, "unknown target")
}

func TestSelectTargetsHappyPath(t *testing.T) {
	store := newTestStore(t)
	got, err := Select(store, Options{Targets: []string{"work"}, Filter: FilterForceUpdate})
	assert.NilError(t, err)
	assert.DeepEqual(t, namesOf(got), []string{"work"})
}

func TestSelectSkipRemovesNamedQube(t *testing.T) {
	store := newTestStore(t)
	got, err := Select(store, Options{Skip: []string{"work"}, Filter: FilterForceUpdate})
	assert.NilError(t, err)
	assert.DeepEqual(t, namesOf(got), []string{"fedora-41"})
}

func TestSelectClassFlagsUnion(t *testing.T) {
	store := newTestStore(t)
	got, err := Select(store, Options{Classes: ClassFlags{Templates: true}, Filter: FilterForceUpdate})
	assert.NilError(t, err)
	// Class-flag selection does not apply the "exclude stopped
	// AppVM/DispVM" rule (that only applies to the default set), and
	// still drops skip-update since --targets wasn't explicit.
	assert.DeepEqual(t, namesOf(got), []string{"fedora-41"})
}

func TestSelectUpdateIfAvailable(t *testing.T) {
	store := newTestStore(t)
	store.Get("fedora-41").Features = map[string]string{qubesadmin.FeatureUpdatesAvailable: "1"}
	got, err := Select(store, Options{Filter: FilterUpdateIfAvailable})
	assert.NilError(t, err)
	assert.DeepEqual(t, namesOf(got), []string{"fedora-41"})
}

func TestSelectStaleDefaultsToZeroDaysMeansAlwaysStale(t *testing.T) {
	store := newTestStore(t)
	store.Get("work").Features = map[string]string{
		qubesadmin.FeatureQrexec: "1",
		qubesadmin.FeatureOS:     "Linux",
	}
	got, err := Select(store, Options{Filter: FilterUpdateIfStale, StaleDays: 0, Now: func() int64 { return 1000000 }})
	assert.NilError(t, err)
	// fedora-41 has no qrexec/os features so it never qualifies under
	// the stale union; work does and its last-updates-check defaults
	// to the epoch, so it is always stale.
	assert.DeepEqual(t, namesOf(got), []string{"work"})
}

func TestSelectStaleUnionsUpdatesAvailable(t *testing.T) {
	store := newTestStore(t)
	store.Get("fedora-41").Features = map[string]string{qubesadmin.FeatureUpdatesAvailable: "1"}
	got, err := Select(store, Options{Filter: FilterUpdateIfStale, StaleDays: 9999, Now: func() int64 { return 1000000 }})
	assert.NilError(t, err)
	assert.DeepEqual(t, namesOf(got), []string{"fedora-41"})
}

func namesOf(qubes []*qubesadmin.Qube) []string {
	names := make([]string, len(qubes))
	for i, q := range qubes {
		names[i] = q.Name
	}
	return names
}
