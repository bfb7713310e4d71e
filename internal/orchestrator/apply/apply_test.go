package apply

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/qubesos/vmupdate/internal/orchestrator/manager"
	"github.com/qubesos/vmupdate/internal/qubesadmin"
	"github.com/qubesos/vmupdate/internal/qubesadmin/fake"
	"github.com/qubesos/vmupdate/internal/update/exitcode"
	"github.com/qubesos/vmupdate/internal/update/status"
)

func newPlanStore(t *testing.T) *qubesadmin.Store {
	t.Helper()
	qubes := []*qubesadmin.Qube{
		{Name: "fedora-41", Class: qubesadmin.ClassTemplateVM, Updateable: true, Running: true},
		{Name: "debian-12", Class: qubesadmin.ClassTemplateVM, Updateable: true, Running: true},
		{Name: "work", Class: qubesadmin.ClassAppVM, Updateable: true, Template: "fedora-41", Running: true},
		{Name: "sys-net", Class: qubesadmin.ClassAppVM, Updateable: true, Template: "fedora-41", Running: true, ServiceVM: true},
		{Name: "personal", Class: qubesadmin.ClassAppVM, Updateable: true, Template: "debian-12", Running: false},
		{Name: "disp-throwaway", Class: qubesadmin.ClassDispVM, Updateable: true, Template: "fedora-41", Running: true, AutoCleanup: true},
	}
	store, err := qubesadmin.NewStore(qubes)
	assert.NilError(t, err)
	return store
}

func TestComputePlanSplitsServiceVMsIntoRestart(t *testing.T) {
	store := newPlanStore(t)
	outcomes := []manager.Outcome{
		{Qube: "fedora-41", Code: exitcode.OK, Final: status.Success},
		{Qube: "debian-12", Code: exitcode.OKNoUpdates, Final: status.NoUpdates},
	}

	plan := Compute(store, outcomes, Options{Policy: PolicyApplyToAll})

	assert.DeepEqual(t, namesOf(plan.TemplatesUpdated), []string{"fedora-41"})
	assert.DeepEqual(t, namesOf(plan.TemplatesToShutdown), []string{"fedora-41"})
	assert.DeepEqual(t, namesOf(plan.Candidates), []string{"disp-throwaway", "sys-net", "work"})
	// personal is excluded (different template, not a candidate at
	// all); disp-throwaway is an auto-cleanup DispVM (P9); sys-net and
	// work are both eligible, but sys-net is a ServiceVM so it is
	// routed to restart rather than shutdown.
	assert.DeepEqual(t, namesOf(plan.Eligible), []string{"sys-net", "work"})
	assert.DeepEqual(t, namesOf(plan.ToRestart), []string{"sys-net"})
	assert.DeepEqual(t, namesOf(plan.ToShutdown), []string{"work"})
}

func TestComputePlanExcludesDirectlyUpdatedDependents(t *testing.T) {
	store := newPlanStore(t)
	outcomes := []manager.Outcome{
		{Qube: "fedora-41", Code: exitcode.OK, Final: status.Success},
		{Qube: "work", Code: exitcode.OK, Final: status.Success},
	}

	plan := Compute(store, outcomes, Options{Policy: PolicyApplyToAll})

	assert.DeepEqual(t, namesOf(plan.Eligible), []string{"sys-net"})
}

func TestApplyNoApplyTakesNoAction(t *testing.T) {
	store := newPlanStore(t)
	client := fake.New(store.All())

	outcomes := []manager.Outcome{{Qube: "fedora-41", Code: exitcode.OK, Final: status.Success}}
	plan := Compute(store, outcomes, Options{Policy: PolicyNoApply})

	code, err := Apply(context.Background(), client, plan)
	assert.NilError(t, err)
	assert.Equal(t, code, exitcode.OK)
	assert.Equal(t, client.WasShutdown("fedora-41"), false)
	assert.Equal(t, client.WasShutdown("work"), false)
	assert.Equal(t, client.WasStarted("sys-net"), false)
}

func TestApplyToSysShutsDownTemplateAndRestartsServiceVMOnly(t *testing.T) {
	store := newPlanStore(t)
	client := fake.New(store.All())

	outcomes := []manager.Outcome{{Qube: "fedora-41", Code: exitcode.OK, Final: status.Success}}
	plan := Compute(store, outcomes, Options{Policy: PolicyApplyToSys})

	code, err := Apply(context.Background(), client, plan)
	assert.NilError(t, err)
	assert.Equal(t, code, exitcode.OK)
	assert.Equal(t, client.WasShutdown("fedora-41"), true)
	assert.Equal(t, client.WasShutdown("sys-net"), true)
	assert.Equal(t, client.WasStarted("sys-net"), true)
	assert.Equal(t, client.WasShutdown("work"), false)
}

func TestApplyToAllAlsoShutsDownPlainDependents(t *testing.T) {
	store := newPlanStore(t)
	client := fake.New(store.All())

	outcomes := []manager.Outcome{{Qube: "fedora-41", Code: exitcode.OK, Final: status.Success}}
	plan := Compute(store, outcomes, Options{Policy: PolicyApplyToAll})

	code, err := Apply(context.Background(), client, plan)
	assert.NilError(t, err)
	assert.Equal(t, code, exitcode.OK)
	assert.Equal(t, client.WasShutdown("work"), true)
	assert.Equal(t, client.WasStarted("sys-net"), true)
}

func TestApplySkipsDerivedVMsOfFailedTemplateShutdown(t *testing.T) {
	store := newPlanStore(t)
	client := fake.New(store.All())
	client.FailShutdown("fedora-41")

	outcomes := []manager.Outcome{{Qube: "fedora-41", Code: exitcode.OK, Final: status.Success}}
	plan := Compute(store, outcomes, Options{Policy: PolicyApplyToAll})

	code, err := Apply(context.Background(), client, plan)
	assert.Assert(t, err != nil)
	assert.Equal(t, code, exitcode.ErrShutdownTmpl)
	assert.Equal(t, client.WasShutdown("work"), false)
	assert.Equal(t, client.WasStarted("sys-net"), false)
}
