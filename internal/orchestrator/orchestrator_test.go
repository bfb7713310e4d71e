// Package orchestrator holds an end-to-end test that drives the whole
// selector -> scheduler -> manager -> connection -> apply pipeline
// against qubesadmin/fake, the way spec §8's S1-S6 scenarios are
// meant to be exercised without a real qrexec transport.
package orchestrator

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"gotest.tools/v3/assert"

	"github.com/qubesos/vmupdate/internal/orchestrator/apply"
	"github.com/qubesos/vmupdate/internal/orchestrator/manager"
	"github.com/qubesos/vmupdate/internal/orchestrator/scheduler"
	"github.com/qubesos/vmupdate/internal/orchestrator/selector"
	"github.com/qubesos/vmupdate/internal/qubesadmin"
	"github.com/qubesos/vmupdate/internal/qubesadmin/fake"
	"github.com/qubesos/vmupdate/internal/update/agent"
	"github.com/qubesos/vmupdate/internal/update/exitcode"
	"github.com/qubesos/vmupdate/internal/update/status"
)

func TestEndToEndUpdateRunAndApply(t *testing.T) {
	qubes := []*qubesadmin.Qube{
		{Name: "fedora-41", Class: qubesadmin.ClassTemplateVM, Updateable: true, Running: true},
		{Name: "work", Class: qubesadmin.ClassAppVM, Updateable: true, Template: "fedora-41", Running: true, ServiceVM: true},
	}
	store, err := qubesadmin.NewStore(qubes)
	assert.NilError(t, err)

	client := fake.New(qubes)
	client.SetScript("fedora-41", fake.Script{
		ExitCode:      int(exitcode.OK),
		ProgressLines: []string{"25.00", "60.00", "100.00"},
	})

	targets, err := selector.Select(store, selector.Options{Targets: []string{"fedora-41"}, Filter: selector.FilterForceUpdate})
	assert.NilError(t, err)
	assert.Equal(t, len(targets), 1)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	entry := logger.WithField("test", "e2e")

	sched := &scheduler.Scheduler{
		Concurrency: 2,
		Renderer:    scheduler.SimpleBar{Out: &discard{}},
		Log:         entry,
	}

	tempDir := t.TempDir()
	result, runErr := sched.Run(context.Background(), targets, func(q *qubesadmin.Qube) *manager.Manager {
		return &manager.Manager{
			Client:    client,
			LogDir:    tempDir,
			Args:      agent.Args{},
			Streaming: true,
			Log:       entry,
		}
	})
	assert.NilError(t, runErr)
	assert.Equal(t, len(result.Outcomes), 1)
	assert.Equal(t, result.Outcomes[0].Qube, "fedora-41")
	assert.Equal(t, result.Outcomes[0].Code, exitcode.OK)
	assert.Equal(t, result.Outcomes[0].Final, status.Success)

	plan := apply.Compute(store, result.Outcomes, apply.Options{Policy: apply.PolicyApplyToSys})
	assert.Equal(t, len(plan.TemplatesUpdated), 1)
	assert.Equal(t, plan.TemplatesUpdated[0].Name, "fedora-41")

	code, err := apply.Apply(context.Background(), client, plan)
	assert.NilError(t, err)
	assert.Equal(t, code, exitcode.OK)
	// work is a ServiceVM, so apply-to-sys restarts it rather than
	// leaving it shut down.
	assert.Equal(t, client.WasShutdown("work"), true)
	assert.Equal(t, client.WasStarted("work"), true)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
