// Package apply implements the post-update VM lifecycle applier (spec
// §4.9): deciding which updated templates to shut down, and which of
// their derived VMs to restart (service VMs) or shut down (everything
// else eligible). This supersedes the older vmupdate.py's simpler
// vol.is_outdated()-based restart check (see SPEC_FULL.md §9).
package apply

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/qubesos/vmupdate/internal/orchestrator/manager"
	"github.com/qubesos/vmupdate/internal/qubesadmin"
	"github.com/qubesos/vmupdate/internal/update/exitcode"
	"github.com/qubesos/vmupdate/internal/update/status"
)

// Policy controls whether Apply acts on the computed Plan at all, and
// how far it goes (spec §4.9's three CLI-selected policies).
type Policy int

const (
	// PolicyNoApply is the default: no template is shut down and no
	// dependent is restarted or shut down, even though the Plan is
	// still fully computed.
	PolicyNoApply Policy = iota
	// PolicyApplyToSys shuts down updated templates that are running
	// and restarts eligible service VMs, but leaves other dependents
	// (plain AppVMs/DispVMs) running on their old template image.
	PolicyApplyToSys
	// PolicyApplyToAll does everything PolicyApplyToSys does, plus
	// shuts down every other eligible dependent.
	PolicyApplyToAll
)

// Plan is the computed set algebra from spec §4.9, kept as separate
// named sets so callers and tests can inspect any intermediate step.
// Eligible/ToRestart/ToShutdown are computed in full regardless of
// Policy; Policy only gates which of TemplatesToShutdown/ToRestart/
// ToShutdown Apply actually acts on.
type Plan struct {
	// TemplatesUpdated is every TemplateVM whose update Outcome was a
	// genuine change (Success, not NoUpdates/Error/Cancelled).
	TemplatesUpdated []*qubesadmin.Qube

	// TemplatesToShutdown is TemplatesUpdated filtered to the ones
	// still running.
	TemplatesToShutdown []*qubesadmin.Qube

	// Candidates is every derived VM of a TemplatesUpdated template,
	// running or not.
	Candidates []*qubesadmin.Qube

	// Eligible is Candidates minus any qube that was itself directly
	// updated in this run, minus any not currently running, and minus
	// any auto-cleanup DispVM (spec §8 invariant P9).
	Eligible []*qubesadmin.Qube

	// ToRestart is the subset of Eligible that are service VMs; they
	// are restarted, not merely shut down (spec §4.9).
	ToRestart []*qubesadmin.Qube
	// ToShutdown is Eligible minus ToRestart.
	ToShutdown []*qubesadmin.Qube

	Policy Policy
}

// Options configures Compute.
type Options struct {
	Policy Policy
}

// Compute builds the Plan from the store and the outcomes of the
// update run, applying spec §4.9's exact set algebra:
//
//	tmpls_updated     = { t : status[t] = SUCCESS }
//	tmpls_to_shutdown = { t in tmpls_updated : t.is_running }
//	candidates        = union of t.derived_vms for t in tmpls_updated
//	eligible          = { v in candidates : status[v] != SUCCESS,
//	                      v.is_running, not(v.class=DispVM and v.auto_cleanup) }
//	to_restart        = { v in eligible : v.servicevm }
//	to_shutdown       = eligible \ to_restart
func Compute(store *qubesadmin.Store, outcomes []manager.Outcome, opts Options) Plan {
	plan := Plan{Policy: opts.Policy}

	updatedByName := map[string]bool{}
	for _, o := range outcomes {
		if o.Final != status.Success {
			continue
		}
		q := store.Get(o.Qube)
		if q == nil {
			continue
		}
		updatedByName[q.Name] = true
		if q.Class == qubesadmin.ClassTemplateVM {
			plan.TemplatesUpdated = append(plan.TemplatesUpdated, q)
			if q.Running {
				plan.TemplatesToShutdown = append(plan.TemplatesToShutdown, q)
			}
		}
	}

	for _, t := range plan.TemplatesUpdated {
		plan.Candidates = append(plan.Candidates, store.DerivedVMs(t)...)
	}

	for _, q := range plan.Candidates {
		if updatedByName[q.Name] {
			continue
		}
		if !q.Running {
			continue
		}
		if q.Class == qubesadmin.ClassDispVM && q.AutoCleanup {
			continue
		}
		plan.Eligible = append(plan.Eligible, q)
	}

	for _, q := range plan.Eligible {
		if q.ServiceVM {
			plan.ToRestart = append(plan.ToRestart, q)
		} else {
			plan.ToShutdown = append(plan.ToShutdown, q)
		}
	}

	return plan
}

// Apply executes plan against client according to its Policy,
// returning the worst classified exitcode.Code alongside a combined
// error for logging (spec §4.9, §7 "apply-phase result"):
//
//   - PolicyNoApply takes no action and always returns (OK, nil).
//   - PolicyApplyToSys shuts down TemplatesToShutdown (force=true)
//     and restarts ToRestart.
//   - PolicyApplyToAll additionally shuts down ToShutdown.
//
// If a template fails to shut down, its derived VMs are skipped
// rather than retried (spec §4.9). Shutdown failures on the template
// set map to ERR_SHUTDOWN_TMPL, on AppVMs/DispVMs to ERR_SHUTDOWN_APP,
// and restart-start failures to ERR_START_APP.
func Apply(ctx context.Context, client qubesadmin.Client, plan Plan) (exitcode.Code, error) {
	if plan.Policy == PolicyNoApply {
		return exitcode.OK, nil
	}

	var errs *multierror.Error
	code := exitcode.OK

	failedTemplates := map[string]bool{}
	if len(plan.TemplatesToShutdown) > 0 {
		names := namesOf(plan.TemplatesToShutdown)
		for _, t := range plan.TemplatesToShutdown {
			if err := client.Shutdown(ctx, t.Name, true); err != nil {
				errs = multierror.Append(errs, err)
				failedTemplates[t.Name] = true
				code = exitcode.Max(code, exitcode.ErrShutdownTmpl)
			}
		}
		if err := client.WaitHalted(ctx, names); err != nil {
			errs = multierror.Append(errs, err)
			code = exitcode.Max(code, exitcode.ErrShutdownTmpl)
		}
	}

	toRestart := skipDerivedOfFailed(plan.ToRestart, failedTemplates)
	toShutdown := skipDerivedOfFailed(plan.ToShutdown, failedTemplates)
	if plan.Policy != PolicyApplyToAll {
		toShutdown = nil
	}

	if len(toShutdown) > 0 {
		names := namesOf(toShutdown)
		for _, q := range toShutdown {
			if err := client.Shutdown(ctx, q.Name, true); err != nil {
				errs = multierror.Append(errs, err)
				code = exitcode.Max(code, exitcode.ErrShutdownApp)
			}
		}
		if err := client.WaitHalted(ctx, names); err != nil {
			errs = multierror.Append(errs, err)
			code = exitcode.Max(code, exitcode.ErrShutdownApp)
		}
	}

	if len(toRestart) > 0 {
		names := namesOf(toRestart)
		for _, q := range toRestart {
			if err := client.Shutdown(ctx, q.Name, true); err != nil {
				errs = multierror.Append(errs, err)
				code = exitcode.Max(code, exitcode.ErrShutdownApp)
			}
		}
		if err := client.WaitHalted(ctx, names); err != nil {
			errs = multierror.Append(errs, err)
			code = exitcode.Max(code, exitcode.ErrShutdownApp)
		}
		for _, q := range toRestart {
			if err := client.Start(ctx, q.Name); err != nil {
				errs = multierror.Append(errs, err)
				code = exitcode.Max(code, exitcode.ErrStartApp)
			}
		}
	}

	return code, errs.ErrorOrNil()
}

// skipDerivedOfFailed drops any qube whose template failed to shut
// down: its derived VMs are skipped, not retried (spec §4.9).
func skipDerivedOfFailed(qubes []*qubesadmin.Qube, failedTemplates map[string]bool) []*qubesadmin.Qube {
	if len(failedTemplates) == 0 {
		return qubes
	}
	out := make([]*qubesadmin.Qube, 0, len(qubes))
	for _, q := range qubes {
		if !failedTemplates[q.Template] {
			out = append(out, q)
		}
	}
	return out
}

func namesOf(qubes []*qubesadmin.Qube) []string {
	names := make([]string, len(qubes))
	for i, q := range qubes {
		names[i] = q.Name
	}
	return names
}
