package agent

// Args mirrors the original agent's args.py option set: the flags the
// orchestrator's transferred agent binary accepts on its own command
// line, independent of the outer qubes-vm-update CLI (spec §6).
type Args struct {
	// Log is the path the agent should append structured logs to
	// inside the qube, empty to log to stderr only.
	Log string

	// NoRefresh skips the repository-metadata refresh step.
	NoRefresh bool

	// ForceUpgrade keeps Upgrade from reporting OK_NO_UPDATES when the
	// package set did not change, so the run reports OK and goes on to
	// the cleanup step. The upgrade step itself runs either way.
	ForceUpgrade bool

	// LeaveObsolete skips driver.Clean() and obsolete-package removal
	// after a successful upgrade.
	LeaveObsolete bool

	// HardFail mirrors upgrade()'s own hard_fail parameter (spec
	// §4.4 steps 2-3): when set, a failed requirements-install or
	// refresh step aborts the run immediately instead of tolerating
	// it and continuing into the upgrade step. Not exposed on the
	// CLI surface (spec §6 lists no corresponding flag); S6 relies
	// on the tolerant default.
	HardFail bool

	// NoProgress disables the progress.Reporter duplicate-fd wiring;
	// the agent instead emits a single terminal completion line.
	NoProgress bool

	// ShowOutput and Quiet are mutually exclusive (spec §6): ShowOutput
	// streams driver stdout/stderr live, Quiet suppresses the
	// human-readable package-change summary at the end.
	ShowOutput bool
	Quiet      bool
}

// ToCLIArgs renders Args back into the argv the orchestrator passes
// to the transferred agent binary's entrypoint (spec §4.2), in the
// same option order as the original to_cli_args().
func (a Args) ToCLIArgs() []string {
	var out []string
	if a.Log != "" {
		out = append(out, "--log", a.Log)
	}
	if a.NoRefresh {
		out = append(out, "--no-refresh")
	}
	if a.ForceUpgrade {
		out = append(out, "--force-upgrade")
	}
	if a.LeaveObsolete {
		out = append(out, "--leave-obsolete")
	}
	if a.NoProgress {
		out = append(out, "--no-progress")
	}
	switch {
	case a.ShowOutput:
		out = append(out, "--show-output")
	case a.Quiet:
		out = append(out, "--quiet")
	}
	return out
}
