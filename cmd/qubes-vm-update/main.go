// Command qubes-vm-update is the dom0-side orchestrator CLI (spec §1,
// §6): select target qubes, run the update agent in each concurrently,
// stream progress, and apply post-update VM lifecycle changes.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/moby/term"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/qubesos/vmupdate/internal/config"
	"github.com/qubesos/vmupdate/internal/logging"
	"github.com/qubesos/vmupdate/internal/orchestrator/apply"
	"github.com/qubesos/vmupdate/internal/orchestrator/manager"
	"github.com/qubesos/vmupdate/internal/orchestrator/scheduler"
	"github.com/qubesos/vmupdate/internal/orchestrator/selector"
	"github.com/qubesos/vmupdate/internal/qubesadmin"
	"github.com/qubesos/vmupdate/internal/qubesadmin/fake"
	"github.com/qubesos/vmupdate/internal/update/agent"
	"github.com/qubesos/vmupdate/internal/update/exitcode"
	"github.com/qubesos/vmupdate/internal/version"
)

// flags mirrors spec §6's documented CLI surface.
type flags struct {
	configPath  string
	targets     []string
	skip        []string
	templates   bool
	standalones bool
	apps        bool
	all         bool

	forceUpdate       bool
	updateIfAvailable bool
	updateIfStale     int

	concurrency int
	logLevel    string
	logDir      string

	applyToSys bool
	applyToAll bool
	noApply    bool

	signalNoUpdates bool

	noRefresh     bool
	forceUpgrade  bool
	leaveObsolete bool
	showOutput    bool
	quiet         bool

	justPrint  bool
	noProgress bool
	dryRun     bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command and returns the process exit status,
// surfacing the worst exitcode.Code execute reports instead of
// collapsing every error to ERR_USAGE (spec §3, §8 invariant P4).
func run(args []string) int {
	f := &flags{updateIfStale: -1}

	var code exitcode.Code
	root := &cobra.Command{
		Use:     "qubes-vm-update",
		Short:   "Update packages inside Qubes OS qubes",
		Version: version.String(),
		RunE: func(cmd *cobra.Command, cliArgs []string) error {
			var err error
			code, err = execute(cmd.Context(), f)
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetArgs(args)
	bindFlags(root.Flags(), f)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if code == exitcode.OK {
			code = exitcode.ErrUsage
		}
		return int(code)
	}
	return int(code)
}

func bindFlags(fs *pflag.FlagSet, f *flags) {
	fs.StringVar(&f.configPath, "config", "/etc/qubes/qubes-vm-update.toml", "path to TOML config file")
	fs.StringSliceVar(&f.targets, "targets", nil, "exact qube names to update")
	fs.StringSliceVar(&f.skip, "skip", nil, "qube names to exclude from the selected set")
	fs.BoolVar(&f.templates, "templates", false, "include every updateable TemplateVM")
	fs.BoolVar(&f.standalones, "standalones", false, "include every updateable StandaloneVM")
	fs.BoolVar(&f.apps, "apps", false, "include every updateable AppVM/DispVM")
	fs.BoolVar(&f.all, "all", false, "include every updateable qube class")

	fs.BoolVar(&f.forceUpdate, "force-update", false, "update every selected qube unconditionally")
	fs.BoolVar(&f.updateIfAvailable, "update-if-available", false, "update only qubes reporting updates-available")
	fs.IntVar(&f.updateIfStale, "update-if-stale", -1, "update qubes whose last check is at least N days old (default: config update_if_stale_days, 7); a qube's or its template's qubes-vm-update-update-if-stale feature takes precedence")

	fs.IntVar(&f.concurrency, "max-concurrency", 0, "override the configured worker pool size")
	fs.StringVar(&f.logLevel, "log", "", "override the configured log level")
	fs.StringVar(&f.logDir, "log-dir", "", "override the configured per-qube log directory")

	fs.BoolVar(&f.applyToSys, "apply-to-sys", false, "shut down updated templates and restart eligible service VMs")
	fs.BoolVar(&f.applyToAll, "apply-to-all", false, "apply-to-sys, plus shut down every other eligible dependent")
	fs.BoolVar(&f.noApply, "no-apply", false, "take no post-update lifecycle action (default)")

	fs.BoolVar(&f.signalNoUpdates, "signal-no-updates", false, "exit OK_NO_UPDATES (100) instead of OK when nothing was updated")

	fs.BoolVar(&f.noRefresh, "no-refresh", false, "skip the repository metadata refresh step")
	fs.BoolVar(&f.forceUpgrade, "force-upgrade", false, "report OK instead of OK_NO_UPDATES when no package changed")
	fs.BoolVar(&f.leaveObsolete, "leave-obsolete", false, "skip cleanup/obsolete-package removal")
	fs.BoolVar(&f.showOutput, "show-output", false, "stream driver stdout/stderr live")
	fs.BoolVar(&f.quiet, "quiet", false, "suppress the package-change summary")

	fs.BoolVar(&f.justPrint, "just-print-progress", false, "emit machine-parseable status lines instead of the interactive UI")
	fs.BoolVar(&f.noProgress, "no-progress", false, "disable progress output entirely")
	fs.BoolVar(&f.dryRun, "dry-run", false, "run against the in-memory fake client instead of the real host")
}

func execute(ctx context.Context, f *flags) (exitcode.Code, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return exitcode.ErrUsage, err
	}
	applyOverrides(&cfg, f)

	log := logging.New(logging.Options{Level: cfg.LogLevel})
	entry := log.WithField("component", "qubes-vm-update")

	client, err := buildClient(f)
	if err != nil {
		return exitcode.ErrUsage, err
	}

	qubes, err := client.ListDomains(ctx)
	if err != nil {
		return exitcode.ErrQrexec, err
	}
	store, err := qubesadmin.NewStore(qubes)
	if err != nil {
		return exitcode.ErrUsage, err
	}

	selected, err := selectTargets(store, f, cfg)
	if err != nil {
		return exitcode.ErrUsage, err
	}
	if len(selected) == 0 {
		entry.Info("no qubes selected for update")
		return okOrNoUpdates(f, true), nil
	}

	args := agent.Args{
		NoRefresh:     f.noRefresh,
		ForceUpgrade:  f.forceUpgrade,
		LeaveObsolete: f.leaveObsolete,
		ShowOutput:    f.showOutput,
		Quiet:         f.quiet,
	}

	sched := &scheduler.Scheduler{
		Concurrency: cfg.Concurrency,
		Renderer:    pickRenderer(f),
		Log:         entry,
	}

	result, runErr := sched.Run(ctx, selected, func(q *qubesadmin.Qube) *manager.Manager {
		return &manager.Manager{
			Client:    client,
			Files:     nil,
			LogDir:    cfg.LogDir,
			Args:      args,
			Streaming: true,
			Log:       entry,
		}
	})
	if runErr != nil {
		entry.WithError(runErr).Warn("one or more qubes reported an error")
	}

	policy := parsePolicy(cfg.Policy)
	plan := apply.Compute(store, result.Outcomes, apply.Options{Policy: policy})
	applyCode, applyErr := apply.Apply(ctx, client, plan)
	if applyErr != nil {
		entry.WithError(applyErr).Warn("post-update lifecycle apply reported errors")
	}

	worst := exitcode.OK
	for _, o := range result.Outcomes {
		worst = exitcode.Max(worst, o.Code)
	}
	worst = exitcode.Max(worst, applyCode)
	if result.Cancelled {
		worst = exitcode.Max(worst, exitcode.SIGINT)
	}

	if worst != exitcode.OK && worst != exitcode.OKNoUpdates {
		return worst, fmt.Errorf("update run finished with worst exit code %s", worst)
	}

	nothingUpdated := true
	for _, o := range result.Outcomes {
		if o.Code != exitcode.OKNoUpdates {
			nothingUpdated = false
			break
		}
	}
	return okOrNoUpdates(f, nothingUpdated), nil
}

// okOrNoUpdates applies --signal-no-updates' OK<->OK_NO_UPDATES
// translation at the very end of the run (spec §7).
func okOrNoUpdates(f *flags, nothingUpdated bool) exitcode.Code {
	if f.signalNoUpdates && nothingUpdated {
		return exitcode.OKNoUpdates
	}
	return exitcode.OK
}

func applyOverrides(cfg *config.Config, f *flags) {
	if f.concurrency > 0 {
		cfg.Concurrency = f.concurrency
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logDir != "" {
		cfg.LogDir = f.logDir
	}
	switch {
	case f.applyToAll:
		cfg.Policy = "apply-to-all"
	case f.applyToSys:
		cfg.Policy = "apply-to-sys"
	case f.noApply:
		cfg.Policy = "no-apply"
	}
}

func buildClient(f *flags) (qubesadmin.Client, error) {
	if f.dryRun {
		return fake.New(nil), nil
	}
	return nil, fmt.Errorf("qubes-vm-update: a real qubesadmin transport is out of scope for this module (spec §1); pass --dry-run")
}

func selectTargets(store *qubesadmin.Store, f *flags, cfg config.Config) ([]*qubesadmin.Qube, error) {
	opts := selector.Options{
		Targets: f.targets,
		Skip:    f.skip,
		Classes: selector.ClassFlags{
			Templates:   f.templates,
			Standalones: f.standalones,
			Apps:        f.apps,
			All:         f.all,
		},
		Now: func() int64 { return time.Now().Unix() },
	}

	switch {
	case f.forceUpdate:
		opts.Filter = selector.FilterForceUpdate
	case f.updateIfAvailable:
		opts.Filter = selector.FilterUpdateIfAvailable
	default:
		opts.Filter = selector.FilterUpdateIfStale
		opts.StaleDays = cfg.UpdateIfStaleDays
		if f.updateIfStale >= 0 {
			opts.StaleDays = f.updateIfStale
		}
	}

	return selector.Select(store, opts)
}

// pickRenderer honors --no-progress and --just-print-progress (spec
// §6 machine-parseable mode) and otherwise falls back to SimpleBar
// when stdout isn't a terminal, the same term.GetFdInfo/IsTerminal
// check moby-moby's progress-rendering code uses before driving a
// cursor-controlled display.
func pickRenderer(f *flags) scheduler.Renderer {
	if f.noProgress {
		return scheduler.NoopRenderer{}
	}
	if f.justPrint {
		return scheduler.SimpleBar{Out: os.Stderr}
	}
	if fd, isTerm := term.GetFdInfo(os.Stdout); !isTerm {
		_ = fd
		return scheduler.SimpleBar{Out: os.Stdout}
	}
	return &scheduler.MultiBar{Out: os.Stdout}
}

func parsePolicy(name string) apply.Policy {
	switch name {
	case "apply-to-sys":
		return apply.PolicyApplyToSys
	case "apply-to-all":
		return apply.PolicyApplyToAll
	default:
		return apply.PolicyNoApply
	}
}
