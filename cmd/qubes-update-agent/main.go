// Command qubes-update-agent is the in-qube agent binary transferred
// and run by the orchestrator (spec §1, §4.2, §4.4): it drives the
// qube's native package manager through a uniform upgrade algorithm
// and reports progress/results back over stdout/stderr.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/qubesos/vmupdate/internal/logging"
	"github.com/qubesos/vmupdate/internal/plugin"
	"github.com/qubesos/vmupdate/internal/update/agent"
	"github.com/qubesos/vmupdate/internal/update/driver"
	"github.com/qubesos/vmupdate/internal/update/exitcode"
	"github.com/qubesos/vmupdate/internal/update/progress"
)

type binarySelector struct{}

func (binarySelector) HasBinary(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var a agent.Args
	var isDom0 bool

	root := &cobra.Command{
		Use:   "qubes-update-agent",
		Short: "Drive the native package manager inside a qube",
		RunE: func(cmd *cobra.Command, cliArgs []string) error {
			return execute(cmd.Context(), a, isDom0)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetArgs(args)
	bindFlags(root.Flags(), &a, &isDom0)

	if err := root.ExecuteContext(context.Background()); err != nil {
		if _, ok := err.(codedExit); !ok {
			fmt.Fprintln(os.Stderr, err)
		}
		return exitErrorCode(err)
	}
	return 0
}

func bindFlags(fs *pflag.FlagSet, a *agent.Args, isDom0 *bool) {
	fs.StringVar(&a.Log, "log", "", "append structured logs to this path")
	fs.BoolVar(&a.NoRefresh, "no-refresh", false, "skip the repository metadata refresh step")
	fs.BoolVar(&a.ForceUpgrade, "force-upgrade", false, "report OK instead of OK_NO_UPDATES when no package changed")
	fs.BoolVar(&a.LeaveObsolete, "leave-obsolete", false, "skip cleanup/obsolete-package removal")
	fs.BoolVar(&a.NoProgress, "no-progress", false, "disable the numeric progress stream")
	fs.BoolVar(&a.ShowOutput, "show-output", false, "stream driver stdout/stderr live")
	fs.BoolVar(&a.Quiet, "quiet", false, "suppress the package-change summary")
	fs.BoolVar(isDom0, "dom0", false, "this invocation is running in dom0, not a template/standalone qube")
}

func execute(ctx context.Context, a agent.Args, isDom0 bool) error {
	log := logging.New(logging.Options{Level: "info"})
	entry := log.WithField("component", "qubes-update-agent")

	osReleaseBytes, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return fmt.Errorf("reading /etc/os-release: %w", err)
	}
	osData, err := agent.DetectOS(string(osReleaseBytes), isDom0)
	if err != nil {
		return fmt.Errorf("detecting OS family: %w", err)
	}

	env := plugin.Apply(plugin.DefaultNames(), &osData, entry)
	applyEnv(env)

	d, err := agent.Select(osData, binarySelector{}, entryLogger{entry})
	if err != nil {
		return fmt.Errorf("selecting package manager driver: %w", err)
	}

	var reporter *progress.Reporter
	if !a.NoProgress && d.SupportsProgress() {
		reporter, err = progress.NewReporter(progress.DefaultWeights)
		if err != nil {
			entry.WithError(err).Warn("progress reporter unavailable, continuing without it")
		}
	}
	if reporter != nil {
		defer reporter.Close()
	}

	res, diff := agent.Upgrade(ctx, d, a, entryLogger{entry})
	if reporter != nil {
		reporter.Finish()
	} else {
		fmt.Fprintln(os.Stderr, "100.00")
	}

	if !a.Quiet {
		agent.PrintChanges(os.Stdout, diff)
	}

	if res.Code != exitcode.OK {
		return exitWith(res.Code)
	}
	return nil
}

// entryLogger adapts *logrus.Entry to driver.Logger.
type entryLogger struct{ e *logrus.Entry }

func (l entryLogger) Debugf(format string, args ...interface{}) { l.e.Debugf(format, args...) }
func (l entryLogger) Warnf(format string, args ...interface{})  { l.e.Warnf(format, args...) }
func (l entryLogger) Errorf(format string, args ...interface{}) { l.e.Errorf(format, args...) }

var _ driver.Logger = entryLogger{}

func applyEnv(env map[string]string) {
	for k, v := range env {
		os.Setenv(k, v)
	}
}

// exitWith reports any non-OK terminal code (OK_NO_UPDATES as well as
// the failure codes) through the normal Cobra error path, since RunE can only signal one
// of "nil error, exit 0" or "error, exit 1" otherwise; main's run()
// extracts the real code back out.
type codedExit struct{ code exitcode.Code }

func (e codedExit) Error() string { return e.code.String() }

func exitWith(code exitcode.Code) error {
	return codedExit{code: code}
}

func exitErrorCode(err error) int {
	if ce, ok := err.(codedExit); ok {
		return int(ce.code)
	}
	return int(exitcode.Err)
}
