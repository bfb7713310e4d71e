package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/qubesos/vmupdate/internal/update/driver"
	"github.com/qubesos/vmupdate/internal/update/exitcode"
	"github.com/qubesos/vmupdate/internal/update/result"
)

// Requirements is the agent's own dependency on tooling inside the
// target qube before it can drive a package manager (spec §4.3's
// "agent requirements" concept, e.g. requiring a minimum dnf5 or
// python3-dnf version so newer progress hooks are available).
var Requirements = []driver.Requirement{}

// Upgrade runs the eight-step upgrade algorithm from spec §4.4,
// ported from common/package_manager.py's _upgrade(): install agent
// requirements, refresh metadata, snapshot packages, upgrade, snapshot
// again, diff, decide OK vs OK_NO_UPDATES, then clean unless
// suppressed. It returns the combined result plus the package diff for
// the caller's summary/log output.
func Upgrade(ctx context.Context, d driver.Driver, args Args, log driver.Logger) (result.Result, driver.Diff) {
	var res result.Result
	res.Realtime = true
	if args.ShowOutput {
		res.Stdout, res.Stderr = stdoutStderr()
	}

	log.Debugf("installing agent requirements via %s", d.Name())
	reqRes := d.InstallRequirements(ctx, Requirements, mustPackages(ctx, d, log))
	if reqRes.Bool() {
		reqRes.Code = exitcode.ErrVMPre
		res.Add(reqRes)
		if args.HardFail {
			return res, driver.Diff{}
		}
	} else {
		res.Add(reqRes)
	}

	if !args.NoRefresh {
		log.Debugf("refreshing repository metadata via %s", d.Name())
		refreshRes := d.Refresh(ctx, args.HardFail)
		if refreshRes.Bool() {
			refreshRes.Code = exitcode.ErrVMRefresh
			res.Add(refreshRes)
			if args.HardFail {
				return res, driver.Diff{}
			}
		} else {
			res.Add(refreshRes)
		}
	}

	before, err := d.GetPackages(ctx)
	if err != nil {
		res.Add(result.New(exitcode.ErrVMUpdate, "", err.Error()))
		res.Code = exitcode.RemapUnhandled(res.Code)
		return res, driver.Diff{}
	}

	log.Debugf("running upgrade via %s", d.Name())
	upgradeRes := d.UpgradeInternal(ctx, !args.LeaveObsolete)
	if upgradeRes.Bool() {
		upgradeRes.Code = exitcode.ErrVMUpdate
	}
	res.Add(upgradeRes)

	after, err := d.GetPackages(ctx)
	if err != nil {
		res.Add(result.New(exitcode.ErrVMUpdate, "", err.Error()))
		res.Code = exitcode.RemapUnhandled(res.Code)
		return res, driver.Diff{}
	}

	diff := driver.ComparePackages(before, after)
	if res.Code == exitcode.OK && !diff.HasUpgrades() && !args.ForceUpgrade {
		res.Code = exitcode.OKNoUpdates
		return res, diff
	}

	if !args.LeaveObsolete {
		if code := d.Clean(ctx); code != int(exitcode.OK) {
			res.Add(result.New(exitcode.Code(code), "", "cleanup step failed"))
		}
	}

	res.Code = exitcode.RemapUnhandled(res.Code)
	return res, diff
}

func mustPackages(ctx context.Context, d driver.Driver, log driver.Logger) driver.PackageSet {
	pkgs, err := d.GetPackages(ctx)
	if err != nil {
		log.Warnf("failed to snapshot packages before install step: %v", err)
		return driver.PackageSet{}
	}
	return pkgs
}

// stdoutStderr is a seam for tests to intercept where --show-output
// would otherwise write; production always streams to the process's
// real stdout/stderr.
var stdoutStderr = func() (io.Writer, io.Writer) { return os.Stdout, os.Stderr }

// PrintChanges renders diff as the three-section human-readable
// summary from package_manager.py's _print_changes: "Installed",
// "Updated", "Removed", each "None" when empty.
func PrintChanges(w io.Writer, diff driver.Diff) {
	printSection(w, "Installed", sortedKeys(diff.Installed), func(name string) string {
		return fmt.Sprintf("%s (%s)", name, strings.Join(diff.Installed[name], ", "))
	})
	printSection(w, "Updated", sortedUpdatedKeys(diff.Updated), func(name string) string {
		c := diff.Updated[name]
		return fmt.Sprintf("%s (%s -> %s)", name, strings.Join(c.Old, ", "), strings.Join(c.New, ", "))
	})
	printSection(w, "Removed", sortedKeys(diff.Removed), func(name string) string {
		return fmt.Sprintf("%s (%s)", name, strings.Join(diff.Removed[name], ", "))
	})
}

func printSection(w io.Writer, title string, names []string, line func(string) string) {
	fmt.Fprintf(w, "%s:\n", title)
	if len(names) == 0 {
		fmt.Fprintln(w, "  None")
		return
	}
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", line(name))
	}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedUpdatedKeys(m map[string]driver.VersionChange) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DetectOS inspects /etc/os-release (and Qubes-specific markers) to
// build the driver.OSData selection picks from, the Go counterpart of
// entrypoint.py's get_os_data(). Parsing itself lives in osrelease.go;
// this wraps it with Qubes dom0/template context the caller already
// knows (it cannot be inferred from os-release alone).
func DetectOS(osRelease string, isDom0 bool) (driver.OSData, error) {
	fields := ParseOSRelease(osRelease)
	family, err := classifyFamily(fields)
	if err != nil {
		return driver.OSData{}, errors.Wrap(err, "detecting OS family")
	}
	data := driver.OSData{Family: family, IsDom0: isDom0}
	if family == "RedHat" || family == "Qubes" {
		data.FedoraVersion = fedoraVersion(fields)
	}
	if isDom0 {
		data.Family = "Qubes"
	}
	return data, nil
}
