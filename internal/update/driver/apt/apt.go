// Package apt drives Debian's apt-get as a CLI-variant driver (spec
// §4.3), grounded on original_source's apt_cli.py and apt_api.py, and
// the kernel-purge behavior described in spec §4.3's Debian bullet.
package apt

import (
	"context"
	"os"
	"strings"

	"github.com/qubesos/vmupdate/internal/update/driver"
	"github.com/qubesos/vmupdate/internal/update/driver/cliutil"
	"github.com/qubesos/vmupdate/internal/update/exitcode"
	"github.com/qubesos/vmupdate/internal/update/result"
)

const binary = "apt-get"

// Driver is the apt-get CLI driver.
type Driver struct {
	log driver.Logger
}

// New constructs an apt Driver and sets DEBIAN_FRONTEND=noninteractive
// for the lifetime of the process, per spec §6's Environment section.
func New(log driver.Logger) *Driver {
	os.Setenv("DEBIAN_FRONTEND", "noninteractive")
	return &Driver{log: log}
}

func (d *Driver) Name() string { return "apt" }

func (d *Driver) SupportsProgress() bool { return false }

// Refresh runs "apt-get update". apt-get's own no-op/partial-failure
// exit code (it returns non-zero whenever any configured source list
// entry fails) is tolerated when !hardFail by simply not treating a
// non-zero exit as fatal to the caller; the agent core still sees the
// real code and remaps it per spec §4.4 step 3.
func (d *Driver) Refresh(ctx context.Context, hardFail bool) result.Result {
	args := []string{"update", "-q"}
	res := cliutil.RunRefreshWithRetry(ctx, nil, binary, args...)
	if res.Bool() && !hardFail {
		d.log.Warnf("apt-get update failed (code %d), tolerating: repos may be partially unreachable", res.Code)
	}
	return res
}

func (d *Driver) GetPackages(ctx context.Context) (driver.PackageSet, error) {
	res := cliutil.Run(ctx, nil, "dpkg-query", "-W", "-f=${Package} ${Version} ${Status}\n")
	out := driver.PackageSet{}
	for _, line := range strings.Split(res.Out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		if len(fields) < 3 {
			continue
		}
		name, version, status := fields[0], fields[1], fields[2]
		if !strings.Contains(status, "installed") {
			continue
		}
		out[name] = append(out[name], version)
	}
	return out, nil
}

func (d *Driver) InstallRequirements(ctx context.Context, required []driver.Requirement, current driver.PackageSet) result.Result {
	toInstall, toUpgrade := driver.PlanRequirements(required, current)

	var res result.Result
	res.Realtime = true
	if len(toInstall) > 0 {
		res.Add(cliutil.Run(ctx, nil, binary, append([]string{"install", "-y", "-q"}, toInstall...)...))
	}
	if len(toUpgrade) > 0 {
		res.Add(cliutil.Run(ctx, nil, binary, append([]string{"install", "-y", "-q", "--only-upgrade"}, toUpgrade...)...))
	}
	return res
}

func (d *Driver) GetAction(removeObsolete bool) []string {
	if removeObsolete {
		return []string{"dist-upgrade", "-y", "-q"}
	}
	return []string{"upgrade", "-y", "-q"}
}

func (d *Driver) UpgradeInternal(ctx context.Context, removeObsolete bool) result.Result {
	var res result.Result
	res.Realtime = true
	res.Add(cliutil.Run(ctx, nil, binary, d.GetAction(removeObsolete)...))
	if removeObsolete {
		res.Add(d.purgeOldKernels(ctx))
	}
	return res
}

// purgeOldKernels implements the Debian-specific kernel-purge
// behavior from spec §4.3: parse "apt-get autoremove -s" dry-run
// output for lines starting "Remv ", keep only those naming
// linux-image* packages, and remove exactly those.
func (d *Driver) purgeOldKernels(ctx context.Context) result.Result {
	dryRun := cliutil.Run(ctx, nil, binary, "autoremove", "-s", "-q")
	toRemove := parseKernelPurgeCandidates(dryRun.Out)
	if len(toRemove) == 0 {
		return result.Result{}
	}
	d.log.Debugf("purging obsolete kernels: %v", toRemove)
	return cliutil.Run(ctx, nil, binary, append([]string{"remove", "-y", "-q"}, toRemove...)...)
}

// parseKernelPurgeCandidates scans "apt-get autoremove -s" dry-run
// output for "Remv " lines naming a linux-image* package.
func parseKernelPurgeCandidates(dryRunOutput string) []string {
	var toRemove []string
	for _, line := range strings.Split(dryRunOutput, "\n") {
		if !strings.HasPrefix(line, "Remv ") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "Remv "))
		if len(fields) == 0 {
			continue
		}
		pkg := fields[0]
		if strings.HasPrefix(pkg, "linux-image") {
			toRemove = append(toRemove, pkg)
		}
	}
	return toRemove
}

func (d *Driver) Clean(ctx context.Context) int {
	res := cliutil.Run(ctx, nil, binary, "clean", "-q")
	if res.Bool() {
		return int(exitcode.ErrVMCleanup)
	}
	return int(exitcode.OK)
}

var _ driver.Driver = (*Driver)(nil)
