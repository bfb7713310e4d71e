// Package pacman drives Arch Linux's pacman, grounded on
// original_source's pacman_api.py/pacman_cli.py.
package pacman

import (
	"context"
	"strings"

	"github.com/qubesos/vmupdate/internal/update/driver"
	"github.com/qubesos/vmupdate/internal/update/driver/cliutil"
	"github.com/qubesos/vmupdate/internal/update/exitcode"
	"github.com/qubesos/vmupdate/internal/update/result"
)

const binary = "pacman"

// Driver is the pacman CLI driver.
type Driver struct {
	log driver.Logger
}

// New constructs a pacman Driver.
func New(log driver.Logger) *Driver {
	return &Driver{log: log}
}

func (d *Driver) Name() string { return "pacman" }

func (d *Driver) SupportsProgress() bool { return false }

func (d *Driver) Refresh(ctx context.Context, hardFail bool) result.Result {
	res := cliutil.RunRefreshWithRetry(ctx, nil, binary, "-Sy", "--noconfirm")
	if res.Bool() && !hardFail {
		d.log.Warnf("pacman -Sy failed (code %d), tolerating", res.Code)
	}
	return res
}

func (d *Driver) GetPackages(ctx context.Context) (driver.PackageSet, error) {
	res := cliutil.Run(ctx, nil, binary, "-Q")
	out := driver.PackageSet{}
	for _, line := range strings.Split(res.Out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		out[fields[0]] = append(out[fields[0]], fields[1])
	}
	return out, nil
}

func (d *Driver) InstallRequirements(ctx context.Context, required []driver.Requirement, current driver.PackageSet) result.Result {
	toInstall, toUpgrade := driver.PlanRequirements(required, current)
	names := append(append([]string{}, toInstall...), toUpgrade...)

	var res result.Result
	res.Realtime = true
	if len(names) > 0 {
		res.Add(cliutil.Run(ctx, nil, binary, append([]string{"-S", "--noconfirm", "--needed"}, names...)...))
	}
	return res
}

func (d *Driver) GetAction(removeObsolete bool) []string {
	args := []string{"-Su", "--noconfirm"}
	return args
}

func (d *Driver) UpgradeInternal(ctx context.Context, removeObsolete bool) result.Result {
	var res result.Result
	res.Realtime = true
	res.Add(cliutil.Run(ctx, nil, binary, d.GetAction(removeObsolete)...))

	if removeObsolete {
		res.Add(d.removeOrphans(ctx))
	}
	return res
}

// removeOrphans runs "pacman -Qdtq" to list orphaned dependencies and
// removes them with "-Rns", matching pacman_cli.py's cleanup step.
// An empty orphan list (exit 1, no output) is not an error.
func (d *Driver) removeOrphans(ctx context.Context) result.Result {
	list := cliutil.Run(ctx, nil, binary, "-Qdtq")
	orphans := parseOrphanList(list.Out)
	if len(orphans) == 0 {
		return result.Result{}
	}
	return cliutil.Run(ctx, nil, binary, append([]string{"-Rns", "--noconfirm"}, orphans...)...)
}

// parseOrphanList splits "pacman -Qdtq" output into package names, one
// per non-blank line.
func parseOrphanList(output string) []string {
	var orphans []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			orphans = append(orphans, line)
		}
	}
	return orphans
}

func (d *Driver) Clean(ctx context.Context) int {
	res := cliutil.Run(ctx, nil, binary, "-Scc", "--noconfirm")
	if res.Bool() {
		return int(exitcode.ErrVMCleanup)
	}
	return int(exitcode.OK)
}

var _ driver.Driver = (*Driver)(nil)
