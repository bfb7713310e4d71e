// Package apk drives Alpine's apk. There is no original Python
// implementation to port for this family (spec §9 notes Alpine
// support as new); it is built directly from spec §4.3's general
// driver contract, in the style of the apt/pacman CLI drivers.
package apk

import (
	"context"
	"strings"

	"github.com/qubesos/vmupdate/internal/update/driver"
	"github.com/qubesos/vmupdate/internal/update/driver/cliutil"
	"github.com/qubesos/vmupdate/internal/update/exitcode"
	"github.com/qubesos/vmupdate/internal/update/result"
)

const binary = "apk"

// Driver is the apk CLI driver.
type Driver struct {
	log driver.Logger
}

// New constructs an apk Driver.
func New(log driver.Logger) *Driver {
	return &Driver{log: log}
}

func (d *Driver) Name() string { return "apk" }

func (d *Driver) SupportsProgress() bool { return false }

func (d *Driver) Refresh(ctx context.Context, hardFail bool) result.Result {
	res := cliutil.Run(ctx, nil, binary, "update")
	if res.Bool() && !hardFail {
		d.log.Warnf("apk update failed (code %d), tolerating", res.Code)
	}
	return res
}

func (d *Driver) GetPackages(ctx context.Context) (driver.PackageSet, error) {
	res := cliutil.Run(ctx, nil, binary, "info", "-vv")
	out := driver.PackageSet{}
	for _, line := range strings.Split(res.Out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Lines look like "name-1.2.3-r0 description...".
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		name, version := splitNameVersion(fields[0])
		if name == "" {
			continue
		}
		out[name] = append(out[name], version)
	}
	return out, nil
}

// splitNameVersion splits apk's "name-version-rN" token on the last
// two hyphen-delimited fields, which is how apk packs name/version.
func splitNameVersion(token string) (name, version string) {
	parts := strings.Split(token, "-")
	if len(parts) < 3 {
		return token, ""
	}
	name = strings.Join(parts[:len(parts)-2], "-")
	version = strings.Join(parts[len(parts)-2:], "-")
	return name, version
}

func (d *Driver) InstallRequirements(ctx context.Context, required []driver.Requirement, current driver.PackageSet) result.Result {
	toInstall, toUpgrade := driver.PlanRequirements(required, current)
	names := append(append([]string{}, toInstall...), toUpgrade...)

	var res result.Result
	res.Realtime = true
	if len(names) > 0 {
		res.Add(cliutil.Run(ctx, nil, binary, append([]string{"add", "-u"}, names...)...))
	}
	return res
}

func (d *Driver) GetAction(removeObsolete bool) []string {
	args := []string{"upgrade"}
	if removeObsolete {
		args = append(args, "--available", "--purge")
	}
	return args
}

func (d *Driver) UpgradeInternal(ctx context.Context, removeObsolete bool) result.Result {
	var res result.Result
	res.Realtime = true
	res.Add(cliutil.Run(ctx, nil, binary, d.GetAction(removeObsolete)...))
	return res
}

func (d *Driver) Clean(ctx context.Context) int {
	res := cliutil.Run(ctx, nil, binary, "cache", "clean")
	if res.Bool() {
		return int(exitcode.ErrVMCleanup)
	}
	return int(exitcode.OK)
}

var _ driver.Driver = (*Driver)(nil)
