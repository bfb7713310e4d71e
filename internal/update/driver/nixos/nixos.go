// Package nixos drives NixOS's nixos-rebuild, grounded on
// original_source's nixos_cli.py. Unlike the other families, NixOS
// has no separate "install requirements" or incremental package diff
// concept: the whole system closure is rebuilt from configuration.nix
// atomically, so GetPackages reports derivations from the current
// system profile and InstallRequirements is a no-op success.
package nixos

import (
	"context"
	"strings"

	"github.com/qubesos/vmupdate/internal/update/driver"
	"github.com/qubesos/vmupdate/internal/update/driver/cliutil"
	"github.com/qubesos/vmupdate/internal/update/exitcode"
	"github.com/qubesos/vmupdate/internal/update/result"
)

const binary = "nixos-rebuild"

// Driver is the nixos-rebuild CLI driver.
type Driver struct {
	log driver.Logger
}

// New constructs a nixos Driver.
func New(log driver.Logger) *Driver {
	return &Driver{log: log}
}

func (d *Driver) Name() string { return "nixos" }

func (d *Driver) SupportsProgress() bool { return false }

// Refresh updates the channel/flake input, the NixOS equivalent of
// repository metadata refresh.
func (d *Driver) Refresh(ctx context.Context, hardFail bool) result.Result {
	res := cliutil.Run(ctx, nil, "nix-channel", "--update")
	if res.Bool() && !hardFail {
		d.log.Warnf("nix-channel --update failed (code %d), tolerating", res.Code)
	}
	return res
}

func (d *Driver) GetPackages(ctx context.Context) (driver.PackageSet, error) {
	res := cliutil.Run(ctx, nil, "nix-store", "-q", "--references", "/run/current-system/sw")
	out := driver.PackageSet{}
	for _, path := range strings.Split(res.Out, "\n") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		name, version := splitStorePath(path)
		if name == "" {
			continue
		}
		out[name] = append(out[name], version)
	}
	return out, nil
}

// splitStorePath pulls a "name-version" label out of a Nix store path
// like "/nix/store/<hash>-name-1.2.3".
func splitStorePath(path string) (name, version string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", ""
	}
	label := path[idx+1:]
	dashIdx := strings.Index(label, "-")
	if dashIdx < 0 {
		return "", ""
	}
	label = label[dashIdx+1:]

	parts := strings.Split(label, "-")
	for i, p := range parts {
		if len(p) > 0 && (p[0] >= '0' && p[0] <= '9') {
			return strings.Join(parts[:i], "-"), strings.Join(parts[i:], "-")
		}
	}
	return label, ""
}

// InstallRequirements is a no-op: NixOS's update agent requirements
// (if any) are declared in configuration.nix, not installed
// imperatively, per nixos_cli.py.
func (d *Driver) InstallRequirements(ctx context.Context, required []driver.Requirement, current driver.PackageSet) result.Result {
	return result.Result{}
}

func (d *Driver) GetAction(removeObsolete bool) []string {
	return []string{"switch", "--upgrade"}
}

func (d *Driver) UpgradeInternal(ctx context.Context, removeObsolete bool) result.Result {
	var res result.Result
	res.Realtime = true
	res.Add(cliutil.Run(ctx, nil, binary, d.GetAction(removeObsolete)...))
	if removeObsolete {
		res.Add(d.collectGarbage(ctx))
	}
	return res
}

// collectGarbage removes old generations, the NixOS analogue of
// removing obsolete packages during a dist-upgrade.
func (d *Driver) collectGarbage(ctx context.Context) result.Result {
	return cliutil.Run(ctx, nil, "nix-collect-garbage", "--delete-older-than", "30d")
}

func (d *Driver) Clean(ctx context.Context) int {
	res := cliutil.Run(ctx, nil, "nix-store", "--gc")
	if res.Bool() {
		return int(exitcode.ErrVMCleanup)
	}
	return int(exitcode.OK)
}

var _ driver.Driver = (*Driver)(nil)
