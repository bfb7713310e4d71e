// Package dnf drives Fedora/RHEL/Qubes-dom0 package management,
// grounded on original_source's dnf_api.py, dnf5_api.py and dnf_cli.py.
// It supports two variants selected by the caller via Variant: the
// dnf5 CLI and the classic dnf CLI, which dom0 uses where dnf5 isn't
// yet packaged (spec §4.3's Fedora-41 gating); IsDom0 marks the dom0
// case.
package dnf

import (
	"context"
	"strconv"
	"strings"

	"github.com/qubesos/vmupdate/internal/update/driver"
	"github.com/qubesos/vmupdate/internal/update/driver/cliutil"
	"github.com/qubesos/vmupdate/internal/update/exitcode"
	"github.com/qubesos/vmupdate/internal/update/result"
)

// Variant distinguishes which dnf binary and flag dialect to drive.
type Variant int

const (
	// VariantDNF5 drives the dnf5 CLI, default for Fedora >= 41.
	VariantDNF5 Variant = iota
	// VariantDNF drives the classic dnf CLI, used below Fedora 41 and
	// as dom0's driver until dnf5 is available there too.
	VariantDNF
)

func (v Variant) binary() string {
	if v == VariantDNF5 {
		return "dnf5"
	}
	return "dnf"
}

// Driver is the dnf/dnf5 CLI driver.
type Driver struct {
	Variant Variant
	IsDom0  bool
	log     driver.Logger
}

// New constructs a dnf Driver for the given variant.
func New(variant Variant, isDom0 bool, log driver.Logger) *Driver {
	return &Driver{Variant: variant, IsDom0: isDom0, log: log}
}

func (d *Driver) Name() string {
	if d.Variant == VariantDNF5 {
		return "dnf5"
	}
	return "dnf"
}

func (d *Driver) SupportsProgress() bool { return false }

func (d *Driver) Refresh(ctx context.Context, hardFail bool) result.Result {
	args := []string{"-y", "makecache"}
	res := cliutil.RunRefreshWithRetry(ctx, nil, d.Variant.binary(), args...)
	if res.Bool() && !hardFail {
		d.log.Warnf("%s makecache failed (code %d), tolerating", d.Name(), res.Code)
	}
	return res
}

func (d *Driver) GetPackages(ctx context.Context) (driver.PackageSet, error) {
	res := cliutil.Run(ctx, nil, "rpm", "-qa", "--qf", "%{NAME} %{VERSION}-%{RELEASE}\n")
	out := driver.PackageSet{}
	for _, line := range strings.Split(res.Out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			continue
		}
		out[fields[0]] = append(out[fields[0]], fields[1])
	}
	return out, nil
}

func (d *Driver) InstallRequirements(ctx context.Context, required []driver.Requirement, current driver.PackageSet) result.Result {
	toInstall, toUpgrade := driver.PlanRequirements(required, current)

	var res result.Result
	res.Realtime = true
	if len(toInstall) > 0 {
		res.Add(cliutil.Run(ctx, nil, d.Variant.binary(), append([]string{"-y", "install"}, toInstall...)...))
	}
	if len(toUpgrade) > 0 {
		res.Add(cliutil.Run(ctx, nil, d.Variant.binary(), append([]string{"-y", "upgrade"}, toUpgrade...)...))
	}
	return res
}

func (d *Driver) GetAction(removeObsolete bool) []string {
	args := []string{"-y", "upgrade"}
	if removeObsolete {
		args = append(args, "--best", "--allowerasing")
	}
	return args
}

func (d *Driver) UpgradeInternal(ctx context.Context, removeObsolete bool) result.Result {
	var res result.Result
	res.Realtime = true
	res.Add(cliutil.Run(ctx, nil, d.Variant.binary(), d.GetAction(removeObsolete)...))

	// On dom0 an exit code of 100 from the upgrade command is mapped
	// to OK, an ordinary success, rather than left as OK_NO_UPDATES;
	// elsewhere it is kept as is.
	if d.IsDom0 && res.Code == exitcode.OKNoUpdates {
		res.Code = exitcode.OK
	}

	if removeObsolete {
		res.Add(cliutil.Run(ctx, nil, d.Variant.binary(), "-y", "autoremove"))
	}
	return res
}

func (d *Driver) Clean(ctx context.Context) int {
	res := cliutil.Run(ctx, nil, d.Variant.binary(), "clean", "all")
	if res.Bool() {
		return int(exitcode.ErrVMCleanup)
	}
	return int(exitcode.OK)
}

// FedoraVersionAtLeast41 mirrors the gate spec §4.3 describes for
// preferring dnf5 over classic dnf on Fedora-family systems; exported
// for the selection algorithm in internal/update/agent.
func FedoraVersionAtLeast41(s string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return n >= 41
}

var _ driver.Driver = (*Driver)(nil)
