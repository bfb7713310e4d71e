// Package driver defines the package-manager-agnostic Driver
// interface (spec §4.3) and the types it works on; the selection
// algorithm that picks a concrete driver for the running qube's OS
// family is agent.Select in internal/update/agent.
package driver

import (
	"context"

	"github.com/qubesos/vmupdate/internal/update/result"
)

// PackageSet maps a package name to its ordered sequence of installed
// versions (spec §3). Multi-arch systems can have more than one
// installed version of the same package name.
type PackageSet map[string][]string

// Diff is the three-way split between an old and new PackageSet
// (spec §4.4): Installed (new-only), Updated (present in both with a
// different version list), Removed (old-only).
type Diff struct {
	Installed map[string][]string
	Updated   map[string]VersionChange
	Removed   map[string][]string
}

// VersionChange records the before/after version lists for one
// updated package.
type VersionChange struct {
	Old []string
	New []string
}

// ComparePackages computes Diff(old, new) per spec §4.4's three
// set-comprehensions.
func ComparePackages(old, new PackageSet) Diff {
	d := Diff{
		Installed: map[string][]string{},
		Updated:   map[string]VersionChange{},
		Removed:   map[string][]string{},
	}
	for pkg, versions := range new {
		oldVersions, existed := old[pkg]
		if !existed {
			d.Installed[pkg] = versions
			continue
		}
		if !equalVersions(oldVersions, versions) {
			d.Updated[pkg] = VersionChange{Old: oldVersions, New: versions}
		}
	}
	for pkg, versions := range old {
		if _, stillPresent := new[pkg]; !stillPresent {
			d.Removed[pkg] = versions
		}
	}
	return d
}

func equalVersions(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Empty reports whether the diff changed nothing at all.
func (d Diff) Empty() bool {
	return len(d.Installed) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// HasUpgrades reports whether the diff contains any installed or
// updated package, the condition spec §4.4 step 6 checks before
// declaring OK_NO_UPDATES.
func (d Diff) HasUpgrades() bool {
	return len(d.Installed) > 0 || len(d.Updated) > 0
}

// Requirement is one entry of the requirement map passed to
// InstallRequirements: a package name and the minimum acceptable
// version string.
type Requirement struct {
	Name       string
	MinVersion string
}

// Driver is the package-manager abstraction every OS family
// implements (spec §4.3).
type Driver interface {
	// Name identifies the driver for logging (e.g. "apt", "dnf5").
	Name() string

	// Refresh updates repository metadata. If hardFail, an
	// unavailable repository must surface as a non-zero result;
	// otherwise skipped repos are tolerated.
	Refresh(ctx context.Context, hardFail bool) result.Result

	// GetPackages returns the currently installed package set.
	GetPackages(ctx context.Context) (PackageSet, error)

	// InstallRequirements brings every required package to at least
	// its minimum version, installing absent packages at latest.
	InstallRequirements(ctx context.Context, required []Requirement, current PackageSet) result.Result

	// UpgradeInternal performs the full upgrade. removeObsolete
	// controls dist-upgrade/obsoletes/autoremove semantics.
	UpgradeInternal(ctx context.Context, removeObsolete bool) result.Result

	// Clean clears package caches, returning 0 or ErrVMCleanup (as an
	// int exit code, not wrapped in result.Result, per spec §4.3).
	Clean(ctx context.Context) int

	// GetAction returns the verb/flags for the CLI fallback upgrade
	// command (e.g. ["dist-upgrade", "-y"]).
	GetAction(removeObsolete bool) []string

	// SupportsProgress reports whether this driver reports
	// incremental progress through a progress.Reporter. CLI drivers
	// do not; the agent core emits a single terminal 100.00 for them
	// instead (spec §4.2).
	SupportsProgress() bool
}

// OSData is the subset of OS identification the selection algorithm
// needs, gathered by the agent at startup (equivalent of the
// original get_os_data()).
type OSData struct {
	Family        string // "Debian", "RedHat", "ArchLinux", "Alpine", "NixOS", "Qubes"
	FedoraVersion int    // meaningful only when Family == "RedHat" or "Qubes"
	IsDom0        bool
}

// Selector abstracts over probing for CLI binaries on PATH, so the
// selection algorithm (agent.Select, in internal/update/agent, to avoid an
// import cycle with the concrete driver packages) is unit-testable
// without a real filesystem/exec.
type Selector interface {
	HasBinary(name string) bool
}

// Logger is the minimal logging surface drivers need; satisfied by
// *logrus.Entry in production and a no-op in tests.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
