// Package plugin ports the eight named config-mutation hooks from
// spec §6/§9 as a fixed, explicitly ordered list of Go functions
// rather than any dynamic code loading (spec §9's redesign note:
// "no dynamic code loading" in favor of an explicit plugin list).
// Each hook inspects the driver.OSData detected for a qube and may
// mutate an environment map that later gets passed to the driver's
// subprocess invocations.
package plugin

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/qubesos/vmupdate/internal/update/driver"
)

// Hook is one config-mutation step. It must be side-effect-free
// beyond mutating env, so the ordered list can be replayed
// deterministically in tests.
type Hook func(osData *driver.OSData, log *logrus.Entry, env map[string]string)

// Named hook identifiers, in the fixed registration order Apply runs
// them. Listing names separately from the Hook values lets config
// files (internal/config) select a subset by name.
const (
	NameBusterReleaseInfo     = "buster-release-info"
	NameBookwormBackports     = "bookworm-backports-firmware"
	NameRPMMacros             = "rpm-macros"
	NameKeepOldConffiles      = "keep-old-conffiles"
	NameMeminfoSELinux        = "meminfo-writer-selinux"
	NameUpdatesProxySocatFix  = "updates-proxy-socat-fix"
	NameFlatpak               = "flatpak-pass"
	NamePipewirePulseSubstOut = "pipewire-pulse-subst-arch"
)

// registry maps each name to its Hook, in registration order;
// DefaultNames returns them ordered per that registration, not map iteration.
var registry = []struct {
	name string
	hook Hook
}{
	{NameBusterReleaseInfo, busterReleaseInfo},
	{NameBookwormBackports, bookwormBackportsFirmware},
	{NameRPMMacros, rpmMacros},
	{NameKeepOldConffiles, keepOldConffiles},
	{NameMeminfoSELinux, meminfoWriterSELinux},
	{NameUpdatesProxySocatFix, updatesProxySocatFix},
	{NameFlatpak, flatpakPass},
	{NamePipewirePulseSubstOut, pipewirePulseSubstArch},
}

// DefaultNames is every hook name in registration order, the set the
// agent runs.
func DefaultNames() []string {
	names := make([]string, len(registry))
	for i, r := range registry {
		names[i] = r.name
	}
	return names
}

// Apply runs the named hooks, in the order given, against osData,
// mutating and returning env. An unknown name is skipped with a
// warning rather than aborting the whole run, since a typo'd plugin
// name in a config file shouldn't block every update.
func Apply(names []string, osData *driver.OSData, log *logrus.Entry) map[string]string {
	env := map[string]string{}
	byName := map[string]Hook{}
	for _, r := range registry {
		byName[r.name] = r.hook
	}
	for _, name := range names {
		hook, ok := byName[name]
		if !ok {
			log.Warnf("plugin: unknown hook %q, skipping", name)
			continue
		}
		hook(osData, log, env)
	}
	return env
}

// busterReleaseInfo mirrors apt's allow_release_info_change.py
// workaround: Debian buster's repositories changed suite/codename
// mid-release, which apt refuses to follow without an explicit
// override.
func busterReleaseInfo(osData *driver.OSData, log *logrus.Entry, env map[string]string) {
	if osData.Family != "Debian" {
		return
	}
	env["APT_OPTS"] = strings.TrimSpace(env["APT_OPTS"] + " -o Acquire::AllowReleaseInfoChange::Suite=true -o Acquire::AllowReleaseInfoChange::Codename=true")
}

// bookwormBackportsFirmware enables the backports component needed
// for current firmware packages on Debian bookworm.
func bookwormBackportsFirmware(osData *driver.OSData, log *logrus.Entry, env map[string]string) {
	if osData.Family != "Debian" {
		return
	}
	env["APT_ENABLE_BACKPORTS"] = "1"
}

// rpmMacros nudges RPM macro handling (e.g. _install_langs) on
// RedHat-family qubes so upgrades don't pull the full langpack set.
func rpmMacros(osData *driver.OSData, log *logrus.Entry, env map[string]string) {
	if osData.Family != "RedHat" && osData.Family != "Qubes" {
		return
	}
	env["RPM_INSTALL_LANGS"] = "en_US"
}

// keepOldConffiles sets dpkg's conffile-keep policy so upgrades never
// silently overwrite locally-modified config files in a qube.
func keepOldConffiles(osData *driver.OSData, log *logrus.Entry, env map[string]string) {
	if osData.Family != "Debian" {
		return
	}
	env["DPKG_OPTS"] = strings.TrimSpace(env["DPKG_OPTS"] + " --force-confold --force-confdef")
}

// meminfoWriterSELinux restores the SELinux label on Qubes'
// meminfo-writer binary after an RPM transaction resets it, which
// otherwise silently breaks dynamic memory management post-upgrade.
func meminfoWriterSELinux(osData *driver.OSData, log *logrus.Entry, env map[string]string) {
	if !osData.IsDom0 && osData.Family != "RedHat" {
		return
	}
	env["RESTORECON_PATHS"] = strings.TrimSpace(env["RESTORECON_PATHS"] + " /usr/lib/qubes/meminfo-writer")
}

// updatesProxySocatFix works around a known Fedora socat regression
// that breaks the updates-proxy the orchestrator relies on for
// network-less template updates.
func updatesProxySocatFix(osData *driver.OSData, log *logrus.Entry, env map[string]string) {
	if osData.Family != "RedHat" && osData.Family != "Qubes" {
		return
	}
	env["SOCAT_OPTS"] = strings.TrimSpace(env["SOCAT_OPTS"] + " -b65536")
}

// flatpakPass is a no-op pass reserved for Flatpak-aware templates;
// it exists so the plugin list's shape matches spec §6 exactly even
// though this module has no Flatpak-specific behavior to inject yet.
func flatpakPass(osData *driver.OSData, log *logrus.Entry, env map[string]string) {}

// pipewirePulseSubstArch substitutes pipewire-pulse for pulseaudio on
// Arch templates that have migrated audio stacks mid-release.
func pipewirePulseSubstArch(osData *driver.OSData, log *logrus.Entry, env map[string]string) {
	if osData.Family != "ArchLinux" {
		return
	}
	env["PACMAN_REPLACES"] = strings.TrimSpace(env["PACMAN_REPLACES"] + " pulseaudio:pipewire-pulse")
}
