// Package agent implements the in-qube update agent core (spec §4.4):
// OS/driver selection and the eight-step upgrade algorithm, grounded
// on original_source's entrypoint.py and common/package_manager.py.
package agent

import (
	"strconv"

	"github.com/qubesos/vmupdate/internal/update/driver"
	"github.com/qubesos/vmupdate/internal/update/driver/apk"
	"github.com/qubesos/vmupdate/internal/update/driver/apt"
	"github.com/qubesos/vmupdate/internal/update/driver/dnf"
	"github.com/qubesos/vmupdate/internal/update/driver/nixos"
	"github.com/qubesos/vmupdate/internal/update/driver/pacman"
)

// Select picks the concrete Driver for osData, per spec §4.3's
// selection tree. This lives one level above the driver package
// itself, so it can import every concrete driver subpackage without
// creating an import cycle back into package driver.
func Select(osData driver.OSData, probe driver.Selector, log driver.Logger) (driver.Driver, error) {
	switch osData.Family {
	case "RedHat", "Qubes":
		return selectDNF(osData, probe, log), nil
	case "Debian":
		return apt.New(log), nil
	case "ArchLinux":
		return pacman.New(log), nil
	case "Alpine":
		return apk.New(log), nil
	case "NixOS":
		return nixos.New(log), nil
	default:
		return nil, errUnsupportedFamily{family: osData.Family}
	}
}

// errUnsupportedFamily reports an OS family spec §4.3 has no driver
// for.
type errUnsupportedFamily struct {
	family string
}

func (e errUnsupportedFamily) Error() string {
	return "unsupported OS family: " + e.family
}

// selectDNF picks between dnf5 and classic dnf, gated by Fedora
// version (spec §4.3: dnf5 preferred from Fedora 41, and for dom0
// only once dnf5 is actually packaged there).
func selectDNF(osData driver.OSData, probe driver.Selector, log driver.Logger) driver.Driver {
	wantDNF5 := dnf.FedoraVersionAtLeast41(strconv.Itoa(osData.FedoraVersion))
	if osData.IsDom0 {
		// dom0 stays on classic dnf until dnf5 ships there, per
		// spec §4.3's dom0 caveat, regardless of Fedora version.
		return dnf.New(dnf.VariantDNF, true, log)
	}
	if wantDNF5 && probe.HasBinary("dnf5") {
		return dnf.New(dnf.VariantDNF5, false, log)
	}
	return dnf.New(dnf.VariantDNF, false, log)
}

