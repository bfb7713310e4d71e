// Package qubesadmin models the qube data the orchestrator reasons
// about (spec §3) and the adapter interface to the host's qube
// management API (spec §6, "treated as an interface exposing: list
// domains, per-domain properties, features mapping, run-service,
// run-with-args, shutdown, start").
//
// The real implementation of that API is qrexec/libvirt plumbing that
// is out of scope for this module (spec §1); Client is the seam, and
// package fake provides a complete in-memory implementation used by
// tests and --dry-run.
package qubesadmin

import "time"

// Class is a qube's class, as spec §3 enumerates it.
type Class int

const (
	ClassAdminVM Class = iota
	ClassTemplateVM
	ClassStandaloneVM
	ClassAppVM
	ClassDispVM
)

func (c Class) String() string {
	switch c {
	case ClassAdminVM:
		return "AdminVM"
	case ClassTemplateVM:
		return "TemplateVM"
	case ClassStandaloneVM:
		return "StandaloneVM"
	case ClassAppVM:
		return "AppVM"
	case ClassDispVM:
		return "DispVM"
	default:
		return "Unknown"
	}
}

// Qube is the identity + properties of one qube, as spec §3 defines
// it. Template/derived relationships are expressed as name references
// into a Store's arena rather than pointers, so the template <->
// derived-VMs cycle never needs unsafe aliasing (spec §9).
type Qube struct {
	Name        string
	Class       Class
	Updateable  bool
	Template    string   // empty for AdminVM, StandaloneVM, TemplateVM
	DerivedVMs  []string // populated only on TemplateVM qubes
	Features    map[string]string
	Running     bool
	AutoCleanup bool // DispVM only
	ServiceVM   bool
}

// Feature keys used by the target selector and post-update applier
// (spec §3 "Selection feature knobs").
const (
	FeatureUpdatesAvailable  = "updates-available"
	FeatureLastUpdatesCheck  = "last-updates-check"
	FeatureQrexec            = "qrexec"
	FeatureOS                = "os"
	FeatureServiceVM         = "servicevm"
	FeatureSkipUpdate        = "skip-update"
	FeatureUpdateIfStaleDays = "qubes-vm-update-update-if-stale"
)

// BoolFeature parses one of the qube's feature strings as a loose
// boolean: "1"/"true"/"yes" (case-insensitive) are true, anything
// else (including absence) is false.
func (q *Qube) BoolFeature(key string) bool {
	v, ok := q.Features[key]
	if !ok {
		return false
	}
	switch v {
	case "1", "true", "True", "TRUE", "yes", "Yes":
		return true
	default:
		return false
	}
}

// LastUpdatesCheck parses the qube's last-updates-check feature as an
// RFC3339 timestamp. A missing or unparsable feature counts as the
// Unix epoch (always stale), per spec §4.8's Open Question decision:
// update-if-stale 0 still treats "missing" as maximally stale, and
// only a check performed today is never stale.
func (q *Qube) LastUpdatesCheck() time.Time {
	v, ok := q.Features[FeatureLastUpdatesCheck]
	if !ok || v == "" {
		return time.Unix(0, 0).UTC()
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return t
}
