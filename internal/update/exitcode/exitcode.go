// Package exitcode defines the stable wire-contract exit codes shared by
// the orchestrator and the in-qube update agent.
package exitcode

// Code is the process exit code taxonomy described in spec §3. Both
// binaries in this module exchange these values across the qrexec
// boundary, so the numeric values must never change.
type Code int

const (
	OK           Code = 0
	OKNoUpdates  Code = 100
	Err          Code = 1
	ErrShutdownTmpl Code = 11
	ErrShutdownApp  Code = 12
	ErrStartApp     Code = 13
	ErrVM           Code = 21
	ErrVMPre        Code = 22
	ErrVMRefresh    Code = 23
	ErrVMUpdate     Code = 24
	ErrVMCleanup    Code = 25
	ErrVMUnhandled  Code = 26
	ErrQrexec       Code = 40
	ErrUsage        Code = 64
	SIGINT          Code = 130
)

// vmHandled is the set of exit codes a driven agent process may
// legitimately leave a qube with. Anything else observed on the wire
// is remapped to ErrVMUnhandled.
var vmHandled = map[Code]bool{
	OK:          true,
	OKNoUpdates: true,
	ErrVM:       true,
	ErrVMPre:    true,
	ErrVMRefresh: true,
	ErrVMUpdate:  true,
	ErrVMCleanup: true,
}

// VMHandled reports whether code is in the agent's documented
// exit-code taxonomy (VM_HANDLED in spec §3).
func VMHandled(code Code) bool {
	return vmHandled[code]
}

// RemapUnhandled returns ErrVMUnhandled for any code outside the
// VM_HANDLED set, and code unchanged otherwise.
func RemapUnhandled(code Code) Code {
	if VMHandled(code) {
		return code
	}
	return ErrVMUnhandled
}

// severity ranks codes from least to most severe for the "worst wins"
// combine rule (spec §7 propagation policy, spec §8 scenario S2). This
// is NOT the codes' numeric order: OK_NO_UPDATES(100) sits right above
// OK even though ERR(1) and every ERR_VM_* code must outrank it, since
// combining ERR_VM_UNHANDLED with OK_NO_UPDATES must yield
// ERR_VM_UNHANDLED. Codes absent from the table rank as severely as
// ErrUsage, just below SIGINT, so an unrecognized code never silently
// loses to a recognized one.
var severity = map[Code]int{
	OK:              0,
	OKNoUpdates:     1,
	Err:             2,
	ErrShutdownTmpl: 3,
	ErrShutdownApp:  4,
	ErrStartApp:     5,
	ErrVM:           6,
	ErrVMPre:        7,
	ErrVMRefresh:    8,
	ErrVMUpdate:     9,
	ErrVMCleanup:    10,
	ErrVMUnhandled:  11,
	ErrQrexec:       12,
	ErrUsage:        13,
	SIGINT:          14,
}

func rank(c Code) int {
	if r, ok := severity[c]; ok {
		return r
	}
	return severity[ErrUsage]
}

// Max returns the more severe of two codes under the combine rule
// spec §7 documents: every error code dominates OK_NO_UPDATES, and
// SIGINT dominates everything (spec §8 scenario S4).
func Max(a, b Code) Code {
	if rank(a) >= rank(b) {
		return a
	}
	return b
}

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case OKNoUpdates:
		return "OK_NO_UPDATES"
	case Err:
		return "ERR"
	case ErrShutdownTmpl:
		return "ERR_SHUTDOWN_TMPL"
	case ErrShutdownApp:
		return "ERR_SHUTDOWN_APP"
	case ErrStartApp:
		return "ERR_START_APP"
	case ErrVM:
		return "ERR_VM"
	case ErrVMPre:
		return "ERR_VM_PRE"
	case ErrVMRefresh:
		return "ERR_VM_REFRESH"
	case ErrVMUpdate:
		return "ERR_VM_UPDATE"
	case ErrVMCleanup:
		return "ERR_VM_CLEANUP"
	case ErrVMUnhandled:
		return "ERR_VM_UNHANDLED"
	case ErrQrexec:
		return "ERR_QREXEC"
	case ErrUsage:
		return "ERR_USAGE"
	case SIGINT:
		return "SIGINT"
	default:
		return "ERR_UNKNOWN"
	}
}
