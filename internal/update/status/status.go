// Package status carries the per-qube run status values that flow from
// workers up to the scheduler's progress UI (spec §3, §4.7).
package status

import "fmt"

// FinalStatus is the single terminal value a worker emits per qube.
type FinalStatus int

const (
	// Unknown is the default: a qube that never produced a terminal
	// status (communication failure) stays UNKNOWN.
	Unknown FinalStatus = iota
	Success
	Error
	Cancelled
	NoUpdates
)

func (f FinalStatus) String() string {
	switch f {
	case Success:
		return "success"
	case Error:
		return "error"
	case Cancelled:
		return "cancelled"
	case NoUpdates:
		return "no_updates"
	default:
		return "unknown"
	}
}

// Bool reports whether the status represents a successful update.
// Only SUCCESS is truthy, mirroring FinalStatus.__bool__ in the
// original Python.
func (f FinalStatus) Bool() bool {
	return f == Success
}

// Phase identifies where in its lifecycle a qube's status line is.
type Phase int

const (
	Pending Phase = iota
	Updating
	Done
)

func (p Phase) String() string {
	switch p {
	case Pending:
		return "pending"
	case Updating:
		return "updating"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Info is one status-line event for a single qube. Exactly one of
// Percent (when Phase==Updating) or Final (when Phase==Done) is
// meaningful.
type Info struct {
	Qube    string
	Phase   Phase
	Percent float64
	Final   FinalStatus
}

// PendingInfo builds the initial status line for a qube that has not
// started updating yet.
func PendingInfo(qube string) Info {
	return Info{Qube: qube, Phase: Pending}
}

// UpdatingInfo builds an intermediate progress status line. percent
// must be non-decreasing across calls for the same qube (spec
// invariant P2); callers are responsible for enforcing that via
// progress.Reporter / the connection's streaming reader.
func UpdatingInfo(qube string, percent float64) Info {
	return Info{Qube: qube, Phase: Updating, Percent: percent}
}

// DoneInfo builds the terminal status line for a qube.
func DoneInfo(qube string, final FinalStatus) Info {
	return Info{Qube: qube, Phase: Done, Final: final}
}

// String renders the machine-parseable simple-terminal-bar line
// format from spec §6: "{qube} {status_keyword} {info}".
func (i Info) String() string {
	switch i.Phase {
	case Updating:
		return fmt.Sprintf("%s %s %.2f", i.Qube, i.Phase, i.Percent)
	case Done:
		return fmt.Sprintf("%s %s %s", i.Qube, i.Phase, i.Final)
	default:
		return fmt.Sprintf("%s %s", i.Qube, i.Phase)
	}
}
