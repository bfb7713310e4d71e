// Package result implements the ProcessResult accumulator described in
// spec §4.1: a (code, stdout, stderr) value that composes across the
// steps of an update run, with an optional realtime passthrough to the
// real stdout/stderr so interactive output isn't buffered until exit.
package result

import (
	"fmt"
	"io"
	"strings"

	"github.com/qubesos/vmupdate/internal/update/exitcode"
)

// Result is the Go counterpart of ProcessResult. It is a value type;
// callers combine results with Add (mutating, mirrors Python's
// __iadd__) or Combine (pure).
type Result struct {
	Code     exitcode.Code
	Out      string
	Err      string
	Realtime bool
	Posted   bool

	// Stdout/Stderr are the real process streams to flush to when
	// Realtime is set. New leaves them nil, and nothing is flushed to
	// a nil writer; callers set them (tests substitute buffers).
	Stdout io.Writer
	Stderr io.Writer
}

// New builds a zero Result. out/err starting text is optional.
func New(code exitcode.Code, out, err string) Result {
	return Result{Code: code, Out: out, Err: err}
}

// Bool reports whether the result represents a failure (code != 0),
// mirroring ProcessResult.__bool__.
func (r Result) Bool() bool {
	return r.Code != exitcode.OK
}

// Add merges other into r in place: code is max-combined, stdout and
// stderr are concatenated, and if r is realtime and other has not yet
// been posted, other's non-empty streams are flushed to the real
// stdout/stderr exactly once (Posted guards the double flush).
func (r *Result) Add(other Result) {
	r.Code = exitcode.Max(r.Code, other.Code)

	if r.Realtime && !other.Posted {
		if other.Out != "" && r.Stdout != nil {
			fmt.Fprint(r.Stdout, other.Out)
		}
		if other.Err != "" && r.Stderr != nil {
			fmt.Fprint(r.Stderr, other.Err)
		}
		other.Posted = true
	}

	r.Out += other.Out
	r.Err += other.Err
}

// Combine returns a new Result that is the result of adding b onto a,
// without mutating either argument. Used where callers need a pure
// reduction (e.g. folding many worker results).
func Combine(a, b Result) Result {
	out := a
	out.Add(b)
	return out
}

// ErrorFromMessages scans the combined stdout+stderr text for any line
// starting (case-insensitively) with "err", and if found sets Code to
// exitcode.Err. This mirrors ProcessResult.error_from_messages, used
// by CLI drivers that don't have a structured way to detect failure
// from exit code alone.
func (r *Result) ErrorFromMessages() {
	lines := strings.Split(r.Out+r.Err, "\n")
	for _, line := range lines {
		if strings.HasPrefix(strings.ToLower(line), "err") {
			r.Code = exitcode.Err
			return
		}
	}
}
