// Package progress implements the weighted three-phase progress
// reporter described in spec §4.2: update/refresh, fetch, and
// upgrade phases each occupy a slice of the global 0-100 percent
// range proportional to their configured weight. Drivers report an
// intra-phase percent; the reporter translates it to a monotone
// global percent and writes a single numeric line per update to the
// real stderr, captured via a duplicated file descriptor before the
// driver can redirect std streams out from under it.
package progress

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// PhaseName identifies one of the three ordered phases.
type PhaseName int

const (
	PhaseUpdate PhaseName = iota
	PhaseFetch
	PhaseUpgrade
)

// Phase is one weighted segment of the global progress range.
// Invariant (spec §3): start <= last <= stop within a phase, and
// stop_i == start_{i+1} across the three ordered phases.
type Phase struct {
	name       PhaseName
	weight     int
	start      float64
	stop       float64
	last       float64
	mu         *sync.Mutex
	emit       func(global float64)
}

// Report delivers an intra-phase percent p in [0,100]. The reporter
// computes the global percent, rounds to two decimals, and emits it
// only if strictly greater than the last value emitted for this
// phase (duplicate/regressive updates are dropped silently, per
// spec §4.2).
func (p *Phase) Report(percent float64) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	global := p.start + percent*(p.stop-p.start)/100
	global = math.Round(global*100) / 100

	p.mu.Lock()
	defer p.mu.Unlock()
	if global > p.last {
		p.last = global
		p.emit(global)
	}
}

// Complete forces a final intra-phase 100 report, so the phase's
// stop value is always reached even if the driver under-reports.
func (p *Phase) Complete() {
	p.Report(100)
}

// Reporter owns the three ordered phases and the duplicated stderr
// fd that progress lines are written to.
type Reporter struct {
	Update  *Phase
	Fetch   *Phase
	Upgrade *Phase

	out      *os.File
	dupFD    int
	lastLine float64
	mu       sync.Mutex
}

// Weights configures the three phase weights; they need not sum to
// any particular value, only be positive (percent windows are
// cumulative-weight normalised to 100).
type Weights struct {
	Update  int
	Fetch   int
	Upgrade int
}

// DefaultWeights mirrors the balance used by the original Python
// agent: refresh is cheap, fetching packages dominates, applying the
// upgrade is comparatively quick.
var DefaultWeights = Weights{Update: 2, Fetch: 6, Upgrade: 2}

// NewReporter duplicates the real stderr file descriptor so that a
// driver hijacking os.Stderr for its own chatter cannot collide with
// the numeric progress protocol, then builds the three phases per w.
func NewReporter(w Weights) (*Reporter, error) {
	dupFD, err := unix.Dup(int(os.Stderr.Fd()))
	if err != nil {
		return nil, fmt.Errorf("progress: duplicate stderr: %w", err)
	}
	out := os.NewFile(uintptr(dupFD), "progress-stderr")

	r := &Reporter{out: out, dupFD: dupFD}

	total := w.Update + w.Fetch + w.Upgrade
	if total <= 0 {
		total = 1
	}
	updateEnd := float64(w.Update) / float64(total) * 100
	fetchEnd := updateEnd + float64(w.Fetch)/float64(total)*100

	mu := &r.mu
	r.Update = &Phase{name: PhaseUpdate, weight: w.Update, start: 0, stop: updateEnd, last: 0, mu: mu, emit: r.emitLine}
	r.Fetch = &Phase{name: PhaseFetch, weight: w.Fetch, start: updateEnd, stop: fetchEnd, last: updateEnd, mu: mu, emit: r.emitLine}
	r.Upgrade = &Phase{name: PhaseUpgrade, weight: w.Upgrade, start: fetchEnd, stop: 100, last: fetchEnd, mu: mu, emit: r.emitLine}

	return r, nil
}

// emitLine writes "{g:.2f}\n" to the duplicated stderr iff g is
// strictly greater than the last line written across all phases
// (global monotonicity, spec invariant P2).
func (r *Reporter) emitLine(global float64) {
	if global <= r.lastLine {
		return
	}
	r.lastLine = global
	fmt.Fprintf(r.out, "%.2f\n", global)
}

// Finish signals completion after the upgrade run: a single terminal
// 100.00 line is emitted unless the stream already reached 100, so the
// multiplexer on the other end always sees the progress stream reach
// its terminal value (spec §4.2).
func (r *Reporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastLine < 100 {
		r.lastLine = 100
		fmt.Fprintln(r.out, "100.00")
	}
}

// Close releases the duplicated file descriptor.
func (r *Reporter) Close() error {
	return r.out.Close()
}

var progressLinePattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// ParseLine parses one line of the numeric progress wire protocol
// (spec §6: a bare decimal percent, nothing else) as received on the
// connection's streaming stderr reader. Non-numeric lines (driver
// chatter that leaked past the duplicated fd) are reported as not-ok
// so callers can fall through to treating them as ordinary log output.
func ParseLine(line string) (float64, bool) {
	trimmed := strings.TrimSpace(line)
	if !progressLinePattern.MatchString(trimmed) {
		return 0, false
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}

// LineReader wraps a bufio.Scanner configured for the progress wire
// protocol's line discipline (lines terminated by \n, never midline
// with other output), for use by the receiving side (the qube
// connection's streaming stderr reader, spec §4.5/§6).
func LineReader(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return s
}
