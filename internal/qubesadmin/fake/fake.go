// Package fake provides a complete in-memory qubesadmin.Client,
// grounded on the teacher's habit of backing every daemon-facing
// interface with a lightweight fake for unit tests (cf. moby/moby's
// client test doubles). It is also what --dry-run runs against.
package fake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/qubesos/vmupdate/internal/qubesadmin"
)

// Script lets a test script a qube's scripted agent run: the exit
// code and stdout/stderr the agent entrypoint should appear to
// produce, and optional progress lines to stream before exiting.
type Script struct {
	ExitCode      int
	Stdout        string
	Stderr        string
	ProgressLines []string // e.g. []string{"25.00", "60.00", "100.00"}
	RunErr        error    // if set, RunService/RunWithArgs fail outright (comm failure)
}

// Client is an in-memory qubesadmin.Client. All state is guarded by
// mu so it is safe to drive concurrently from the scheduler's worker
// pool, matching real qrexec's concurrency expectations.
type Client struct {
	mu       sync.Mutex
	qubes    map[string]*qubesadmin.Qube
	scripts  map[string]Script
	shutdown     map[string]bool
	started      map[string]bool
	failShutdown map[string]bool
	commands     [][2]string // [qube, joined argv] for assertions
}

// New builds a fake Client seeded with qubes. Qube values are copied
// so callers retain ownership of the slice they passed in.
func New(qubes []*qubesadmin.Qube) *Client {
	c := &Client{
		qubes:    make(map[string]*qubesadmin.Qube, len(qubes)),
		scripts:  make(map[string]Script),
		shutdown: make(map[string]bool),
		started:  make(map[string]bool),
	}
	for _, q := range qubes {
		cp := *q
		cp.Features = cloneFeatures(q.Features)
		c.qubes[q.Name] = &cp
	}
	return c
}

func cloneFeatures(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FailShutdown makes every subsequent Shutdown call for qube return an
// error instead of succeeding, for exercising the apply package's
// skip-derived-VMs-of-a-failed-template-shutdown behavior.
func (c *Client) FailShutdown(qube string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failShutdown == nil {
		c.failShutdown = make(map[string]bool)
	}
	c.failShutdown[qube] = true
}

// SetScript registers the scripted agent behavior for a qube.
func (c *Client) SetScript(qube string, s Script) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[qube] = s
}

// Commands returns the recorded argv invocations for assertions in
// tests, in invocation order.
func (c *Client) Commands() [][2]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][2]string, len(c.commands))
	copy(out, c.commands)
	return out
}

func (c *Client) ListDomains(ctx context.Context) ([]*qubesadmin.Qube, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*qubesadmin.Qube, 0, len(c.qubes))
	for _, q := range c.qubes {
		cp := *q
		cp.Features = cloneFeatures(q.Features)
		out = append(out, &cp)
	}
	return out, nil
}

func (c *Client) Properties(ctx context.Context, name string) (*qubesadmin.Qube, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.qubes[name]
	if !ok {
		return nil, fmt.Errorf("fake: unknown qube %q", name)
	}
	cp := *q
	cp.Features = cloneFeatures(q.Features)
	return &cp, nil
}

func (c *Client) record(qube string, argv []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	joined := ""
	for i, a := range argv {
		if i > 0 {
			joined += " "
		}
		joined += a
	}
	c.commands = append(c.commands, [2]string{qube, joined})
}

// RunWithArgs services "mkdir -p", "chmod", "tar", "rm -r", "cat" and
// similar plumbing commands issued by the connection state machine
// (spec §4.5). Anything not recognized as plumbing succeeds with no
// output, which is sufficient for tests that only care about the
// scheduler/selector/applier behavior above this layer.
func (c *Client) RunWithArgs(ctx context.Context, qube string, argv []string) (qubesadmin.RunResult, error) {
	c.record(qube, argv)

	c.mu.Lock()
	s, scripted := c.scripts[qube]
	c.mu.Unlock()

	if scripted && s.RunErr != nil {
		return qubesadmin.RunResult{}, s.RunErr
	}

	if len(argv) > 0 && argv[0] == "cat" {
		// read_logs: hand back nothing interesting by default.
		if scripted {
			return qubesadmin.RunResult{Stdout: []byte(s.Stdout)}, nil
		}
		return qubesadmin.RunResult{}, nil
	}

	return qubesadmin.RunResult{}, nil
}

// handle implements qubesadmin.ServiceHandle over an already-scripted
// outcome: all stdout/stderr is available immediately.
type handle struct {
	stdout   *bytes.Reader
	stderr   io.Reader
	exitCode int
	err      error
}

func (h *handle) Stdout() io.Reader   { return h.stdout }
func (h *handle) Stderr() io.Reader   { return h.stderr }
func (h *handle) Wait() (int, error)  { return h.exitCode, h.err }

func (c *Client) RunService(ctx context.Context, qube string, service string) (qubesadmin.ServiceHandle, error) {
	c.record(qube, []string{service})

	c.mu.Lock()
	s, ok := c.scripts[qube]
	c.mu.Unlock()
	if !ok {
		return &handle{stdout: bytes.NewReader(nil), stderr: bytes.NewReader(nil)}, nil
	}
	if s.RunErr != nil {
		return nil, s.RunErr
	}

	var stderrBuf bytes.Buffer
	for _, line := range s.ProgressLines {
		stderrBuf.WriteString(line)
		stderrBuf.WriteByte('\n')
	}
	stderrBuf.WriteString(s.Stderr)

	return &handle{
		stdout:   bytes.NewReader([]byte(s.Stdout)),
		stderr:   &stderrBuf,
		exitCode: s.ExitCode,
	}, nil
}

func (c *Client) Shutdown(ctx context.Context, qube string, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.qubes[qube]
	if !ok {
		return fmt.Errorf("fake: unknown qube %q", qube)
	}
	if c.failShutdown[qube] {
		return fmt.Errorf("fake: shutdown of %q failed (scripted)", qube)
	}
	q.Running = false
	c.shutdown[qube] = true
	return nil
}

func (c *Client) Start(ctx context.Context, qube string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.qubes[qube]
	if !ok {
		return fmt.Errorf("fake: unknown qube %q", qube)
	}
	q.Running = true
	c.started[qube] = true
	return nil
}

// WaitHalted is synchronous in the fake (Shutdown already flips
// Running off), so it only verifies the qubes exist.
func (c *Client) WaitHalted(ctx context.Context, qubes []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range qubes {
		if _, ok := c.qubes[name]; !ok {
			return fmt.Errorf("fake: unknown qube %q", name)
		}
	}
	return nil
}

// WasShutdown reports whether Shutdown was ever called for qube.
func (c *Client) WasShutdown(qube string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown[qube]
}

// WasStarted reports whether Start was ever called for qube.
func (c *Client) WasStarted(qube string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started[qube]
}
