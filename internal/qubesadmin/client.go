package qubesadmin

import (
	"context"
	"io"
)

// ServiceHandle is a running qrexec service invocation: a subprocess
// handle with independently readable stdout/stderr and a waitable
// return code (spec §6, RPC service (b)).
type ServiceHandle interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the remote process exits and returns its
	// exit code. It must be called at most once.
	Wait() (int, error)
}

// RunResult is the outcome of a blocking command invocation (spec §6,
// RPC service (a)).
type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Client is the qube management API adapter: everything the
// orchestrator needs from the host, modeled as an interface so the
// real qrexec/libvirt wiring (out of scope, spec §1) can be swapped
// for the in-memory fake in package qubesadmin/fake.
type Client interface {
	// ListDomains returns every known qube (spec §6 "list domains").
	ListDomains(ctx context.Context) ([]*Qube, error)

	// Properties refreshes a single qube's mutable properties
	// (is_running, features) from the host. Implementations may
	// choose to no-op if properties are kept live by ListDomains.
	Properties(ctx context.Context, name string) (*Qube, error)

	// RunWithArgs executes argv inside the named qube as root and
	// blocks for completion (spec §4.5 "Blocking" mode).
	RunWithArgs(ctx context.Context, qube string, argv []string) (RunResult, error)

	// RunService invokes a qrexec service (conventionally
	// "qubes.VMExec+<encoded argv>") and returns a live handle whose
	// stdout/stderr can be streamed concurrently (spec §4.5
	// "Streaming" mode).
	RunService(ctx context.Context, qube string, service string) (ServiceHandle, error)

	// Shutdown requests the named qube halt; force requests an
	// unconditional (non-graceful) shutdown per spec §4.9.
	Shutdown(ctx context.Context, qube string, force bool) error

	// Start boots the named qube.
	Start(ctx context.Context, qube string) error

	// WaitHalted blocks until every named qube reaches the halted
	// state (spec §4.9, "waits for all domains in the batch to reach
	// halted state").
	WaitHalted(ctx context.Context, qubes []string) error
}
