// Package manager implements the per-qube agent supervisor (spec
// §4.6), grounded on original_source's update_manager.py's
// UpdateAgentManager/run_agent: open a connection, transfer the agent,
// run its entrypoint, tee progress to a status channel, persist a
// per-qube log file, and always close the connection on the way out.
package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/qubesos/vmupdate/internal/orchestrator/connection"
	"github.com/qubesos/vmupdate/internal/qubesadmin"
	"github.com/qubesos/vmupdate/internal/update/agent"
	"github.com/qubesos/vmupdate/internal/update/exitcode"
	"github.com/qubesos/vmupdate/internal/update/progress"
	"github.com/qubesos/vmupdate/internal/update/result"
	"github.com/qubesos/vmupdate/internal/update/status"
)

const remoteEntrypoint = "/tmp/qubes-update-agent/entrypoint"
const remoteLog = "/tmp/qubes-update-agent/agent.log"

// AgentFiles is the self-contained agent payload transferred into
// each qube (spec §4.2: "self-contained update agent"), keyed by
// path-within-archive.
type AgentFiles map[string][]byte

// Manager supervises one qube's agent run end to end.
type Manager struct {
	Client    qubesadmin.Client
	Files     AgentFiles
	LogDir    string
	Args      agent.Args
	Streaming bool
	Log       *logrus.Entry
}

// Outcome is what Manager.Run reports back to the scheduler:
// the agent's exit code remapped through VM_HANDLED, its final
// status classification, and where its per-qube log file landed.
type Outcome struct {
	Qube    string
	Code    exitcode.Code
	Final   status.FinalStatus
	LogPath string
	Err     error
}

// Run drives one qube through transfer -> entrypoint -> log-collection
// -> close, posting status.Info updates to statusCh as it goes. It
// never returns early on a remote failure without first closing the
// connection (mirrors qube_connection.py's "always shut down" __exit__
// guarantee via a deferred Close).
func (m *Manager) Run(ctx context.Context, qube *qubesadmin.Qube, statusCh chan<- status.Info) Outcome {
	out := Outcome{Qube: qube.Name}

	logPath, logFile, err := m.openLog(qube.Name)
	if err != nil {
		out.Err = errors.Wrapf(err, "opening log file for qube %s", qube.Name)
		out.Final = status.Error
		out.Code = exitcode.ErrVMPre
		return out
	}
	defer logFile.Close()
	out.LogPath = logPath

	conn, err := connection.Open(ctx, m.Client, qube, statusCh)
	if err != nil {
		fmt.Fprintf(logFile, "open failed: %v\n", err)
		out.Err = err
		out.Final = status.Error
		out.Code = exitcode.ErrVMPre
		return out
	}

	final := status.Unknown
	defer func() {
		if closeErr := conn.Close(ctx, final); closeErr != nil && out.Err == nil {
			out.Err = closeErr
		}
	}()

	if err := conn.TransferAgent(ctx, m.Files); err != nil {
		fmt.Fprintf(logFile, "transfer failed: %v\n", err)
		out.Err = err
		out.Code = exitcode.ErrVMPre
		final = status.Error
		out.Final = final
		return out
	}

	res := m.runEntrypoint(ctx, conn, statusCh, logFile)
	out.Code = exitcode.RemapUnhandled(res.Code)
	final = classify(out.Code)
	out.Final = final

	if logs, err := conn.ReadLogs(ctx, remoteLog); err == nil && logs != "" {
		fmt.Fprint(logFile, logs)
	}

	return out
}

func (m *Manager) runEntrypoint(ctx context.Context, conn *connection.Connection, statusCh chan<- status.Info, logFile *os.File) result.Result {
	onProgress := func(line string) {
		fmt.Fprintln(logFile, line)
		if statusCh == nil {
			return
		}
		if pct, ok := progress.ParseLine(line); ok {
			statusCh <- status.UpdatingInfo(conn.Qube, pct)
		}
	}

	res, err := conn.RunEntrypoint(ctx, remoteEntrypoint, m.Args.ToCLIArgs(), m.Streaming, onProgress)
	if err != nil {
		fmt.Fprintf(logFile, "entrypoint failed: %v\n", err)
		return result.New(exitcode.ErrVM, "", err.Error())
	}
	fmt.Fprint(logFile, res.Out)
	fmt.Fprint(logFile, res.Err)
	return res
}

func (m *Manager) openLog(qube string) (string, *os.File, error) {
	if err := os.MkdirAll(m.LogDir, 0o755); err != nil {
		return "", nil, err
	}
	path := filepath.Join(m.LogDir, qube+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", nil, err
	}
	return path, f, nil
}

// classify maps a remapped exit code to the coarse FinalStatus the
// status channel and applier reason about.
func classify(code exitcode.Code) status.FinalStatus {
	switch code {
	case exitcode.OK:
		return status.Success
	case exitcode.OKNoUpdates:
		return status.NoUpdates
	case exitcode.SIGINT:
		return status.Cancelled
	default:
		return status.Error
	}
}
