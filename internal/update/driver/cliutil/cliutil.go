// Package cliutil holds the argv-building and subprocess-execution
// plumbing shared by every CLI-variant driver, grounded on the
// original agent's common/package_manager.py run_cmd/run helpers.
package cliutil

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/cenkalti/backoff/v5"

	"github.com/qubesos/vmupdate/internal/update/exitcode"
	"github.com/qubesos/vmupdate/internal/update/result"
)

// Run executes name with args, capturing stdout/stderr separately
// (spec §4.3's CLI drivers "invoke the native CLI ... and parse plain
// output"). env, if non-nil, is appended to the child's environment
// (used for DEBIAN_FRONTEND and the updates-proxy variables).
func Run(ctx context.Context, env []string, name string, args ...string) result.Result {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := exitcode.OK
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitcode.Code(exitErr.ExitCode())
		} else {
			code = exitcode.Err
		}
	}

	return result.New(code, stdout.String(), stderr.String())
}

// RunRefreshWithRetry runs a repository-refresh command and retries
// it once or twice with exponential backoff on transient failure
// (package managers commonly bounce a single mirror timeout). hardFail
// callers still see the final failing result after retries are spent;
// soft callers may go on to tolerate it exactly as before.
func RunRefreshWithRetry(ctx context.Context, env []string, name string, args ...string) result.Result {
	var last result.Result
	op := func() (result.Result, error) {
		last = Run(ctx, env, name, args...)
		if last.Code != exitcode.OK {
			return last, errTransientRefresh
		}
		return last, nil
	}
	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		return last
	}
	return res
}

var errTransientRefresh = errRefresh{}

type errRefresh struct{}

func (errRefresh) Error() string { return "cliutil: repository refresh failed" }

// HasBinary reports whether name is resolvable on PATH, the
// CLI-probing primitive the selection algorithm in spec §4.3 uses to
// decide between e.g. dnf5 and dnf.
func HasBinary(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
