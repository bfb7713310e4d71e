package cliutil

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/qubesos/vmupdate/internal/update/exitcode"
)

func TestRunCapturesExitCodeAndOutput(t *testing.T) {
	res := Run(context.Background(), nil, "sh", "-c", "echo out; echo err >&2; exit 0")
	assert.Equal(t, res.Code, exitcode.OK)
	assert.Equal(t, res.Out, "out\n")
	assert.Equal(t, res.Err, "err\n")
}

func TestRunCapturesNonZeroExit(t *testing.T) {
	res := Run(context.Background(), nil, "sh", "-c", "exit 7")
	assert.Equal(t, res.Code, exitcode.Code(7))
}

func TestRunPassesEnv(t *testing.T) {
	res := Run(context.Background(), []string{"FOO=bar"}, "sh", "-c", "echo $FOO")
	assert.Equal(t, res.Out, "bar\n")
}

func TestHasBinary(t *testing.T) {
	assert.Equal(t, HasBinary("sh"), true)
	assert.Equal(t, HasBinary("definitely-not-a-real-binary-xyz"), false)
}
