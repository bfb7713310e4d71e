package result

import (
	"bytes"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/qubesos/vmupdate/internal/update/exitcode"
)

func TestAddCombinesMaxCodeAndConcatsStreams(t *testing.T) {
	r := New(exitcode.OK, "a", "x")
	r.Add(New(exitcode.ErrVM, "b", "y"))

	assert.Equal(t, r.Code, exitcode.ErrVM)
	assert.Equal(t, r.Out, "ab")
	assert.Equal(t, r.Err, "xy")
}

func TestAddRealtimeFlushesOncePerOther(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := Result{Realtime: true, Stdout: &stdout, Stderr: &stderr}

	other := New(exitcode.OK, "out1", "err1")
	r.Add(other)
	r.Add(other)

	assert.Equal(t, stdout.String(), "out1")
	assert.Equal(t, stderr.String(), "err1")
}

func TestCombineDoesNotMutateInputs(t *testing.T) {
	a := New(exitcode.OK, "a", "")
	b := New(exitcode.ErrVM, "b", "")

	out := Combine(a, b)

	assert.Equal(t, a.Code, exitcode.OK)
	assert.Equal(t, out.Code, exitcode.ErrVM)
	assert.Equal(t, out.Out, "ab")
}

func TestErrorFromMessages(t *testing.T) {
	r := New(exitcode.OK, "all good\nERR: disk full\n", "")
	r.ErrorFromMessages()
	assert.Equal(t, r.Code, exitcode.Err)

	clean := New(exitcode.OK, "all good\nnothing wrong\n", "")
	clean.ErrorFromMessages()
	assert.Equal(t, clean.Code, exitcode.OK)
}

func TestBool(t *testing.T) {
	assert.Equal(t, New(exitcode.OK, "", "").Bool(), false)
	assert.Equal(t, New(exitcode.Err, "", "").Bool(), true)
}
