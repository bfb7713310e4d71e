package exitcode

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestVMHandled(t *testing.T) {
	cases := []struct {
		code    Code
		handled bool
	}{
		{OK, true},
		{OKNoUpdates, true},
		{ErrVM, true},
		{ErrVMPre, true},
		{ErrVMRefresh, true},
		{ErrVMUpdate, true},
		{ErrVMCleanup, true},
		{ErrVMUnhandled, false},
		{ErrShutdownTmpl, false},
		{ErrQrexec, false},
		{SIGINT, false},
	}
	for _, c := range cases {
		assert.Equal(t, VMHandled(c.code), c.handled, c.code.String())
	}
}

func TestRemapUnhandled(t *testing.T) {
	assert.Equal(t, RemapUnhandled(OK), OK)
	assert.Equal(t, RemapUnhandled(ErrVM), ErrVM)
	assert.Equal(t, RemapUnhandled(ErrShutdownTmpl), ErrVMUnhandled)
	assert.Equal(t, RemapUnhandled(Code(99)), ErrVMUnhandled)
}

func TestMax(t *testing.T) {
	assert.Equal(t, Max(OK, ErrVM), ErrVM)
	assert.Equal(t, Max(ErrVMUpdate, ErrVMCleanup), ErrVMCleanup)
	assert.Equal(t, Max(SIGINT, OK), SIGINT)
}

func TestString(t *testing.T) {
	assert.Equal(t, OK.String(), "OK")
	assert.Equal(t, OKNoUpdates.String(), "OK_NO_UPDATES")
	assert.Equal(t, Code(999).String(), "ERR_UNKNOWN")
}
