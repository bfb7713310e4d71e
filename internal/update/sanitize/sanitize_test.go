package sanitize

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestBytesKeepsOnlyPrintableASCIIAndNewline(t *testing.T) {
	in := []byte("ok\n\x00\x01\xffmore\ttext")
	assert.Equal(t, Bytes(in), "ok\nmoretext")
}

func TestStringWrapper(t *testing.T) {
	assert.Equal(t, String("plain ascii\n"), "plain ascii\n")
	assert.Equal(t, String("emoji \U0001F600 end"), "emoji  end")
}
