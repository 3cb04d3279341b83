package iox

import (
	"errors"
	"testing"
)

type countingCloser struct{ calls int }

func (c *countingCloser) Close() error {
	c.calls++
	return errors.New("already closed")
}

func TestDiscardClose_SwallowsError(t *testing.T) {
	c := &countingCloser{}
	DiscardClose(c)
	if c.calls != 1 {
		t.Fatalf("Close calls = %d, want 1", c.calls)
	}
}

func TestCloseFunc_IsLazy(t *testing.T) {
	c := &countingCloser{}
	cleanup := CloseFunc(c)
	if c.calls != 0 {
		t.Fatal("Close ran before cleanup")
	}
	cleanup()
	cleanup()
	if c.calls != 2 {
		t.Fatalf("Close calls = %d, want 2", c.calls)
	}
}

func TestDiscardErr_CallsOnce(t *testing.T) {
	n := 0
	DiscardErr(func() error {
		n++
		return errors.New("sync /dev/stderr: invalid argument")
	})
	if n != 1 {
		t.Fatalf("fn calls = %d, want 1", n)
	}
}
