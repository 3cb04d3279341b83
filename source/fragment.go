package source

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/endlesschasey-ai/agent-template/types"
)

// Fragments is a pull-based producer of text fragments.
// Next returns io.EOF once production has finished normally.
type Fragments interface {
	Next(ctx context.Context) (types.Fragment, error)
}

// FragmentSource adapts a Fragments producer to Unit results and pushes the
// Done sentinel to the notification sink exactly once when production ends,
// normally or not.
type FragmentSource struct {
	frags Fragments
	sink  Sink

	doneOnce  sync.Once
	exhausted bool
}

// NewFragmentSource creates a source over frags that signals end of
// production on sink.
func NewFragmentSource(frags Fragments, sink Sink) *FragmentSource {
	return &FragmentSource{frags: frags, sink: sink}
}

// Await blocks for the next fragment.
// Normal exhaustion is UnitExhausted, never an error.
func (s *FragmentSource) Await(ctx context.Context) Unit {
	if s.exhausted {
		return Unit{Kind: UnitExhausted}
	}
	f, err := s.frags.Next(ctx)
	if err == nil {
		return Unit{Kind: UnitProduced, Fragment: f}
	}
	s.exhausted = true
	s.signalDone()
	if errors.Is(err, io.EOF) {
		return Unit{Kind: UnitExhausted}
	}
	return Unit{Kind: UnitFailed, Err: err}
}

// Arm starts one await in its own goroutine and returns a channel that
// receives its result. The result is buffered, so the goroutine never leaks
// even if the receiver stops listening. Callers must not Arm again until the
// previous channel has delivered.
func (s *FragmentSource) Arm(ctx context.Context) <-chan Unit {
	ch := make(chan Unit, 1)
	go func() {
		ch <- s.Await(ctx)
	}()
	return ch
}

// Exhausted reports whether the source has finished. Only meaningful on the
// goroutine that observes Arm results.
func (s *FragmentSource) Exhausted() bool {
	return s.exhausted
}

// MarkDone pushes the Done sentinel if it was not pushed yet. Used when the
// stream is torn down before the producer finished.
func (s *FragmentSource) MarkDone() {
	s.signalDone()
}

func (s *FragmentSource) signalDone() {
	s.doneOnce.Do(func() {
		if s.sink != nil {
			s.sink.Push(types.DoneNotification())
		}
	})
}
