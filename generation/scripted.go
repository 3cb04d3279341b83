package generation

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/endlesschasey-ai/agent-template/source"
	"github.com/endlesschasey-ai/agent-template/toolkit"
	"github.com/endlesschasey-ai/agent-template/types"
)

// Step is one scripted action. Exactly one of Fragment, Notify, Call, or
// Err is meaningful; Delay runs first.
type Step struct {
	Delay    time.Duration
	Fragment string
	Notify   *types.Notification
	// Call runs with the stream's toolkit, producing notifications.
	Call func(ctx context.Context, tk *toolkit.Toolkit) error
	Err  error
}

// Script builds the steps for one request.
type Script func(req Request) []Step

// Scripted replays a script. Used by tests and for local runs without a model.
type Scripted struct {
	script Script
}

// NewScripted creates a scripted generator.
func NewScripted(script Script) *Scripted {
	return &Scripted{script: script}
}

// Fixed returns a script that replays the same steps for every request.
func Fixed(steps ...Step) Script {
	return func(Request) []Step { return steps }
}

// Name implements Generator.
func (s *Scripted) Name() string { return "scripted" }

// Start implements Generator.
func (s *Scripted) Start(_ context.Context, req Request, sink source.Sink) (Stream, error) {
	return &scriptedStream{
		steps: s.script(req),
		sink:  sink,
		tk:    toolkit.New(sink, toolkit.WithFinalizeAnswer()),
	}, nil
}

type scriptedStream struct {
	mu     sync.Mutex
	steps  []Step
	sink   source.Sink
	tk     *toolkit.Toolkit
	closed bool
}

func (s *scriptedStream) Next(ctx context.Context) (types.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.steps) > 0 && !s.closed {
		step := s.steps[0]
		s.steps = s.steps[1:]

		if step.Delay > 0 {
			timer := time.NewTimer(step.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return types.Fragment{}, ctx.Err()
			case <-timer.C:
			}
		}
		switch {
		case step.Err != nil:
			return types.Fragment{}, step.Err
		case step.Notify != nil:
			s.sink.Push(*step.Notify)
		case step.Call != nil:
			if err := step.Call(ctx, s.tk); err != nil {
				return types.Fragment{}, err
			}
		case step.Fragment != "":
			return types.Fragment{Text: step.Fragment}, nil
		}
	}
	return types.Fragment{}, io.EOF
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// EchoScript is the default local script: it streams the input back word by
// word and renders a table when the input mentions one.
func EchoScript(delay time.Duration) Script {
	return func(req Request) []Step {
		var steps []Step
		if strings.Contains(strings.ToLower(req.Input), "table") || strings.Contains(req.Input, "表") {
			steps = append(steps, Step{
				Delay: delay,
				Call: func(ctx context.Context, tk *toolkit.Toolkit) error {
					_, err := tk.DisplayTable(ctx, toolkit.DisplayTableArgs{
						TableName: "echo",
						Columns:   []string{"position", "word"},
						Data:      wordRows(req.Input),
					})
					return err
				},
			})
		}
		for _, w := range strings.SplitAfter("You said: "+req.Input, " ") {
			if w == "" {
				continue
			}
			steps = append(steps, Step{Delay: delay, Fragment: w})
		}
		return steps
	}
}

func wordRows(input string) [][]any {
	words := strings.Fields(input)
	rows := make([][]any, 0, len(words))
	for i, w := range words {
		rows = append(rows, []any{i + 1, w})
	}
	return rows
}

var _ Generator = (*Scripted)(nil)
