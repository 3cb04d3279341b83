package tui

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/endlesschasey-ai/agent-template/cli/render"
	"github.com/endlesschasey-ai/agent-template/types"
)

// StreamFunc consumes one chat stream, calling emit for every event, and
// returns the terminal status. It must return once ctx ends.
type StreamFunc func(ctx context.Context, emit func(*types.Event)) (types.SessionStatus, error)

// Outcome is the result of an interactive chat turn.
type Outcome struct {
	Status      types.SessionStatus
	Err         error
	Interrupted bool
}

// RunChat shows the chat view on out while stream runs. The full transcript
// is written to out after the view closes.
func RunChat(ctx context.Context, out io.Writer, styles render.Styles, stream StreamFunc, opts ...tea.ProgramOption) (Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithOutput(out)}, opts...)
	p := tea.NewProgram(NewChatModel(styles), opts...)

	var (
		outcome Outcome
		done    = make(chan struct{})
	)
	go func() {
		defer close(done)
		outcome.Status, outcome.Err = stream(ctx, func(ev *types.Event) { p.Send(EventMsg{Event: ev}) })
		p.Send(StreamDoneMsg{})
	}()

	final, runErr := p.Run()
	cancel()
	<-done

	if m, ok := final.(ChatModel); ok {
		outcome.Interrupted = m.Interrupted()
		if _, err := fmt.Fprint(out, m.Transcript()); err != nil {
			return outcome, err
		}
	}
	switch {
	case runErr == nil:
	case errors.Is(runErr, tea.ErrInterrupted):
		outcome.Interrupted = true
	case errors.Is(runErr, tea.ErrProgramKilled) && ctx.Err() != nil:
		// The parent context ended; the stream reports it.
	default:
		return outcome, fmt.Errorf("chat view: %w", runErr)
	}
	return outcome, nil
}
