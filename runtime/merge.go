package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/endlesschasey-ai/agent-template/envelope"
	"github.com/endlesschasey-ai/agent-template/log"
	"github.com/endlesschasey-ai/agent-template/metrics"
	"github.com/endlesschasey-ai/agent-template/source"
	"github.com/endlesschasey-ai/agent-template/types"
)

// DefaultNotificationTimeout bounds each notification await so that the
// loop re-checks its termination condition even when both sources are idle.
const DefaultNotificationTimeout = 100 * time.Millisecond

// Emitter delivers events to a client. Emit must not retain ev after
// returning. An error means the client can no longer be reached.
type Emitter interface {
	Emit(ctx context.Context, ev *types.Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev *types.Event) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, ev *types.Event) error {
	return f(ctx, ev)
}

// MergeState is the merge loop state.
type MergeState int

const (
	// MergeRunning means both sources may still produce.
	MergeRunning MergeState = iota
	// MergeDraining means at least one source is exhausted.
	MergeDraining
	// MergeDone means both sources are exhausted and the queue is empty.
	MergeDone
)

func (s MergeState) String() string {
	switch s {
	case MergeRunning:
		return "running"
	case MergeDraining:
		return "draining"
	case MergeDone:
		return "done"
	}
	return "unknown"
}

// MergeConfig wires one merge loop.
type MergeConfig struct {
	Builder     *envelope.Builder
	Fragments   *source.FragmentSource
	Queue       *source.Queue
	Accumulator *Accumulator
	Emitter     Emitter
	// NotificationTimeout defaults to DefaultNotificationTimeout.
	NotificationTimeout time.Duration
	Logger              *log.Logger
	Collector           *metrics.Collector
}

// MergeLoop interleaves fragments and notifications into one ordered
// stream of events. It runs on a single goroutine; the fragment await runs
// on its own goroutine and is never abandoned while the loop is alive.
type MergeLoop struct {
	cfg   MergeConfig
	state MergeState
}

// NewMergeLoop validates cfg and creates a loop.
func NewMergeLoop(cfg MergeConfig) (*MergeLoop, error) {
	if cfg.Builder == nil || cfg.Fragments == nil || cfg.Queue == nil ||
		cfg.Accumulator == nil || cfg.Emitter == nil {
		return nil, errors.New("merge loop requires builder, fragments, queue, accumulator, and emitter")
	}
	if cfg.NotificationTimeout <= 0 {
		cfg.NotificationTimeout = DefaultNotificationTimeout
	}
	return &MergeLoop{cfg: cfg}, nil
}

// State returns the current loop state.
func (m *MergeLoop) State() MergeState {
	return m.state
}

func (m *MergeLoop) setState(s MergeState) {
	if m.state == s {
		return
	}
	m.cfg.Logger.Debug("merge state changed", map[string]any{
		"from": m.state.String(),
		"to":   s.String(),
	})
	m.state = s
}

// Run drives the loop until both sources are exhausted and the queue is
// empty. It returns nil on normal completion, a system StreamError when the
// fragment source fails, and a canceled or timeout StreamError when ctx ends
// or the emitter fails. Execution errors are logged and never returned.
func (m *MergeLoop) Run(ctx context.Context) error {
	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()

	var (
		pending        <-chan source.Unit
		fragsExhausted bool
		notesExhausted bool
	)
	queue := m.cfg.Queue
	timeout := m.cfg.NotificationTimeout
	idle := time.NewTimer(timeout)
	defer idle.Stop()

	for {
		if fragsExhausted && notesExhausted && queue.Len() == 0 {
			m.setState(MergeDone)
			return nil
		}
		if fragsExhausted || notesExhausted {
			m.setState(MergeDraining)
		}

		if !fragsExhausted && pending == nil {
			pending = m.cfg.Fragments.Arm(fetchCtx)
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(timeout)

		select {
		case <-ctx.Done():
			cancelFetch()
			m.discard("context done")
			return m.contextError(ctx)

		case u := <-pending:
			pending = nil
			switch u.Kind {
			case source.UnitProduced:
				// Notifications pushed while the fragment was produced precede it.
				done, err := m.drainQueued(ctx)
				if err != nil {
					return err
				}
				notesExhausted = notesExhausted || done
				if err := m.onFragment(ctx, u.Fragment); err != nil {
					return err
				}
			case source.UnitExhausted:
				fragsExhausted = true
				m.cfg.Logger.Debug("fragment source exhausted", nil)
				done, err := m.drainQueued(ctx)
				if err != nil {
					return err
				}
				notesExhausted = notesExhausted || done
			case source.UnitFailed:
				if ctx.Err() != nil {
					m.discard("context done")
					return m.contextError(ctx)
				}
				m.cfg.Collector.IncGeneratorFailure()
				m.discard("fragment source failed")
				return newStreamError(StreamErrorSystem, fmt.Errorf("generation failed: %w", u.Err))
			}

		case <-queue.Ready():
			n, ok := queue.TryPop()
			if !ok {
				continue
			}
			done, err := m.handleQueued(ctx, n)
			if err != nil {
				return err
			}
			notesExhausted = notesExhausted || done

		case <-idle.C:
			m.cfg.Collector.IncIdleTick()
		}
	}
}

// drainQueued translates every notification buffered right now, in order.
// It reports whether the Done sentinel was among them.
func (m *MergeLoop) drainQueued(ctx context.Context) (bool, error) {
	exhausted := false
	for {
		n, ok := m.cfg.Queue.TryPop()
		if !ok {
			return exhausted, nil
		}
		done, err := m.handleQueued(ctx, n)
		if err != nil {
			return exhausted, err
		}
		exhausted = exhausted || done
	}
}

// handleQueued translates one popped notification. Execution errors are
// logged and skipped; it reports whether n was the Done sentinel.
func (m *MergeLoop) handleQueued(ctx context.Context, n types.Notification) (bool, error) {
	u := source.Classify(n)
	if u.Kind == source.UnitExhausted {
		m.cfg.Logger.Debug("notification source exhausted", map[string]any{
			"buffered": m.cfg.Queue.Len(),
		})
		return true, nil
	}
	if err := m.onNotification(ctx, u.Notification); err != nil {
		if !IsExecutionError(err) {
			return false, err
		}
		m.cfg.Collector.IncNotificationSkipped()
		m.cfg.Logger.Warn("notification skipped", map[string]any{
			"kind":  string(n.Kind),
			"error": err.Error(),
		})
	}
	return false, nil
}

func (m *MergeLoop) contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newStreamError(StreamErrorTimeout, ctx.Err())
	}
	return newStreamError(StreamErrorCanceled, ctx.Err())
}

// discard drops buffered notifications on abort.
func (m *MergeLoop) discard(reason string) {
	dropped := m.cfg.Queue.Drain()
	if len(dropped) > 0 {
		m.cfg.Logger.Debug("discarded buffered notifications", map[string]any{
			"count":  len(dropped),
			"reason": reason,
		})
	}
}

func (m *MergeLoop) emit(ctx context.Context, ev *types.Event) error {
	if err := m.cfg.Emitter.Emit(ctx, ev); err != nil {
		return newStreamError(StreamErrorCanceled, fmt.Errorf("emit %s: %w", ev.Type, err))
	}
	m.cfg.Collector.IncEventEmitted(string(ev.Type))
	return nil
}

func (m *MergeLoop) onFragment(ctx context.Context, f types.Fragment) error {
	if f.Text == "" {
		return nil
	}
	m.cfg.Accumulator.AppendText(f.Text)
	return m.emit(ctx, m.cfg.Builder.Build(types.ContentPayload{
		Content:    f.Text,
		Format:     types.ContentFormatMarkdown,
		IsComplete: false,
	}))
}

func execErr(err error) error {
	return newStreamError(StreamErrorExecution, err)
}

// onNotification translates one notification into at most one event.
// Translation failures are returned as execution errors and leave the
// accumulator unchanged.
func (m *MergeLoop) onNotification(ctx context.Context, n types.Notification) error {
	acc := m.cfg.Accumulator
	b := m.cfg.Builder

	switch n.Kind {
	case types.NotificationToolCallStart:
		if n.ToolCallStart == nil {
			return execErr(fmt.Errorf("%w: empty tool_call_start", ErrMalformed))
		}
		if err := acc.StartTool(*n.ToolCallStart); err != nil {
			return execErr(err)
		}
		return m.emit(ctx, b.Build(*n.ToolCallStart))

	case types.NotificationToolCallProgress:
		if n.ToolCallProgress == nil {
			return execErr(fmt.Errorf("%w: empty tool_call_progress", ErrMalformed))
		}
		if err := acc.CheckProgress(*n.ToolCallProgress); err != nil {
			return execErr(err)
		}
		return m.emit(ctx, b.Build(*n.ToolCallProgress))

	case types.NotificationToolCallEnd:
		if n.ToolCallEnd == nil {
			return execErr(fmt.Errorf("%w: empty tool_call_end", ErrMalformed))
		}
		if err := acc.EndTool(*n.ToolCallEnd, n.DurationMs); err != nil {
			return execErr(err)
		}
		if n.DurationMs != nil {
			return m.emit(ctx, b.BuildWithDuration(*n.ToolCallEnd, *n.DurationMs))
		}
		return m.emit(ctx, b.Build(*n.ToolCallEnd))

	case types.NotificationContent:
		if n.Content == nil {
			return execErr(fmt.Errorf("%w: empty content", ErrMalformed))
		}
		p := *n.Content
		switch p.Format {
		case "":
			p.Format = types.ContentFormatMarkdown
		case types.ContentFormatMarkdown, types.ContentFormatText, types.ContentFormatHTML:
		default:
			return execErr(fmt.Errorf("%w: content format %q", ErrMalformed, p.Format))
		}
		acc.AppendText(p.Content)
		return m.emit(ctx, b.Build(p))

	case types.NotificationData:
		if n.Data == nil {
			return execErr(fmt.Errorf("%w: empty data", ErrMalformed))
		}
		p := *n.Data
		if p.Data == nil {
			p.Data = map[string]any{}
		}
		if err := acc.AddData(p); err != nil {
			return execErr(err)
		}
		return m.emit(ctx, b.Build(p))
	}
	return execErr(fmt.Errorf("%w: kind %q", ErrMalformed, n.Kind))
}
