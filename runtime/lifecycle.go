package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/endlesschasey-ai/agent-template/adapter"
	"github.com/endlesschasey-ai/agent-template/envelope"
	"github.com/endlesschasey-ai/agent-template/generation"
	"github.com/endlesschasey-ai/agent-template/log"
	"github.com/endlesschasey-ai/agent-template/metrics"
	"github.com/endlesschasey-ai/agent-template/source"
	"github.com/endlesschasey-ai/agent-template/store"
	"github.com/endlesschasey-ai/agent-template/types"
)

// Defaults for StreamConfig.
const (
	DefaultHistoryLimit   = store.DefaultHistoryLimit
	DefaultPublishTimeout = 30 * time.Second
	// persistTimeout bounds the truncated-completion write after the
	// request context is gone.
	persistTimeout = 10 * time.Second
)

// Storage is the subset of store.Store used by a stream.
type Storage interface {
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	CreateMessage(ctx context.Context, sessionID string, role types.Role, content string, metadata map[string]any) (*types.Message, error)
	GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]types.Message, error)
	Begin(ctx context.Context) (store.Tx, error)
}

// StreamConfig configures a StreamOrchestrator. Shared by all streams.
type StreamConfig struct {
	Storage   Storage
	Generator generation.Generator
	// Adapter is optional; completion events are published when set.
	Adapter   adapter.Adapter
	Logger    *log.Logger
	Collector *metrics.Collector

	// NotificationTimeout is the idle wait of the merge loop (default 100ms).
	NotificationTimeout time.Duration
	// HistoryLimit is the number of prior messages given to the generator (default 20).
	HistoryLimit int
	// MaxDuration bounds the streaming phase; 0 disables the limit.
	MaxDuration time.Duration
	// PublishTimeout bounds adapter publishing (default 30s).
	PublishTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// StreamRequest is one chat turn.
type StreamRequest struct {
	SessionID string
	Content   string
	FileIDs   []string
	// RequestID is generated when empty.
	RequestID string
}

// StreamResult describes a finished stream.
type StreamResult struct {
	RequestID          string
	SessionID          string
	Outcome            Outcome
	Summary            types.Summary
	EventCount         int64
	UserMessageID      string
	AssistantMessageID string
	// Err is the cause of a non-completed outcome.
	Err error
}

// StreamOrchestrator drives streams through their lifecycle:
// validate, announce, persist input, generate and merge, persist output,
// terminate. Safe for concurrent use; each Execute owns its own state.
type StreamOrchestrator struct {
	cfg        StreamConfig
	publishing sync.WaitGroup
}

// NewStreamOrchestrator validates cfg and applies defaults.
func NewStreamOrchestrator(cfg StreamConfig) (*StreamOrchestrator, error) {
	if cfg.Storage == nil {
		return nil, errors.New("stream orchestrator requires storage")
	}
	if cfg.Generator == nil {
		return nil, errors.New("stream orchestrator requires a generator")
	}
	if cfg.NotificationTimeout <= 0 {
		cfg.NotificationTimeout = DefaultNotificationTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &StreamOrchestrator{cfg: cfg}, nil
}

// Wait blocks until in-flight adapter publishes finish.
func (o *StreamOrchestrator) Wait() {
	o.publishing.Wait()
}

// stream is the per-Execute state.
type stream struct {
	o       *StreamOrchestrator
	req     StreamRequest
	builder *envelope.Builder
	acc     *Accumulator
	emitter Emitter
	logger  *log.Logger
	state   LifecycleState
	result  *StreamResult
}

// Execute runs one stream to its terminal event. Exactly one session_end is
// emitted, always last. Failures are reported in-stream and in the result.
func (o *StreamOrchestrator) Execute(ctx context.Context, req StreamRequest, em Emitter) *StreamResult {
	requestID := req.RequestID
	if requestID == "" {
		requestID = envelope.NewRequestID()
	}
	logger := o.cfg.Logger.WithStream(requestID, req.SessionID)
	b := envelope.NewBuilder(requestID, envelope.WithClock(o.cfg.Now), envelope.WithLogger(logger))

	s := &stream{
		o:       o,
		req:     req,
		builder: b,
		acc:     NewAccumulator(o.cfg.Now()),
		emitter: em,
		logger:  logger,
		state:   StateNotStarted,
		result:  &StreamResult{RequestID: b.RequestID(), SessionID: req.SessionID},
	}

	if err := o.validate(ctx, req); err != nil {
		if IsValidationError(err) {
			o.cfg.Collector.IncValidationFailure()
			logger.Warn("request rejected", map[string]any{"error": err.Error()})
		}
		return s.terminate(ctx, err)
	}
	return s.run(ctx)
}

func (o *StreamOrchestrator) validate(ctx context.Context, req StreamRequest) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return newStreamError(StreamErrorValidation, ErrMissingSession)
	}
	if strings.TrimSpace(req.Content) == "" {
		return newStreamError(StreamErrorValidation, ErrEmptyContent)
	}
	sess, err := o.cfg.Storage.GetSession(ctx, req.SessionID)
	if err != nil {
		return newStreamError(StreamErrorSystem, fmt.Errorf("load session: %w", err))
	}
	if sess == nil {
		return newStreamError(StreamErrorValidation, ErrSessionNotFound)
	}
	return nil
}

func (s *stream) run(ctx context.Context) *StreamResult {
	cfg := &s.o.cfg
	s.setState(StateStreaming)
	cfg.Collector.IncStreamStarted()
	s.logger.Info("stream started", map[string]any{
		"generator": cfg.Generator.Name(),
		"files":     len(s.req.FileIDs),
	})

	if err := s.emit(ctx, s.builder.Build(types.SessionStartPayload{
		SessionID: s.req.SessionID,
		RequestID: s.builder.RequestID(),
	})); err != nil {
		return s.terminate(ctx, err)
	}

	// File ids are recorded as given; they are not resolved to file records.
	var userMeta map[string]any
	if len(s.req.FileIDs) > 0 {
		userMeta = map[string]any{"file_ids": s.req.FileIDs}
	}
	userMsg, err := cfg.Storage.CreateMessage(ctx, s.req.SessionID, types.RoleUser, s.req.Content, userMeta)
	if err != nil {
		cfg.Collector.IncPersistFailure()
		return s.terminate(ctx, newStreamError(StreamErrorSystem, fmt.Errorf("persist user message: %w", err)))
	}
	s.result.UserMessageID = userMsg.MessageID

	recent, err := cfg.Storage.GetRecentMessages(ctx, s.req.SessionID, cfg.HistoryLimit+1)
	if err != nil {
		return s.terminate(ctx, newStreamError(StreamErrorSystem, fmt.Errorf("load history: %w", err)))
	}
	history := make([]types.Message, 0, len(recent))
	for _, m := range recent {
		if m.MessageID != userMsg.MessageID {
			history = append(history, m)
		}
	}
	if len(history) > cfg.HistoryLimit {
		history = history[len(history)-cfg.HistoryLimit:]
	}

	streamCtx := ctx
	if cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, cfg.MaxDuration)
		defer cancel()
	}

	queue := source.NewQueue()
	gen, err := cfg.Generator.Start(streamCtx, generation.Request{
		SessionID: s.req.SessionID,
		RequestID: s.builder.RequestID(),
		Input:     s.req.Content,
		History:   history,
	}, queue)
	if err != nil {
		cfg.Collector.IncGeneratorStartFailure()
		return s.terminate(ctx, newStreamError(StreamErrorSystem, fmt.Errorf("start generation: %w", err)))
	}
	defer func() {
		if cerr := gen.Close(); cerr != nil {
			s.logger.Warn("generation close failed", map[string]any{"error": cerr.Error()})
		}
	}()

	loop, err := NewMergeLoop(MergeConfig{
		Builder:             s.builder,
		Fragments:           source.NewFragmentSource(gen, queue),
		Queue:               queue,
		Accumulator:         s.acc,
		Emitter:             s.emitter,
		NotificationTimeout: cfg.NotificationTimeout,
		Logger:              s.logger,
		Collector:           cfg.Collector,
	})
	if err != nil {
		return s.terminate(ctx, newStreamError(StreamErrorSystem, err))
	}

	runErr := loop.Run(streamCtx)
	switch {
	case runErr == nil:
		if err := s.persistAssistant(ctx, s.acc.Text(), s.acc.MessageMetadata()); err != nil {
			return s.terminate(ctx, newStreamError(StreamErrorSystem, fmt.Errorf("persist assistant message: %w", err)))
		}
		return s.terminate(ctx, nil)

	case IsCanceledError(runErr):
		s.persistTruncated(ctx)
		return s.terminate(ctx, runErr)

	default:
		// Abort: nothing generated in this turn is persisted.
		s.logger.Error("stream aborted", map[string]any{
			"error":          runErr.Error(),
			"content_length": s.acc.ContentLength(),
		})
		return s.terminate(ctx, runErr)
	}
}

// persistAssistant writes the assistant message in a transaction.
func (s *stream) persistAssistant(ctx context.Context, content string, md map[string]any) error {
	c := s.o.cfg.Collector
	tx, err := s.o.cfg.Storage.Begin(ctx)
	if err != nil {
		c.IncPersistFailure()
		return err
	}
	msg, err := tx.CreateMessage(ctx, s.req.SessionID, types.RoleAssistant, content, md)
	if err != nil {
		c.IncPersistFailure()
		if rerr := tx.Rollback(); rerr != nil {
			s.logger.Warn("rollback failed", map[string]any{"error": rerr.Error()})
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		c.IncPersistFailure()
		return err
	}
	c.IncPersistSuccess()
	s.result.AssistantMessageID = msg.MessageID
	return nil
}

// persistTruncated saves what the client saw before it went away.
func (s *stream) persistTruncated(ctx context.Context) {
	if s.acc.Text() == "" && len(s.acc.Tools()) == 0 {
		return
	}
	md := s.acc.MessageMetadata()
	if md == nil {
		md = make(map[string]any, 1)
	}
	md["truncated"] = true

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.persistAssistant(pctx, s.acc.Text(), md); err != nil {
		s.logger.Warn("truncated completion not persisted", map[string]any{"error": err.Error()})
	}
}

func (s *stream) emit(ctx context.Context, ev *types.Event) error {
	if err := s.emitter.Emit(ctx, ev); err != nil {
		return newStreamError(StreamErrorCanceled, fmt.Errorf("emit %s: %w", ev.Type, err))
	}
	s.o.cfg.Collector.IncEventEmitted(string(ev.Type))
	return nil
}

// terminate emits the error event (if any) and the single session_end.
func (s *stream) terminate(ctx context.Context, cause error) *StreamResult {
	outcome := DetermineOutcome(cause)
	// Terminal events are written even when the stream context has ended;
	// a dead connection simply fails the write.
	tctx := context.WithoutCancel(ctx)

	if outcome.ErrorType != "" {
		p := types.ErrorPayload{
			ErrorType:   outcome.ErrorType,
			Message:     errorMessage(outcome.ErrorType, cause),
			Recoverable: outcome.Recoverable,
		}
		if outcome.ErrorType == types.ErrorTypeSystem {
			p.Details = map[string]any{"exception": rootCause(cause).Error()}
		}
		if err := s.emit(tctx, s.builder.Build(p)); err != nil {
			s.logger.Warn("error event not delivered", map[string]any{"error": err.Error()})
		}
	}

	summary := s.acc.Summary(s.o.cfg.Now(), s.builder.Sequence())
	if err := s.emit(tctx, s.builder.Build(types.SessionEndPayload{
		Status:  outcome.Status,
		Summary: summary,
	})); err != nil {
		s.logger.Warn("session_end not delivered", map[string]any{"error": err.Error()})
	}

	s.result.Outcome = outcome
	s.result.Summary = summary
	s.result.EventCount = s.builder.Sequence()
	s.result.Err = cause

	streamed := s.state == StateStreaming
	s.setState(outcome.State)
	if streamed {
		c := s.o.cfg.Collector
		switch outcome.State {
		case StateCompleted:
			c.IncStreamCompleted()
		case StateCancelled:
			c.IncStreamCancelled()
		default:
			c.IncStreamErrored()
		}
	}

	fields := map[string]any{
		"status":         string(outcome.Status),
		"events":         s.result.EventCount,
		"tool_calls":     summary.ToolCalls,
		"data_blocks":    summary.DataBlocks,
		"content_length": summary.ContentLength,
		"duration_ms":    summary.DurationMs,
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	s.logger.Info("stream finished", fields)

	s.publish(ctx)
	return s.result
}

// setState moves the stream along not_started → streaming → terminal.
// Terminal states are final.
func (s *stream) setState(next LifecycleState) {
	if s.state.IsTerminal() || s.state == next {
		return
	}
	s.logger.Debug("stream state changed", map[string]any{
		"from": string(s.state),
		"to":   string(next),
	})
	s.state = next
}

// rootCause strips the StreamError classification.
func rootCause(err error) error {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Err
	}
	return err
}

func errorMessage(t types.ErrorType, cause error) string {
	inner := rootCause(cause)
	switch t {
	case types.ErrorTypeValidation:
		return inner.Error()
	case types.ErrorTypeTimeout:
		return "stream exceeded its time limit"
	}
	return "system error: " + inner.Error()
}

// publish sends the completion event in the background.
func (s *stream) publish(ctx context.Context) {
	a := s.o.cfg.Adapter
	if a == nil {
		return
	}
	r := s.result
	ev := &adapter.StreamCompletedEvent{
		EventType:     adapter.EventTypeStreamCompleted,
		SessionID:     r.SessionID,
		RequestID:     r.RequestID,
		Status:        string(r.Outcome.Status),
		ErrorType:     string(r.Outcome.ErrorType),
		Generator:     s.o.cfg.Generator.Name(),
		ToolCalls:     r.Summary.ToolCalls,
		DataBlocks:    r.Summary.DataBlocks,
		ContentLength: r.Summary.ContentLength,
		EventCount:    r.EventCount,
		DurationMs:    r.Summary.DurationMs,
		MessageID:     r.AssistantMessageID,
		Timestamp:     s.o.cfg.Now().UTC().Format(time.RFC3339),
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.o.cfg.PublishTimeout)
	s.o.publishing.Add(1)
	go func() {
		defer s.o.publishing.Done()
		defer cancel()
		c := s.o.cfg.Collector
		if err := a.Publish(pctx, ev); err != nil {
			c.IncAdapterPublishFailure()
			s.logger.Warn("completion publish failed", map[string]any{"error": err.Error()})
			return
		}
		c.IncAdapterPublishSuccess()
	}()
}
