// Package envelope stamps stream events with request identity, sequence
// numbers, and timestamps, and encodes them as text/event-stream frames.
package envelope

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/endlesschasey-ai/agent-template/log"
	"github.com/endlesschasey-ai/agent-template/types"
)

// NewRequestID returns a fresh request identifier of the form req_<12 hex>.
func NewRequestID() string {
	id := uuid.New()
	return "req_" + hex.EncodeToString(id[:])[:12]
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithLogger sets the logger used for per-event debug entries.
func WithLogger(l *log.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// Builder produces events for exactly one stream.
// It is not safe for concurrent use; the merge loop owns it.
type Builder struct {
	requestID string
	seq       int64
	lastTs    int64
	now       func() time.Time
	logger    *log.Logger
}

// NewBuilder creates a builder for the given request id.
// An empty id is replaced with NewRequestID().
func NewBuilder(requestID string, opts ...Option) *Builder {
	if requestID == "" {
		requestID = NewRequestID()
	}
	b := &Builder{requestID: requestID, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RequestID returns the stream's request id.
func (b *Builder) RequestID() string {
	return b.requestID
}

// Sequence returns the sequence number of the last built event, 0 if none.
func (b *Builder) Sequence() int64 {
	return b.seq
}

// Build wraps p in an envelope with the next sequence number.
func (b *Builder) Build(p types.Payload) *types.Event {
	b.seq++
	ts := b.now().UnixMilli()
	if ts < b.lastTs {
		ts = b.lastTs
	}
	b.lastTs = ts

	ev := &types.Event{
		Type: p.EventType(),
		Data: p,
		Metadata: types.Metadata{
			RequestID: b.requestID,
			Timestamp: ts,
			Sequence:  b.seq,
		},
	}
	b.logger.Debug("event built", describe(ev))
	return ev
}

// BuildWithDuration is Build with metadata.duration_ms set.
func (b *Builder) BuildWithDuration(p types.Payload, durationMs int64) *types.Event {
	ev := b.Build(p)
	ev.Metadata.DurationMs = &durationMs
	return ev
}

// describe extracts the key fields of an event for logging.
func describe(ev *types.Event) map[string]any {
	fields := map[string]any{
		"type":     string(ev.Type),
		"sequence": ev.Metadata.Sequence,
	}
	switch p := ev.Data.(type) {
	case types.SessionStartPayload:
		fields["session_id"] = p.SessionID
	case types.ContentPayload:
		fields["content_bytes"] = len(p.Content)
		fields["is_complete"] = p.IsComplete
	case types.ToolCallStartPayload:
		fields["tool_id"] = p.ToolID
		fields["tool_name"] = p.ToolName
	case types.ToolCallProgressPayload:
		fields["tool_id"] = p.ToolID
		fields["progress"] = p.Progress
	case types.ToolCallEndPayload:
		fields["tool_id"] = p.ToolID
		fields["status"] = string(p.Status)
	case types.DataPayload:
		fields["data_type"] = string(p.DataType)
	case types.ErrorPayload:
		fields["error_type"] = string(p.ErrorType)
		fields["recoverable"] = p.Recoverable
	case types.SessionEndPayload:
		fields["status"] = string(p.Status)
	}
	return fields
}

// ContentType is the media type of an encoded stream.
const ContentType = "text/event-stream"

// EncodeSSE renders ev as one text/event-stream frame: "data: <json>\n\n".
// Non-ASCII text is emitted as UTF-8, not escaped.
func EncodeSSE(ev *types.Event) ([]byte, error) {
	body, err := MarshalEvent(ev)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(body)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, body...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

// MarshalEvent renders ev as a single JSON object without HTML escaping.
func MarshalEvent(ev *types.Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
