package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the kind discriminator of a stream event.
// The set is closed; clients switch on it.
type EventType string

// Event type constants.
const (
	EventTypeSessionStart     EventType = "session_start"
	EventTypeContent          EventType = "content"
	EventTypeToolCallStart    EventType = "tool_call_start"
	EventTypeToolCallProgress EventType = "tool_call_progress"
	EventTypeToolCallEnd      EventType = "tool_call_end"
	EventTypeData             EventType = "data"
	EventTypeError            EventType = "error"
	EventTypeSessionEnd       EventType = "session_end"
)

// IsTerminal returns true if this event type ends a stream.
func (e EventType) IsTerminal() bool {
	return e == EventTypeSessionEnd
}

// IsValid reports whether e is one of the known event kinds.
func (e EventType) IsValid() bool {
	switch e {
	case EventTypeSessionStart, EventTypeContent, EventTypeToolCallStart,
		EventTypeToolCallProgress, EventTypeToolCallEnd, EventTypeData,
		EventTypeError, EventTypeSessionEnd:
		return true
	}
	return false
}

// ContentFormat is the rendering hint of a content fragment.
type ContentFormat string

// Content format constants.
const (
	ContentFormatMarkdown ContentFormat = "markdown"
	ContentFormatText     ContentFormat = "text"
	ContentFormatHTML     ContentFormat = "html"
)

// ToolStatus is the outcome of a tool call.
type ToolStatus string

// Tool status constants. Pending is never emitted on the wire; it marks a
// started call whose end has not been observed yet.
const (
	ToolStatusPending ToolStatus = "pending"
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusFailed  ToolStatus = "failed"
)

// DataType classifies a structured data block.
type DataType string

// Data type constants.
const (
	DataTypeDataframe DataType = "dataframe"
	DataTypeChart     DataType = "chart"
	DataTypeImage     DataType = "image"
	DataTypeCustom    DataType = "custom"
)

// ErrorType is the category of an error event.
type ErrorType string

// Error type constants.
const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeExecution  ErrorType = "execution"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeSystem     ErrorType = "system"
)

// SessionStatus is the terminal status carried by session_end.
type SessionStatus string

// Session status constants.
const (
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusError     SessionStatus = "error"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Metadata is stamped on every event by the envelope builder.
type Metadata struct {
	// RequestID identifies the stream; constant for its lifetime.
	RequestID string `json:"request_id"`
	// Timestamp is wall-clock milliseconds, non-decreasing within a stream.
	Timestamp int64 `json:"timestamp"`
	// Sequence starts at 1 and increases by exactly 1 per event.
	Sequence int64 `json:"sequence"`
	// DurationMs is set on tool_call_end when the tool reported a duration.
	DurationMs *int64 `json:"duration_ms,omitempty"`
}

// Event is one element of an outgoing stream.
type Event struct {
	// Type is the kind discriminator; always equals Data.EventType().
	Type EventType `json:"type"`
	// Data is the kind-specific payload.
	Data Payload `json:"data"`
	// Metadata is the envelope metadata.
	Metadata Metadata `json:"metadata"`
}

// Payload is implemented by every kind-specific event body.
type Payload interface {
	EventType() EventType
}

// SessionStartPayload opens a stream.
type SessionStartPayload struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
}

// ContentPayload carries one text fragment of the answer.
type ContentPayload struct {
	Content    string        `msgpack:"content" json:"content"`
	Format     ContentFormat `msgpack:"format" json:"format"`
	IsComplete bool          `msgpack:"is_complete" json:"is_complete"`
}

// ToolCallStartPayload announces a tool invocation.
type ToolCallStartPayload struct {
	ToolID      string         `msgpack:"tool_id" json:"tool_id"`
	ToolName    string         `msgpack:"tool_name" json:"tool_name"`
	Description string         `msgpack:"description" json:"description"`
	Arguments   map[string]any `msgpack:"arguments,omitempty" json:"arguments,omitempty"`
}

// ToolCallProgressPayload reports progress of a long-running tool.
type ToolCallProgressPayload struct {
	ToolID string `msgpack:"tool_id" json:"tool_id"`
	// Progress is a percentage in [0, 100].
	Progress float64 `msgpack:"progress" json:"progress"`
	Message  string  `msgpack:"message" json:"message"`
}

// ToolCallEndPayload closes a tool invocation.
type ToolCallEndPayload struct {
	ToolID string         `msgpack:"tool_id" json:"tool_id"`
	Status ToolStatus     `msgpack:"status" json:"status"`
	Result map[string]any `msgpack:"result,omitempty" json:"result,omitempty"`
	Error  map[string]any `msgpack:"error,omitempty" json:"error,omitempty"`
}

// DataPayload carries a structured data block.
type DataPayload struct {
	DataType DataType       `msgpack:"data_type" json:"data_type"`
	Data     map[string]any `msgpack:"data" json:"data"`
	Metadata map[string]any `msgpack:"metadata,omitempty" json:"metadata,omitempty"`
}

// ErrorPayload reports a failure to the client.
type ErrorPayload struct {
	ErrorType   ErrorType      `json:"error_type"`
	Message     string         `json:"message"`
	Recoverable bool           `json:"recoverable"`
	Details     map[string]any `json:"details,omitempty"`
}

// Summary is the statistics block of session_end.
type Summary struct {
	ToolCalls     int   `json:"tool_calls"`
	DataBlocks    int   `json:"data_blocks"`
	ContentLength int   `json:"content_length"`
	DurationMs    int64 `json:"duration_ms"`
	// TotalEvents counts the events emitted before session_end.
	TotalEvents int64 `json:"total_events"`
}

// SessionEndPayload terminates a stream.
type SessionEndPayload struct {
	Status  SessionStatus `json:"status"`
	Summary Summary       `json:"summary"`
}

// EventType implementations.

func (SessionStartPayload) EventType() EventType     { return EventTypeSessionStart }
func (ContentPayload) EventType() EventType          { return EventTypeContent }
func (ToolCallStartPayload) EventType() EventType    { return EventTypeToolCallStart }
func (ToolCallProgressPayload) EventType() EventType { return EventTypeToolCallProgress }
func (ToolCallEndPayload) EventType() EventType      { return EventTypeToolCallEnd }
func (DataPayload) EventType() EventType             { return EventTypeData }
func (ErrorPayload) EventType() EventType            { return EventTypeError }
func (SessionEndPayload) EventType() EventType       { return EventTypeSessionEnd }

// ErrUnknownEventType is returned when decoding an event with a type outside
// the closed kind set.
var ErrUnknownEventType = errors.New("unknown event type")

// NewPayload returns a zero payload pointer for the given kind.
func NewPayload(t EventType) (Payload, error) {
	switch t {
	case EventTypeSessionStart:
		return &SessionStartPayload{}, nil
	case EventTypeContent:
		return &ContentPayload{}, nil
	case EventTypeToolCallStart:
		return &ToolCallStartPayload{}, nil
	case EventTypeToolCallProgress:
		return &ToolCallProgressPayload{}, nil
	case EventTypeToolCallEnd:
		return &ToolCallEndPayload{}, nil
	case EventTypeData:
		return &DataPayload{}, nil
	case EventTypeError:
		return &ErrorPayload{}, nil
	case EventTypeSessionEnd:
		return &SessionEndPayload{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
}

// UnmarshalJSON decodes the generic wire object into the typed payload
// selected by the type field. Decoded payloads are pointers.
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type     EventType       `json:"type"`
		Data     json.RawMessage `json:"data"`
		Metadata Metadata        `json:"metadata"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p, err := NewPayload(raw.Type)
	if err != nil {
		return err
	}
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, p); err != nil {
			return fmt.Errorf("decode %s payload: %w", raw.Type, err)
		}
	}
	e.Type = raw.Type
	e.Data = p
	e.Metadata = raw.Metadata
	return nil
}
