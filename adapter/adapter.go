// Package adapter defines the completion-notification boundary.
//
// Adapters publish a summary of every finished stream to downstream
// systems (analytics, audit, cache invalidation). Publishing is best effort
// and never affects the client stream.
package adapter

import "context"

// EventTypeStreamCompleted is the event_type of every published event.
const EventTypeStreamCompleted = "stream_completed"

// StreamCompletedEvent is the payload published when a stream reaches its
// terminal event.
type StreamCompletedEvent struct {
	EventType     string `json:"event_type"` // always "stream_completed"
	SessionID     string `json:"session_id"`
	RequestID     string `json:"request_id"`
	Status        string `json:"status"` // completed, error, cancelled
	ErrorType     string `json:"error_type,omitempty"`
	Generator     string `json:"generator"`
	ToolCalls     int    `json:"tool_calls"`
	DataBlocks    int    `json:"data_blocks"`
	ContentLength int    `json:"content_length"`
	EventCount    int64  `json:"event_count"`
	DurationMs    int64  `json:"duration_ms"`
	MessageID     string `json:"message_id,omitempty"` // persisted assistant message
	Timestamp     string `json:"timestamp"`            // RFC 3339
}

// Adapter publishes stream completion events to a downstream system.
// Implementations must be safe for concurrent use; one adapter serves
// every stream of a process.
type Adapter interface {
	// Publish sends a stream completion event.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *StreamCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
