// Package types defines core domain types for the agent-template backend.
//
//nolint:revive // types is a common Go package naming convention
package types

import "time"

// DefaultSessionTitle is used when a session is created without a title.
const DefaultSessionTitle = "新对话"

// Role is the author of a stored message.
type Role string

// Role constants.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is a stored conversation.
type Session struct {
	SessionID      string    `json:"session_id"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// SessionDetail is a session with its message count.
type SessionDetail struct {
	Session
	MessageCount int `json:"message_count"`
}

// Message is a stored conversation turn.
type Message struct {
	MessageID string         `json:"message_id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToolCallMeta is the per-tool entry stored in assistant message metadata.
type ToolCallMeta struct {
	ToolID      string     `json:"tool_id"`
	ToolName    string     `json:"tool_name"`
	Description string     `json:"description"`
	Status      ToolStatus `json:"status,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty"`
}

// DataBlockMeta is the per-block entry stored in assistant message metadata.
type DataBlockMeta struct {
	DataType DataType `json:"data_type"`
	Name     string   `json:"name"`
}
