// Package store persists sessions and messages.
//
// Three backends implement Store: Memory (process-local), Postgres
// (database/sql with lib/pq), and the Lode-backed store in package lode.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/endlesschasey-ai/agent-template/types"
)

// Default list limits.
const (
	DefaultSessionListLimit = 50
	DefaultHistoryLimit     = 20
)

// ErrNotFound is returned when a referenced session does not exist.
var ErrNotFound = errors.New("not found")

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("transaction already committed or rolled back")

// Store is the storage service consumed by the streaming core and the HTTP
// layer. All methods are safe for concurrent use.
type Store interface {
	// CreateSession creates a session. An empty title uses types.DefaultSessionTitle.
	CreateSession(ctx context.Context, title string) (*types.Session, error)
	// GetSession returns nil, nil when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	// ListSessions returns sessions by last activity, newest first.
	ListSessions(ctx context.Context, limit int) ([]types.Session, error)
	// CreateMessage stores and commits a message, bumping the session's
	// last activity. Returns ErrNotFound for an unknown session.
	CreateMessage(ctx context.Context, sessionID string, role types.Role, content string, metadata map[string]any) (*types.Message, error)
	// GetRecentMessages returns up to limit most recent messages, oldest first.
	GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]types.Message, error)
	// MessageCount returns the number of messages in a session.
	MessageCount(ctx context.Context, sessionID string) (int, error)
	// Begin starts a transaction for writes that must land together or not at all.
	Begin(ctx context.Context) (Tx, error)
	// Close releases backend resources.
	Close() error
}

// Tx is a unit of message writes. Writes are invisible until Commit.
type Tx interface {
	CreateMessage(ctx context.Context, sessionID string, role types.Role, content string, metadata map[string]any) (*types.Message, error)
	Commit() error
	Rollback() error
}

// NewID returns a random identifier for sessions and messages.
func NewID() string {
	return uuid.NewString()
}

// ValidateRole rejects roles outside user/assistant.
func ValidateRole(r types.Role) error {
	if r != types.RoleUser && r != types.RoleAssistant {
		return fmt.Errorf("invalid role %q", r)
	}
	return nil
}

// EncodeMetadata renders message metadata as JSON; nil or empty yields nil.
func EncodeMetadata(md map[string]any) ([]byte, error) {
	if len(md) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encode message metadata: %w", err)
	}
	return b, nil
}

// DecodeMetadata parses stored metadata. Invalid JSON yields nil, matching
// how a reader treats a corrupt optional column.
func DecodeMetadata(b []byte) map[string]any {
	if len(b) == 0 {
		return nil
	}
	var md map[string]any
	if err := json.Unmarshal(b, &md); err != nil {
		return nil
	}
	return md
}

// NormalizeMetadata round-trips metadata through JSON so that every
// backend returns the same generic shape.
func NormalizeMetadata(md map[string]any) (map[string]any, error) {
	b, err := EncodeMetadata(md)
	if err != nil {
		return nil, err
	}
	return DecodeMetadata(b), nil
}
