package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/endlesschasey-ai/agent-template/types"
)

// Memory is an in-process Store. Data is lost on exit.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	messages map[string][]types.Message
	now      func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*types.Session),
		messages: make(map[string][]types.Message),
		now:      time.Now,
	}
}

// SetClock overrides the clock. For tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// CreateSession implements Store.
func (m *Memory) CreateSession(_ context.Context, title string) (*types.Session, error) {
	if title == "" {
		title = types.DefaultSessionTitle
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	s := &types.Session{
		SessionID:      NewID(),
		Title:          title,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.sessions[s.SessionID] = s
	cp := *s
	return &cp, nil
}

// GetSession implements Store.
func (m *Memory) GetSession(_ context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// ListSessions implements Store.
func (m *Memory) ListSessions(_ context.Context, limit int) ([]types.Session, error) {
	if limit <= 0 {
		limit = DefaultSessionListLimit
	}
	m.mu.RLock()
	out := make([]types.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateMessage implements Store.
func (m *Memory) CreateMessage(_ context.Context, sessionID string, role types.Role, content string, metadata map[string]any) (*types.Message, error) {
	msg, err := m.newMessage(sessionID, role, content, metadata)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.appendLocked(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *Memory) newMessage(sessionID string, role types.Role, content string, metadata map[string]any) (*types.Message, error) {
	if err := ValidateRole(role); err != nil {
		return nil, err
	}
	md, err := NormalizeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	now := m.now().UTC()
	m.mu.RUnlock()
	return &types.Message{
		MessageID: NewID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  md,
		CreatedAt: now,
	}, nil
}

func (m *Memory) appendLocked(msg *types.Message) error {
	s, ok := m.sessions[msg.SessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", msg.SessionID, ErrNotFound)
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], *msg)
	if msg.CreatedAt.After(s.LastActivityAt) {
		s.LastActivityAt = msg.CreatedAt
	}
	return nil
}

// GetRecentMessages implements Store.
func (m *Memory) GetRecentMessages(_ context.Context, sessionID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.messages[sessionID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]types.Message(nil), all...), nil
}

// MessageCount implements Store.
func (m *Memory) MessageCount(_ context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[sessionID]), nil
}

// Begin implements Store.
func (m *Memory) Begin(context.Context) (Tx, error) {
	return &memoryTx{store: m}, nil
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}

type memoryTx struct {
	store   *Memory
	pending []*types.Message
	done    bool
}

func (tx *memoryTx) CreateMessage(_ context.Context, sessionID string, role types.Role, content string, metadata map[string]any) (*types.Message, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	msg, err := tx.store.newMessage(sessionID, role, content, metadata)
	if err != nil {
		return nil, err
	}
	tx.pending = append(tx.pending, msg)
	cp := *msg
	return &cp, nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	m := tx.store
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range tx.pending {
		if _, ok := m.sessions[msg.SessionID]; !ok {
			return fmt.Errorf("session %s: %w", msg.SessionID, ErrNotFound)
		}
	}
	for _, msg := range tx.pending {
		if err := m.appendLocked(msg); err != nil {
			return err
		}
	}
	return nil
}

func (tx *memoryTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.pending = nil
	return nil
}

var _ Store = (*Memory)(nil)
