// Package lode provides a store.Store backed by a Lode dataset.
//
// Sessions and messages are written as JSONL records under a Hive layout
// (record_kind=/day=) on the local filesystem or S3. Every write produces
// one snapshot; a transaction's messages land in a single snapshot so they
// become durable together. On open, the store replays all snapshots into an
// in-memory index that serves reads.
package lode

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/endlesschasey-ai/agent-template/log"
	"github.com/endlesschasey-ai/agent-template/metrics"
	"github.com/endlesschasey-ai/agent-template/store"
	"github.com/endlesschasey-ai/agent-template/types"
)

// Config configures a Store.
type Config struct {
	// Dataset is the Lode dataset ID. Defaults to DefaultDataset.
	Dataset   string
	Logger    *log.Logger
	Collector *metrics.Collector
	// Now overrides the clock. For tests.
	Now func() time.Time
}

// Store is a Lode-backed store.Store.
type Store struct {
	ds        lode.Dataset
	dataset   string
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time

	// mu serializes writes so that index order matches snapshot order.
	mu       sync.RWMutex
	sessions map[string]*types.Session
	messages map[string][]types.Message
	seen     map[string]struct{}
}

// Open creates the dataset over factory and replays existing snapshots.
func Open(ctx context.Context, cfg Config, factory lode.StoreFactory) (*Store, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ds, err := NewDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	s := &Store{
		ds:        ds,
		dataset:   cfg.Dataset,
		logger:    cfg.Logger.With("lode"),
		collector: cfg.Collector,
		now:       cfg.Now,
		sessions:  make(map[string]*types.Session),
		messages:  make(map[string][]types.Message),
		seen:      make(map[string]struct{}),
	}
	if err := s.replay(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// replay rebuilds the index. Records are applied in snapshot order and
// deduplicated by id, so overlapping snapshots are harmless.
func (s *Store) replay(ctx context.Context) error {
	snapshots, err := s.ds.Snapshots(ctx)
	if err != nil {
		return WrapReadError(err, s.dataset+"/snapshots")
	}
	for _, snap := range snapshots {
		data, err := s.ds.Read(ctx, snap.ID)
		if err != nil {
			return WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", s.dataset, snap.ID))
		}
		for _, item := range data {
			if rec, ok := item.(map[string]any); ok {
				s.applyLocked(rec)
			}
		}
	}
	for id := range s.messages {
		msgs := s.messages[id]
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	}
	s.logger.Info("lode store opened", map[string]any{
		"dataset":   s.dataset,
		"snapshots": len(snapshots),
		"sessions":  len(s.sessions),
	})
	return nil
}

func (s *Store) applyLocked(rec map[string]any) {
	switch toString(rec["record_kind"]) {
	case RecordKindSession:
		sess, ok := sessionFromRecord(rec)
		if !ok {
			return
		}
		cur, exists := s.sessions[sess.SessionID]
		if !exists {
			s.sessions[sess.SessionID] = &sess
			return
		}
		if sess.LastActivityAt.After(cur.LastActivityAt) {
			cur.LastActivityAt = sess.LastActivityAt
		}
	case RecordKindMessage:
		msg, ok := messageFromRecord(rec)
		if !ok {
			return
		}
		if _, dup := s.seen[msg.MessageID]; dup {
			return
		}
		s.seen[msg.MessageID] = struct{}{}
		s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
		if sess, ok := s.sessions[msg.SessionID]; ok && msg.CreatedAt.After(sess.LastActivityAt) {
			sess.LastActivityAt = msg.CreatedAt
		}
	}
}

// write persists records as one snapshot.
func (s *Store) write(ctx context.Context, records []any) error {
	_, err := s.ds.Write(ctx, records, lode.Metadata{})
	if err != nil {
		s.collector.IncLodeWriteFailure()
		return WrapWriteError(err, s.dataset)
	}
	s.collector.IncLodeWriteSuccess()
	return nil
}

// CreateSession implements store.Store.
func (s *Store) CreateSession(ctx context.Context, title string) (*types.Session, error) {
	if title == "" {
		title = types.DefaultSessionTitle
	}
	now := s.now().UTC()
	sess := types.Session{
		SessionID:      store.NewID(),
		Title:          title,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(ctx, []any{sessionRecord(sess)}); err != nil {
		return nil, err
	}
	s.applyLocked(sessionRecord(sess))
	return &sess, nil
}

// GetSession implements store.Store.
func (s *Store) GetSession(_ context.Context, sessionID string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

// ListSessions implements store.Store.
func (s *Store) ListSessions(_ context.Context, limit int) ([]types.Session, error) {
	if limit <= 0 {
		limit = store.DefaultSessionListLimit
	}
	s.mu.RLock()
	out := make([]types.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateMessage implements store.Store.
func (s *Store) CreateMessage(ctx context.Context, sessionID string, role types.Role, content string, metadata map[string]any) (*types.Message, error) {
	msg, err := s.newMessage(sessionID, role, content, metadata)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commitLocked(ctx, []*types.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) newMessage(sessionID string, role types.Role, content string, metadata map[string]any) (*types.Message, error) {
	if err := store.ValidateRole(role); err != nil {
		return nil, err
	}
	md, err := store.NormalizeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	return &types.Message{
		MessageID: store.NewID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  md,
		CreatedAt: s.now().UTC(),
	}, nil
}

// commitLocked writes msgs and the bumped sessions as one snapshot, then
// indexes them. Nothing is indexed when the write fails.
func (s *Store) commitLocked(ctx context.Context, msgs []*types.Message) error {
	bumped := make(map[string]types.Session)
	records := make([]any, 0, 2*len(msgs))
	for _, msg := range msgs {
		sess, ok := s.sessions[msg.SessionID]
		if !ok {
			return fmt.Errorf("session %s: %w", msg.SessionID, store.ErrNotFound)
		}
		b, seen := bumped[msg.SessionID]
		if !seen {
			b = *sess
		}
		if msg.CreatedAt.After(b.LastActivityAt) {
			b.LastActivityAt = msg.CreatedAt
		}
		bumped[msg.SessionID] = b
		records = append(records, messageRecord(*msg))
	}
	for _, sess := range bumped {
		records = append(records, sessionRecord(sess))
	}

	if err := s.write(ctx, records); err != nil {
		return err
	}
	for _, rec := range records {
		s.applyLocked(rec.(map[string]any))
	}
	return nil
}

// GetRecentMessages implements store.Store.
func (s *Store) GetRecentMessages(_ context.Context, sessionID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[sessionID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]types.Message(nil), all...), nil
}

// MessageCount implements store.Store.
func (s *Store) MessageCount(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[sessionID]), nil
}

// Begin implements store.Store. The transaction buffers messages and
// writes them in one snapshot at Commit.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	return &tx{store: s, ctx: ctx}, nil
}

// Close implements store.Store. The dataset holds no open handles.
func (s *Store) Close() error {
	return nil
}

type tx struct {
	store   *Store
	ctx     context.Context
	pending []*types.Message
	done    bool
}

func (t *tx) CreateMessage(_ context.Context, sessionID string, role types.Role, content string, metadata map[string]any) (*types.Message, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	msg, err := t.store.newMessage(sessionID, role, content, metadata)
	if err != nil {
		return nil, err
	}
	t.pending = append(t.pending, msg)
	cp := *msg
	return &cp, nil
}

func (t *tx) Commit() error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	if len(t.pending) == 0 {
		return nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.commitLocked(t.ctx, t.pending)
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.pending = nil
	return nil
}

var _ store.Store = (*Store)(nil)
