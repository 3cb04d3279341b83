package lode

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/justapithecus/lode/lode"

	"github.com/endlesschasey-ai/agent-template/metrics"
	"github.com/endlesschasey-ai/agent-template/store"
	"github.com/endlesschasey-ai/agent-template/store/storetest"
	"github.com/endlesschasey-ai/agent-template/types"
)

func openMemory(t *testing.T, factory lode.StoreFactory, collector *metrics.Collector) *Store {
	t.Helper()
	s, err := Open(t.Context(), Config{Collector: collector}, factory)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openMemory(t, lode.NewMemoryFactory(), nil)
	})
}

func TestStore_FS_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openMemory(t, NewFSFactory(t.TempDir()), nil)
	})
}

func TestStore_ReopenReplaysSnapshots(t *testing.T) {
	ctx := t.Context()
	factory := SharedFactory(lode.NewMemory())

	first := openMemory(t, factory, nil)
	sess, err := first.CreateSession(ctx, "persisted")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := first.CreateMessage(ctx, sess.SessionID, types.RoleUser, "question", map[string]any{"file_ids": []string{"f1"}}); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	tx, _ := first.Begin(ctx)
	if _, err := tx.CreateMessage(ctx, sess.SessionID, types.RoleAssistant, "answer", nil); err != nil {
		t.Fatalf("tx.CreateMessage failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	second := openMemory(t, factory, nil)
	got, err := second.GetSession(ctx, sess.SessionID)
	if err != nil || got == nil {
		t.Fatalf("GetSession after reopen = %v, %v", got, err)
	}
	if got.Title != "persisted" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.LastActivityAt.Before(sess.CreatedAt) {
		t.Errorf("LastActivityAt = %v, before creation %v", got.LastActivityAt, sess.CreatedAt)
	}

	msgs, err := second.GetRecentMessages(ctx, sess.SessionID, 10)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "question" || msgs[1].Content != "answer" {
		t.Fatalf("messages after reopen = %+v", msgs)
	}
	ids, ok := msgs[0].Metadata["file_ids"].([]any)
	if !ok || len(ids) != 1 || ids[0] != "f1" {
		t.Errorf("metadata after reopen = %#v", msgs[0].Metadata)
	}
}

func TestStore_TxIsOneSnapshot(t *testing.T) {
	ctx := t.Context()
	mem := lode.NewMemory()
	collector := metrics.NewCollector("scripted", "lode", "")
	s := openMemory(t, SharedFactory(mem), collector)

	sess, _ := s.CreateSession(ctx, "")
	before := collector.Snapshot().LodeWriteSuccess

	tx, _ := s.Begin(ctx)
	for _, c := range []string{"a", "b", "c"} {
		if _, err := tx.CreateMessage(ctx, sess.SessionID, types.RoleAssistant, c, nil); err != nil {
			t.Fatalf("tx.CreateMessage failed: %v", err)
		}
	}
	if n, _ := s.MessageCount(ctx, sess.SessionID); n != 0 {
		t.Errorf("uncommitted messages visible: %d", n)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if got := collector.Snapshot().LodeWriteSuccess - before; got != 1 {
		t.Errorf("snapshots written by commit = %d, want 1", got)
	}
	if err := tx.Commit(); !errors.Is(err, store.ErrTxDone) {
		t.Errorf("second Commit = %v, want ErrTxDone", err)
	}

	ds, err := NewDataset(DefaultDataset, SharedFactory(mem))
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}
	latest, err := ds.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	data, err := ds.Read(ctx, latest.ID)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var messages int
	for _, item := range data {
		if rec, ok := item.(map[string]any); ok && rec["record_kind"] == RecordKindMessage {
			messages++
		}
	}
	if messages < 3 {
		t.Errorf("latest snapshot holds %d message records, want the 3 committed together", messages)
	}
}

// flakyStore fails Put while failing is set.
type flakyStore struct {
	lode.Store
	failing atomic.Bool
}

func (s *flakyStore) Put(ctx context.Context, path string, r io.Reader) error {
	if s.failing.Load() {
		return errors.New("write /data: no space left on device")
	}
	return s.Store.Put(ctx, path, r)
}

func TestStore_WriteFailureIsClassifiedAndNotIndexed(t *testing.T) {
	ctx := t.Context()
	flaky := &flakyStore{Store: lode.NewMemory()}
	collector := metrics.NewCollector("scripted", "lode", "")
	s := openMemory(t, SharedFactory(flaky), collector)

	sess, err := s.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	flaky.failing.Store(true)
	_, err = s.CreateMessage(ctx, sess.SessionID, types.RoleUser, "lost", nil)
	if !errors.Is(err, ErrDiskFull) {
		t.Fatalf("CreateMessage error = %v, want ErrDiskFull", err)
	}
	if n, _ := s.MessageCount(ctx, sess.SessionID); n != 0 {
		t.Errorf("failed write was indexed: count %d", n)
	}
	if collector.Snapshot().LodeWriteFailure != 1 {
		t.Errorf("LodeWriteFailure = %d, want 1", collector.Snapshot().LodeWriteFailure)
	}

	flaky.failing.Store(false)
	if _, err := s.CreateMessage(ctx, sess.SessionID, types.RoleUser, "kept", nil); err != nil {
		t.Fatalf("CreateMessage after recovery failed: %v", err)
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		path, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/chat", "bucket", "chat"},
		{"bucket/a/b", "bucket", "a/b"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.path)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q", tt.path, b, p)
		}
	}
	if _, err := NewS3Factory(t.Context(), S3Config{}); err == nil {
		t.Error("expected error for missing bucket")
	}
}
