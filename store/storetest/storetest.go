// Package storetest is a conformance suite shared by every store.Store backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/endlesschasey-ai/agent-template/store"
	"github.com/endlesschasey-ai/agent-template/types"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	t.Run("CreateAndGetSession", func(t *testing.T) { testCreateAndGetSession(t, newStore(t)) })
	t.Run("GetUnknownSession", func(t *testing.T) { testGetUnknownSession(t, newStore(t)) })
	t.Run("MessagesOrderedAndLimited", func(t *testing.T) { testMessagesOrderedAndLimited(t, newStore(t)) })
	t.Run("MessageUnknownSession", func(t *testing.T) { testMessageUnknownSession(t, newStore(t)) })
	t.Run("MetadataRoundTrip", func(t *testing.T) { testMetadataRoundTrip(t, newStore(t)) })
	t.Run("TxCommit", func(t *testing.T) { testTxCommit(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
	t.Run("ListByActivity", func(t *testing.T) { testListByActivity(t, newStore(t)) })
}

func mustSession(t *testing.T, s store.Store, title string) *types.Session {
	t.Helper()
	sess, err := s.CreateSession(t.Context(), title)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return sess
}

func testCreateAndGetSession(t *testing.T, s store.Store) {
	ctx := t.Context()
	sess := mustSession(t, s, "")
	if sess.Title != types.DefaultSessionTitle {
		t.Errorf("Title = %q, want default %q", sess.Title, types.DefaultSessionTitle)
	}

	got, err := s.GetSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil || got.SessionID != sess.SessionID {
		t.Fatalf("GetSession = %+v, want %s", got, sess.SessionID)
	}
}

func testGetUnknownSession(t *testing.T, s store.Store) {
	got, err := s.GetSession(t.Context(), "does-not-exist")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Errorf("GetSession = %+v, want nil", got)
	}
}

func testMessagesOrderedAndLimited(t *testing.T, s store.Store) {
	ctx := t.Context()
	sess := mustSession(t, s, "history")
	for i := range 5 {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		if _, err := s.CreateMessage(ctx, sess.SessionID, role, string(rune('a'+i)), nil); err != nil {
			t.Fatalf("CreateMessage %d failed: %v", i, err)
		}
		// Distinct creation instants keep ordering deterministic.
		time.Sleep(2 * time.Millisecond)
	}

	msgs, err := s.GetRecentMessages(ctx, sess.SessionID, 3)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	var got string
	for _, m := range msgs {
		got += m.Content
	}
	if got != "cde" {
		t.Errorf("recent messages = %q, want %q (most recent, oldest first)", got, "cde")
	}

	n, err := s.MessageCount(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("MessageCount failed: %v", err)
	}
	if n != 5 {
		t.Errorf("MessageCount = %d, want 5", n)
	}
}

func testMessageUnknownSession(t *testing.T, s store.Store) {
	_, err := s.CreateMessage(t.Context(), "missing", types.RoleUser, "hi", nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("CreateMessage on unknown session = %v, want ErrNotFound", err)
	}
}

func testMetadataRoundTrip(t *testing.T, s store.Store) {
	ctx := t.Context()
	sess := mustSession(t, s, "md")
	md := map[string]any{
		"tool_calls": []types.ToolCallMeta{{ToolID: "tool_1", ToolName: "display_table", Description: "展示表格: t"}},
	}
	if _, err := s.CreateMessage(ctx, sess.SessionID, types.RoleAssistant, "ok", md); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	msgs, err := s.GetRecentMessages(ctx, sess.SessionID, 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("GetRecentMessages = %d msgs, err %v", len(msgs), err)
	}
	calls, ok := msgs[0].Metadata["tool_calls"].([]any)
	if !ok || len(calls) != 1 {
		t.Fatalf("tool_calls = %#v", msgs[0].Metadata["tool_calls"])
	}
	call := calls[0].(map[string]any)
	if call["tool_name"] != "display_table" || call["description"] != "展示表格: t" {
		t.Errorf("tool call = %v", call)
	}
}

func testTxCommit(t *testing.T, s store.Store) {
	ctx := t.Context()
	sess := mustSession(t, s, "tx")
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := tx.CreateMessage(ctx, sess.SessionID, types.RoleAssistant, "answer", nil); err != nil {
		t.Fatalf("tx.CreateMessage failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if n, _ := s.MessageCount(ctx, sess.SessionID); n != 1 {
		t.Errorf("MessageCount after commit = %d, want 1", n)
	}
}

func testTxRollback(t *testing.T, s store.Store) {
	ctx := t.Context()
	sess := mustSession(t, s, "rollback")
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := tx.CreateMessage(ctx, sess.SessionID, types.RoleAssistant, "discarded", nil); err != nil {
		t.Fatalf("tx.CreateMessage failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if n, _ := s.MessageCount(ctx, sess.SessionID); n != 0 {
		t.Errorf("MessageCount after rollback = %d, want 0", n)
	}
}

func testListByActivity(t *testing.T, s store.Store) {
	ctx := context.Background()
	older := mustSession(t, s, "older")
	time.Sleep(2 * time.Millisecond)
	newer := mustSession(t, s, "newer")
	time.Sleep(2 * time.Millisecond)

	// A message on the older session makes it the most recently active.
	if _, err := s.CreateMessage(ctx, older.SessionID, types.RoleUser, "bump", nil); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	list, err := s.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(list) < 2 {
		t.Fatalf("ListSessions returned %d sessions", len(list))
	}
	if list[0].SessionID != older.SessionID || list[1].SessionID != newer.SessionID {
		t.Errorf("order = [%s %s], want [older newer]", list[0].Title, list[1].Title)
	}

	one, err := s.ListSessions(ctx, 1)
	if err != nil || len(one) != 1 {
		t.Errorf("ListSessions(1) = %d sessions, err %v", len(one), err)
	}
}
