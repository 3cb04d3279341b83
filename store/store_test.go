package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/endlesschasey-ai/agent-template/store"
	"github.com/endlesschasey-ai/agent-template/store/storetest"
	"github.com/endlesschasey-ai/agent-template/types"
)

func TestMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMemory()
	})
}

// TestPostgres_Conformance runs against a live database when
// AGENT_TEMPLATE_TEST_POSTGRES_DSN is set.
func TestPostgres_Conformance(t *testing.T) {
	dsn := os.Getenv("AGENT_TEMPLATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AGENT_TEMPLATE_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pg, err := store.OpenPostgres(ctx, dsn)
		if err != nil {
			t.Fatalf("OpenPostgres failed: %v", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			t.Fatalf("Migrate failed: %v", err)
		}
		t.Cleanup(func() { _ = pg.Close() })
		return pg
	})
}

func TestOpenPostgres_RequiresDSN(t *testing.T) {
	if _, err := store.OpenPostgres(t.Context(), ""); err == nil {
		t.Error("expected error for empty dsn")
	}
}

func TestMemory_TxUnknownSessionFailsAtCommit(t *testing.T) {
	m := store.NewMemory()
	ctx := t.Context()
	tx, err := m.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := tx.CreateMessage(ctx, "ghost", types.RoleAssistant, "x", nil); err != nil {
		t.Fatalf("tx.CreateMessage failed: %v", err)
	}
	if err := tx.Commit(); err == nil {
		t.Error("Commit should fail for an unknown session")
	}
	if err := tx.Commit(); err != store.ErrTxDone {
		t.Errorf("second Commit = %v, want ErrTxDone", err)
	}
}

func TestMemory_InvalidRole(t *testing.T) {
	m := store.NewMemory()
	sess, _ := m.CreateSession(t.Context(), "x")
	if _, err := m.CreateMessage(t.Context(), sess.SessionID, types.Role("system"), "x", nil); err == nil {
		t.Error("expected invalid role error")
	}
}

func TestDecodeMetadata_Corrupt(t *testing.T) {
	if md := store.DecodeMetadata([]byte("{not json")); md != nil {
		t.Errorf("corrupt metadata decoded to %v", md)
	}
	b, err := store.EncodeMetadata(map[string]any{})
	if err != nil || b != nil {
		t.Errorf("empty metadata encoded to %q, %v", b, err)
	}
}
