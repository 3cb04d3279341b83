package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/endlesschasey-ai/agent-template/types"
)

// schema is applied by Postgres.Migrate. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id       TEXT PRIMARY KEY,
		title            VARCHAR(100) NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		last_activity_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		role       TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
		content    TEXT NOT NULL,
		metadata   JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS messages_session_created_idx ON messages (session_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS sessions_last_activity_idx ON sessions (last_activity_at DESC)`,
}

// pgForeignKeyViolation is the SQLSTATE for a foreign key violation.
const pgForeignKeyViolation = "23503"

// Postgres is a Store on PostgreSQL via lib/pq.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &Postgres{db: db, now: time.Now}, nil
}

// NewPostgres wraps an existing handle. The caller keeps ownership of the
// driver registration; Close closes db.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CreateSession implements Store.
func (p *Postgres) CreateSession(ctx context.Context, title string) (*types.Session, error) {
	if title == "" {
		title = types.DefaultSessionTitle
	}
	now := p.now().UTC()
	s := &types.Session{SessionID: NewID(), Title: title, CreatedAt: now, LastActivityAt: now}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, title, created_at, last_activity_at) VALUES ($1, $2, $3, $4)`,
		s.SessionID, s.Title, s.CreatedAt, s.LastActivityAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// GetSession implements Store.
func (p *Postgres) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	var s types.Session
	err := p.db.QueryRowContext(ctx,
		`SELECT session_id, title, created_at, last_activity_at FROM sessions WHERE session_id = $1`,
		sessionID).Scan(&s.SessionID, &s.Title, &s.CreatedAt, &s.LastActivityAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query session: %w", err)
	}
	return &s, nil
}

// ListSessions implements Store.
func (p *Postgres) ListSessions(ctx context.Context, limit int) ([]types.Session, error) {
	if limit <= 0 {
		limit = DefaultSessionListLimit
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT session_id, title, created_at, last_activity_at FROM sessions
		 ORDER BY last_activity_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []types.Session
	for rows.Next() {
		var s types.Session
		if err := rows.Scan(&s.SessionID, &s.Title, &s.CreatedAt, &s.LastActivityAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *Postgres) insertMessage(ctx context.Context, ex execer, sessionID string, role types.Role, content string, metadata map[string]any) (*types.Message, error) {
	if err := ValidateRole(role); err != nil {
		return nil, err
	}
	raw, err := EncodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	msg := &types.Message{
		MessageID: NewID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  DecodeMetadata(raw),
		CreatedAt: p.now().UTC(),
	}
	// JSONB accepts NULL for nil metadata.
	var mdArg any
	if raw != nil {
		mdArg = string(raw)
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, role, content, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.MessageID, msg.SessionID, string(msg.Role), msg.Content, mdArg, msg.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgForeignKeyViolation {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}
	_, err = ex.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = GREATEST(last_activity_at, $2) WHERE session_id = $1`,
		sessionID, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("update session activity: %w", err)
	}
	return msg, nil
}

// CreateMessage implements Store. The insert and the activity bump run in
// one transaction.
func (p *Postgres) CreateMessage(ctx context.Context, sessionID string, role types.Role, content string, metadata map[string]any) (*types.Message, error) {
	tx, err := p.Begin(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := tx.CreateMessage(ctx, sessionID, role, content, metadata)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetRecentMessages implements Store.
func (p *Postgres) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT message_id, session_id, role, content, metadata, created_at FROM (
			SELECT * FROM messages WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2
		 ) recent ORDER BY created_at ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var (
			m    types.Message
			role string
			md   []byte
		)
		if err := rows.Scan(&m.MessageID, &m.SessionID, &role, &m.Content, &md, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = types.Role(role)
		m.Metadata = DecodeMetadata(md)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MessageCount implements Store.
func (p *Postgres) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// Begin implements Store.
func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &postgresTx{p: p, tx: tx}, nil
}

// Close implements Store.
func (p *Postgres) Close() error {
	return p.db.Close()
}

type postgresTx struct {
	p  *Postgres
	tx *sql.Tx
}

func (t *postgresTx) CreateMessage(ctx context.Context, sessionID string, role types.Role, content string, metadata map[string]any) (*types.Message, error) {
	return t.p.insertMessage(ctx, t.tx, sessionID, role, content, metadata)
}

func (t *postgresTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrTxDone
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *postgresTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

var _ Store = (*Postgres)(nil)
