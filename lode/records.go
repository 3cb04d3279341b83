package lode

import (
	"time"

	"github.com/endlesschasey-ai/agent-template/types"
)

// Record kinds. record_kind is the first Hive partition key.
const (
	RecordKindSession = "session"
	RecordKindMessage = "message"
)

const timeFormat = time.RFC3339Nano

// DeriveDay computes the day partition for t: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// sessionRecord is the storage form of a session. A session is rewritten
// whenever its last activity moves; the newest version wins on replay.
func sessionRecord(s types.Session) map[string]any {
	return map[string]any{
		"record_kind":      RecordKindSession,
		"session_id":       s.SessionID,
		"title":            s.Title,
		"created_at":       s.CreatedAt.UTC().Format(timeFormat),
		"last_activity_at": s.LastActivityAt.UTC().Format(timeFormat),
		"day":              DeriveDay(s.LastActivityAt),
	}
}

func messageRecord(m types.Message) map[string]any {
	rec := map[string]any{
		"record_kind": RecordKindMessage,
		"message_id":  m.MessageID,
		"session_id":  m.SessionID,
		"role":        string(m.Role),
		"content":     m.Content,
		"created_at":  m.CreatedAt.UTC().Format(timeFormat),
		"day":         DeriveDay(m.CreatedAt),
	}
	if len(m.Metadata) > 0 {
		rec["metadata"] = m.Metadata
	}
	return rec
}

func sessionFromRecord(rec map[string]any) (types.Session, bool) {
	id := toString(rec["session_id"])
	if id == "" {
		return types.Session{}, false
	}
	return types.Session{
		SessionID:      id,
		Title:          toString(rec["title"]),
		CreatedAt:      toTime(rec["created_at"]),
		LastActivityAt: toTime(rec["last_activity_at"]),
	}, true
}

func messageFromRecord(rec map[string]any) (types.Message, bool) {
	id := toString(rec["message_id"])
	sessionID := toString(rec["session_id"])
	if id == "" || sessionID == "" {
		return types.Message{}, false
	}
	md, _ := rec["metadata"].(map[string]any)
	return types.Message{
		MessageID: id,
		SessionID: sessionID,
		Role:      types.Role(toString(rec["role"])),
		Content:   toString(rec["content"]),
		Metadata:  md,
		CreatedAt: toTime(rec["created_at"]),
	}, true
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toTime(v any) time.Time {
	t, err := time.Parse(timeFormat, toString(v))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
