package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_StreamContext(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "debug", Output: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	l.WithStream("req_1", "sess_1").Info("hello", map[string]any{"k": "v"})

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	entry := lines[0]
	if entry["message"] != "hello" || entry["level"] != "info" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req_1" || entry["session_id"] != "sess_1" {
		t.Errorf("missing stream context: %v", entry)
	}
	fields, _ := entry["fields"].(map[string]any)
	if fields["k"] != "v" {
		t.Errorf("fields = %v", fields)
	}
}

func TestLogger_SetLevelPropagates(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "info", Output: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	child := l.With("merge")

	child.Debug("hidden", nil)
	if buf.Len() != 0 {
		t.Fatalf("debug entry written at info level: %s", buf.String())
	}

	if err := l.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	child.Debug("visible", nil)
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["component"] != "merge" {
		t.Errorf("unexpected lines: %v", lines)
	}
	if l.Level() != "debug" {
		t.Errorf("Level() = %q", l.Level())
	}
}

func TestParseLevel_Invalid(t *testing.T) {
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("New should reject invalid level")
	}
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	l.Info("ignored", nil)
	l.WithStream("a", "b").Error("ignored", nil)
	l.Sugar().Infof("ignored %d", 1)
	if err := l.SetLevel("debug"); err != nil {
		t.Errorf("nil SetLevel: %v", err)
	}
}
