package cmd

import (
	"strings"
	"testing"

	"github.com/endlesschasey-ai/agent-template/types"
)

func TestClientFlags_IncludesOutputAndServer(t *testing.T) {
	names := map[string]bool{}
	for _, f := range ClientFlags() {
		names[f.Names()[0]] = true
	}
	for _, want := range []string{"format", "no-color", "server"} {
		if !names[want] {
			t.Errorf("ClientFlags() missing --%s", want)
		}
	}
}

func TestClientFlags_FreshSlice(t *testing.T) {
	a := ClientFlags()
	b := append(ClientFlags(), NoColorFlag)
	if len(a) != 3 || len(b) != 4 {
		t.Fatalf("len(a)=%d len(b)=%d, want 3 and 4", len(a), len(b))
	}
}

func TestStatusExitCode(t *testing.T) {
	tests := []struct {
		status types.SessionStatus
		want   int
	}{
		{types.SessionStatusCompleted, exitSuccess},
		{types.SessionStatusError, exitStream},
		{types.SessionStatusCancelled, exitCancelled},
		{"", exitStream},
	}
	for _, tt := range tests {
		if got := statusExitCode(tt.status); got != tt.want {
			t.Errorf("statusExitCode(%q) = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestChatURL(t *testing.T) {
	c := newAPIClient("http://localhost:8000/")
	got := c.chatURL("s1", "hello world & more", []string{"f1", "f2"})
	want := "http://localhost:8000/api/chat?content=hello+world+%26+more&file_ids=f1%2Cf2&session_id=s1"
	if got != want {
		t.Errorf("chatURL() = %q, want %q", got, want)
	}
	if got := c.chatURL("s1", "hi", nil); strings.Contains(got, "file_ids") {
		t.Errorf("chatURL() without files = %q", got)
	}
}

func TestLimitQuery(t *testing.T) {
	if got := limitQuery(0); got != "" {
		t.Errorf("limitQuery(0) = %q", got)
	}
	if got := limitQuery(25); got != "?limit=25" {
		t.Errorf("limitQuery(25) = %q", got)
	}
}

func TestPreview(t *testing.T) {
	short := "你好"
	if got := preview(short); got != short {
		t.Errorf("preview(%q) = %q", short, got)
	}
	long := strings.Repeat("字", previewRunes+5)
	got := preview(long)
	if n := len([]rune(got)); n != previewRunes+1 {
		t.Errorf("preview() has %d runes, want %d", n, previewRunes+1)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("preview() = %q, want ellipsis", got)
	}
}

func TestAPIError(t *testing.T) {
	if got := (&apiError{Status: 404, Message: "session not found"}).Error(); got != "server returned 404: session not found" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&apiError{Status: 502}).Error(); got != "server returned 502" {
		t.Errorf("Error() = %q", got)
	}
}
