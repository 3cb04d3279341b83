package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/endlesschasey-ai/agent-template/ipc"
	"github.com/endlesschasey-ai/agent-template/metrics"
	"github.com/endlesschasey-ai/agent-template/types"
)

// The test binary doubles as the generator process: when
// AGENT_TEST_GENERATOR is set, TestMain behaves like a generator in the
// requested mode instead of running tests.
func TestMain(m *testing.M) {
	if mode := os.Getenv("AGENT_TEST_GENERATOR"); mode != "" {
		os.Exit(runTestGenerator(mode))
	}
	os.Exit(m.Run())
}

func runTestGenerator(mode string) int {
	var in ipc.Input
	if err := json.NewDecoder(os.Stdin).Decode(&in); err != nil {
		fmt.Fprintf(os.Stderr, "bad input: %v\n", err)
		return 2
	}
	enc := ipc.NewFrameEncoder(os.Stdout)
	switch mode {
	case "echo":
		_ = enc.WriteFragment("echo: ")
		_ = enc.WriteNotification(types.ToolStartNotification(types.ToolCallStartPayload{
			ToolID: "tool_1", ToolName: "display_table",
		}))
		_ = enc.WriteFragment(in.Input)
		_ = enc.WriteFragment(fmt.Sprintf(" (%d prior, %s)", len(in.History), os.Getenv("AGENT_REQUEST_ID")))
		_ = enc.WriteNotification(types.DoneNotification())
	case "garbage":
		_, _ = os.Stdout.Write([]byte{0, 0, 0, 3, 0xc1, 0xc1, 0xc1})
		_ = enc.WriteFragment("after garbage")
	case "error":
		_ = enc.WriteFragment("partial")
		_ = enc.WriteError("model quota exceeded")
		return 1
	case "crash":
		_ = enc.WriteFragment("partial")
		fmt.Fprintln(os.Stderr, "segfault in tokenizer")
		return 3
	case "hang":
		_ = enc.WriteFragment("first")
		time.Sleep(time.Minute)
	}
	return 0
}

type sliceSink struct {
	mu    sync.Mutex
	notes []types.Notification
}

func (s *sliceSink) Push(n types.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
}

func startTestGenerator(t *testing.T, mode string, collector *metrics.Collector) (Stream, *sliceSink) {
	t.Helper()
	gen, err := NewExec(ExecConfig{
		Path:      os.Args[0],
		Env:       []string{"AGENT_TEST_GENERATOR=" + mode},
		Collector: collector,
	})
	if err != nil {
		t.Fatalf("NewExec: %v", err)
	}
	sink := &sliceSink{}
	stream, err := gen.Start(t.Context(), Request{
		SessionID: "sess-1",
		RequestID: "req_abc",
		Input:     "hello",
		History:   []types.Message{{Role: types.RoleUser, Content: "earlier"}},
	}, sink)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = stream.Close() })
	return stream, sink
}

func collect(t *testing.T, s Stream) (string, error) {
	t.Helper()
	var b strings.Builder
	for {
		f, err := s.Next(t.Context())
		if err != nil {
			if errors.Is(err, io.EOF) {
				return b.String(), nil
			}
			return b.String(), err
		}
		b.WriteString(f.Text)
	}
}

func TestExec_StreamsFragmentsAndNotifications(t *testing.T) {
	stream, sink := startTestGenerator(t, "echo", nil)

	text, err := collect(t, stream)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if text != "echo: hello (1 prior, req_abc)" {
		t.Errorf("text = %q", text)
	}
	if len(sink.notes) != 1 || sink.notes[0].Kind != types.NotificationToolCallStart {
		t.Errorf("notifications = %+v (done frames must not be forwarded)", sink.notes)
	}
	// Exhausted streams keep returning EOF.
	if _, err := stream.Next(t.Context()); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after exhaustion, got %v", err)
	}
}

func TestExec_SkipsUndecodableFrames(t *testing.T) {
	c := metrics.NewCollector("exec", "memory", "")
	stream, _ := startTestGenerator(t, "garbage", c)

	text, err := collect(t, stream)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if text != "after garbage" {
		t.Errorf("text = %q", text)
	}
	if c.Snapshot().IPCDecodeErrors != 1 {
		t.Errorf("ipc decode errors = %d", c.Snapshot().IPCDecodeErrors)
	}
}

func TestExec_ErrorFrameFails(t *testing.T) {
	stream, _ := startTestGenerator(t, "error", nil)

	text, err := collect(t, stream)
	if err == nil || !strings.Contains(err.Error(), "model quota exceeded") {
		t.Fatalf("expected generator failure, got %v", err)
	}
	if text != "partial" {
		t.Errorf("text before failure = %q", text)
	}
}

func TestExec_NonZeroExitFails(t *testing.T) {
	stream, _ := startTestGenerator(t, "crash", nil)

	_, err := collect(t, stream)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "code 3") || !strings.Contains(err.Error(), "segfault") {
		t.Errorf("error should carry exit code and stderr: %v", err)
	}
}

func TestExec_CloseKillsRunningProcess(t *testing.T) {
	stream, _ := startTestGenerator(t, "hang", nil)

	f, err := stream.Next(t.Context())
	if err != nil || f.Text != "first" {
		t.Fatalf("first fragment = %q, %v", f.Text, err)
	}

	done := make(chan struct{})
	go func() {
		_ = stream.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestExec_StartFailsForMissingBinary(t *testing.T) {
	gen, err := NewExec(ExecConfig{Path: "/nonexistent/agent-generator"})
	if err != nil {
		t.Fatalf("NewExec: %v", err)
	}
	if _, err := gen.Start(context.Background(), Request{}, &sliceSink{}); err == nil {
		t.Fatal("expected start error")
	}
}

func TestNewExec_RequiresPath(t *testing.T) {
	if _, err := NewExec(ExecConfig{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDeduplicateEnv_LastWins(t *testing.T) {
	got := deduplicateEnv([]string{"A=1", "B=2", "A=3"})
	if len(got) != 2 || got[0] != "B=2" || got[1] != "A=3" {
		t.Errorf("got %v", got)
	}
}
