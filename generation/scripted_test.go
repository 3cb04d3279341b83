package generation

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/endlesschasey-ai/agent-template/types"
)

func TestScripted_ReplaysSteps(t *testing.T) {
	note := types.ContentNotification(types.ContentPayload{Content: "aside"})
	gen := NewScripted(Fixed(
		Step{Fragment: "a"},
		Step{Notify: &note},
		Step{Fragment: "b"},
	))
	sink := &sliceSink{}
	stream, err := gen.Start(t.Context(), Request{Input: "x"}, sink)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stream.Close()

	text, err := collect(t, stream)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if text != "ab" {
		t.Errorf("text = %q", text)
	}
	if len(sink.notes) != 1 || sink.notes[0].Content.Content != "aside" {
		t.Errorf("notifications = %+v", sink.notes)
	}
}

func TestScripted_ErrorStep(t *testing.T) {
	boom := errors.New("boom")
	gen := NewScripted(Fixed(Step{Fragment: "a"}, Step{Err: boom}))
	stream, _ := gen.Start(t.Context(), Request{}, &sliceSink{})

	if _, err := collect(t, stream); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestScripted_DelayHonorsContext(t *testing.T) {
	gen := NewScripted(Fixed(Step{Delay: time.Minute, Fragment: "late"}))
	stream, _ := gen.Start(t.Context(), Request{}, &sliceSink{})

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	if _, err := stream.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestScripted_CloseStopsReplay(t *testing.T) {
	gen := NewScripted(Fixed(Step{Fragment: "a"}, Step{Fragment: "b"}))
	stream, _ := gen.Start(t.Context(), Request{}, &sliceSink{})
	_ = stream.Close()

	if _, err := stream.Next(t.Context()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after close, got %v", err)
	}
}

func TestEchoScript_TableRequest(t *testing.T) {
	gen := NewScripted(EchoScript(0))
	sink := &sliceSink{}
	stream, _ := gen.Start(t.Context(), Request{Input: "show a table"}, sink)

	text, err := collect(t, stream)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if text != "You said: show a table" {
		t.Errorf("text = %q", text)
	}
	var kinds []types.NotificationKind
	for _, n := range sink.notes {
		kinds = append(kinds, n.Kind)
	}
	want := []types.NotificationKind{types.NotificationToolCallStart, types.NotificationData, types.NotificationToolCallEnd}
	if len(kinds) != len(want) {
		t.Fatalf("notification kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kind %d = %s, want %s", i, kinds[i], want[i])
		}
	}
	rows := sink.notes[1].Data.Data["rows"].([][]any)
	if len(rows) != 3 {
		t.Errorf("rows = %v", rows)
	}
}

func TestRegistry_New(t *testing.T) {
	r := Registry{"scripted": func() (Generator, error) { return NewScripted(EchoScript(0)), nil }}
	g, err := r.New("scripted")
	if err != nil || g.Name() != "scripted" {
		t.Fatalf("New = %v, %v", g, err)
	}
	if _, err := r.New("missing"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
