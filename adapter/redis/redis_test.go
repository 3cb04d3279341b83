package redis

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/endlesschasey-ai/agent-template/adapter"
)

func completedEvent() *adapter.StreamCompletedEvent {
	return &adapter.StreamCompletedEvent{
		EventType:     adapter.EventTypeStreamCompleted,
		SessionID:     "sess-1",
		RequestID:     "req_0123456789ab",
		Status:        "completed",
		Generator:     "scripted",
		ToolCalls:     1,
		DataBlocks:    1,
		ContentLength: 5,
		EventCount:    8,
		DurationMs:    120,
		Timestamp:     "2026-10-19T12:00:00Z",
	}
}

// receiveOne reads one message in the background. Must be called before
// Publish; miniredis delivers pub/sub messages synchronously.
func receiveOne(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func await(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return miniredis.PubsubMessage{}
	}
}

func TestPublish_DeliversJSON(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	if a.Channel() != DefaultChannel {
		t.Errorf("channel = %q, want default %q", a.Channel(), DefaultChannel)
	}

	sub := mr.NewSubscriber()
	sub.Subscribe(DefaultChannel)
	ch := receiveOne(sub)

	if err := a.Publish(t.Context(), completedEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := await(t, ch)
	var got adapter.StreamCompletedEvent
	if err := json.Unmarshal([]byte(msg.Message), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RequestID != "req_0123456789ab" || got.Status != "completed" || got.EventCount != 8 {
		t.Errorf("received %+v", got)
	}
}

func TestPublish_CustomChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr(), Channel: "chat:done"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe("chat:done")
	ch := receiveOne(sub)

	if err := a.Publish(t.Context(), completedEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if msg := await(t, ch); msg.Channel != "chat:done" {
		t.Errorf("channel = %q", msg.Channel)
	}
}

func TestPublish_ExhaustsRetries(t *testing.T) {
	var retried int
	a, err := New(Config{
		URL:     "redis://127.0.0.1:1",
		Timeout: 100 * time.Millisecond,
		Retry: adapter.RetryPolicy{
			Retries: 2,
			Initial: time.Millisecond,
			OnRetry: func(error, time.Duration) { retried++ },
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	err = a.Publish(t.Context(), completedEvent())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "3 attempt(s)") {
		t.Errorf("error %q should report 3 attempts", err)
	}
	if retried != 2 {
		t.Errorf("retried %d times, want 2", retried)
	}
}

func TestPublish_RecoversAfterOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	restarted := make(chan struct{})
	a, err := New(Config{
		URL:     "redis://" + addr,
		Timeout: 200 * time.Millisecond,
		Retry: adapter.RetryPolicy{
			Retries: 5,
			Initial: 10 * time.Millisecond,
			Max:     50 * time.Millisecond,
			OnRetry: func(error, time.Duration) {
				select {
				case <-restarted:
				default:
					if err := mr.Restart(); err != nil {
						t.Errorf("restart: %v", err)
					}
					close(restarted)
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Publish(t.Context(), completedEvent()); err != nil {
		t.Fatalf("publish should succeed once redis is back: %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	cases := map[string]Config{
		"empty url":        {},
		"invalid url":      {URL: "not-a-redis-url"},
		"negative retries": {URL: "redis://localhost:6379", Retry: adapter.RetryPolicy{Retries: -1}},
		"initial over max": {URL: "redis://localhost:6379", Retry: adapter.RetryPolicy{Initial: time.Minute, Max: time.Second}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestClose_PublishFailsWithoutRetry(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{
		URL: "redis://" + mr.Addr(),
		Retry: adapter.RetryPolicy{
			Retries: 3,
			OnRetry: func(err error, _ time.Duration) { t.Errorf("closed client retried: %v", err) },
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Publish(t.Context(), completedEvent()); err == nil {
		t.Fatal("expected error after close")
	}
}
