package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("scripted", "memory", "redis")

	c.IncStreamStarted()
	c.IncStreamStarted()
	c.IncStreamStarted()
	c.IncStreamCompleted()
	c.IncStreamErrored()
	c.IncValidationFailure()
	c.IncEventEmitted("content")
	c.IncEventEmitted("content")
	c.IncEventEmitted("session_end")
	c.IncNotificationSkipped()
	c.IncIdleTick()
	c.IncIdleTick()
	c.IncGeneratorStartFailure()
	c.IncGeneratorFailure()
	c.IncIPCDecodeErrors()
	c.IncPersistSuccess()
	c.IncPersistFailure()
	c.IncPersistFailure()
	c.IncLodeWriteSuccess()
	c.IncLodeWriteFailure()
	c.IncAdapterPublishSuccess()
	c.IncAdapterPublishFailure()

	s := c.Snapshot()

	if s.StreamsStarted != 3 {
		t.Errorf("StreamsStarted = %d, want 3", s.StreamsStarted)
	}
	if s.StreamsCompleted != 1 {
		t.Errorf("StreamsCompleted = %d, want 1", s.StreamsCompleted)
	}
	if s.StreamsErrored != 1 {
		t.Errorf("StreamsErrored = %d, want 1", s.StreamsErrored)
	}
	if s.ActiveStreams != 1 {
		t.Errorf("ActiveStreams = %d, want 1", s.ActiveStreams)
	}
	if s.ValidationFailures != 1 {
		t.Errorf("ValidationFailures = %d, want 1", s.ValidationFailures)
	}
	if s.EventsEmitted != 3 {
		t.Errorf("EventsEmitted = %d, want 3", s.EventsEmitted)
	}
	if s.EventsByType["content"] != 2 || s.EventsByType["session_end"] != 1 {
		t.Errorf("EventsByType = %v", s.EventsByType)
	}
	if s.NotificationsSkipped != 1 {
		t.Errorf("NotificationsSkipped = %d, want 1", s.NotificationsSkipped)
	}
	if s.IdleTicks != 2 {
		t.Errorf("IdleTicks = %d, want 2", s.IdleTicks)
	}
	if s.GeneratorStartFailure != 1 || s.GeneratorFailure != 1 || s.IPCDecodeErrors != 1 {
		t.Errorf("generator counters = %d/%d/%d", s.GeneratorStartFailure, s.GeneratorFailure, s.IPCDecodeErrors)
	}
	if s.PersistSuccess != 1 || s.PersistFailure != 2 {
		t.Errorf("persist counters = %d/%d", s.PersistSuccess, s.PersistFailure)
	}
	if s.LodeWriteSuccess != 1 || s.LodeWriteFailure != 1 {
		t.Errorf("lode counters = %d/%d", s.LodeWriteSuccess, s.LodeWriteFailure)
	}
	if s.AdapterPublishSuccess != 1 || s.AdapterPublishFailure != 1 {
		t.Errorf("adapter counters = %d/%d", s.AdapterPublishSuccess, s.AdapterPublishFailure)
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("openai", "postgres", "")
	s := c.Snapshot()

	if s.Generator != "openai" {
		t.Errorf("Generator = %q, want %q", s.Generator, "openai")
	}
	if s.StorageBackend != "postgres" {
		t.Errorf("StorageBackend = %q, want %q", s.StorageBackend, "postgres")
	}
	if s.Adapter != "" {
		t.Errorf("Adapter = %q, want empty", s.Adapter)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncStreamStarted()
	c.IncStreamCompleted()
	c.IncEventEmitted("content")
	c.IncIdleTick()
	c.IncPersistFailure()

	s := c.Snapshot()
	if s.StreamsStarted != 0 || s.EventsByType == nil {
		t.Errorf("nil snapshot = %+v", s)
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector("scripted", "memory", "")
	c.IncEventEmitted("data")

	s := c.Snapshot()
	s.EventsByType["data"] = 99

	if got := c.Snapshot().EventsByType["data"]; got != 1 {
		t.Errorf("snapshot mutation leaked into collector: %d", got)
	}
}

func TestCollector_ConcurrentSafety(t *testing.T) {
	c := NewCollector("scripted", "memory", "")
	var wg sync.WaitGroup
	const goroutines = 50

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncStreamStarted()
			c.IncEventEmitted("content")
			c.IncStreamCompleted()
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.StreamsStarted != goroutines || s.StreamsCompleted != goroutines {
		t.Errorf("started/completed = %d/%d, want %d", s.StreamsStarted, s.StreamsCompleted, goroutines)
	}
	if s.ActiveStreams != 0 {
		t.Errorf("ActiveStreams = %d, want 0", s.ActiveStreams)
	}
	if s.EventsEmitted != goroutines {
		t.Errorf("EventsEmitted = %d, want %d", s.EventsEmitted, goroutines)
	}
}
