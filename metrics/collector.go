// Package metrics provides process-wide stream metrics collection.
//
// The Collector accumulates counters across all streams served by one
// process. It is a leaf package with no internal dependencies; event kinds
// are passed as plain strings.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Stream lifecycle
	StreamsStarted     int64 `json:"streams_started"`
	StreamsCompleted   int64 `json:"streams_completed"`
	StreamsErrored     int64 `json:"streams_errored"`
	StreamsCancelled   int64 `json:"streams_cancelled"`
	ValidationFailures int64 `json:"validation_failures"`
	ActiveStreams      int64 `json:"active_streams"`

	// Merge loop
	EventsEmitted        int64            `json:"events_emitted"`
	EventsByType         map[string]int64 `json:"events_by_type"`
	NotificationsSkipped int64            `json:"notifications_skipped"`
	IdleTicks            int64            `json:"idle_ticks"`

	// Generation
	GeneratorStartFailure int64 `json:"generator_start_failure"`
	GeneratorFailure      int64 `json:"generator_failure"`
	IPCDecodeErrors       int64 `json:"ipc_decode_errors"`

	// Storage
	PersistSuccess   int64 `json:"persist_success"`
	PersistFailure   int64 `json:"persist_failure"`
	LodeWriteSuccess int64 `json:"lode_write_success"`
	LodeWriteFailure int64 `json:"lode_write_failure"`

	// Adapter
	AdapterPublishSuccess int64 `json:"adapter_publish_success"`
	AdapterPublishFailure int64 `json:"adapter_publish_failure"`

	// Dimensions (informational, set at construction)
	Generator      string `json:"generator"`
	StorageBackend string `json:"storage_backend"`
	Adapter        string `json:"adapter,omitempty"`
}

// Collector accumulates metrics across streams.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	streamsStarted     int64
	streamsCompleted   int64
	streamsErrored     int64
	streamsCancelled   int64
	validationFailures int64
	active             int64

	eventsEmitted        int64
	eventsByType         map[string]int64
	notificationsSkipped int64
	idleTicks            int64

	generatorStartFailure int64
	generatorFailure      int64
	ipcDecodeErrors       int64

	persistSuccess   int64
	persistFailure   int64
	lodeWriteSuccess int64
	lodeWriteFailure int64

	adapterPublishSuccess int64
	adapterPublishFailure int64

	generator      string
	storageBackend string
	adapter        string
}

// NewCollector creates a Collector with dimension labels.
// adapter may be empty when no completion adapter is configured.
func NewCollector(generator, storageBackend, adapter string) *Collector {
	return &Collector{
		eventsByType:   make(map[string]int64),
		generator:      generator,
		storageBackend: storageBackend,
		adapter:        adapter,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Stream lifecycle ---

// IncStreamStarted records a stream entering STREAMING.
func (c *Collector) IncStreamStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamsStarted++
	c.active++
	c.mu.Unlock()
}

// IncStreamCompleted records a completed stream.
func (c *Collector) IncStreamCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamsCompleted++
	c.active--
	c.mu.Unlock()
}

// IncStreamErrored records a stream that ended with session_end(error)
// after it had started.
func (c *Collector) IncStreamErrored() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamsErrored++
	c.active--
	c.mu.Unlock()
}

// IncStreamCancelled records a stream cut short by the client.
func (c *Collector) IncStreamCancelled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamsCancelled++
	c.active--
	c.mu.Unlock()
}

// IncValidationFailure records a request rejected before streaming.
func (c *Collector) IncValidationFailure() {
	if c == nil {
		return
	}
	c.inc(&c.validationFailures)
}

// --- Merge loop ---

// IncEventEmitted records one event written to a client.
func (c *Collector) IncEventEmitted(eventType string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsEmitted++
	c.eventsByType[eventType]++
	c.mu.Unlock()
}

// IncNotificationSkipped records a notification dropped after a
// translation failure.
func (c *Collector) IncNotificationSkipped() {
	if c == nil {
		return
	}
	c.inc(&c.notificationsSkipped)
}

// IncIdleTick records a notification await that timed out.
func (c *Collector) IncIdleTick() {
	if c == nil {
		return
	}
	c.inc(&c.idleTicks)
}

// --- Generation ---

// IncGeneratorStartFailure records a generator that failed to start.
func (c *Collector) IncGeneratorStartFailure() {
	if c == nil {
		return
	}
	c.inc(&c.generatorStartFailure)
}

// IncGeneratorFailure records a fragment stream failing mid-stream.
func (c *Collector) IncGeneratorFailure() {
	if c == nil {
		return
	}
	c.inc(&c.generatorFailure)
}

// IncIPCDecodeErrors records a generator subprocess frame decode error.
func (c *Collector) IncIPCDecodeErrors() {
	if c == nil {
		return
	}
	c.inc(&c.ipcDecodeErrors)
}

// --- Storage ---

// IncPersistSuccess records a committed assistant message.
func (c *Collector) IncPersistSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.persistSuccess)
}

// IncPersistFailure records a failed or rolled back persistence attempt.
func (c *Collector) IncPersistFailure() {
	if c == nil {
		return
	}
	c.inc(&c.persistFailure)
}

// IncLodeWriteSuccess records a snapshot written by the lode store.
func (c *Collector) IncLodeWriteSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.lodeWriteSuccess)
}

// IncLodeWriteFailure records a failed lode snapshot write.
func (c *Collector) IncLodeWriteFailure() {
	if c == nil {
		return
	}
	c.inc(&c.lodeWriteFailure)
}

// --- Adapter ---

// IncAdapterPublishSuccess records a delivered completion notification.
func (c *Collector) IncAdapterPublishSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.adapterPublishSuccess)
}

// IncAdapterPublishFailure records a completion notification that exhausted retries.
func (c *Collector) IncAdapterPublishFailure() {
	if c == nil {
		return
	}
	c.inc(&c.adapterPublishFailure)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{EventsByType: map[string]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byType := make(map[string]int64, len(c.eventsByType))
	for k, v := range c.eventsByType {
		byType[k] = v
	}

	return Snapshot{
		StreamsStarted:     c.streamsStarted,
		StreamsCompleted:   c.streamsCompleted,
		StreamsErrored:     c.streamsErrored,
		StreamsCancelled:   c.streamsCancelled,
		ValidationFailures: c.validationFailures,
		ActiveStreams:      c.active,

		EventsEmitted:        c.eventsEmitted,
		EventsByType:         byType,
		NotificationsSkipped: c.notificationsSkipped,
		IdleTicks:            c.idleTicks,

		GeneratorStartFailure: c.generatorStartFailure,
		GeneratorFailure:      c.generatorFailure,
		IPCDecodeErrors:       c.ipcDecodeErrors,

		PersistSuccess:   c.persistSuccess,
		PersistFailure:   c.persistFailure,
		LodeWriteSuccess: c.lodeWriteSuccess,
		LodeWriteFailure: c.lodeWriteFailure,

		AdapterPublishSuccess: c.adapterPublishSuccess,
		AdapterPublishFailure: c.adapterPublishFailure,

		Generator:      c.generator,
		StorageBackend: c.storageBackend,
		Adapter:        c.adapter,
	}
}
