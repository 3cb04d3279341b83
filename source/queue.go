package source

import (
	"context"
	"sync"
	"time"

	"github.com/endlesschasey-ai/agent-template/types"
)

// Queue is an unbounded FIFO of notifications.
// Any number of goroutines may Push; exactly one goroutine consumes.
type Queue struct {
	mu    sync.Mutex
	items []types.Notification
	// ready holds a token while items is non-empty.
	ready chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends n. It never blocks.
func (q *Queue) Push(n types.Notification) {
	q.mu.Lock()
	q.items = append(q.items, n)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready returns a channel that receives when the queue may be non-empty.
// Wakeups can be spurious; follow with TryPop.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// TryPop removes the oldest item without blocking.
func (q *Queue) TryPop() (types.Notification, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return types.Notification{}, false
	}
	n := q.items[0]
	q.items[0] = types.Notification{}
	q.items = q.items[1:]
	more := len(q.items) > 0
	q.mu.Unlock()
	if more {
		q.signal()
	}
	return n, true
}

// Len returns the number of buffered items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every buffered item.
func (q *Queue) Drain() []types.Notification {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	select {
	case <-q.ready:
	default:
	}
	return items
}

// Await waits up to timeout for the next item.
// The Done sentinel is reported as UnitExhausted; a timeout or a cancelled
// context is reported as UnitTimedOut.
func (q *Queue) Await(ctx context.Context, timeout time.Duration) Unit {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if n, ok := q.TryPop(); ok {
			return Classify(n)
		}
		select {
		case <-q.ready:
		case <-timer.C:
			return Unit{Kind: UnitTimedOut}
		case <-ctx.Done():
			return Unit{Kind: UnitTimedOut, Err: ctx.Err()}
		}
	}
}

// Classify wraps a popped notification in a Unit.
func Classify(n types.Notification) Unit {
	if n.IsDone() {
		return Unit{Kind: UnitExhausted, Notification: n}
	}
	return Unit{Kind: UnitProduced, Notification: n}
}

var _ Sink = (*Queue)(nil)
