// Package queue defines the contract for enqueuing and consuming
// resolved rating updates on their way to the engine's incremental
// update path.
//
// Implementations may use channels or more advanced structures; the
// in-memory bounded queue is the default. Events are validated and
// resolved to ratings before they reach the queue, so everything
// dequeued here is applicable as-is.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/encore/pkg/metrics"
)

// Default queue capacity.
const defaultCapacity = 10000

// Update is one resolved rating mutation flowing through the queue.
type Update struct {
	EventID string    // uuid assigned at ingest, for log correlation
	UserID  string    // external user identifier
	ItemID  string    // external song identifier
	Type    string    // originating event type, already validated
	Rating  float64   // resolved target rating in [0,1]
	TS      time.Time // ingest timestamp
}

// Queue provides non-blocking enqueue and channel-based dequeue.
type Queue interface {
	// Enqueue adds an update. Returns false when the queue is full or
	// closed and the update was not enqueued.
	Enqueue(ctx context.Context, u Update) bool

	// Dequeue returns a channel receiving updates as they become
	// available. The channel closes when the queue closes.
	Dequeue(ctx context.Context) <-chan Update

	// Len returns the current number of queued updates.
	Len(ctx context.Context) int

	// Close shuts the queue down; no further enqueues succeed and the
	// dequeue channel drains then closes.
	Close() error

	// IsClosed reports whether Close has run.
	IsClosed() bool
}

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity bounds the queue.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// InMemoryQueue implements Queue over a buffered channel.
type InMemoryQueue struct {
	updates  chan Update
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a bounded in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.updates = make(chan Update, q.capacity)
	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds an update without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, u Update) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		return false
	}

	select {
	case q.updates <- u:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.updates))
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		return false
	default:
		// Queue full.
		metrics.RecordQueueEnqueueError()
		return false
	}
}

// Dequeue returns a channel receiving updates until the queue closes.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Update {
	out := make(chan Update)
	go func() {
		defer close(out)
		for u := range q.updates {
			select {
			case out <- u:
				metrics.RecordQueueDequeue()
				metrics.UpdateQueueSize(len(q.updates))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued updates.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return len(q.updates)
}

// Close shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.updates)
	q.closed = true
	return nil
}

// IsClosed reports whether Close has run.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
