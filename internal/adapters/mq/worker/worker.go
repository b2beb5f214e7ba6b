// Package worker drains rating updates off the ingest queues and
// applies them to the engine.
//
// Updates for the same (user, item) pair must apply in submission order
// to preserve last-write-wins semantics, so the pool shards by an FNV
// hash of the pair: each shard owns one queue and one worker goroutine,
// and a given pair always lands on the same shard. Across different
// pairs no ordering is guaranteed or needed.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/encore/internal/adapters/mq/queue"
	"github.com/okian/encore/pkg/logger"
	"github.com/okian/encore/pkg/metrics"
)

// Default pool configuration constants.
const (
	defaultShardCapacity = 10000
	poolShutdownTimeout  = 30 * time.Second
)

// Applier applies one resolved rating update to the engine's mutable
// state (interaction upsert plus one incremental gradient step).
type Applier interface {
	Apply(ctx context.Context, userID, itemID string, rating float64) error
}

// Option applies a configuration option to the Pool.
type Option func(*Pool)

// WithShardCapacity bounds each shard queue.
func WithShardCapacity(capacity int) Option {
	return func(p *Pool) {
		if capacity > 0 {
			p.shardCapacity = capacity
		}
	}
}

// WithLogger sets a custom logger for the pool.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pool is a fixed set of single-goroutine shards.
type Pool struct {
	shards        []*queue.InMemoryQueue
	done          []chan struct{}
	applier       Applier
	shardCapacity int
	logger        logger.Logger
}

// NewPool creates a pool with shardCount shards. A non-positive count
// defaults to the CPU count.
func NewPool(shardCount int, applier Applier, opts ...Option) *Pool {
	if shardCount < 1 {
		shardCount = runtime.NumCPU()
	}
	p := &Pool{
		shards:        make([]*queue.InMemoryQueue, shardCount),
		done:          make([]chan struct{}, shardCount),
		applier:       applier,
		shardCapacity: defaultShardCapacity,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Nop()
	}
	for i := range p.shards {
		p.shards[i] = queue.NewInMemoryQueue(queue.WithCapacity(p.shardCapacity))
		p.done[i] = make(chan struct{})
	}
	metrics.UpdateWorkerCount(shardCount)
	return p
}

// Start launches one goroutine per shard.
func (p *Pool) Start(ctx context.Context) {
	for i := range p.shards {
		go p.run(ctx, i)
	}
}

// Submit routes an update to its shard. Returns false when the shard
// queue is full or closed.
func (p *Pool) Submit(ctx context.Context, u queue.Update) bool {
	return p.shards[p.shardFor(u.UserID, u.ItemID)].Enqueue(ctx, u)
}

// Pending returns the total number of queued updates across shards.
func (p *Pool) Pending(ctx context.Context) int {
	total := 0
	for _, s := range p.shards {
		total += s.Len(ctx)
	}
	return total
}

// Stop closes all shards and waits for their workers to drain, up to
// the shutdown timeout.
func (p *Pool) Stop() {
	for _, s := range p.shards {
		_ = s.Close()
	}
	deadline := time.After(poolShutdownTimeout)
	for _, d := range p.done {
		select {
		case <-d:
		case <-deadline:
			p.logger.Warn(context.Background(), "ingest pool shutdown timed out")
			return
		}
	}
}

func (p *Pool) run(ctx context.Context, shard int) {
	defer close(p.done[shard])
	name := "shard-" + strconv.Itoa(shard)

	for u := range p.shards[shard].Dequeue(ctx) {
		start := time.Now()
		err := p.applier.Apply(ctx, u.UserID, u.ItemID, u.Rating)
		metrics.RecordUpdateLatency(float64(time.Since(start).Milliseconds()))
		if err != nil {
			metrics.RecordWorkerError()
			p.logger.Error(ctx, "applying update failed",
				logger.String("worker", name),
				logger.String("eventID", u.EventID),
				logger.String("user", u.UserID),
				logger.String("item", u.ItemID),
				logger.Error(err),
			)
			continue
		}
		metrics.RecordUpdateApplied()
	}
}

// shardFor hashes user|item so a pair is always handled by the same
// shard.
func (p *Pool) shardFor(userID, itemID string) int {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s|%s", userID, itemID)
	return int(h.Sum32() % uint32(len(p.shards)))
}
