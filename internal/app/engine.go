// Package app wires the domain components into the recommendation
// engine facade consumed by cmd and tests.
//
// Concurrency model: one RWMutex guards the entity index, the
// interaction store, the feature store, the catalog table and the model
// parameters as a single unit. Reads (recommendations, similarity,
// profiles) take the read lock and run concurrently; every mutation
// (event apply, bulk load, retrain swap, state restore) takes the write
// lock. The domain packages themselves are not locked.
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/encore/internal/adapters/mq/queue"
	workerpool "github.com/okian/encore/internal/adapters/mq/worker"
	"github.com/okian/encore/internal/domain/coldstart"
	"github.com/okian/encore/internal/domain/content"
	"github.com/okian/encore/internal/domain/events"
	"github.com/okian/encore/internal/domain/features"
	"github.com/okian/encore/internal/domain/hybrid"
	"github.com/okian/encore/internal/domain/index"
	"github.com/okian/encore/internal/domain/interactions"
	"github.com/okian/encore/internal/domain/model"
	"github.com/okian/encore/internal/domain/ncf"
	"github.com/okian/encore/pkg/logger"
	"github.com/okian/encore/pkg/metrics"
)

// InteractionSource supplies interaction rows for bulk loading.
type InteractionSource interface {
	Interactions(ctx context.Context) ([]model.Interaction, error)
}

// CatalogSource supplies item features and metadata for bulk loading.
type CatalogSource interface {
	Catalog(ctx context.Context) ([]model.CatalogEntry, error)
}

// Engine is the hybrid recommendation engine.
type Engine struct {
	mu sync.RWMutex

	// Core components, guarded by mu.
	idx          *index.Index
	store        *interactions.Store
	feats        *features.Store
	contentModel *content.Model
	latent       *ncf.Model
	scorer       *hybrid.Scorer
	fallback     *coldstart.Recommender
	catalog      map[int]model.ItemMeta

	// Ingest pipeline
	pool *workerpool.Pool

	// Configuration
	minInteractions int
	minTrainRows    int
	cfWeight        float64
	cbWeight        float64
	maxLimit        int
	embeddingDim    int
	hiddenLayers    []int
	dropout         float64
	trainCfg        ncf.TrainConfig
	shardCount      int
	shardCapacity   int

	// Training state
	training      atomic.Bool
	trained       bool
	lastTrainedAt time.Time
	lastHistory   *ncf.History
	lastTrainErr  string

	// State
	started bool
	stopCh  chan struct{}

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithMinInteractions sets the interaction count below which a user is
// served cold-start recommendations.
func WithMinInteractions(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.minInteractions = n
		}
	}
}

// WithMinTrainingRows sets the stored-row count required before a full
// retrain runs.
func WithMinTrainingRows(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minTrainRows = n
		}
	}
}

// WithWeights sets the collaborative/content blend weights.
func WithWeights(cf, cb float64) Option {
	return func(e *Engine) {
		if cf >= 0 && cb >= 0 && cf+cb > 0 {
			e.cfWeight = cf
			e.cbWeight = cb
		}
	}
}

// WithMaxLimit caps per-request result sizes.
func WithMaxLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxLimit = n
		}
	}
}

// WithEmbeddingDim sets the latent factor width.
func WithEmbeddingDim(dim int) Option {
	return func(e *Engine) {
		if dim > 0 {
			e.embeddingDim = dim
		}
	}
}

// WithHiddenLayers sets the interaction tower layout.
func WithHiddenLayers(layers []int) Option {
	return func(e *Engine) {
		if len(layers) > 0 {
			e.hiddenLayers = layers
		}
	}
}

// WithDropout sets the dropout rate used during training.
func WithDropout(p float64) Option {
	return func(e *Engine) {
		if p >= 0 && p < 1 {
			e.dropout = p
		}
	}
}

// WithTrainConfig sets the full-retrain hyperparameters.
func WithTrainConfig(cfg ncf.TrainConfig) Option {
	return func(e *Engine) {
		e.trainCfg = cfg
	}
}

// WithShardCount sets the number of update shards.
func WithShardCount(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.shardCount = n
		}
	}
}

// WithShardCapacity bounds each shard queue.
func WithShardCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.shardCapacity = n
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New constructs an Engine with default configuration. The engine
// serves cold-start recommendations until Load or a retrain succeeds.
func New(opts ...Option) *Engine {
	e := &Engine{
		minInteractions: 3,
		minTrainRows:    10,
		cfWeight:        hybrid.DefaultCFWeight,
		cbWeight:        hybrid.DefaultCBWeight,
		maxLimit:        100,
		embeddingDim:    32,
		dropout:         0.2,
		shardCount:      8,
		shardCapacity:   10_000,
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Nop()
	}

	e.idx = index.New()
	e.store = interactions.New(e.idx)
	e.feats = features.New(e.idx)
	e.contentModel = content.New()
	e.catalog = make(map[int]model.ItemMeta)
	e.fallback = coldstart.New(&catalogTable{e: e}, e.store)

	return e
}

// Start brings up the ingest pipeline.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}

	e.pool = workerpool.NewPool(e.shardCount, e,
		workerpool.WithShardCapacity(e.shardCapacity),
		workerpool.WithLogger(e.logger.Named("worker")),
	)
	e.pool.Start(ctx)

	e.started = true
	e.logger.Info(ctx, "engine started",
		logger.Int("shards", e.shardCount),
		logger.Int("shardCapacity", e.shardCapacity),
		logger.Int("minInteractions", e.minInteractions),
	)
	return nil
}

// Stop drains and shuts down the ingest pipeline. The pool must be
// stopped outside the engine lock: draining workers flush their pending
// updates through Apply, which takes the write lock itself.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	pool := e.pool
	e.started = false
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	e.mu.Unlock()

	if pool != nil {
		pool.Stop()
	}
	e.logger.Info(context.Background(), "engine stopped")
}

// RecordEvent validates and enqueues one interaction event. Unknown
// event types are rejected here, synchronously, so the pipeline only
// ever carries resolved ratings. Per-(user,item) ordering is preserved
// downstream by the sharded workers.
func (e *Engine) RecordEvent(ctx context.Context, ev model.Event) error {
	if !e.isStarted() {
		return ErrNotStarted
	}
	if ev.UserID == "" || ev.ItemID == "" {
		metrics.RecordEventRejected()
		return fmt.Errorf("%w: user_id and item_id are required", ErrInvalidEvent)
	}

	rating, err := events.Rating(ev.Type)
	if err != nil {
		metrics.RecordEventRejected()
		e.logger.Warn(ctx, "rejecting event",
			logger.String("type", ev.Type),
			logger.String("userID", ev.UserID),
			logger.Error(err),
		)
		return err
	}

	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	ts := ev.TS
	if ts.IsZero() {
		ts = time.Now()
	}

	ok := e.pool.Submit(ctx, queue.Update{
		EventID: ev.EventID,
		UserID:  ev.UserID,
		ItemID:  ev.ItemID,
		Type:    ev.Type,
		Rating:  rating,
		TS:      ts,
	})
	if !ok {
		return fmt.Errorf("%w: event %s dropped", ErrQueueFull, ev.EventID)
	}
	metrics.RecordEventAccepted()
	return nil
}

// Apply performs one incremental update: it stores the resolved rating
// and, when a trained model exists, grows the embedding tables for any
// new entities and takes one small gradient step. Called by the worker
// pool; the whole mutation is one write-lock critical section.
func (e *Engine) Apply(_ context.Context, userID, itemID string, rating float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	userIdx, itemIdx, err := e.store.Upsert(userID, itemID, rating)
	if err != nil {
		return err
	}

	if e.latent != nil {
		e.latent.Resize(e.idx.Users(), e.idx.Items())
		e.latent.UpdateOne(userIdx, itemIdx, rating)
	}

	metrics.UpdateStoreSizes(e.idx.Users(), e.idx.Items(), e.store.Count())
	return nil
}

// UpdateItemFeatures standardizes and stores new raw features for one
// item using the already-fitted scaler, then rebuilds the content
// similarity matrix. Unknown feature columns are rejected with
// features.ErrDimensionMismatch.
func (e *Engine) UpdateItemFeatures(_ context.Context, itemID string, raw map[string]float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.feats.Update(itemID, raw); err != nil {
		return err
	}
	e.contentModel.Rebuild(e.feats.Matrix())
	return nil
}

// LoadData bulk-loads a catalog and an interaction table, fits the
// feature scaler and builds the content similarity matrix. Either
// source may be nil to skip that half.
func (e *Engine) LoadData(ctx context.Context, isrc InteractionSource, csrc CatalogSource) error {
	var rows []model.Interaction
	var entries []model.CatalogEntry
	var err error

	if isrc != nil {
		if rows, err = isrc.Interactions(ctx); err != nil {
			return fmt.Errorf("load interactions: %w", err)
		}
	}
	if csrc != nil {
		if entries, err = csrc.Catalog(ctx); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Catalog first so item indices are assigned in catalog order.
	byItem := make(map[string]map[string]float64, len(entries))
	for _, en := range entries {
		itemIdx := e.idx.ItemIndex(en.ItemID)
		e.catalog[itemIdx] = en.Meta
		if len(en.Features) > 0 {
			byItem[en.ItemID] = en.Features
		}
	}
	if len(rows) > 0 {
		e.store.LoadBulk(rows)
	}
	if len(byItem) > 0 {
		e.feats.Load(byItem)
		e.contentModel.Rebuild(e.feats.Matrix())
	}
	if e.latent != nil {
		e.latent.Resize(e.idx.Users(), e.idx.Items())
	}

	metrics.UpdateStoreSizes(e.idx.Users(), e.idx.Items(), e.store.Count())
	e.logger.Info(ctx, "data loaded",
		logger.Int("users", e.idx.Users()),
		logger.Int("items", e.idx.Items()),
		logger.Int("interactions", e.store.Count()),
	)
	return nil
}

// Stats returns engine counters for monitoring.
func (e *Engine) Stats(ctx context.Context) map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := map[string]interface{}{
		"started":      e.started,
		"trained":      e.trained,
		"training":     e.training.Load(),
		"users":        e.idx.Users(),
		"items":        e.idx.Items(),
		"interactions": e.store.Count(),
	}
	if e.started {
		stats["pendingUpdates"] = e.pool.Pending(ctx)
	}
	metrics.UpdateStoreSizes(e.idx.Users(), e.idx.Items(), e.store.Count())
	return stats
}

func (e *Engine) isStarted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started
}

// catalogTable adapts the engine's metadata map to the cold-start
// catalog view. Calls happen while the engine lock is already held.
type catalogTable struct {
	e *Engine
}

func (c *catalogTable) Meta(itemIdx int) (model.ItemMeta, bool) {
	m, ok := c.e.catalog[itemIdx]
	return m, ok
}

func (c *catalogTable) Items() int {
	return c.e.idx.Items()
}
