// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults, Load(ctx) to layer file/env.
// - External errors must be wrapped via this package's error helpers.
package config

import "time"

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address for the metrics endpoint.
	Addr string `koanf:"addr"`

	// InteractionsPath and CatalogPath point at the JSON dataset files
	// loaded at startup. Empty means start with an empty engine.
	InteractionsPath string `koanf:"interactions_path"`
	CatalogPath      string `koanf:"catalog_path"`

	// ModelPath is where engine state is persisted. Empty disables
	// save/load on startup and shutdown.
	ModelPath string `koanf:"model_path"`

	// MinInteractions is the interaction count below which a user is
	// served cold-start recommendations instead of hybrid ones.
	MinInteractions int `koanf:"min_interactions"`

	// MinTrainingInteractions gates full retraining: with fewer stored
	// interactions a retrain request is skipped.
	MinTrainingInteractions int `koanf:"min_training_interactions"`

	// CFWeight and CBWeight blend collaborative and content-based
	// scores. They are normalized to sum to 1 at engine construction.
	CFWeight float64 `koanf:"cf_weight"`
	CBWeight float64 `koanf:"cb_weight"`

	// MaxRecommendLimit caps the number of items a single
	// recommendation or similar-items request may return.
	MaxRecommendLimit int `koanf:"max_recommend_limit"`

	// EmbeddingDim sets the width of the latent factor tables.
	EmbeddingDim int `koanf:"embedding_dim"`

	// Dropout is the keep-inverse dropout rate between hidden layers.
	Dropout float64 `koanf:"dropout"`

	// Training hyperparameters for full retrains.
	LearningRate    float64 `koanf:"learning_rate"`
	WeightDecay     float64 `koanf:"weight_decay"`
	BatchSize       int     `koanf:"batch_size"`
	MaxEpochs       int     `koanf:"max_epochs"`
	Patience        int     `koanf:"patience"`
	ValidationSplit float64 `koanf:"validation_split"`

	// ShardCount sets the number of update shards; events for the same
	// user/item pair always land on the same shard.
	ShardCount int `koanf:"shard_count"`

	// ShardQueueSize bounds each shard's pending update queue.
	ShardQueueSize int `koanf:"shard_queue_size"`

	// RetrainInterval triggers periodic background retraining when
	// positive. Zero disables the ticker.
	RetrainInterval time.Duration `koanf:"retrain_interval"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		Addr:                    ":9080",
		MinInteractions:         3,
		MinTrainingInteractions: 10,
		CFWeight:                0.7,
		CBWeight:                0.3,
		MaxRecommendLimit:       100,
		EmbeddingDim:            32,
		Dropout:                 0.2,
		LearningRate:            0.001,
		WeightDecay:             1e-5,
		BatchSize:               256,
		MaxEpochs:               10,
		Patience:                3,
		ValidationSplit:         0.1,
		ShardCount:              8,
		ShardQueueSize:          10_000,
		RetrainInterval:         0,
	}
}
