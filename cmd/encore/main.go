package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/encore/internal/adapters/dataset"
	"github.com/okian/encore/internal/app"
	"github.com/okian/encore/internal/config"
	"github.com/okian/encore/internal/domain/ncf"
	"github.com/okian/encore/pkg/logger"
	"github.com/okian/encore/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout         = 10 * time.Second
	writeTimeout        = 10 * time.Second
	idleTimeout         = 60 * time.Second
	readHeaderTimeout   = 5 * time.Second
	shutdownTimeout     = 30 * time.Second
	statsUpdateInterval = 10 * time.Second
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	engine := app.New(
		app.WithLogger(log),
		app.WithMinInteractions(cfg.MinInteractions),
		app.WithMinTrainingRows(cfg.MinTrainingInteractions),
		app.WithWeights(cfg.CFWeight, cfg.CBWeight),
		app.WithMaxLimit(cfg.MaxRecommendLimit),
		app.WithEmbeddingDim(cfg.EmbeddingDim),
		app.WithDropout(cfg.Dropout),
		app.WithTrainConfig(trainConfig(cfg)),
		app.WithShardCount(cfg.ShardCount),
		app.WithShardCapacity(cfg.ShardQueueSize),
	)

	// Restore a previous model artifact when one exists; a missing or
	// incompatible file just means starting cold.
	if cfg.ModelPath != "" {
		if engine.Load(cfg.ModelPath) {
			log.Info(ctx, "restored model artifact", logger.String("path", cfg.ModelPath))
		} else {
			log.Info(ctx, "no usable model artifact, starting cold", logger.String("path", cfg.ModelPath))
		}
	}

	if err := loadDatasets(ctx, engine, cfg); err != nil {
		os.Stderr.WriteString("failed to load datasets: " + err.Error() + "\n")
		return
	}

	if err := engine.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start engine: " + err.Error() + "\n")
		return
	}
	defer engine.Stop()

	// Train once at startup when nothing was restored.
	if !engine.TrainingStatus().Trained {
		status := engine.Retrain(ctx)
		log.Info(ctx, "startup training", logger.String("status", string(status)))
	}

	go startStatsUpdater(ctx, engine)
	if cfg.RetrainInterval > 0 {
		go startRetrainTicker(ctx, engine, cfg.RetrainInterval, log)
	}

	// Metrics endpoint only; the engine has no request API surface here.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting metrics server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("metrics server failed: " + err.Error() + "\n")
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "metrics server shutdown failed", logger.Error(err))
	}

	// Drain pending updates before snapshotting so the artifact sees
	// every accepted event.
	engine.Stop()
	if cfg.ModelPath != "" {
		if err := engine.Save(cfg.ModelPath); err != nil {
			log.Error(ctx, "failed to save model artifact", logger.Error(err))
		} else {
			log.Info(ctx, "saved model artifact", logger.String("path", cfg.ModelPath))
		}
	}

	log.Info(ctx, "stopped")
}

func trainConfig(cfg *config.Config) ncf.TrainConfig {
	return ncf.TrainConfig{
		ValidationSplit: cfg.ValidationSplit,
		MaxEpochs:       cfg.MaxEpochs,
		BatchSize:       cfg.BatchSize,
		LearningRate:    cfg.LearningRate,
		WeightDecay:     cfg.WeightDecay,
		Patience:        cfg.Patience,
	}
}

func loadDatasets(ctx context.Context, engine *app.Engine, cfg *config.Config) error {
	var isrc app.InteractionSource
	var csrc app.CatalogSource
	if cfg.InteractionsPath != "" {
		isrc = dataset.NewInteractionsFile(cfg.InteractionsPath)
	}
	if cfg.CatalogPath != "" {
		csrc = dataset.NewCatalogFile(cfg.CatalogPath)
	}
	if isrc == nil && csrc == nil {
		return nil
	}
	return engine.LoadData(ctx, isrc, csrc)
}

// startStatsUpdater refreshes the store gauges periodically.
func startStatsUpdater(ctx context.Context, engine *app.Engine) {
	ticker := time.NewTicker(statsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = engine.Stats(ctx)
		}
	}
}

// startRetrainTicker periodically kicks off a full retrain. The engine
// itself owns no timer; scheduling lives here.
func startRetrainTicker(ctx context.Context, engine *app.Engine, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := engine.Retrain(ctx)
			log.Info(ctx, "scheduled retrain", logger.String("status", string(status)))
		}
	}
}
