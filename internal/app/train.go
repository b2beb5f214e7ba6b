package app

import (
	"context"
	"encoding/gob"
	"os"
	"time"

	"github.com/okian/encore/internal/domain/hybrid"
	"github.com/okian/encore/internal/domain/interactions"
	"github.com/okian/encore/internal/domain/ncf"
	"github.com/okian/encore/pkg/logger"
	"github.com/okian/encore/pkg/metrics"
)

// RetrainStatus reports what a Retrain call did.
type RetrainStatus string

const (
	RetrainStarted           RetrainStatus = "started"
	RetrainAlreadyInProgress RetrainStatus = "already_in_progress"
	RetrainSkipped           RetrainStatus = "skipped"
	RetrainError             RetrainStatus = "error"
)

// TrainingStatus is a snapshot of the training state.
type TrainingStatus struct {
	InProgress    bool
	Trained       bool
	LastCompleted time.Time
	LastError     string
	History       *ncf.History
}

// Retrain starts a full retrain in the background. The candidate model
// trains on a snapshot of the interaction table while reads keep being
// served by the previous model; on success the candidate is swapped in
// under the write lock. Only one retrain runs at a time.
func (e *Engine) Retrain(ctx context.Context) RetrainStatus {
	if !e.training.CompareAndSwap(false, true) {
		return RetrainAlreadyInProgress
	}

	e.mu.RLock()
	triples := e.store.TrainingTriples()
	nUsers := e.idx.Users()
	nItems := e.idx.Items()
	e.mu.RUnlock()

	if len(triples) == 0 {
		e.training.Store(false)
		metrics.RecordTrainingRun("failed")
		e.logger.Warn(ctx, "retrain rejected: no interactions stored")
		return RetrainError
	}
	if len(triples) < e.minTrainRows {
		e.training.Store(false)
		metrics.RecordTrainingRun("skipped")
		e.logger.Info(ctx, "retrain skipped: not enough interactions",
			logger.Int("have", len(triples)),
			logger.Int("need", e.minTrainRows),
		)
		return RetrainSkipped
	}

	go e.runTraining(ctx, triples, nUsers, nItems)
	return RetrainStarted
}

func (e *Engine) runTraining(ctx context.Context, triples []interactions.Triple, nUsers, nItems int) {
	defer e.training.Store(false)

	start := time.Now()
	candidate := ncf.New(nUsers, nItems,
		ncf.WithEmbeddingDim(e.embeddingDim),
		ncf.WithHiddenLayers(e.hiddenLayers),
		ncf.WithDropout(e.dropout),
	)

	samples := make([]ncf.Sample, len(triples))
	for i, t := range triples {
		samples[i] = ncf.Sample{User: t.UserIdx, Item: t.ItemIdx, Rating: t.Rating}
	}

	hist, err := candidate.Train(samples, e.trainCfg)
	if err != nil {
		metrics.RecordTrainingRun("failed")
		e.mu.Lock()
		e.lastTrainErr = err.Error()
		e.mu.Unlock()
		e.logger.Error(ctx, "retrain failed, previous model keeps serving", logger.Error(err))
		return
	}

	e.mu.Lock()
	// Entities that arrived while training ran get fresh embedding rows.
	candidate.Resize(e.idx.Users(), e.idx.Items())
	e.latent = candidate
	e.scorer = hybrid.New(candidate, e.contentModel, e.cfWeight, e.cbWeight)
	e.trained = true
	e.lastTrainedAt = time.Now()
	e.lastHistory = hist
	e.lastTrainErr = ""
	e.mu.Unlock()

	outcome := "completed"
	if hist.EarlyStopped {
		outcome = "early_stopped"
	}
	metrics.RecordTrainingRun(outcome)
	metrics.RecordTrainingDuration(time.Since(start).Seconds())
	metrics.SetBestValidationLoss(hist.BestValLoss)
	metrics.SetLastTrainingUnix(float64(time.Now().Unix()))

	e.logger.Info(ctx, "retrain finished",
		logger.Int("samples", len(samples)),
		logger.Int("epochs", hist.EpochsCompleted),
		logger.Float64("bestValLoss", hist.BestValLoss),
		logger.Duration("took", time.Since(start)),
	)
}

// TrainingStatus reports whether a retrain is running plus the outcome
// of the last one.
func (e *Engine) TrainingStatus() TrainingStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return TrainingStatus{
		InProgress:    e.training.Load(),
		Trained:       e.trained,
		LastCompleted: e.lastTrainedAt,
		LastError:     e.lastTrainErr,
		History:       e.lastHistory,
	}
}

// artifact is the gob-encoded persistence format: entity mappings,
// the feature scaler, blend weights and the trained model, if any.
type artifact struct {
	Users []string
	Items []string

	ScalerColumns []string
	ScalerMean    []float64
	ScalerStd     []float64

	CFWeight float64
	CBWeight float64

	Model *ncf.State
}

// Save writes the engine state to path. The write goes through a temp
// file and a rename so a crash never leaves a half-written artifact.
func (e *Engine) Save(path string) error {
	e.mu.RLock()
	users, items := e.idx.Snapshot()
	cols, mean, std := e.feats.ScalerSnapshot()
	a := artifact{
		Users:         users,
		Items:         items,
		ScalerColumns: cols,
		ScalerMean:    mean,
		ScalerStd:     std,
		CFWeight:      e.cfWeight,
		CBWeight:      e.cbWeight,
	}
	if e.latent != nil {
		a.Model = e.latent.State()
	}
	e.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(&a); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load restores engine state from path. It returns false when the file
// is absent, unreadable or incompatible; the engine then keeps serving
// cold start and the caller decides whether to retrain. Catalog
// metadata and feature rows are not part of the artifact; LoadData
// supplies those.
func (e *Engine) Load(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	var a artifact
	if err := gob.NewDecoder(f).Decode(&a); err != nil {
		e.logger.Warn(context.Background(), "discarding unreadable model artifact",
			logger.String("path", path),
			logger.Error(err),
		)
		return false
	}

	var restored *ncf.Model
	if a.Model != nil {
		restored, err = ncf.FromState(a.Model)
		if err != nil {
			e.logger.Warn(context.Background(), "discarding incompatible model artifact",
				logger.String("path", path),
				logger.Error(err),
			)
			return false
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.idx.Restore(a.Users, a.Items)
	e.feats.RestoreScaler(a.ScalerColumns, a.ScalerMean, a.ScalerStd)
	if a.CFWeight+a.CBWeight > 0 {
		e.cfWeight = a.CFWeight
		e.cbWeight = a.CBWeight
	}
	if restored != nil {
		restored.Resize(e.idx.Users(), e.idx.Items())
		e.latent = restored
		e.scorer = hybrid.New(restored, e.contentModel, e.cfWeight, e.cbWeight)
		e.trained = true
	}
	return true
}
