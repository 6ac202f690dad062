// Package worker orchestrates one bounded drift evaluation cycle per
// invocation. The worker has no internal scheduler; an external trigger
// (or the runner loop in cmd/worker) decides when cycles happen.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/modelguard/drift-engine/internal/alerting"
	"github.com/modelguard/drift-engine/internal/baseline"
	"github.com/modelguard/drift-engine/internal/config"
	"github.com/modelguard/drift-engine/internal/drift"
	"github.com/modelguard/drift-engine/internal/metrics"
	"github.com/modelguard/drift-engine/internal/models"
	"github.com/modelguard/drift-engine/internal/notification"
	"github.com/modelguard/drift-engine/internal/storage"
)

// Mode selects the window shape of a cycle.
type Mode string

const (
	// ModeStreaming processes a short window with a small sample cap so
	// each invocation stays cheap and predictable.
	ModeStreaming Mode = "streaming"
	// ModeBatch processes a long window with a larger cap for
	// comprehensive analysis, and also runs retention pruning.
	ModeBatch Mode = "batch"
)

// CycleStatus is the outcome of one invocation.
type CycleStatus string

const (
	CycleCompleted CycleStatus = "completed"
	CycleSkipped   CycleStatus = "skipped"
	CycleFailed    CycleStatus = "failed"
)

// CycleResult reports what one invocation did.
type CycleResult struct {
	ModelID     string
	Mode        Mode
	Status      CycleStatus
	Reason      string
	SampleCount int
	Snapshot    *models.DriftSnapshot
	Alerts      []*models.Alert
	Duration    time.Duration
}

// Worker runs drift evaluation cycles.
type Worker struct {
	cfg        *config.WorkerConfig
	retention  *config.RetentionConfig
	thresholds drift.Thresholds
	baselines  *baseline.Store
	stores     *storage.Stores
	alerts     *alerting.Manager
	exporter   *metrics.Exporter
	dispatcher *notification.Dispatcher
	locker     Locker
	logger     *zap.Logger
}

// New creates a worker. dispatcher may be nil when no side channels are
// configured.
func New(
	cfg *config.WorkerConfig,
	retention *config.RetentionConfig,
	thresholds drift.Thresholds,
	baselines *baseline.Store,
	stores *storage.Stores,
	alerts *alerting.Manager,
	exporter *metrics.Exporter,
	dispatcher *notification.Dispatcher,
	locker Locker,
	logger *zap.Logger,
) *Worker {
	if locker == nil {
		locker = NewProcessLocker()
	}
	return &Worker{
		cfg:        cfg,
		retention:  retention,
		thresholds: thresholds,
		baselines:  baselines,
		stores:     stores,
		alerts:     alerts,
		exporter:   exporter,
		dispatcher: dispatcher,
		locker:     locker,
		logger:     logger,
	}
}

// RunCycle executes one evaluation cycle for a model. All computation
// happens before any write; the snapshot is the last record persisted so
// a timeout never leaves a half-written window behind.
func (w *Worker) RunCycle(ctx context.Context, modelID string, mode Mode) (*CycleResult, error) {
	started := time.Now()
	result := &CycleResult{ModelID: modelID, Mode: mode}
	defer func() {
		result.Duration = time.Since(started)
		if w.exporter != nil {
			w.exporter.ObserveCycle(modelID, string(mode), string(result.Status), result.Duration)
		}
	}()

	release, acquired, err := w.locker.TryLock(ctx, modelID)
	if err != nil {
		result.Status = CycleFailed
		result.Reason = "lock error"
		return result, err
	}
	if !acquired {
		result.Status = CycleSkipped
		result.Reason = "cycle already running for model"
		return result, nil
	}
	defer release()

	if w.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.CycleTimeout)
		defer cancel()
	}

	windowEnd := time.Now().UTC()
	window, maxSamples := w.bounds(mode)
	windowStart := windowEnd.Add(-window)

	var records []*models.EvaluationRecord
	err = w.retryTransient(ctx, func() error {
		var ferr error
		records, ferr = w.stores.Evaluations.FetchWindow(ctx, modelID, windowStart, windowEnd, maxSamples)
		return ferr
	})
	if err != nil {
		result.Status = CycleFailed
		result.Reason = "evaluation fetch failed"
		return result, fmt.Errorf("failed to fetch evaluation window for %s: %w", modelID, err)
	}
	result.SampleCount = len(records)

	if len(records) < w.cfg.MinSamples {
		// Too little data to say anything; skipping keeps the cycle
		// side-effect free and safely rerunnable.
		result.Status = CycleSkipped
		result.Reason = fmt.Sprintf("sample count %d below minimum %d", len(records), w.cfg.MinSamples)
		w.logger.Info("Drift cycle skipped",
			zap.String("model_id", modelID),
			zap.String("mode", string(mode)),
			zap.Int("samples", len(records)))
		return result, nil
	}

	base, err := w.baselines.Get(ctx, modelID)
	if err != nil {
		result.Status = CycleFailed
		if errors.Is(err, models.ErrBaselineNotFound) {
			result.Reason = "no baseline for model"
			w.logger.Warn("Drift cycle failed: no baseline",
				zap.String("model_id", modelID))
		} else {
			result.Reason = "baseline load failed"
		}
		return result, err
	}

	snapshot := Compute(w.thresholds, base, records, windowStart, windowEnd, w.baselines.PositiveThreshold())

	alerts, err := w.alerts.Evaluate(ctx, snapshot)
	if err != nil {
		result.Status = CycleFailed
		result.Reason = "alert evaluation failed"
		return result, fmt.Errorf("failed to evaluate alerts for %s: %w", modelID, err)
	}
	result.Alerts = alerts

	needsRetraining, err := w.alerts.ShouldTriggerRetrain(ctx, modelID, windowEnd)
	if err != nil {
		w.logger.Error("Retrain check failed",
			zap.String("model_id", modelID),
			zap.Error(err))
	}
	snapshot.NeedsRetraining = needsRetraining

	err = w.retryTransient(ctx, func() error {
		return w.stores.Snapshots.Create(ctx, snapshot)
	})
	if err != nil {
		result.Status = CycleFailed
		result.Reason = "snapshot persist failed"
		return result, fmt.Errorf("failed to persist snapshot for %s: %w", modelID, err)
	}
	result.Snapshot = snapshot

	if w.exporter != nil {
		openCounts, cerr := w.stores.Alerts.CountOpen(ctx, modelID)
		if cerr != nil {
			w.logger.Warn("Open alert count unavailable", zap.Error(cerr))
			openCounts = map[models.Severity]int64{}
		}
		w.exporter.ObserveSnapshot(snapshot, openCounts, windowEnd.Sub(base.CreatedAt))
	}

	if w.dispatcher != nil {
		for _, alert := range alerts {
			w.dispatcher.Publish(notification.EventFromAlert(alert))
		}
	}

	if mode == ModeBatch {
		w.prune(ctx, windowEnd)
	}

	result.Status = CycleCompleted
	w.logger.Info("Drift cycle completed",
		zap.String("model_id", modelID),
		zap.String("mode", string(mode)),
		zap.Int("samples", len(records)),
		zap.String("overall_status", string(snapshot.OverallStatus)),
		zap.Int("alerts", len(alerts)))
	return result, nil
}

// RunAll runs one cycle for every model with a baseline. A failing model
// does not stop the sweep; the first error is reported after all models
// ran.
func (w *Worker) RunAll(ctx context.Context, mode Mode) ([]*CycleResult, error) {
	modelIDs, err := w.stores.Baselines.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	var results []*CycleResult
	var firstErr error
	for _, modelID := range modelIDs {
		result, rerr := w.RunCycle(ctx, modelID, mode)
		results = append(results, result)
		if rerr != nil && firstErr == nil {
			firstErr = rerr
		}
	}
	return results, firstErr
}

func (w *Worker) bounds(mode Mode) (time.Duration, int) {
	if mode == ModeBatch {
		return w.cfg.BatchWindow, w.cfg.BatchMaxSamples
	}
	return w.cfg.StreamingWindow, w.cfg.StreamingMaxSamples
}

// retryTransient retries fn on transient store errors with linear
// backoff; other errors fail immediately.
func (w *Worker) retryTransient(ctx context.Context, fn func() error) error {
	var err error
	attempts := w.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !models.IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}
	return err
}

func (w *Worker) prune(ctx context.Context, now time.Time) {
	if w.retention == nil {
		return
	}
	if w.retention.Snapshots > 0 {
		if n, err := w.stores.Snapshots.DeleteOlderThan(ctx, now.Add(-w.retention.Snapshots)); err != nil {
			w.logger.Warn("Snapshot retention sweep failed", zap.Error(err))
		} else if n > 0 {
			w.logger.Info("Pruned snapshots", zap.Int64("count", n))
		}
	}
	if w.retention.Alerts > 0 {
		if n, err := w.stores.Alerts.DeleteOlderThan(ctx, now.Add(-w.retention.Alerts)); err != nil {
			w.logger.Warn("Alert retention sweep failed", zap.Error(err))
		} else if n > 0 {
			w.logger.Info("Pruned alerts", zap.Int64("count", n))
		}
	}
}
