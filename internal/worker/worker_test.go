package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelguard/drift-engine/internal/alerting"
	"github.com/modelguard/drift-engine/internal/baseline"
	"github.com/modelguard/drift-engine/internal/config"
	"github.com/modelguard/drift-engine/internal/drift"
	"github.com/modelguard/drift-engine/internal/metrics"
	"github.com/modelguard/drift-engine/internal/models"
	"github.com/modelguard/drift-engine/internal/storage"
)

type fixture struct {
	worker    *Worker
	stores    *storage.Stores
	baselines *baseline.Store
	source    *storage.MemoryEvaluationSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stores := storage.NewMemoryStores()
	logger := zap.NewNop()
	thresholds := drift.DefaultThresholds()

	baselineCfg := &config.BaselineConfig{HistogramBins: 10, PositiveThreshold: 0.5, MinSamples: 10}
	baselines := baseline.NewStore(baselineCfg, stores.Baselines, logger)

	alertCfg := &config.AlertingConfig{
		DedupWindow:          24 * time.Hour,
		RetrainCriticalCount: 2,
		RetrainLookback:      24 * time.Hour,
	}
	alerts := alerting.NewManager(alertCfg, thresholds, stores.Alerts, stores.Retrains, logger)

	workerCfg := &config.WorkerConfig{
		StreamingWindow:     5 * time.Minute,
		StreamingMaxSamples: 1000,
		BatchWindow:         24 * time.Hour,
		BatchMaxSamples:     10000,
		MinSamples:          30,
		CycleTimeout:        2 * time.Minute,
		MaxRetries:          3,
		RetryBackoff:        time.Millisecond,
	}
	retention := &config.RetentionConfig{Snapshots: time.Hour, Alerts: time.Hour}

	exporter := metrics.NewExporter(prometheus.NewRegistry())
	w := New(workerCfg, retention, thresholds, baselines, stores, alerts, exporter, nil, nil, logger)

	return &fixture{
		worker:    w,
		stores:    stores,
		baselines: baselines,
		source:    stores.Evaluations.(*storage.MemoryEvaluationSource),
	}
}

// sample builds one scored request. shift moves the amount feature far
// outside the reference range; skew pins the score to its top bin.
func sample(modelID string, i int, ts time.Time, shift, skew bool) *models.EvaluationRecord {
	amount := float64(i%50) * 10.0
	if shift {
		amount = 5000 + float64(i)
	}
	score := float64(i%100) / 100.0
	if skew {
		score = 0.99
	}
	group := "a"
	if i%3 == 0 {
		group = "b"
	}
	return &models.EvaluationRecord{
		ModelID: modelID,
		Features: map[string]interface{}{
			"amount":  amount,
			"country": fmt.Sprintf("C%d", i%4),
		},
		Score:               score,
		ProtectedAttributes: map[string]string{"segment": group},
		Timestamp:           ts,
	}
}

func (f *fixture) seedBaseline(t *testing.T, modelID string) {
	t.Helper()
	samples := make([]*models.EvaluationRecord, 0, 200)
	for i := 0; i < 200; i++ {
		samples = append(samples, sample(modelID, i, time.Now().UTC().Add(-48*time.Hour), false, false))
	}
	_, err := f.baselines.CreateOrReplace(context.Background(), baseline.CreateOrReplaceParams{
		ModelID:             modelID,
		Samples:             samples,
		FeatureNames:        []string{"amount", "country"},
		ProtectedAttributes: []string{"segment"},
	})
	require.NoError(t, err)
}

func (f *fixture) seedWindow(modelID string, n int, shift, skew bool) {
	ts := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < n; i++ {
		f.source.Add(sample(modelID, i, ts, shift, skew))
	}
}

func TestRunCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Undersized Window Skips Without Side Effects", func(t *testing.T) {
		f := newFixture(t)
		f.seedBaseline(t, "model-1")
		f.seedWindow("model-1", 10, false, false)

		result, err := f.worker.RunCycle(ctx, "model-1", ModeStreaming)
		require.NoError(t, err)
		assert.Equal(t, CycleSkipped, result.Status)
		assert.Equal(t, 10, result.SampleCount)
		assert.Nil(t, result.Snapshot)

		_, err = f.stores.Snapshots.Latest(ctx, "model-1")
		assert.ErrorIs(t, err, models.ErrNotFound)

		// Rerunning the same undersized window changes nothing.
		again, err := f.worker.RunCycle(ctx, "model-1", ModeStreaming)
		require.NoError(t, err)
		assert.Equal(t, CycleSkipped, again.Status)
		_, err = f.stores.Snapshots.Latest(ctx, "model-1")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Missing Baseline Fails The Cycle", func(t *testing.T) {
		f := newFixture(t)
		f.seedWindow("model-1", 50, false, false)

		result, err := f.worker.RunCycle(ctx, "model-1", ModeStreaming)
		assert.ErrorIs(t, err, models.ErrBaselineNotFound)
		assert.Equal(t, CycleFailed, result.Status)

		_, err = f.stores.Snapshots.Latest(ctx, "model-1")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Stable Window Completes Without Alerts", func(t *testing.T) {
		f := newFixture(t)
		f.seedBaseline(t, "model-1")
		f.seedWindow("model-1", 100, false, false)

		result, err := f.worker.RunCycle(ctx, "model-1", ModeStreaming)
		require.NoError(t, err)
		assert.Equal(t, CycleCompleted, result.Status)
		assert.Empty(t, result.Alerts)

		snapshot, err := f.stores.Snapshots.Latest(ctx, "model-1")
		require.NoError(t, err)
		assert.Equal(t, models.SeverityStable, snapshot.OverallStatus)
		assert.False(t, snapshot.NeedsRetraining)
		assert.Equal(t, 100, snapshot.SampleCount)
		assert.Equal(t, models.SeverityStable, snapshot.FeatureDrifts["amount"].Severity)
	})

	t.Run("Drifted Window Raises Alerts And Requests Retraining", func(t *testing.T) {
		f := newFixture(t)
		f.seedBaseline(t, "model-1")
		f.seedWindow("model-1", 100, true, true)

		result, err := f.worker.RunCycle(ctx, "model-1", ModeStreaming)
		require.NoError(t, err)
		assert.Equal(t, CycleCompleted, result.Status)
		require.NotNil(t, result.Snapshot)
		assert.Equal(t, models.SeverityCritical, result.Snapshot.OverallStatus)
		assert.True(t, result.Snapshot.NeedsRetraining)
		assert.NotEmpty(t, result.Alerts)

		types := make(map[models.AlertType]bool)
		for _, alert := range result.Alerts {
			types[alert.Type] = true
		}
		assert.True(t, types[models.AlertTypePopulationDrift])
		assert.True(t, types[models.AlertTypeConceptDrift])

		requests, err := f.stores.Retrains.List(ctx, "model-1", 10)
		require.NoError(t, err)
		require.Len(t, requests, 1)
		assert.Equal(t, models.RetrainStatusPending, requests[0].Status)

		// A second drifted cycle dedups alerts and files no new request.
		rerun, err := f.worker.RunCycle(ctx, "model-1", ModeStreaming)
		require.NoError(t, err)
		assert.Equal(t, CycleCompleted, rerun.Status)
		for _, alert := range rerun.Alerts {
			assert.Equal(t, 2, alert.OccurrenceCount)
		}
		requests, err = f.stores.Retrains.List(ctx, "model-1", 10)
		require.NoError(t, err)
		assert.Len(t, requests, 1)
	})

	t.Run("Held Lock Skips The Cycle", func(t *testing.T) {
		f := newFixture(t)
		f.seedBaseline(t, "model-1")
		f.seedWindow("model-1", 100, false, false)

		release, acquired, err := f.worker.locker.TryLock(ctx, "model-1")
		require.NoError(t, err)
		require.True(t, acquired)
		defer release()

		result, err := f.worker.RunCycle(ctx, "model-1", ModeStreaming)
		require.NoError(t, err)
		assert.Equal(t, CycleSkipped, result.Status)
	})

	t.Run("Batch Mode Prunes Old Records", func(t *testing.T) {
		f := newFixture(t)
		f.seedBaseline(t, "model-1")
		f.seedWindow("model-1", 100, false, false)

		stale := &models.DriftSnapshot{
			ModelID:        "model-1",
			WindowStart:    time.Now().UTC().Add(-73 * time.Hour),
			WindowEnd:      time.Now().UTC().Add(-72 * time.Hour),
			FeatureDrifts:  map[string]models.SignalDrift{},
			FairnessDrifts: map[string]models.GroupDrift{},
			QualityDrifts:  map[string]models.QualityDrift{},
			OverallStatus:  models.SeverityStable,
		}
		require.NoError(t, f.stores.Snapshots.Create(ctx, stale))

		result, err := f.worker.RunCycle(ctx, "model-1", ModeBatch)
		require.NoError(t, err)
		assert.Equal(t, CycleCompleted, result.Status)

		remaining, err := f.stores.Snapshots.List(ctx, "model-1", time.Now().UTC().Add(-100*time.Hour), 100)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, result.Snapshot.ID, remaining[0].ID)
	})
}

func TestRunAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedBaseline(t, "model-1")
	f.seedBaseline(t, "model-2")
	f.seedWindow("model-1", 100, false, false)
	// model-2 has no recent traffic and should skip.

	results, err := f.worker.RunAll(ctx, ModeStreaming)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byModel := make(map[string]CycleStatus)
	for _, r := range results {
		byModel[r.ModelID] = r.Status
	}
	assert.Equal(t, CycleCompleted, byModel["model-1"])
	assert.Equal(t, CycleSkipped, byModel["model-2"])
}

func TestCompute(t *testing.T) {
	f := newFixture(t)
	f.seedBaseline(t, "model-1")

	base, err := f.baselines.Get(context.Background(), "model-1")
	require.NoError(t, err)

	end := time.Now().UTC()
	start := end.Add(-5 * time.Minute)

	t.Run("New Categories Surface As Quality Drift", func(t *testing.T) {
		records := make([]*models.EvaluationRecord, 0, 100)
		for i := 0; i < 100; i++ {
			rec := sample("model-1", i, end.Add(-time.Minute), false, false)
			if i < 10 {
				rec.Features["country"] = "ZZ"
			}
			records = append(records, rec)
		}

		snapshot := Compute(drift.DefaultThresholds(), base, records, start, end, 0.5)
		qd := snapshot.QualityDrifts["country"]
		assert.Equal(t, []string{"ZZ"}, qd.NewCategories)
		assert.InDelta(t, 0.10, qd.NewCategoryShare, 1e-9)
		assert.Equal(t, models.SeverityWarning, qd.Severity)
		assert.Equal(t, models.SeverityWarning, snapshot.OverallStatus)
	})

	t.Run("Missing Values Surface As Null Rate Drift", func(t *testing.T) {
		records := make([]*models.EvaluationRecord, 0, 100)
		for i := 0; i < 100; i++ {
			rec := sample("model-1", i, end.Add(-time.Minute), false, false)
			if i < 20 {
				delete(rec.Features, "amount")
			}
			records = append(records, rec)
		}

		snapshot := Compute(drift.DefaultThresholds(), base, records, start, end, 0.5)
		qd := snapshot.QualityDrifts["amount"]
		assert.InDelta(t, 0.20, qd.NullRateDelta, 1e-9)
		assert.Equal(t, models.SeverityCritical, qd.Severity)
	})

	t.Run("Fairness Shift Surfaces Per Group", func(t *testing.T) {
		records := make([]*models.EvaluationRecord, 0, 100)
		for i := 0; i < 100; i++ {
			rec := sample("model-1", i, end.Add(-time.Minute), false, false)
			// Push group b's scores above the positive cutpoint.
			if rec.ProtectedAttributes["segment"] == "b" {
				rec.Score = 0.95
			}
			records = append(records, rec)
		}

		snapshot := Compute(drift.DefaultThresholds(), base, records, start, end, 0.5)
		gd, ok := snapshot.FairnessDrifts["segment:b"]
		require.True(t, ok)
		assert.Equal(t, 1.0, gd.CurrentRate)
		assert.Equal(t, models.SeverityCritical, gd.Severity)

		// With group b approving everyone and group a at half, the window
		// also fails the 80% rule.
		assert.InDelta(t, 0.5, gd.DisparateImpact, 0.05)
		ga := snapshot.FairnessDrifts["segment:a"]
		assert.Equal(t, gd.DisparateImpact, ga.DisparateImpact)
	})
}
