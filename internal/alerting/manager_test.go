package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/modelguard/drift-engine/internal/config"
	"github.com/modelguard/drift-engine/internal/drift"
	"github.com/modelguard/drift-engine/internal/models"
	"github.com/modelguard/drift-engine/internal/storage"
)

func testManager(t *testing.T) (*Manager, *storage.Stores) {
	t.Helper()
	stores := storage.NewMemoryStores()
	cfg := &config.AlertingConfig{
		DedupWindow:          24 * time.Hour,
		RetrainCriticalCount: 2,
		RetrainLookback:      24 * time.Hour,
	}
	return NewManager(cfg, drift.DefaultThresholds(), stores.Alerts, stores.Retrains, zap.NewNop()), stores
}

func driftSnapshot(modelID string, windowEnd time.Time) *models.DriftSnapshot {
	return &models.DriftSnapshot{
		ModelID:     modelID,
		WindowStart: windowEnd.Add(-5 * time.Minute),
		WindowEnd:   windowEnd,
		SampleCount: 100,
		FeatureDrifts: map[string]models.SignalDrift{
			"amount":  {Score: 0.31, Severity: models.SeverityCritical},
			"country": {Score: 0.02, Severity: models.SeverityStable},
		},
		ScoreDrift:     models.SignalDrift{Score: 0.05, Severity: models.SeverityStable},
		FairnessDrifts: map[string]models.GroupDrift{},
		QualityDrifts:  map[string]models.QualityDrift{},
		OverallStatus:  models.SeverityCritical,
	}
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("model-1", models.AlertTypePopulationDrift, "amount")
	assert.Len(t, fp, 64)
	assert.Equal(t, fp, Fingerprint("model-1", models.AlertTypePopulationDrift, "amount"))
	assert.NotEqual(t, fp, Fingerprint("model-1", models.AlertTypePopulationDrift, "country"))
	assert.NotEqual(t, fp, Fingerprint("model-2", models.AlertTypePopulationDrift, "amount"))
	assert.NotEqual(t, fp, Fingerprint("model-1", models.AlertTypeConceptDrift, "amount"))
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("Stable Signals Raise Nothing", func(t *testing.T) {
		manager, stores := testManager(t)
		snapshot := driftSnapshot("model-1", now)
		snapshot.FeatureDrifts["amount"] = models.SignalDrift{Score: 0.01, Severity: models.SeverityStable}

		alerts, err := manager.Evaluate(ctx, snapshot)
		require.NoError(t, err)
		assert.Empty(t, alerts)

		listed, err := stores.Alerts.List(ctx, "model-1", storage.AlertFilter{})
		require.NoError(t, err)
		assert.Empty(t, listed)
	})

	t.Run("Recurrence Updates The Open Row", func(t *testing.T) {
		manager, stores := testManager(t)

		first, err := manager.Evaluate(ctx, driftSnapshot("model-1", now))
		require.NoError(t, err)
		require.Len(t, first, 1)
		assert.Equal(t, 1, first[0].OccurrenceCount)
		assert.Equal(t, models.AlertTypePopulationDrift, first[0].Type)
		assert.Equal(t, "amount", first[0].MetricName)

		second, err := manager.Evaluate(ctx, driftSnapshot("model-1", now.Add(5*time.Minute)))
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.Equal(t, first[0].ID, second[0].ID)
		assert.Equal(t, 2, second[0].OccurrenceCount)

		listed, err := stores.Alerts.List(ctx, "model-1", storage.AlertFilter{})
		require.NoError(t, err)
		assert.Len(t, listed, 1)
	})

	t.Run("Recurrence Outside The Dedup Window Opens A New Row", func(t *testing.T) {
		manager, stores := testManager(t)

		_, err := manager.Evaluate(ctx, driftSnapshot("model-1", now))
		require.NoError(t, err)

		_, err = manager.Evaluate(ctx, driftSnapshot("model-1", now.Add(25*time.Hour)))
		require.NoError(t, err)

		listed, err := stores.Alerts.List(ctx, "model-1", storage.AlertFilter{})
		require.NoError(t, err)
		assert.Len(t, listed, 2)
	})

	t.Run("Resolved Alerts Do Not Absorb Recurrences", func(t *testing.T) {
		manager, stores := testManager(t)

		first, err := manager.Evaluate(ctx, driftSnapshot("model-1", now))
		require.NoError(t, err)
		require.Len(t, first, 1)

		_, err = manager.Resolve(ctx, first[0].ID, "noise")
		require.NoError(t, err)

		second, err := manager.Evaluate(ctx, driftSnapshot("model-1", now.Add(time.Minute)))
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.NotEqual(t, first[0].ID, second[0].ID)
		assert.Equal(t, 1, second[0].OccurrenceCount)

		listed, err := stores.Alerts.List(ctx, "model-1", storage.AlertFilter{})
		require.NoError(t, err)
		assert.Len(t, listed, 2)
	})

	t.Run("Escalating Severity Sticks", func(t *testing.T) {
		manager, _ := testManager(t)

		warning := driftSnapshot("model-1", now)
		warning.FeatureDrifts["amount"] = models.SignalDrift{Score: 0.15, Severity: models.SeverityWarning}
		first, err := manager.Evaluate(ctx, warning)
		require.NoError(t, err)
		require.Len(t, first, 1)
		assert.Equal(t, models.SeverityWarning, first[0].Severity)

		second, err := manager.Evaluate(ctx, driftSnapshot("model-1", now.Add(time.Minute)))
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.Equal(t, models.SeverityCritical, second[0].Severity)

		// A later warning does not downgrade the open critical.
		third, err := manager.Evaluate(ctx, warning)
		require.NoError(t, err)
		assert.Equal(t, models.SeverityCritical, third[0].Severity)
	})
}

func TestShouldTriggerRetrain(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	multiSignal := func(windowEnd time.Time) *models.DriftSnapshot {
		s := driftSnapshot("model-1", windowEnd)
		s.ScoreDrift = models.SignalDrift{Score: 0.45, Severity: models.SeverityCritical}
		s.FairnessDrifts["segment:b"] = models.GroupDrift{
			BaselineRate: 0.70, CurrentRate: 0.82, Delta: 0.12, Severity: models.SeverityCritical,
		}
		return s
	}

	t.Run("One Critical Is Not Enough", func(t *testing.T) {
		manager, _ := testManager(t)
		_, err := manager.Evaluate(ctx, driftSnapshot("model-1", now))
		require.NoError(t, err)

		trigger, err := manager.ShouldTriggerRetrain(ctx, "model-1", now)
		require.NoError(t, err)
		assert.False(t, trigger)
	})

	t.Run("Distinct Criticals File One Pending Request", func(t *testing.T) {
		manager, stores := testManager(t)
		_, err := manager.Evaluate(ctx, multiSignal(now))
		require.NoError(t, err)

		trigger, err := manager.ShouldTriggerRetrain(ctx, "model-1", now)
		require.NoError(t, err)
		assert.True(t, trigger)

		requests, err := stores.Retrains.List(ctx, "model-1", 10)
		require.NoError(t, err)
		require.Len(t, requests, 1)
		assert.Equal(t, models.RetrainStatusPending, requests[0].Status)
		assert.Equal(t, "drift-engine", requests[0].RequestedBy)
		assert.Contains(t, requests[0].Reason, "critical drift alerts")

		// Further cycles keep the flag up without filing a second request.
		_, err = manager.Evaluate(ctx, multiSignal(now.Add(5*time.Minute)))
		require.NoError(t, err)
		trigger, err = manager.ShouldTriggerRetrain(ctx, "model-1", now.Add(5*time.Minute))
		require.NoError(t, err)
		assert.True(t, trigger)

		requests, err = stores.Retrains.List(ctx, "model-1", 10)
		require.NoError(t, err)
		assert.Len(t, requests, 1)
	})

	t.Run("Occurrences Of One Fingerprint Count Once", func(t *testing.T) {
		manager, _ := testManager(t)
		for i := 0; i < 5; i++ {
			_, err := manager.Evaluate(ctx, driftSnapshot("model-1", now.Add(time.Duration(i)*time.Minute)))
			require.NoError(t, err)
		}

		trigger, err := manager.ShouldTriggerRetrain(ctx, "model-1", now.Add(5*time.Minute))
		require.NoError(t, err)
		assert.False(t, trigger)
	})
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("Unknown Alert", func(t *testing.T) {
		manager, _ := testManager(t)
		_, err := manager.Resolve(ctx, uuid.New(), "")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Second Resolve Leaves ResolvedAt Untouched", func(t *testing.T) {
		manager, _ := testManager(t)
		alerts, err := manager.Evaluate(ctx, driftSnapshot("model-1", now))
		require.NoError(t, err)
		require.Len(t, alerts, 1)

		resolved, err := manager.Resolve(ctx, alerts[0].ID, "fixed upstream")
		require.NoError(t, err)
		require.NotNil(t, resolved.ResolvedAt)
		assert.Equal(t, "fixed upstream", resolved.ResolutionNote)
		firstResolvedAt := *resolved.ResolvedAt

		again, err := manager.Resolve(ctx, alerts[0].ID, "different note")
		assert.ErrorIs(t, err, models.ErrAlreadyResolved)
		require.NotNil(t, again.ResolvedAt)
		assert.Equal(t, firstResolvedAt, *again.ResolvedAt)
		assert.Equal(t, "fixed upstream", again.ResolutionNote)
	})
}
