package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelguard/drift-engine/internal/models"
)

func TestSnapshotOrdering(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	now := time.Now().UTC()

	for _, age := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour} {
		require.NoError(t, stores.Snapshots.Create(ctx, &models.DriftSnapshot{
			ModelID:   "model-1",
			WindowEnd: now.Add(-age),
		}))
	}

	latest, err := stores.Snapshots.Latest(ctx, "model-1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), latest.WindowEnd)

	listed, err := stores.Snapshots.List(ctx, "model-1", now.Add(-24*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.True(t, listed[0].WindowEnd.After(listed[1].WindowEnd))
}

func TestAlertFilters(t *testing.T) {
	ctx := context.Background()
	stores := NewMemoryStores()
	now := time.Now().UTC()

	seed := []*models.Alert{
		{ModelID: "model-1", Fingerprint: "fp-1", Severity: models.SeverityCritical, WindowEnd: now},
		{ModelID: "model-1", Fingerprint: "fp-2", Severity: models.SeverityWarning, WindowEnd: now},
		{ModelID: "model-1", Fingerprint: "fp-3", Severity: models.SeverityCritical, Resolved: true, WindowEnd: now},
		{ModelID: "model-2", Fingerprint: "fp-4", Severity: models.SeverityCritical, WindowEnd: now},
	}
	for _, alert := range seed {
		require.NoError(t, stores.Alerts.Create(ctx, alert))
	}

	critical := models.SeverityCritical
	open := false

	listed, err := stores.Alerts.List(ctx, "model-1", AlertFilter{Severity: &critical})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	listed, err = stores.Alerts.List(ctx, "model-1", AlertFilter{Severity: &critical, Resolved: &open})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "fp-1", listed[0].Fingerprint)

	criticals, err := stores.Alerts.OpenCriticalSince(ctx, "model-1", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, criticals, 1)
	assert.Equal(t, "fp-1", criticals[0].Fingerprint)

	counts, err := stores.Alerts.CountOpen(ctx, "model-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.SeverityCritical])
	assert.Equal(t, int64(1), counts[models.SeverityWarning])
}

func TestFetchWindowBounds(t *testing.T) {
	ctx := context.Background()
	source := &MemoryEvaluationSource{}
	now := time.Now().UTC()

	source.Add(
		&models.EvaluationRecord{ModelID: "model-1", Timestamp: now.Add(-10 * time.Minute)},
		&models.EvaluationRecord{ModelID: "model-1", Timestamp: now.Add(-3 * time.Minute)},
		&models.EvaluationRecord{ModelID: "model-1", Timestamp: now.Add(-time.Minute)},
		&models.EvaluationRecord{ModelID: "model-2", Timestamp: now.Add(-time.Minute)},
	)

	records, err := source.FetchWindow(ctx, "model-1", now.Add(-5*time.Minute), now, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Timestamp.Before(records[1].Timestamp))

	limited, err := source.FetchWindow(ctx, "model-1", now.Add(-time.Hour), now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
