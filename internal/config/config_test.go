package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8085, cfg.Server.Port)

	assert.Equal(t, 20, cfg.Baseline.HistogramBins)
	assert.Equal(t, 0.5, cfg.Baseline.PositiveThreshold)

	assert.Equal(t, 1e-6, cfg.Drift.Epsilon)
	assert.Equal(t, 0.1, cfg.Drift.PSIWarning)
	assert.Equal(t, 0.25, cfg.Drift.PSICritical)
	assert.Equal(t, 0.3, cfg.Drift.KLCritical)
	assert.Equal(t, 0.8, cfg.Drift.DisparateImpactFloor)

	assert.Equal(t, 24*time.Hour, cfg.Alerting.DedupWindow)
	assert.Equal(t, 2, cfg.Alerting.RetrainCriticalCount)

	assert.Equal(t, 5*time.Minute, cfg.Worker.StreamingWindow)
	assert.Equal(t, 1000, cfg.Worker.StreamingMaxSamples)
	assert.Equal(t, 24*time.Hour, cfg.Worker.BatchWindow)
	assert.Equal(t, 10000, cfg.Worker.BatchMaxSamples)
	assert.Equal(t, 30, cfg.Worker.MinSamples)
	assert.Equal(t, 2*time.Minute, cfg.Worker.CycleTimeout)

	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "drift.alerts", cfg.Kafka.AlertTopic)
}
