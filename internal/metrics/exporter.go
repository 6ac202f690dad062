// Package metrics exposes the latest drift state as pull-based Prometheus
// gauges. The exporter holds no state of its own beyond the registered
// collectors; it is a stateless translation of snapshots into gauge values.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/modelguard/drift-engine/internal/models"
)

// Exporter publishes per-model drift gauges for an external scraper.
type Exporter struct {
	featurePSI       *prometheus.GaugeVec
	scoreKL          *prometheus.GaugeVec
	scoreWasserstein *prometheus.GaugeVec
	fairnessDelta    *prometheus.GaugeVec
	nullRateDelta    *prometheus.GaugeVec
	openAlerts       *prometheus.GaugeVec
	overallStatus    *prometheus.GaugeVec
	needsRetraining  *prometheus.GaugeVec
	baselineAgeDays  *prometheus.GaugeVec
	sampleCount      *prometheus.GaugeVec

	cyclesTotal   *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
}

// NewExporter registers all collectors with the given registerer.
func NewExporter(reg prometheus.Registerer) *Exporter {
	factory := promauto.With(reg)
	return &Exporter{
		featurePSI: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "drift_feature_psi",
			Help: "Population Stability Index per feature for the latest window",
		}, []string{"model_id", "feature"}),
		scoreKL: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "drift_score_kl_divergence",
			Help: "KL divergence of the score distribution for the latest window",
		}, []string{"model_id"}),
		scoreWasserstein: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "drift_score_wasserstein",
			Help: "Wasserstein distance of the score distribution for the latest window",
		}, []string{"model_id"}),
		fairnessDelta: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "drift_fairness_delta",
			Help: "Absolute outcome-rate delta per protected group",
		}, []string{"model_id", "group"}),
		nullRateDelta: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "drift_null_rate_delta",
			Help: "Null-rate delta per feature against baseline",
		}, []string{"model_id", "feature"}),
		openAlerts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "drift_open_alerts",
			Help: "Unresolved alert count by severity",
		}, []string{"model_id", "severity"}),
		overallStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "drift_overall_status",
			Help: "Overall window status (0 stable, 1 warning, 2 critical)",
		}, []string{"model_id"}),
		needsRetraining: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "drift_needs_retraining",
			Help: "Whether the retraining rule is currently satisfied (0/1)",
		}, []string{"model_id"}),
		baselineAgeDays: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "drift_baseline_age_days",
			Help: "Age of the active baseline in days",
		}, []string{"model_id"}),
		sampleCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "drift_window_sample_count",
			Help: "Samples observed in the latest evaluation window",
		}, []string{"model_id"}),
		cyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drift_cycles_total",
			Help: "Evaluation cycles by mode and outcome",
		}, []string{"model_id", "mode", "status"}),
		cycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "drift_cycle_duration_seconds",
			Help:    "Wall-clock duration of evaluation cycles",
			Buckets: prometheus.DefBuckets,
		}, []string{"model_id", "mode"}),
	}
}

// ObserveSnapshot publishes the gauge values derived from one snapshot
// and the current open-alert counts.
func (e *Exporter) ObserveSnapshot(snapshot *models.DriftSnapshot, openCounts map[models.Severity]int64, baselineAge time.Duration) {
	modelID := snapshot.ModelID

	for feature, fd := range snapshot.FeatureDrifts {
		e.featurePSI.WithLabelValues(modelID, feature).Set(fd.Score)
	}
	e.scoreKL.WithLabelValues(modelID).Set(snapshot.ScoreDrift.Score)
	e.scoreWasserstein.WithLabelValues(modelID).Set(snapshot.ScoreWasserstein)
	for group, gd := range snapshot.FairnessDrifts {
		e.fairnessDelta.WithLabelValues(modelID, group).Set(gd.Delta)
	}
	for feature, qd := range snapshot.QualityDrifts {
		e.nullRateDelta.WithLabelValues(modelID, feature).Set(qd.NullRateDelta)
	}

	for _, severity := range []models.Severity{models.SeverityWarning, models.SeverityCritical} {
		e.openAlerts.WithLabelValues(modelID, string(severity)).Set(float64(openCounts[severity]))
	}

	e.overallStatus.WithLabelValues(modelID).Set(float64(snapshot.OverallStatus.Rank()))
	retraining := 0.0
	if snapshot.NeedsRetraining {
		retraining = 1.0
	}
	e.needsRetraining.WithLabelValues(modelID).Set(retraining)
	e.baselineAgeDays.WithLabelValues(modelID).Set(baselineAge.Hours() / 24)
	e.sampleCount.WithLabelValues(modelID).Set(float64(snapshot.SampleCount))
}

// ObserveCycle records the outcome and duration of one cycle.
func (e *Exporter) ObserveCycle(modelID, mode, status string, duration time.Duration) {
	e.cyclesTotal.WithLabelValues(modelID, mode, status).Inc()
	e.cycleDuration.WithLabelValues(modelID, mode).Observe(duration.Seconds())
}
