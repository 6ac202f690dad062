// Package alerting turns drift snapshots into deduplicated alert records
// and decides when repeated criticality warrants retraining.
package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/modelguard/drift-engine/internal/config"
	"github.com/modelguard/drift-engine/internal/drift"
	"github.com/modelguard/drift-engine/internal/models"
	"github.com/modelguard/drift-engine/internal/storage"
)

// Manager owns alert lifecycle: creation, dedup, resolution, and the
// retraining rule. The fingerprint upsert is a read-then-write, so writes
// for the same fingerprint are serialized within the process; across
// processes deduplication is best-effort.
type Manager struct {
	cfg        *config.AlertingConfig
	thresholds drift.Thresholds
	alerts     storage.AlertStore
	retrains   storage.RetrainStore
	logger     *zap.Logger

	mu          sync.Mutex
	fingerprint map[string]*sync.Mutex
}

// NewManager creates an alert manager.
func NewManager(cfg *config.AlertingConfig, thresholds drift.Thresholds, alerts storage.AlertStore, retrains storage.RetrainStore, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		thresholds:  thresholds,
		alerts:      alerts,
		retrains:    retrains,
		logger:      logger,
		fingerprint: make(map[string]*sync.Mutex),
	}
}

// candidate is one warning-or-critical signal lifted from a snapshot.
type candidate struct {
	alertType  models.AlertType
	severity   models.Severity
	metricName string
	value      float64
	threshold  float64
	details    map[string]interface{}
}

// Evaluate upserts one alert per warning-or-critical signal in the
// snapshot. A recurrence of an open alert within the dedup window
// increments its occurrence count in place instead of inserting a row.
func (m *Manager) Evaluate(ctx context.Context, snapshot *models.DriftSnapshot) ([]*models.Alert, error) {
	var out []*models.Alert
	for _, c := range m.candidates(snapshot) {
		alert, err := m.upsert(ctx, snapshot, c)
		if err != nil {
			return out, err
		}
		out = append(out, alert)
	}
	return out, nil
}

func (m *Manager) candidates(snapshot *models.DriftSnapshot) []candidate {
	var cands []candidate

	featureNames := make([]string, 0, len(snapshot.FeatureDrifts))
	for name := range snapshot.FeatureDrifts {
		featureNames = append(featureNames, name)
	}
	sort.Strings(featureNames)
	for _, name := range featureNames {
		fd := snapshot.FeatureDrifts[name]
		if fd.Severity == models.SeverityStable {
			continue
		}
		cands = append(cands, candidate{
			alertType:  models.AlertTypePopulationDrift,
			severity:   fd.Severity,
			metricName: name,
			value:      fd.Score,
			threshold:  pick(fd.Severity, m.thresholds.PSIWarning, m.thresholds.PSICritical),
			details:    map[string]interface{}{"method": "psi", "feature": name},
		})
	}

	if snapshot.ScoreDrift.Severity != models.SeverityStable {
		cands = append(cands, candidate{
			alertType:  models.AlertTypeConceptDrift,
			severity:   snapshot.ScoreDrift.Severity,
			metricName: "score_kl_divergence",
			value:      snapshot.ScoreDrift.Score,
			threshold:  pick(snapshot.ScoreDrift.Severity, m.thresholds.KLWarning, m.thresholds.KLCritical),
			details: map[string]interface{}{
				"method":      "kl_divergence",
				"wasserstein": snapshot.ScoreWasserstein,
			},
		})
	}

	groups := make([]string, 0, len(snapshot.FairnessDrifts))
	for g := range snapshot.FairnessDrifts {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		gd := snapshot.FairnessDrifts[g]
		if gd.Severity == models.SeverityStable {
			continue
		}
		cands = append(cands, candidate{
			alertType:  models.AlertTypeFairnessDrift,
			severity:   gd.Severity,
			metricName: g,
			value:      gd.Delta,
			threshold:  pick(gd.Severity, m.thresholds.FairnessWarning, m.thresholds.FairnessCritical),
			details: map[string]interface{}{
				"baseline_rate":    gd.BaselineRate,
				"current_rate":     gd.CurrentRate,
				"disparate_impact": gd.DisparateImpact,
			},
		})
	}

	qualityFeatures := make([]string, 0, len(snapshot.QualityDrifts))
	for f := range snapshot.QualityDrifts {
		qualityFeatures = append(qualityFeatures, f)
	}
	sort.Strings(qualityFeatures)
	for _, f := range qualityFeatures {
		qd := snapshot.QualityDrifts[f]
		if qd.Severity == models.SeverityStable {
			continue
		}
		cands = append(cands, candidate{
			alertType:  models.AlertTypeDataQualityDrift,
			severity:   qd.Severity,
			metricName: f,
			value:      qd.NullRateDelta,
			threshold:  pick(qd.Severity, m.thresholds.NullRateWarning, m.thresholds.NullRateCritical),
			details: map[string]interface{}{
				"new_categories":     qd.NewCategories,
				"new_category_share": qd.NewCategoryShare,
			},
		})
	}

	return cands
}

func (m *Manager) upsert(ctx context.Context, snapshot *models.DriftSnapshot, c candidate) (*models.Alert, error) {
	fp := Fingerprint(snapshot.ModelID, c.alertType, c.metricName)

	unlock := m.lockFingerprint(fp)
	defer unlock()

	existing, err := m.alerts.FindOpenByFingerprint(ctx, fp)
	if err == nil && snapshot.WindowEnd.Sub(existing.WindowEnd) <= m.cfg.DedupWindow {
		existing.OccurrenceCount++
		existing.MetricValue = c.value
		existing.Severity = models.MaxSeverity(existing.Severity, c.severity)
		existing.WindowEnd = snapshot.WindowEnd
		if err := m.alerts.Update(ctx, existing); err != nil {
			return nil, err
		}
		m.logger.Debug("Alert recurrence recorded",
			zap.String("fingerprint", fp),
			zap.Int("occurrence_count", existing.OccurrenceCount))
		return existing, nil
	}
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	details, _ := json.Marshal(c.details)
	alert := &models.Alert{
		Fingerprint:     fp,
		ModelID:         snapshot.ModelID,
		Type:            c.alertType,
		Severity:        c.severity,
		MetricName:      c.metricName,
		MetricValue:     c.value,
		Threshold:       c.threshold,
		WindowStart:     snapshot.WindowStart,
		WindowEnd:       snapshot.WindowEnd,
		Details:         datatypes.JSON(details),
		OccurrenceCount: 1,
	}
	if err := m.alerts.Create(ctx, alert); err != nil {
		return nil, err
	}

	m.logger.Info("Alert created",
		zap.String("model_id", snapshot.ModelID),
		zap.String("type", string(c.alertType)),
		zap.String("severity", string(c.severity)),
		zap.String("metric", c.metricName))
	return alert, nil
}

// ShouldTriggerRetrain reports whether the model has accumulated enough
// distinct critical alerts to warrant retraining, and on the transition
// to true files a single pending RetrainRequest. The call is idempotent:
// while a pending request exists no second one is created.
func (m *Manager) ShouldTriggerRetrain(ctx context.Context, modelID string, now time.Time) (bool, error) {
	since := now.Add(-m.cfg.RetrainLookback)
	criticals, err := m.alerts.OpenCriticalSince(ctx, modelID, since)
	if err != nil {
		return false, err
	}

	distinct := make(map[string]*models.Alert)
	for _, alert := range criticals {
		distinct[alert.Fingerprint] = alert
	}
	if len(distinct) < m.cfg.RetrainCriticalCount {
		return false, nil
	}

	pending, err := m.retrains.HasPending(ctx, modelID)
	if err != nil {
		return true, err
	}
	if pending {
		return true, nil
	}

	metrics := make([]string, 0, len(distinct))
	for _, alert := range distinct {
		metrics = append(metrics, fmt.Sprintf("%s/%s", alert.Type, alert.MetricName))
	}
	sort.Strings(metrics)

	req := &models.RetrainRequest{
		ModelID:     modelID,
		Reason:      fmt.Sprintf("%d critical drift alerts within %s: %s", len(distinct), m.cfg.RetrainLookback, strings.Join(metrics, ", ")),
		RequestedBy: "drift-engine",
		RequestedAt: now,
		Status:      models.RetrainStatusPending,
	}
	if err := m.retrains.Create(ctx, req); err != nil {
		return true, err
	}

	m.logger.Warn("Retraining requested",
		zap.String("model_id", modelID),
		zap.Int("critical_alerts", len(distinct)))
	return true, nil
}

// Resolve marks an alert resolved. Resolving twice returns
// models.ErrAlreadyResolved and leaves resolved_at untouched.
func (m *Manager) Resolve(ctx context.Context, id uuid.UUID, note string) (*models.Alert, error) {
	alert, err := m.alerts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Resolved {
		return alert, models.ErrAlreadyResolved
	}

	now := time.Now().UTC()
	alert.Resolved = true
	alert.ResolvedAt = &now
	alert.ResolutionNote = note
	if err := m.alerts.Update(ctx, alert); err != nil {
		return nil, err
	}

	m.logger.Info("Alert resolved",
		zap.String("alert_id", id.String()),
		zap.String("model_id", alert.ModelID))
	return alert, nil
}

// lockFingerprint serializes upserts for one fingerprint.
func (m *Manager) lockFingerprint(fp string) func() {
	m.mu.Lock()
	lock, ok := m.fingerprint[fp]
	if !ok {
		lock = &sync.Mutex{}
		m.fingerprint[fp] = lock
	}
	m.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// pick returns the threshold matching the observed severity.
func pick(severity models.Severity, warning, critical float64) float64 {
	if severity == models.SeverityCritical {
		return critical
	}
	return warning
}
