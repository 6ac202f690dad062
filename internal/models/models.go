package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Severity classifies how far a drift signal has moved from baseline.
type Severity string

const (
	SeverityStable   Severity = "stable"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns the severity as an ordinal so severities can be compared
// and exported as a numeric status code.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// MaxSeverity returns the worst severity among the given ones.
func MaxSeverity(severities ...Severity) Severity {
	worst := SeverityStable
	for _, s := range severities {
		if s.Rank() > worst.Rank() {
			worst = s
		}
	}
	return worst
}

// AlertType identifies which class of drift condition raised an alert.
type AlertType string

const (
	AlertTypePopulationDrift  AlertType = "population_drift"
	AlertTypeConceptDrift     AlertType = "concept_drift"
	AlertTypeFairnessDrift    AlertType = "fairness_drift"
	AlertTypeDataQualityDrift AlertType = "data_quality_drift"
)

// RetrainStatus represents the lifecycle of a retraining request.
type RetrainStatus string

const (
	RetrainStatusPending    RetrainStatus = "pending"
	RetrainStatusInProgress RetrainStatus = "in_progress"
	RetrainStatusCompleted  RetrainStatus = "completed"
	RetrainStatusRejected   RetrainStatus = "rejected"
)

// FeatureHistogram holds a fixed-bin histogram for one feature. Edges has
// one more entry than Counts; values outside the edge range are clamped
// into the first or last bin when a current window is binned against it.
type FeatureHistogram struct {
	Edges  []float64 `json:"edges"`
	Counts []float64 `json:"counts"`
}

// Total returns the number of observations in the histogram.
func (h FeatureHistogram) Total() float64 {
	var total float64
	for _, c := range h.Counts {
		total += c
	}
	return total
}

// ScoreDistribution summarizes the model output score on reference data.
type ScoreDistribution struct {
	Mean        float64            `json:"mean"`
	StdDev      float64            `json:"std_dev"`
	Percentiles map[string]float64 `json:"percentiles"`
	Histogram   FeatureHistogram   `json:"histogram"`
}

// GroupOutcome holds the outcome rate for one protected-attribute group.
type GroupOutcome struct {
	Count        int     `json:"count"`
	PositiveRate float64 `json:"positive_rate"`
}

// FairnessStats maps protected attribute -> group value -> outcome stats.
type FairnessStats map[string]map[string]GroupOutcome

// FeatureQuality holds data-quality statistics for one feature.
type FeatureQuality struct {
	NullRate   float64  `json:"null_rate"`
	Categories []string `json:"categories,omitempty"`
}

// DataQualityStats maps feature name -> quality statistics.
type DataQualityStats map[string]FeatureQuality

// Baseline holds the reference statistics a deployed model is compared
// against. Exactly one row exists per model; replacing a baseline is a
// whole-row upsert, never a partial mutation.
type Baseline struct {
	ID                  uuid.UUID                   `gorm:"type:uuid;primary_key" json:"id"`
	ModelID             string                      `gorm:"not null;uniqueIndex" json:"model_id"`
	FeatureNames        []string                    `gorm:"serializer:json" json:"feature_names"`
	ProtectedAttributes []string                    `gorm:"serializer:json" json:"protected_attributes"`
	SampleCount         int                         `gorm:"not null" json:"sample_count"`
	FeatureHistograms   map[string]FeatureHistogram `gorm:"serializer:json;type:jsonb" json:"feature_histograms"`
	ScoreDistribution   ScoreDistribution           `gorm:"serializer:json;type:jsonb" json:"score_distribution"`
	FairnessStats       FairnessStats               `gorm:"serializer:json;type:jsonb" json:"fairness_statistics"`
	DisparateImpact     map[string]float64          `gorm:"serializer:json;type:jsonb" json:"disparate_impact,omitempty"`
	DataQualityStats    DataQualityStats            `gorm:"serializer:json;type:jsonb" json:"data_quality_statistics"`
	FeatureImportance   map[string]float64          `gorm:"serializer:json;type:jsonb" json:"feature_importance,omitempty"`
	CreatedAt           time.Time                   `json:"created_at"`
}

func (b *Baseline) TableName() string { return "drift_baselines" }

func (b *Baseline) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// SignalDrift is the outcome of one divergence computation.
type SignalDrift struct {
	Score    float64  `json:"score"`
	Severity Severity `json:"severity"`
}

// GroupDrift is the fairness drift for one protected-attribute group.
type GroupDrift struct {
	BaselineRate float64 `json:"baseline_rate"`
	CurrentRate  float64 `json:"current_rate"`
	Delta        float64 `json:"delta"`
	// DisparateImpact is the min/max outcome-rate ratio across all groups
	// of the same attribute in the current window.
	DisparateImpact float64  `json:"disparate_impact"`
	Severity        Severity `json:"severity"`
}

// QualityDrift is the data-quality drift for one feature.
type QualityDrift struct {
	NullRateDelta    float64  `json:"null_rate_delta"`
	NewCategories    []string `json:"new_categories,omitempty"`
	NewCategoryShare float64  `json:"new_category_share"`
	Severity         Severity `json:"severity"`
}

// DriftSnapshot is the append-only record of one evaluation window.
// Snapshots are created once per worker cycle and never mutated.
type DriftSnapshot struct {
	ID                    uuid.UUID               `gorm:"type:uuid;primary_key" json:"id"`
	ModelID               string                  `gorm:"not null;index:idx_snapshot_model_window,priority:1" json:"model_id"`
	WindowStart           time.Time               `gorm:"not null" json:"window_start"`
	WindowEnd             time.Time               `gorm:"not null;index:idx_snapshot_model_window,priority:2" json:"window_end"`
	SampleCount           int                     `gorm:"not null" json:"sample_count"`
	FeatureDrifts         map[string]SignalDrift  `gorm:"serializer:json;type:jsonb" json:"feature_drifts"`
	ScoreDrift            SignalDrift             `gorm:"serializer:json;type:jsonb" json:"score_drift"`
	ScoreWasserstein      float64                 `json:"score_wasserstein"`
	FairnessDrifts        map[string]GroupDrift   `gorm:"serializer:json;type:jsonb" json:"fairness_drift"`
	QualityDrifts         map[string]QualityDrift `gorm:"serializer:json;type:jsonb" json:"data_quality_drift"`
	ExplanationSimilarity *float64                `json:"explanation_similarity,omitempty"`
	OverallStatus         Severity                `gorm:"not null" json:"overall_status"`
	NeedsRetraining       bool                    `gorm:"not null;default:false" json:"needs_retraining"`
	CreatedAt             time.Time               `json:"created_at"`
}

func (s *DriftSnapshot) TableName() string { return "drift_snapshots" }

func (s *DriftSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Alert is a deduplicated record of a drift condition. Recurrences of the
// same condition within the dedup window increment OccurrenceCount on the
// open row instead of inserting a new one.
type Alert struct {
	ID              uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	Fingerprint     string         `gorm:"not null;index:idx_alert_fingerprint,priority:1" json:"fingerprint"`
	ModelID         string         `gorm:"not null;index:idx_alert_model_created,priority:1" json:"model_id"`
	Type            AlertType      `gorm:"not null" json:"type"`
	Severity        Severity       `gorm:"not null" json:"severity"`
	MetricName      string         `gorm:"not null" json:"metric_name"`
	MetricValue     float64        `gorm:"not null" json:"metric_value"`
	Threshold       float64        `gorm:"not null" json:"threshold"`
	WindowStart     time.Time      `json:"window_start"`
	WindowEnd       time.Time      `json:"window_end"`
	Details         datatypes.JSON `gorm:"type:jsonb" json:"details,omitempty"`
	Resolved        bool           `gorm:"not null;default:false;index:idx_alert_fingerprint,priority:2" json:"resolved"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	ResolutionNote  string         `json:"resolution_note,omitempty"`
	OccurrenceCount int            `gorm:"not null;default:1" json:"occurrence_count"`
	CreatedAt       time.Time      `gorm:"index:idx_alert_model_created,priority:2" json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (a *Alert) TableName() string { return "drift_alerts" }

func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// RetrainRequest asks the training pipeline to refresh a model. Created
// automatically by the alerting rule or manually through the API.
type RetrainRequest struct {
	ID          uuid.UUID     `gorm:"type:uuid;primary_key" json:"id"`
	ModelID     string        `gorm:"not null;index:idx_retrain_model_status,priority:1" json:"model_id"`
	Reason      string        `gorm:"not null" json:"reason"`
	RequestedBy string        `gorm:"not null" json:"requested_by"`
	RequestedAt time.Time     `gorm:"not null" json:"requested_at"`
	Status      RetrainStatus `gorm:"not null;index:idx_retrain_model_status,priority:2" json:"status"`
}

func (r *RetrainRequest) TableName() string { return "retrain_requests" }

func (r *RetrainRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// EvaluationRecord is one scored request drawn from the evaluation
// pipeline. The engine only ever reads these.
type EvaluationRecord struct {
	ID                  uuid.UUID              `gorm:"type:uuid;primary_key" json:"id"`
	ModelID             string                 `gorm:"not null;index:idx_eval_model_ts,priority:1" json:"model_id"`
	Features            map[string]interface{} `gorm:"serializer:json;type:jsonb" json:"features"`
	Score               float64                `gorm:"not null" json:"score"`
	ProtectedAttributes map[string]string      `gorm:"serializer:json;type:jsonb" json:"protected_attributes"`
	Timestamp           time.Time              `gorm:"not null;index:idx_eval_model_ts,priority:2" json:"timestamp"`
}

func (e *EvaluationRecord) TableName() string { return "evaluation_records" }

func (e *EvaluationRecord) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
