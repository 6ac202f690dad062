// Package storage abstracts the document collections the drift engine
// reads and writes. The engine treats the store as an opaque
// collection-oriented service; the postgres implementation is the
// production backend and the memory implementation backs tests.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/modelguard/drift-engine/internal/models"
)

// AlertFilter narrows alert listings. Nil fields are ignored.
type AlertFilter struct {
	Severity *models.Severity
	Resolved *bool
	Limit    int
}

// BaselineStore persists one baseline per model.
type BaselineStore interface {
	// Save creates or atomically replaces the baseline for its model.
	Save(ctx context.Context, baseline *models.Baseline) error
	// Get returns the active baseline or models.ErrBaselineNotFound.
	Get(ctx context.Context, modelID string) (*models.Baseline, error)
	// ListModels returns every model id that has an active baseline.
	ListModels(ctx context.Context) ([]string, error)
}

// SnapshotStore persists append-only drift snapshots.
type SnapshotStore interface {
	Create(ctx context.Context, snapshot *models.DriftSnapshot) error
	// Latest returns the snapshot with the greatest window_end, or
	// models.ErrNotFound when no snapshot exists.
	Latest(ctx context.Context, modelID string) (*models.DriftSnapshot, error)
	// List returns snapshots with window_end >= since, newest first.
	List(ctx context.Context, modelID string, since time.Time, limit int) ([]*models.DriftSnapshot, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertStore persists deduplicated alerts.
type AlertStore interface {
	Create(ctx context.Context, alert *models.Alert) error
	Update(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error)
	// FindOpenByFingerprint returns the unresolved alert carrying the
	// fingerprint, or models.ErrNotFound.
	FindOpenByFingerprint(ctx context.Context, fingerprint string) (*models.Alert, error)
	List(ctx context.Context, modelID string, filter AlertFilter) ([]*models.Alert, error)
	// OpenCriticalSince returns unresolved critical alerts whose window
	// ended at or after since.
	OpenCriticalSince(ctx context.Context, modelID string, since time.Time) ([]*models.Alert, error)
	// CountOpen returns open alert counts keyed by severity.
	CountOpen(ctx context.Context, modelID string) (map[models.Severity]int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetrainStore persists retraining requests.
type RetrainStore interface {
	Create(ctx context.Context, req *models.RetrainRequest) error
	HasPending(ctx context.Context, modelID string) (bool, error)
	List(ctx context.Context, modelID string, limit int) ([]*models.RetrainRequest, error)
}

// EvaluationSource reads scored requests from the evaluation pipeline.
type EvaluationSource interface {
	// FetchWindow returns at most limit records with
	// start <= timestamp < end, oldest first.
	FetchWindow(ctx context.Context, modelID string, start, end time.Time, limit int) ([]*models.EvaluationRecord, error)
}

// Stores bundles every collection the engine touches.
type Stores struct {
	Baselines   BaselineStore
	Snapshots   SnapshotStore
	Alerts      AlertStore
	Retrains    RetrainStore
	Evaluations EvaluationSource
}
