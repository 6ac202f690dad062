package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelguard/drift-engine/internal/models"
)

// NewMemoryStores returns fully in-memory stores. They back unit tests and
// local development where no PostgreSQL is available.
func NewMemoryStores() *Stores {
	return &Stores{
		Baselines:   &memBaselineStore{baselines: make(map[string]*models.Baseline)},
		Snapshots:   &memSnapshotStore{},
		Alerts:      &memAlertStore{},
		Retrains:    &memRetrainStore{},
		Evaluations: &MemoryEvaluationSource{},
	}
}

type memBaselineStore struct {
	mu        sync.RWMutex
	baselines map[string]*models.Baseline
}

func (s *memBaselineStore) Save(ctx context.Context, baseline *models.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if baseline.ID == uuid.Nil {
		baseline.ID = uuid.New()
	}
	if baseline.CreatedAt.IsZero() {
		baseline.CreatedAt = time.Now().UTC()
	}
	copied := *baseline
	s.baselines[baseline.ModelID] = &copied
	return nil
}

func (s *memBaselineStore) Get(ctx context.Context, modelID string) (*models.Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	baseline, ok := s.baselines[modelID]
	if !ok {
		return nil, models.ErrBaselineNotFound
	}
	copied := *baseline
	return &copied, nil
}

func (s *memBaselineStore) ListModels(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	modelIDs := make([]string, 0, len(s.baselines))
	for id := range s.baselines {
		modelIDs = append(modelIDs, id)
	}
	sort.Strings(modelIDs)
	return modelIDs, nil
}

type memSnapshotStore struct {
	mu        sync.RWMutex
	snapshots []*models.DriftSnapshot
}

func (s *memSnapshotStore) Create(ctx context.Context, snapshot *models.DriftSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}
	copied := *snapshot
	s.snapshots = append(s.snapshots, &copied)
	return nil
}

func (s *memSnapshotStore) Latest(ctx context.Context, modelID string) (*models.DriftSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.DriftSnapshot
	for _, snap := range s.snapshots {
		if snap.ModelID != modelID {
			continue
		}
		if latest == nil || snap.WindowEnd.After(latest.WindowEnd) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (s *memSnapshotStore) List(ctx context.Context, modelID string, since time.Time, limit int) ([]*models.DriftSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.DriftSnapshot
	for _, snap := range s.snapshots {
		if snap.ModelID == modelID && !snap.WindowEnd.Before(since) {
			copied := *snap
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowEnd.After(out[j].WindowEnd) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memSnapshotStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*models.DriftSnapshot
	var removed int64
	for _, snap := range s.snapshots {
		if snap.WindowEnd.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, snap)
	}
	s.snapshots = kept
	return removed, nil
}

type memAlertStore struct {
	mu     sync.RWMutex
	alerts []*models.Alert
}

func (s *memAlertStore) Create(ctx context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	now := time.Now().UTC()
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = now
	}
	alert.UpdatedAt = now
	copied := *alert
	s.alerts = append(s.alerts, &copied)
	return nil
}

func (s *memAlertStore) Update(ctx context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.alerts {
		if existing.ID == alert.ID {
			alert.UpdatedAt = time.Now().UTC()
			copied := *alert
			s.alerts[i] = &copied
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *memAlertStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, alert := range s.alerts {
		if alert.ID == id {
			copied := *alert
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *memAlertStore) FindOpenByFingerprint(ctx context.Context, fingerprint string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *models.Alert
	for _, alert := range s.alerts {
		if alert.Fingerprint != fingerprint || alert.Resolved {
			continue
		}
		if newest == nil || alert.CreatedAt.After(newest.CreatedAt) {
			newest = alert
		}
	}
	if newest == nil {
		return nil, models.ErrNotFound
	}
	copied := *newest
	return &copied, nil
}

func (s *memAlertStore) List(ctx context.Context, modelID string, filter AlertFilter) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Alert
	for _, alert := range s.alerts {
		if alert.ModelID != modelID {
			continue
		}
		if filter.Severity != nil && alert.Severity != *filter.Severity {
			continue
		}
		if filter.Resolved != nil && alert.Resolved != *filter.Resolved {
			continue
		}
		copied := *alert
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memAlertStore) OpenCriticalSince(ctx context.Context, modelID string, since time.Time) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Alert
	for _, alert := range s.alerts {
		if alert.ModelID == modelID && alert.Severity == models.SeverityCritical &&
			!alert.Resolved && !alert.WindowEnd.Before(since) {
			copied := *alert
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memAlertStore) CountOpen(ctx context.Context, modelID string) (map[models.Severity]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.Severity]int64)
	for _, alert := range s.alerts {
		if alert.ModelID == modelID && !alert.Resolved {
			counts[alert.Severity]++
		}
	}
	return counts, nil
}

func (s *memAlertStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*models.Alert
	var removed int64
	for _, alert := range s.alerts {
		if alert.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, alert)
	}
	s.alerts = kept
	return removed, nil
}

type memRetrainStore struct {
	mu       sync.RWMutex
	requests []*models.RetrainRequest
}

func (s *memRetrainStore) Create(ctx context.Context, req *models.RetrainRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	copied := *req
	s.requests = append(s.requests, &copied)
	return nil
}

func (s *memRetrainStore) HasPending(ctx context.Context, modelID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, req := range s.requests {
		if req.ModelID == modelID && req.Status == models.RetrainStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (s *memRetrainStore) List(ctx context.Context, modelID string, limit int) ([]*models.RetrainRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RetrainRequest
	for _, req := range s.requests {
		if req.ModelID == modelID {
			copied := *req
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryEvaluationSource is an in-memory evaluation feed. Tests seed it
// with records directly.
type MemoryEvaluationSource struct {
	mu      sync.RWMutex
	records []*models.EvaluationRecord
}

// Add appends records to the feed.
func (s *MemoryEvaluationSource) Add(records ...*models.EvaluationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		copied := *rec
		s.records = append(s.records, &copied)
	}
}

func (s *MemoryEvaluationSource) FetchWindow(ctx context.Context, modelID string, start, end time.Time, limit int) ([]*models.EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.EvaluationRecord
	for _, rec := range s.records {
		if rec.ModelID != modelID {
			continue
		}
		if rec.Timestamp.Before(start) || !rec.Timestamp.Before(end) {
			continue
		}
		copied := *rec
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
