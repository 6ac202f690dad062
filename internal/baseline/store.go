// Package baseline computes and serves the reference statistics every
// drift cycle compares against.
package baseline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/modelguard/drift-engine/internal/config"
	"github.com/modelguard/drift-engine/internal/drift"
	"github.com/modelguard/drift-engine/internal/models"
	"github.com/modelguard/drift-engine/internal/storage"
)

// Store computes, persists and caches baselines. Baselines are read on
// every cycle but written rarely, so Get is served from an in-memory map
// whose entries are swapped wholesale on replace.
type Store struct {
	cfg    *config.BaselineConfig
	repo   storage.BaselineStore
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*models.Baseline
}

// NewStore creates a baseline store over the given persistence backend.
func NewStore(cfg *config.BaselineConfig, repo storage.BaselineStore, logger *zap.Logger) *Store {
	return &Store{
		cfg:    cfg,
		repo:   repo,
		logger: logger,
		cache:  make(map[string]*models.Baseline),
	}
}

// CreateOrReplaceParams describes the reference data for one model.
type CreateOrReplaceParams struct {
	ModelID             string
	Samples             []*models.EvaluationRecord
	FeatureNames        []string
	ProtectedAttributes []string
	// FeatureImportance is optional; when present it enables the
	// explanation-stability signal.
	FeatureImportance map[string]float64
}

// CreateOrReplace computes reference statistics from the given samples and
// atomically replaces any existing baseline for the model.
func (s *Store) CreateOrReplace(ctx context.Context, params CreateOrReplaceParams) (*models.Baseline, error) {
	minSamples := s.cfg.MinSamples
	if minSamples < 1 {
		minSamples = 1
	}
	if len(params.Samples) < minSamples {
		return nil, fmt.Errorf("baseline for %s needs at least %d reference samples, got %d: %w",
			params.ModelID, minSamples, len(params.Samples), models.ErrInsufficientData)
	}

	baseline := &models.Baseline{
		ModelID:             params.ModelID,
		FeatureNames:        params.FeatureNames,
		ProtectedAttributes: params.ProtectedAttributes,
		SampleCount:         len(params.Samples),
		FeatureHistograms:   make(map[string]models.FeatureHistogram),
		DataQualityStats:    make(models.DataQualityStats),
		FairnessStats:       make(models.FairnessStats),
		FeatureImportance:   params.FeatureImportance,
		CreatedAt:           time.Now().UTC(),
	}

	for _, feature := range params.FeatureNames {
		numeric, quality := profileFeature(params.Samples, feature)
		baseline.DataQualityStats[feature] = quality
		if len(numeric) > 0 {
			baseline.FeatureHistograms[feature] = histogram(numeric, s.cfg.HistogramBins)
		}
	}

	scores := make([]float64, 0, len(params.Samples))
	for _, rec := range params.Samples {
		scores = append(scores, rec.Score)
	}
	baseline.ScoreDistribution = scoreDistribution(scores, s.cfg.HistogramBins)

	if len(params.ProtectedAttributes) > 0 {
		baseline.DisparateImpact = make(map[string]float64, len(params.ProtectedAttributes))
	}
	for _, attr := range params.ProtectedAttributes {
		outcomes := groupOutcomes(params.Samples, attr, s.cfg.PositiveThreshold)
		baseline.FairnessStats[attr] = outcomes

		rates := make(map[string]float64, len(outcomes))
		for group, outcome := range outcomes {
			rates[group] = outcome.PositiveRate
		}
		baseline.DisparateImpact[attr] = drift.DisparateImpactRatio(rates)
	}

	if err := s.repo.Save(ctx, baseline); err != nil {
		return nil, fmt.Errorf("failed to persist baseline for %s: %w", params.ModelID, err)
	}

	s.mu.Lock()
	s.cache[params.ModelID] = baseline
	s.mu.Unlock()

	s.logger.Info("Baseline created",
		zap.String("model_id", params.ModelID),
		zap.Int("sample_count", baseline.SampleCount),
		zap.Int("features", len(params.FeatureNames)))

	return baseline, nil
}

// Get returns the active baseline, serving repeated reads from cache.
func (s *Store) Get(ctx context.Context, modelID string) (*models.Baseline, error) {
	s.mu.RLock()
	cached, ok := s.cache[modelID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	baseline, err := s.repo.Get(ctx, modelID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[modelID] = baseline
	s.mu.Unlock()
	return baseline, nil
}

// PositiveThreshold returns the outcome cutpoint used when profiling
// reference data. Drift cycles use the same cutpoint on current windows.
func (s *Store) PositiveThreshold() float64 {
	return s.cfg.PositiveThreshold
}

// Invalidate drops the cached entry for a model.
func (s *Store) Invalidate(modelID string) {
	s.mu.Lock()
	delete(s.cache, modelID)
	s.mu.Unlock()
}

// Export serializes a baseline for backup or migration.
func (s *Store) Export(ctx context.Context, modelID string) ([]byte, error) {
	baseline, err := s.Get(ctx, modelID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(baseline)
}

// Import restores a previously exported baseline, replacing any active
// baseline for the same model.
func (s *Store) Import(ctx context.Context, doc []byte) (*models.Baseline, error) {
	var baseline models.Baseline
	if err := json.Unmarshal(doc, &baseline); err != nil {
		return nil, fmt.Errorf("malformed baseline document: %w", err)
	}
	if baseline.ModelID == "" {
		return nil, fmt.Errorf("baseline document missing model_id")
	}

	if err := s.repo.Save(ctx, &baseline); err != nil {
		return nil, fmt.Errorf("failed to persist imported baseline: %w", err)
	}

	s.mu.Lock()
	s.cache[baseline.ModelID] = &baseline
	s.mu.Unlock()
	return &baseline, nil
}

// profileFeature extracts numeric values and data-quality statistics for
// one feature across the sample set.
func profileFeature(samples []*models.EvaluationRecord, feature string) ([]float64, models.FeatureQuality) {
	var numeric []float64
	categories := make(map[string]struct{})
	nulls := 0

	for _, rec := range samples {
		value, present := rec.Features[feature]
		if !present || value == nil {
			nulls++
			continue
		}
		if num, ok := NumericValue(value); ok {
			numeric = append(numeric, num)
			continue
		}
		if str, ok := value.(string); ok {
			categories[str] = struct{}{}
		}
	}

	quality := models.FeatureQuality{
		NullRate: float64(nulls) / float64(len(samples)),
	}
	if len(categories) > 0 {
		quality.Categories = make([]string, 0, len(categories))
		for cat := range categories {
			quality.Categories = append(quality.Categories, cat)
		}
		sort.Strings(quality.Categories)
	}
	return numeric, quality
}

// histogram builds a fixed-bin histogram over the value range. When every
// value is identical a single spike bin holds the full count.
func histogram(values []float64, bins int) models.FeatureHistogram {
	if bins < 1 {
		bins = 20
	}
	min, max := floats.Min(values), floats.Max(values)

	edges := make([]float64, bins+1)
	if min == max {
		// Degenerate range; widen slightly so binning stays well defined.
		min -= 0.5
		max += 0.5
	}
	width := (max - min) / float64(bins)
	for i := 0; i <= bins; i++ {
		edges[i] = min + float64(i)*width
	}

	counts := make([]float64, bins)
	for _, v := range values {
		idx := int((v - min) / width)
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		counts[idx]++
	}

	return models.FeatureHistogram{Edges: edges, Counts: counts}
}

// scoreDistribution summarizes the score sample with gonum.
func scoreDistribution(scores []float64, bins int) models.ScoreDistribution {
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	percentiles := map[string]float64{
		"p25": stat.Quantile(0.25, stat.Empirical, sorted, nil),
		"p50": stat.Quantile(0.50, stat.Empirical, sorted, nil),
		"p75": stat.Quantile(0.75, stat.Empirical, sorted, nil),
		"p90": stat.Quantile(0.90, stat.Empirical, sorted, nil),
		"p99": stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}

	return models.ScoreDistribution{
		Mean:        stat.Mean(scores, nil),
		StdDev:      stat.StdDev(scores, nil),
		Percentiles: percentiles,
		Histogram:   histogram(scores, bins),
	}
}

// groupOutcomes computes per-group positive outcome rates for one
// protected attribute. A positive outcome is a score at or above the
// configured threshold.
func groupOutcomes(samples []*models.EvaluationRecord, attr string, positiveThreshold float64) map[string]models.GroupOutcome {
	type tally struct {
		total    int
		positive int
	}
	tallies := make(map[string]*tally)

	for _, rec := range samples {
		group, ok := rec.ProtectedAttributes[attr]
		if !ok || group == "" {
			continue
		}
		t, ok := tallies[group]
		if !ok {
			t = &tally{}
			tallies[group] = t
		}
		t.total++
		if rec.Score >= positiveThreshold {
			t.positive++
		}
	}

	outcomes := make(map[string]models.GroupOutcome, len(tallies))
	for group, t := range tallies {
		outcomes[group] = models.GroupOutcome{
			Count:        t.total,
			PositiveRate: float64(t.positive) / float64(t.total),
		}
	}
	return outcomes
}

// NumericValue coerces the loosely typed feature payloads that arrive
// from JSON into a float64.
func NumericValue(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
