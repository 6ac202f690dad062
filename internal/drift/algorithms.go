// Package drift holds the stateless divergence computations. Every
// function operates on bounded histogram counts or rates, never raw
// per-sample vectors, so cost stays flat regardless of window size.
package drift

import (
	"math"

	"github.com/modelguard/drift-engine/internal/config"
	"github.com/modelguard/drift-engine/internal/models"
)

// Thresholds carries the severity cutpoints for every signal. The
// aggregation rule is worst-case across signals; both the rule's inputs
// and these cutpoints come from configuration rather than constants.
type Thresholds struct {
	Epsilon              float64
	PSIWarning           float64
	PSICritical          float64
	KLWarning            float64
	KLCritical           float64
	FairnessWarning      float64
	FairnessCritical     float64
	NullRateWarning      float64
	NullRateCritical     float64
	NewCategoryMaxShare  float64
	DisparateImpactFloor float64
}

// ThresholdsFromConfig maps the drift config section onto Thresholds.
func ThresholdsFromConfig(cfg *config.DriftConfig) Thresholds {
	return Thresholds{
		Epsilon:              cfg.Epsilon,
		PSIWarning:           cfg.PSIWarning,
		PSICritical:          cfg.PSICritical,
		KLWarning:            cfg.KLWarning,
		KLCritical:           cfg.KLCritical,
		FairnessWarning:      cfg.FairnessWarning,
		FairnessCritical:     cfg.FairnessCritical,
		NullRateWarning:      cfg.NullRateWarning,
		NullRateCritical:     cfg.NullRateCritical,
		NewCategoryMaxShare:  cfg.NewCategoryMaxShare,
		DisparateImpactFloor: cfg.DisparateImpactFloor,
	}
}

// DefaultThresholds returns the documented cutpoints.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Epsilon:              1e-6,
		PSIWarning:           0.1,
		PSICritical:          0.25,
		KLWarning:            0.1,
		KLCritical:           0.3,
		FairnessWarning:      0.05,
		FairnessCritical:     0.1,
		NullRateWarning:      0.05,
		NullRateCritical:     0.15,
		NewCategoryMaxShare:  0.02,
		DisparateImpactFloor: 0.8,
	}
}

// PSI computes the Population Stability Index between two histograms with
// identical bins. Both percentage vectors are floored at epsilon before the
// log, so identical or empty bins never produce NaN or infinity.
func (t Thresholds) PSI(base, current []float64) float64 {
	basePct := normalize(base, t.Epsilon)
	curPct := normalize(current, t.Epsilon)

	psi := 0.0
	for i := range basePct {
		psi += (curPct[i] - basePct[i]) * math.Log(curPct[i]/basePct[i])
	}
	return psi
}

// ClassifyPSI maps a PSI value onto a severity.
func (t Thresholds) ClassifyPSI(psi float64) models.Severity {
	switch {
	case psi >= t.PSICritical:
		return models.SeverityCritical
	case psi >= t.PSIWarning:
		return models.SeverityWarning
	default:
		return models.SeverityStable
	}
}

// KLDivergence computes the Kullback-Leibler divergence of the current
// histogram from the baseline histogram, with the same epsilon smoothing
// as PSI.
func (t Thresholds) KLDivergence(base, current []float64) float64 {
	basePct := normalize(base, t.Epsilon)
	curPct := normalize(current, t.Epsilon)

	kl := 0.0
	for i := range curPct {
		kl += curPct[i] * math.Log(curPct[i]/basePct[i])
	}
	return kl
}

// ClassifyKL maps a KL divergence onto a severity.
func (t Thresholds) ClassifyKL(kl float64) models.Severity {
	switch {
	case kl >= t.KLCritical:
		return models.SeverityCritical
	case kl >= t.KLWarning:
		return models.SeverityWarning
	default:
		return models.SeverityStable
	}
}

// Wasserstein computes the first Wasserstein distance between two
// histograms sharing bin edges, as the area between their empirical CDFs.
// It is a secondary signal with no mandated severity thresholds.
func Wasserstein(edges, base, current []float64) float64 {
	if len(base) == 0 || len(base) != len(current) || len(edges) != len(base)+1 {
		return 0
	}
	baseTotal := sum(base)
	curTotal := sum(current)
	if baseTotal == 0 || curTotal == 0 {
		return 0
	}

	distance := 0.0
	baseCDF, curCDF := 0.0, 0.0
	for i := range base {
		baseCDF += base[i] / baseTotal
		curCDF += current[i] / curTotal
		width := edges[i+1] - edges[i]
		distance += math.Abs(baseCDF-curCDF) * width
	}
	return distance
}

// FairnessDrift computes the absolute outcome-rate delta for one
// protected-attribute group.
func (t Thresholds) FairnessDrift(baselineRate, currentRate float64) models.GroupDrift {
	delta := math.Abs(currentRate - baselineRate)
	return models.GroupDrift{
		BaselineRate: baselineRate,
		CurrentRate:  currentRate,
		Delta:        delta,
		Severity:     t.classifyFairness(delta),
	}
}

func (t Thresholds) classifyFairness(delta float64) models.Severity {
	switch {
	case delta >= t.FairnessCritical:
		return models.SeverityCritical
	case delta >= t.FairnessWarning:
		return models.SeverityWarning
	default:
		return models.SeverityStable
	}
}

// DisparateImpactRatio is the min/max outcome-rate ratio across groups
// (the 80% rule). Returns 1 when fewer than two groups have data.
func DisparateImpactRatio(rates map[string]float64) float64 {
	if len(rates) < 2 {
		return 1
	}
	minRate, maxRate := math.Inf(1), math.Inf(-1)
	for _, r := range rates {
		minRate = math.Min(minRate, r)
		maxRate = math.Max(maxRate, r)
	}
	if maxRate <= 0 {
		return 1
	}
	return minRate / maxRate
}

// QualityDrift classifies the data-quality movement for one feature:
// null-rate increase plus any categorical values absent from the baseline
// category set. New categories are a warning once the rows carrying them
// exceed the configured share of the window.
func (t Thresholds) QualityDrift(baselineNullRate, currentNullRate float64, newCategories []string, newCategoryShare float64) models.QualityDrift {
	delta := currentNullRate - baselineNullRate

	severity := models.SeverityStable
	switch {
	case delta >= t.NullRateCritical:
		severity = models.SeverityCritical
	case delta >= t.NullRateWarning:
		severity = models.SeverityWarning
	}
	if len(newCategories) > 0 && newCategoryShare > t.NewCategoryMaxShare {
		severity = models.MaxSeverity(severity, models.SeverityWarning)
	}

	return models.QualityDrift{
		NullRateDelta:    delta,
		NewCategories:    newCategories,
		NewCategoryShare: newCategoryShare,
		Severity:         severity,
	}
}

// CosineSimilarity measures explanation stability between two
// feature-importance vectors. Returns 1 for empty or zero vectors so a
// missing importance signal never reads as drift.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// BinValues buckets values into the given bin edges. Values outside the
// edge range are clamped into the first or last bin, so current windows
// are always compared on the baseline's bins.
func BinValues(edges []float64, values []float64) []float64 {
	if len(edges) < 2 {
		return nil
	}
	counts := make([]float64, len(edges)-1)
	for _, v := range values {
		idx := 0
		for idx < len(counts)-1 && v >= edges[idx+1] {
			idx++
		}
		if v < edges[0] {
			idx = 0
		}
		counts[idx]++
	}
	return counts
}

// normalize converts counts to proportions with an epsilon floor.
func normalize(counts []float64, epsilon float64) []float64 {
	total := sum(counts)
	pct := make([]float64, len(counts))
	for i, c := range counts {
		if total > 0 {
			pct[i] = c / total
		}
		if pct[i] < epsilon {
			pct[i] = epsilon
		}
	}
	return pct
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}
