package worker

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/modelguard/drift-engine/internal/baseline"
	"github.com/modelguard/drift-engine/internal/drift"
	"github.com/modelguard/drift-engine/internal/models"
)

// Compute evaluates one window of records against a baseline and returns
// the snapshot. positiveThreshold is the same outcome cutpoint the
// baseline was built with, so current windows are judged by the rule as
// the reference data. Compute is pure: no I/O, no mutation of the
// baseline.
func Compute(t drift.Thresholds, base *models.Baseline, records []*models.EvaluationRecord, windowStart, windowEnd time.Time, positiveThreshold float64) *models.DriftSnapshot {
	snapshot := &models.DriftSnapshot{
		ModelID:        base.ModelID,
		WindowStart:    windowStart,
		WindowEnd:      windowEnd,
		SampleCount:    len(records),
		FeatureDrifts:  make(map[string]models.SignalDrift),
		FairnessDrifts: make(map[string]models.GroupDrift),
		QualityDrifts:  make(map[string]models.QualityDrift),
		CreatedAt:      time.Now().UTC(),
	}

	var severities []models.Severity

	for _, feature := range base.FeatureNames {
		profile := profileWindow(records, feature)

		if hist, ok := base.FeatureHistograms[feature]; ok && len(profile.numeric) > 0 {
			current := drift.BinValues(hist.Edges, profile.numeric)
			psi := t.PSI(hist.Counts, current)
			signal := models.SignalDrift{Score: psi, Severity: t.ClassifyPSI(psi)}
			snapshot.FeatureDrifts[feature] = signal
			severities = append(severities, signal.Severity)
		}

		quality := qualityDrift(t, base, feature, profile, len(records))
		snapshot.QualityDrifts[feature] = quality
		severities = append(severities, quality.Severity)
	}

	scores := make([]float64, 0, len(records))
	for _, rec := range records {
		scores = append(scores, rec.Score)
	}
	scoreHist := base.ScoreDistribution.Histogram
	if len(scoreHist.Edges) >= 2 {
		current := drift.BinValues(scoreHist.Edges, scores)
		kl := t.KLDivergence(scoreHist.Counts, current)
		snapshot.ScoreDrift = models.SignalDrift{Score: kl, Severity: t.ClassifyKL(kl)}
		snapshot.ScoreWasserstein = drift.Wasserstein(scoreHist.Edges, scoreHist.Counts, current)
		severities = append(severities, snapshot.ScoreDrift.Severity)
	}

	for _, attr := range base.ProtectedAttributes {
		baseGroups := base.FairnessStats[attr]
		currentRates := groupRates(records, attr, positiveThreshold)
		impact := drift.DisparateImpactRatio(currentRates)
		for group, outcome := range baseGroups {
			currentRate, ok := currentRates[group]
			if !ok {
				continue
			}
			gd := t.FairnessDrift(outcome.PositiveRate, currentRate)
			gd.DisparateImpact = impact
			if impact < t.DisparateImpactFloor {
				// The 80% rule is breached in the current window even if
				// no single group moved far from its baseline rate.
				gd.Severity = models.MaxSeverity(gd.Severity, models.SeverityWarning)
			}
			snapshot.FairnessDrifts[attr+":"+group] = gd
			severities = append(severities, gd.Severity)
		}
	}

	if len(base.FeatureImportance) > 0 {
		if similarity, ok := explanationSimilarity(base, records, scores); ok {
			snapshot.ExplanationSimilarity = &similarity
		}
	}

	snapshot.OverallStatus = models.MaxSeverity(severities...)
	return snapshot
}

// windowProfile is what one feature looks like inside the current window.
type windowProfile struct {
	numeric      []float64
	nulls        int
	categoryRows map[string]int
}

func profileWindow(records []*models.EvaluationRecord, feature string) windowProfile {
	profile := windowProfile{categoryRows: make(map[string]int)}
	for _, rec := range records {
		value, present := rec.Features[feature]
		if !present || value == nil {
			profile.nulls++
			continue
		}
		if num, ok := baseline.NumericValue(value); ok {
			profile.numeric = append(profile.numeric, num)
			continue
		}
		if str, ok := value.(string); ok {
			profile.categoryRows[str]++
		}
	}
	return profile
}

func qualityDrift(t drift.Thresholds, base *models.Baseline, feature string, profile windowProfile, total int) models.QualityDrift {
	baseQuality := base.DataQualityStats[feature]
	currentNullRate := 0.0
	if total > 0 {
		currentNullRate = float64(profile.nulls) / float64(total)
	}

	known := make(map[string]struct{}, len(baseQuality.Categories))
	for _, cat := range baseQuality.Categories {
		known[cat] = struct{}{}
	}

	var newCategories []string
	newRows := 0
	for cat, rows := range profile.categoryRows {
		if _, ok := known[cat]; !ok {
			newCategories = append(newCategories, cat)
			newRows += rows
		}
	}
	sort.Strings(newCategories)

	share := 0.0
	if total > 0 {
		share = float64(newRows) / float64(total)
	}
	return t.QualityDrift(baseQuality.NullRate, currentNullRate, newCategories, share)
}

func groupRates(records []*models.EvaluationRecord, attr string, positiveThreshold float64) map[string]float64 {
	type tally struct {
		total    int
		positive int
	}
	tallies := make(map[string]*tally)
	for _, rec := range records {
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

	rates := make(map[string]float64, len(tallies))
	for group, t := range tallies {
		rates[group] = float64(t.positive) / float64(t.total)
	}
	return rates
}

// explanationSimilarity compares the baseline feature-importance vector
// with a correlation-derived importance estimate from the current window.
// Features without enough numeric data in the window are skipped; the
// signal is reported only when at least two features can be compared.
func explanationSimilarity(base *models.Baseline, records []*models.EvaluationRecord, scores []float64) (float64, bool) {
	features := make([]string, 0, len(base.FeatureImportance))
	for feature := range base.FeatureImportance {
		features = append(features, feature)
	}
	sort.Strings(features)

	var baseVec, currentVec []float64
	for _, feature := range features {
		values := make([]float64, 0, len(records))
		weights := make([]float64, 0, len(records))
		for i, rec := range records {
			value, present := rec.Features[feature]
			if !present || value == nil {
				continue
			}
			num, ok := baseline.NumericValue(value)
			if !ok {
				continue
			}
			values = append(values, num)
			weights = append(weights, scores[i])
		}
		if len(values) < 2 {
			continue
		}
		corr := stat.Correlation(values, weights, nil)
		if math.IsNaN(corr) {
			corr = 0
		}
		baseVec = append(baseVec, base.FeatureImportance[feature])
		currentVec = append(currentVec, math.Abs(corr))
	}

	if len(baseVec) < 2 {
		return 0, false
	}
	return drift.CosineSimilarity(baseVec, currentVec), true
}
