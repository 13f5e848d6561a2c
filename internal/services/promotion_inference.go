package services

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/platewise/platewise-go/internal/models"
)

// madScale converts a median absolute deviation into a consistent estimate
// of the standard deviation under normality.
const madScale = 1.4826

// PromotionInferenceConfig holds the tunables for statistical promotion
// detection.
type PromotionInferenceConfig struct {
	// MinHistoryDays is the minimum number of observed days before the
	// engine will flag anything at all.
	MinHistoryDays int
	// MinPromotionDays is the minimum run length of flagged days; shorter
	// runs are discarded as noise.
	MinPromotionDays int
	// SigmaThreshold is the number of robust standard deviations below
	// baseline a day's price must fall to be flagged.
	SigmaThreshold float64
	// ConfidenceThreshold filters the returned candidate periods.
	ConfidenceThreshold float64
}

// DefaultPromotionInferenceConfig returns the production defaults.
func DefaultPromotionInferenceConfig() PromotionInferenceConfig {
	return PromotionInferenceConfig{
		MinHistoryDays:      14,
		MinPromotionDays:    2,
		SigmaThreshold:      2.0,
		ConfidenceThreshold: 0.6,
	}
}

// PromotionInferenceEngine detects promotion periods in an item's daily
// price history. It is deliberately tuned for recall over precision: a
// false positive is cheap to review, while a missed promotion silently
// biases downstream elasticity estimates.
type PromotionInferenceEngine struct {
	cfg    PromotionInferenceConfig
	logger *logrus.Logger
}

// NewPromotionInferenceEngine creates a new inference engine.
func NewPromotionInferenceEngine(cfg PromotionInferenceConfig, logger *logrus.Logger) *PromotionInferenceEngine {
	if cfg.MinPromotionDays < 2 {
		cfg.MinPromotionDays = 2
	}
	return &PromotionInferenceEngine{cfg: cfg, logger: logger}
}

// InferPromotions analyzes an ordered daily observation series for one item
// and returns candidate promotion periods with confidence at or above the
// configured threshold.
//
// The engine abstains entirely (returns nil) when the series is too short
// or has no price dispersion, since a 2-sigma rule is meaningless in either
// case.
func (e *PromotionInferenceEngine) InferPromotions(item models.MenuItemRef, observations []models.PriceObservation) []models.PromotionPeriod {
	if len(observations) < e.cfg.MinHistoryDays {
		e.logger.WithFields(logrus.Fields{
			"item_id":      item.ItemID,
			"observations": len(observations),
			"min_required": e.cfg.MinHistoryDays,
		}).Debug("Skipping promotion inference: insufficient history")
		return nil
	}

	prices := make([]float64, len(observations))
	for i, obs := range observations {
		prices[i] = obs.UnitPrice
	}

	baseline := trimmedMean(prices, 0.10)
	sigma := robustStd(prices, baseline)
	if sigma == 0 {
		// Constant price series: nothing to infer.
		return nil
	}

	threshold := baseline - e.cfg.SigmaThreshold*sigma

	flagged := make([]bool, len(prices))
	for i, p := range prices {
		flagged[i] = p <= threshold
	}

	var periods []models.PromotionPeriod
	for _, run := range consecutiveRuns(flagged, e.cfg.MinPromotionDays) {
		period := e.scorePeriod(item, observations, prices, run, baseline, sigma)
		if period.Confidence >= e.cfg.ConfidenceThreshold {
			periods = append(periods, period)
		}
	}

	if len(periods) > 0 {
		e.logger.WithFields(logrus.Fields{
			"item_id":  item.ItemID,
			"periods":  len(periods),
			"baseline": baseline,
			"sigma":    sigma,
		}).Info("Inferred promotion periods")
	}

	return periods
}

// scorePeriod builds a PromotionPeriod for the run [start, end] and scores
// its confidence from three signals: how far the period's mean price sits
// below baseline, how long the period lasted (saturating at a week), and
// how flat the discounted price was. A sustained flat discount scores
// higher than a noisy dip of the same depth.
func (e *PromotionInferenceEngine) scorePeriod(item models.MenuItemRef, observations []models.PriceObservation, prices []float64, run indexRange, baseline, sigma float64) models.PromotionPeriod {
	periodPrices := prices[run.start : run.end+1]
	periodMean := mean(periodPrices)

	sigmaBelow := (baseline - periodMean) / sigma
	lengthFactor := math.Min(1.0, float64(run.end-run.start+1)/7.0)
	consistency := 1.0 - math.Min(1.0, stdDev(periodPrices)/sigma)

	confidence := 0.4*math.Min(1.0, sigmaBelow/2.0) +
		0.3*lengthFactor +
		0.3*consistency
	confidence = clamp01(confidence)

	discountPct := 0.0
	if baseline > 0 {
		discountPct = (baseline - periodMean) / baseline * 100
	}

	return models.PromotionPeriod{
		RestaurantID:   item.RestaurantID,
		ItemID:         item.ItemID,
		StartDate:      observations[run.start].Date,
		EndDate:        observations[run.end].Date,
		Confidence:     round2(confidence),
		Method:         "price_variance",
		BaselinePrice:  decimal.NewFromFloat(baseline).Round(2),
		PromoAvgPrice:  decimal.NewFromFloat(periodMean).Round(2),
		AvgDiscountPct: decimal.NewFromFloat(discountPct).Round(2),
	}
}

type indexRange struct {
	start, end int
}

// consecutiveRuns returns the index ranges of runs of true values with at
// least minLength elements.
func consecutiveRuns(flags []bool, minLength int) []indexRange {
	var runs []indexRange
	start := -1

	for i, f := range flags {
		switch {
		case f && start < 0:
			start = i
		case !f && start >= 0:
			if i-start >= minLength {
				runs = append(runs, indexRange{start: start, end: i - 1})
			}
			start = -1
		}
	}

	if start >= 0 && len(flags)-start >= minLength {
		runs = append(runs, indexRange{start: start, end: len(flags) - 1})
	}

	return runs
}

// trimmedMean drops the given fraction of observations from each tail before
// averaging. With fewer than ten observations it falls back to the median.
func trimmedMean(values []float64, trim float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) < 10 {
		return median(values)
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	trimCount := int(float64(len(sorted)) * trim)
	if trimCount < 1 {
		trimCount = 1
	}

	return mean(sorted[trimCount : len(sorted)-trimCount])
}

// robustStd estimates dispersion via the median absolute deviation around
// the baseline, scaled for normal consistency. Returns 0 for a constant
// series.
func robustStd(values []float64, baseline float64) float64 {
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - baseline)
	}
	return madScale * median(deviations)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - m
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
