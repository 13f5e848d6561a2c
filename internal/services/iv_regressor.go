package services

import (
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platewise/platewise-go/internal/models"
)

// Instrument lags, in observed days. Prices seven and twenty-eight days
// back are correlated with today's price through menu-pricing inertia but
// not with today's demand shock, which is what makes them usable
// instruments.
const (
	instrumentLagShort = 7
	instrumentLagLong  = 28
	numInstruments     = 2
)

// IVRegressorConfig holds the applicability gates for 2SLS estimation.
type IVRegressorConfig struct {
	MinObservations int
	MinPricePoints  int
	WeakInstrumentF float64
}

// DefaultIVRegressorConfig returns the production defaults.
func DefaultIVRegressorConfig() IVRegressorConfig {
	return IVRegressorConfig{
		MinObservations: 60,
		MinPricePoints:  3,
		WeakInstrumentF: 10.0,
	}
}

// InstrumentalVariableRegressor estimates price elasticity of demand via
// two-stage least squares:
//
//	Stage 1: log(P_t) = γ0 + γ1·log(P_{t-7}) + γ2·log(P_{t-28}) + controls + u_t
//	Stage 2: log(Q_t) = β0 + β1·P̂_t + controls + ε_t
//
// β1 is the elasticity. Lagged prices instrument for current price to
// address endogeneity: promotions are timed against expected demand, so a
// plain regression of quantity on price is biased.
type InstrumentalVariableRegressor struct {
	cfg    IVRegressorConfig
	logger *logrus.Logger
}

// NewInstrumentalVariableRegressor creates a new 2SLS estimator.
func NewInstrumentalVariableRegressor(cfg IVRegressorConfig, logger *logrus.Logger) *InstrumentalVariableRegressor {
	return &InstrumentalVariableRegressor{cfg: cfg, logger: logger}
}

// Estimate runs 2SLS over the item's daily observation series. It declines
// by returning (nil, nil) when the data cannot support the method: too few
// usable observations, too little price variation among the instruments, or
// a singular design matrix. Callers treat a decline exactly like
// insufficient data and move to the next fallback level.
func (r *InstrumentalVariableRegressor) Estimate(item models.MenuItemRef, observations []models.PriceObservation) (*models.ElasticityEstimate, error) {
	frame := r.buildFrame(item, observations)
	if frame == nil {
		return nil, nil
	}

	// Stage 1: instrument the endogenous price.
	stage1X := appendColumns(frame.instruments, frame.controls)
	stage1, err := olsFit(stage1X, frame.logPrice)
	if errors.Is(err, ErrSingularMatrix) {
		r.logger.WithField("item_id", item.ItemID).Warn("2SLS declined: collinear first-stage design")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fStat := firstStageF(stage1.RSquared, frame.n, numInstruments)
	isWeak := fStat < r.cfg.WeakInstrumentF

	// Stage 2: regress log quantity on the instrumented price.
	stage2X := appendColumns(columnMatrix(stage1.Fitted), frame.controls)
	stage2, err := olsFit(stage2X, frame.logQuantity)
	if errors.Is(err, ErrSingularMatrix) {
		r.logger.WithField("item_id", item.ItemID).Warn("2SLS declined: collinear second-stage design")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	stdErrs, err := hc3StdErrors(stage2X, stage2)
	if errors.Is(err, ErrSingularMatrix) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	elasticity := stage2.Coefficients[0]
	stdError := stdErrs[0]
	ciLower := elasticity - 1.96*stdError
	ciUpper := elasticity + 1.96*stdError

	confidence := r.scoreConfidence(elasticity, ciUpper-ciLower, stage2.RSquared, fStat, frame.n, isWeak)

	r.logger.WithFields(logrus.Fields{
		"item_id":     item.ItemID,
		"elasticity":  elasticity,
		"std_error":   stdError,
		"f_stat":      fStat,
		"sample_size": frame.n,
		"confidence":  confidence,
	}).Info("2SLS elasticity estimated")

	return &models.ElasticityEstimate{
		RestaurantID:     item.RestaurantID,
		ItemID:           item.ItemID,
		Elasticity:       elasticity,
		StdError:         stdError,
		CILower:          ciLower,
		CIUpper:          ciUpper,
		SampleSize:       frame.n,
		Confidence:       confidence,
		Method:           models.MethodTwoStageLeastSquares,
		RSquared:         stage2.RSquared,
		FStat:            fStat,
		IsWeakInstrument: isWeak,
		EstimatedAt:      time.Now().UTC(),
	}, nil
}

// regressionFrame is the prepared 2SLS input: log-transformed variables
// with lagged instruments aligned and degenerate control columns removed.
type regressionFrame struct {
	n           int
	logPrice    []float64
	logQuantity []float64
	instruments [][]float64
	controls    [][]float64
}

// buildFrame filters malformed observations, applies log transforms, lags
// the instruments, and assembles the control matrix. Returns nil when the
// usable sample fails the applicability gates.
func (r *InstrumentalVariableRegressor) buildFrame(item models.MenuItemRef, observations []models.PriceObservation) *regressionFrame {
	clean := filterMalformed(item, observations, r.logger)
	if len(clean) <= instrumentLagLong {
		return nil
	}

	logPriceAll := make([]float64, len(clean))
	for i, obs := range clean {
		logPriceAll[i] = math.Log(obs.UnitPrice)
	}

	// Rows before the longest lag have no instrument values.
	usable := clean[instrumentLagLong:]
	n := len(usable)
	if n < r.cfg.MinObservations {
		return nil
	}

	lag7 := make([]float64, n)
	lag28 := make([]float64, n)
	logPrice := make([]float64, n)
	logQuantity := make([]float64, n)
	for i := range usable {
		full := i + instrumentLagLong
		lag7[i] = logPriceAll[full-instrumentLagShort]
		lag28[i] = logPriceAll[full-instrumentLagLong]
		logPrice[i] = logPriceAll[full]
		// log(q+1) keeps zero-sale days in the sample.
		logQuantity[i] = math.Log(usable[i].QuantitySold + 1)
	}

	if distinctValues(lag7, lag28) < r.cfg.MinPricePoints {
		return nil
	}

	return &regressionFrame{
		n:           n,
		logPrice:    logPrice,
		logQuantity: logQuantity,
		instruments: [][]float64{lag7, lag28},
		controls:    buildControls(usable),
	}
}

// buildControls assembles the exogenous control columns: an intercept,
// drop-first day-of-week and month dummies, the promotion indicator, and
// hours open. Columns with no variation are dropped so the normal
// equations stay non-singular.
func buildControls(observations []models.PriceObservation) [][]float64 {
	n := len(observations)

	var columns [][]float64

	intercept := make([]float64, n)
	for i := range intercept {
		intercept[i] = 1
	}
	columns = append(columns, intercept)

	columns = append(columns, dummyColumns(observations, func(o models.PriceObservation) int { return o.DayOfWeek })...)
	columns = append(columns, dummyColumns(observations, func(o models.PriceObservation) int { return o.Month })...)

	promo := make([]float64, n)
	hours := make([]float64, n)
	for i, obs := range observations {
		if obs.IsPromotion {
			promo[i] = 1
		}
		hours[i] = obs.HoursOpen
	}
	if hasVariation(promo) {
		columns = append(columns, promo)
	}
	if hasVariation(hours) {
		columns = append(columns, hours)
	}

	return columns
}

// dummyColumns builds drop-first indicator columns for the distinct values
// of the keyed calendar field.
func dummyColumns(observations []models.PriceObservation, key func(models.PriceObservation) int) [][]float64 {
	seen := map[int]bool{}
	var levels []int
	for _, obs := range observations {
		if !seen[key(obs)] {
			seen[key(obs)] = true
			levels = append(levels, key(obs))
		}
	}
	if len(levels) < 2 {
		return nil
	}

	// Drop the smallest level as the reference category.
	ref := levels[0]
	for _, l := range levels {
		if l < ref {
			ref = l
		}
	}

	var columns [][]float64
	for _, level := range levels {
		if level == ref {
			continue
		}
		col := make([]float64, len(observations))
		for i, obs := range observations {
			if key(obs) == level {
				col[i] = 1
			}
		}
		columns = append(columns, col)
	}
	return columns
}

// filterMalformed drops observations the regression cannot use: negative
// quantities, non-positive hours open, and non-positive prices. Each drop
// is logged but never aborts the estimation.
func filterMalformed(item models.MenuItemRef, observations []models.PriceObservation, logger *logrus.Logger) []models.PriceObservation {
	clean := make([]models.PriceObservation, 0, len(observations))
	dropped := 0
	for _, obs := range observations {
		if obs.QuantitySold < 0 || obs.HoursOpen <= 0 || obs.UnitPrice <= 0 {
			dropped++
			continue
		}
		clean = append(clean, obs)
	}
	if dropped > 0 {
		logger.WithFields(logrus.Fields{
			"item_id": item.ItemID,
			"dropped": dropped,
		}).Warn("Excluded malformed observations from regression sample")
	}
	return clean
}

// scoreConfidence converts regression diagnostics into a [0,1] confidence
// score. Penalties compose multiplicatively so that several mild problems
// compound the way independent doubts should; only the direction of each
// penalty is load-bearing. Implausible estimates are down-weighted rather
// than discarded, leaving rejection to the fallback hierarchy.
func (r *InstrumentalVariableRegressor) scoreConfidence(elasticity, ciWidth, rSq, fStat float64, sampleSize int, isWeak bool) float64 {
	score := 1.0

	if sampleSize < 90 {
		score *= 0.75
	}

	if isWeak {
		score *= 0.5
	} else if fStat < 2*r.cfg.WeakInstrumentF {
		score *= 0.8
	}

	if ciWidth > 2.0 {
		score *= 0.6
	} else if ciWidth > 1.0 {
		score *= 0.8
	}

	if rSq < 0.3 {
		score *= 0.7
	} else if rSq < 0.5 {
		score *= 0.85
	}

	switch {
	case elasticity >= 0:
		// Wrong sign: demand should fall as price rises.
		score *= 0.2
	case math.Abs(elasticity) > 5:
		score *= 0.5
	case math.Abs(elasticity) < 0.1:
		// Suspiciously inelastic, likely measurement error.
		score *= 0.6
	}

	return clamp01(score)
}

func distinctValues(columns ...[]float64) int {
	seen := map[float64]bool{}
	for _, col := range columns {
		for _, v := range col {
			seen[v] = true
		}
	}
	return len(seen)
}

func hasVariation(column []float64) bool {
	for _, v := range column[1:] {
		if v != column[0] {
			return true
		}
	}
	return false
}

// appendColumns concatenates column sets and converts them into the
// row-major design matrix olsFit expects.
func appendColumns(columnSets ...[][]float64) [][]float64 {
	var columns [][]float64
	for _, set := range columnSets {
		columns = append(columns, set...)
	}

	n := len(columns[0])
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = make([]float64, len(columns))
		for j, col := range columns {
			rows[i][j] = col[i]
		}
	}
	return rows
}

func columnMatrix(column []float64) [][]float64 {
	return [][]float64{column}
}
