package services

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/platewise-go/internal/models"
)

// elasticDemandSeries generates daily observations where log price follows a
// ten-day cycle and demand responds to price with a fixed elasticity:
//
//	log(p_t) = log(10) + 0.08*sin(2*pi*t/10)
//	log(q_t + 1) = intercept + elasticity*log(p_t) + noise_t
//
// The cycle period is chosen to stay out of phase with both the weekly
// calendar and month boundaries, and the lagged prices jointly span the
// cycle, so the instruments identify the price variation. The demand noise
// is a small deterministic wobble uncorrelated with price, calendar, and
// instruments.
func elasticDemandSeries(n int, elasticity float64) []models.PriceObservation {
	const intercept = 8.0
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	observations := make([]models.PriceObservation, n)
	for t := 0; t < n; t++ {
		date := start.AddDate(0, 0, t)
		logPrice := math.Log(10) + 0.08*math.Sin(2*math.Pi*float64(t)/10)
		noise := 0.01 * math.Sin(3*float64(t))
		quantity := math.Exp(intercept+elasticity*logPrice+noise) - 1

		observations[t] = models.PriceObservation{
			Date:         date,
			UnitPrice:    math.Exp(logPrice),
			QuantitySold: quantity,
			HoursOpen:    12,
			DayOfWeek:    int(date.Weekday()),
			Month:        int(date.Month()),
		}
	}
	return observations
}

func TestIVRegressor_RecoversTrueElasticity(t *testing.T) {
	regressor := NewInstrumentalVariableRegressor(DefaultIVRegressorConfig(), testLogger())

	const trueElasticity = -1.2
	observations := elasticDemandSeries(160, trueElasticity)

	estimate, err := regressor.Estimate(testItem("burgers", "10.00"), observations)
	require.NoError(t, err)
	require.NotNil(t, estimate)

	assert.InDelta(t, trueElasticity, estimate.Elasticity, 0.05)
	assert.Equal(t, models.MethodTwoStageLeastSquares, estimate.Method)
	assert.False(t, estimate.IsWeakInstrument)
	assert.GreaterOrEqual(t, estimate.FStat, 10.0)
	assert.Equal(t, 160-instrumentLagLong, estimate.SampleSize)
	assert.GreaterOrEqual(t, estimate.Confidence, 0.5)
	assert.LessOrEqual(t, estimate.CILower, estimate.Elasticity)
	assert.GreaterOrEqual(t, estimate.CIUpper, estimate.Elasticity)
}

func TestIVRegressor_DeclinesSmallSample(t *testing.T) {
	regressor := NewInstrumentalVariableRegressor(DefaultIVRegressorConfig(), testLogger())

	// 80 days leaves 52 usable rows after the 28-day lag, below the minimum.
	observations := elasticDemandSeries(80, -1.2)

	estimate, err := regressor.Estimate(testItem("burgers", "10.00"), observations)
	assert.NoError(t, err)
	assert.Nil(t, estimate)
}

func TestIVRegressor_DeclinesConstantPrice(t *testing.T) {
	regressor := NewInstrumentalVariableRegressor(DefaultIVRegressorConfig(), testLogger())

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	observations := make([]models.PriceObservation, 160)
	for t := range observations {
		date := start.AddDate(0, 0, t)
		observations[t] = models.PriceObservation{
			Date:         date,
			UnitPrice:    10.0,
			QuantitySold: 50,
			HoursOpen:    12,
			DayOfWeek:    int(date.Weekday()),
			Month:        int(date.Month()),
		}
	}

	estimate, err := regressor.Estimate(testItem("burgers", "10.00"), observations)
	assert.NoError(t, err)
	assert.Nil(t, estimate)
}

func TestIVRegressor_IgnoresMalformedObservations(t *testing.T) {
	regressor := NewInstrumentalVariableRegressor(DefaultIVRegressorConfig(), testLogger())

	observations := elasticDemandSeries(160, -1.2)
	// Corrupt a few rows; they should be dropped, not poison the estimate.
	observations[40].QuantitySold = -5
	observations[80].UnitPrice = 0
	observations[120].HoursOpen = 0

	estimate, err := regressor.Estimate(testItem("burgers", "10.00"), observations)
	require.NoError(t, err)
	require.NotNil(t, estimate)
	assert.InDelta(t, -1.2, estimate.Elasticity, 0.1)
}

func TestScoreConfidence(t *testing.T) {
	regressor := NewInstrumentalVariableRegressor(DefaultIVRegressorConfig(), testLogger())

	clean := regressor.scoreConfidence(-1.2, 0.2, 0.8, 50, 120, false)
	assert.Equal(t, 1.0, clean)

	weak := regressor.scoreConfidence(-1.2, 0.2, 0.8, 5, 120, true)
	assert.Less(t, weak, clean)

	wrongSign := regressor.scoreConfidence(1.2, 0.2, 0.8, 50, 120, false)
	assert.LessOrEqual(t, wrongSign, 0.2)

	implausiblyLarge := regressor.scoreConfidence(-7.0, 0.2, 0.8, 50, 120, false)
	assert.Less(t, implausiblyLarge, clean)

	small := regressor.scoreConfidence(-1.2, 0.2, 0.8, 50, 70, false)
	assert.Less(t, small, clean)

	wide := regressor.scoreConfidence(-1.2, 3.0, 0.8, 50, 120, false)
	assert.Less(t, wide, clean)
}

func TestBuildControls_DropsConstantColumns(t *testing.T) {
	// Same weekday, same month, constant hours, no promotions: only the
	// intercept survives.
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	observations := make([]models.PriceObservation, 5)
	for i := range observations {
		observations[i] = models.PriceObservation{
			Date:         date.AddDate(0, 0, i*7),
			UnitPrice:    10,
			QuantitySold: 50,
			HoursOpen:    12,
			DayOfWeek:    1,
			Month:        1,
		}
	}

	controls := buildControls(observations)
	require.Len(t, controls, 1)
	assert.Equal(t, []float64{1, 1, 1, 1, 1}, controls[0])
}

func TestDummyColumns_DropFirst(t *testing.T) {
	observations := []models.PriceObservation{
		{DayOfWeek: 0}, {DayOfWeek: 1}, {DayOfWeek: 2}, {DayOfWeek: 1},
	}

	columns := dummyColumns(observations, func(o models.PriceObservation) int { return o.DayOfWeek })

	// Three levels, smallest dropped as reference.
	require.Len(t, columns, 2)
	assert.Equal(t, []float64{0, 1, 0, 1}, columns[0])
	assert.Equal(t, []float64{0, 0, 1, 0}, columns[1])
}

func TestDistinctValues(t *testing.T) {
	assert.Equal(t, 3, distinctValues([]float64{1, 2, 1}, []float64{2, 3}))
	assert.Equal(t, 0, distinctValues())
}

func TestHasVariation(t *testing.T) {
	assert.False(t, hasVariation([]float64{1, 1, 1}))
	assert.True(t, hasVariation([]float64{1, 1, 2}))
}
