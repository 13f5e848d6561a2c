package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/platewise-go/internal/models"
)

// stubEstimateSource serves canned peer estimates to the pooling levels.
type stubEstimateSource struct {
	category   []models.ElasticityEstimate
	tier       []models.ElasticityEstimate
	restaurant []models.ElasticityEstimate
	err        error
}

func (s *stubEstimateSource) CategoryEstimates(_ context.Context, _ uuid.UUID, _ string, _ uuid.UUID) ([]models.ElasticityEstimate, error) {
	return s.category, s.err
}

func (s *stubEstimateSource) TierEstimates(_ context.Context, _ uuid.UUID, _ string, _ uuid.UUID) ([]models.ElasticityEstimate, error) {
	return s.tier, s.err
}

func (s *stubEstimateSource) RestaurantEstimates(_ context.Context, _ uuid.UUID, _ uuid.UUID) ([]models.ElasticityEstimate, error) {
	return s.restaurant, s.err
}

func newTestHierarchy(source EstimateSource) *ElasticityFallbackHierarchy {
	logger := testLogger()
	regressor := NewInstrumentalVariableRegressor(DefaultIVRegressorConfig(), logger)
	return NewElasticityFallbackHierarchy(DefaultHierarchyConfig(), regressor, NewIndustryPriorTable(), source, logger)
}

func peerEstimates(n int, mean, std float64) []models.ElasticityEstimate {
	estimates := make([]models.ElasticityEstimate, n)
	for i := range estimates {
		estimates[i] = models.ElasticityEstimate{
			ItemID:     uuid.New(),
			Elasticity: mean,
			StdError:   std,
			SampleSize: 100,
			Method:     models.MethodTwoStageLeastSquares,
		}
	}
	return estimates
}

// twoPriceSeries builds observations at two alternating price levels whose
// log-log demand relation has the given slope, with a small alternating
// wobble so the OLS standard error stays positive.
func twoPriceSeries(n int, slope float64) []models.PriceObservation {
	const intercept = 6.0
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	observations := make([]models.PriceObservation, n)
	for i := 0; i < n; i++ {
		date := start.AddDate(0, 0, i)
		price := 10.0
		if i%2 == 1 {
			price = 12.0
		}
		wobble := 0.1
		if i%4 < 2 {
			wobble = -0.1
		}
		logQ := intercept + slope*math.Log(price) + wobble
		observations[i] = models.PriceObservation{
			Date:         date,
			UnitPrice:    price,
			QuantitySold: math.Exp(logQ) - 1,
			HoursOpen:    12,
			DayOfWeek:    int(date.Weekday()),
			Month:        int(date.Month()),
		}
	}
	return observations
}

func TestHierarchy_NeverFails(t *testing.T) {
	hierarchy := newTestHierarchy(&stubEstimateSource{})

	tests := []struct {
		name string
		item models.MenuItemRef
	}{
		{"known category", testItem("pizza", "12.00")},
		{"unknown category", testItem("sushi", "12.00")},
		{"no category", testItem("", "12.00")},
		{"no category, off-scale price", testItem("", "2000.00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			estimate := hierarchy.Estimate(context.Background(), tt.item, nil)

			require.NotNil(t, estimate)
			assert.Greater(t, estimate.Confidence, 0.0)
			assert.Negative(t, estimate.Elasticity)
			assert.Equal(t, models.MethodIndustryDefault, estimate.Method)
		})
	}
}

func TestHierarchy_IndustryDefaultConfidenceLadder(t *testing.T) {
	hierarchy := newTestHierarchy(&stubEstimateSource{})
	ctx := context.Background()

	byCategory := hierarchy.Estimate(ctx, testItem("pizza", "12.00"), nil)
	assert.Equal(t, 0.25, byCategory.Confidence)
	assert.Equal(t, -1.5, byCategory.Elasticity)

	byTier := hierarchy.Estimate(ctx, testItem("sushi", "12.00"), nil)
	assert.Equal(t, 0.20, byTier.Confidence)
	assert.Equal(t, -1.2, byTier.Elasticity)

	generic := hierarchy.Estimate(ctx, testItem("sushi", "2000.00"), nil)
	assert.Equal(t, 0.15, generic.Confidence)
	assert.Equal(t, -1.1, generic.Elasticity)
}

func TestHierarchy_TwoStageWinsWithRichData(t *testing.T) {
	hierarchy := newTestHierarchy(&stubEstimateSource{
		category: peerEstimates(5, -1.0, 0.2),
	})

	observations := elasticDemandSeries(160, -1.2)
	estimate := hierarchy.Estimate(context.Background(), testItem("burgers", "10.00"), observations)

	require.NotNil(t, estimate)
	assert.Equal(t, models.MethodTwoStageLeastSquares, estimate.Method)
	assert.InDelta(t, -1.2, estimate.Elasticity, 0.05)
}

func TestHierarchy_BayesianShrinkage(t *testing.T) {
	hierarchy := newTestHierarchy(&stubEstimateSource{})

	// 30 observations with a log-log slope of -2.0, pizza prior is -1.5:
	// the posterior must land strictly between sample and prior.
	observations := twoPriceSeries(30, -2.0)
	estimate := hierarchy.Estimate(context.Background(), testItem("pizza", "11.00"), observations)

	require.NotNil(t, estimate)
	assert.Equal(t, models.MethodBayesianShrinkage, estimate.Method)
	assert.Greater(t, estimate.Elasticity, -2.0)
	assert.Less(t, estimate.Elasticity, -1.5)
	assert.Equal(t, 30, estimate.SampleSize)
	assert.InDelta(t, 0.56, estimate.Confidence, 0.001)
}

func TestHierarchy_BayesianNeedsPrior(t *testing.T) {
	hierarchy := newTestHierarchy(&stubEstimateSource{
		restaurant: peerEstimates(2, -1.3, 0.3),
	})

	// No prior for an unknown category, so shrinkage declines and the
	// hierarchy falls through to the restaurant average.
	observations := twoPriceSeries(30, -2.0)
	estimate := hierarchy.Estimate(context.Background(), testItem("sushi", "11.00"), observations)

	require.NotNil(t, estimate)
	assert.Equal(t, models.MethodRestaurantAverage, estimate.Method)
}

func TestHierarchy_CategoryPooled(t *testing.T) {
	hierarchy := newTestHierarchy(&stubEstimateSource{
		category: peerEstimates(4, -1.0, 0.2),
	})

	// Ten observations: too few for 2SLS and shrinkage alike.
	observations := twoPriceSeries(10, -2.0)
	estimate := hierarchy.Estimate(context.Background(), testItem("pizza", "11.00"), observations)

	require.NotNil(t, estimate)
	assert.Equal(t, models.MethodCategoryPooled, estimate.Method)
	assert.InDelta(t, -1.0, estimate.Elasticity, 1e-9)
	assert.InDelta(t, 0.48, estimate.Confidence, 0.001)
	assert.Equal(t, 400, estimate.SampleSize)
}

func TestHierarchy_CategoryPooledNeedsEnoughPeers(t *testing.T) {
	hierarchy := newTestHierarchy(&stubEstimateSource{
		category: peerEstimates(2, -1.0, 0.2),
		tier:     peerEstimates(6, -0.9, 0.3),
	})

	estimate := hierarchy.Estimate(context.Background(), testItem("pizza", "11.00"), nil)

	require.NotNil(t, estimate)
	assert.Equal(t, models.MethodPriceTierPooled, estimate.Method)
	assert.InDelta(t, -0.9, estimate.Elasticity, 1e-9)
	assert.InDelta(t, 0.42, estimate.Confidence, 0.001)
}

func TestHierarchy_RestaurantAverage(t *testing.T) {
	hierarchy := newTestHierarchy(&stubEstimateSource{
		restaurant: []models.ElasticityEstimate{
			{ItemID: uuid.New(), Elasticity: -1.0, StdError: 0.2},
			{ItemID: uuid.New(), Elasticity: -2.0, StdError: 0.4},
		},
	})

	estimate := hierarchy.Estimate(context.Background(), testItem("", "12.00"), nil)

	require.NotNil(t, estimate)
	assert.Equal(t, models.MethodRestaurantAverage, estimate.Method)
	// Restaurant-wide fallback is an unweighted mean.
	assert.InDelta(t, -1.5, estimate.Elasticity, 1e-9)
}

func TestHierarchy_SourceErrorsFallThrough(t *testing.T) {
	hierarchy := newTestHierarchy(&stubEstimateSource{
		err: errors.New("database unavailable"),
	})

	estimate := hierarchy.Estimate(context.Background(), testItem("pizza", "12.00"), nil)

	require.NotNil(t, estimate)
	assert.Equal(t, models.MethodIndustryDefault, estimate.Method)
}

func TestHierarchy_CancelledContextShortCircuits(t *testing.T) {
	hierarchy := newTestHierarchy(&stubEstimateSource{
		category: peerEstimates(5, -1.0, 0.2),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	estimate := hierarchy.Estimate(ctx, testItem("pizza", "12.00"), elasticDemandSeries(160, -1.2))

	require.NotNil(t, estimate)
	assert.Equal(t, models.MethodIndustryDefault, estimate.Method)
}

func TestHierarchy_ConfidenceOrdering(t *testing.T) {
	// Confidence should not increase as the hierarchy degrades from rich
	// item-level data to the industry default.
	ctx := context.Background()
	item := testItem("burgers", "10.00")

	rich := newTestHierarchy(&stubEstimateSource{}).Estimate(ctx, item, elasticDemandSeries(160, -1.2))
	pooled := newTestHierarchy(&stubEstimateSource{category: peerEstimates(4, -1.0, 0.2)}).Estimate(ctx, item, nil)
	fallback := newTestHierarchy(&stubEstimateSource{}).Estimate(ctx, item, nil)

	assert.Equal(t, models.MethodTwoStageLeastSquares, rich.Method)
	assert.Equal(t, models.MethodCategoryPooled, pooled.Method)
	assert.Equal(t, models.MethodIndustryDefault, fallback.Method)

	assert.GreaterOrEqual(t, rich.Confidence, pooled.Confidence)
	assert.GreaterOrEqual(t, pooled.Confidence, fallback.Confidence)
}

func TestDistinctPrices(t *testing.T) {
	observations := []models.PriceObservation{
		{UnitPrice: 10}, {UnitPrice: 10}, {UnitPrice: 12}, {UnitPrice: 9.5},
	}
	assert.Equal(t, 3, distinctPrices(observations))
	assert.Equal(t, 0, distinctPrices(nil))
}
