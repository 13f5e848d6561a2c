package services

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platewise/platewise-go/internal/models"
)

// EstimateSource provides previously computed estimates for the pooling
// levels of the hierarchy. The queried item itself is always excluded so an
// item never pools with its own stale estimate.
type EstimateSource interface {
	CategoryEstimates(ctx context.Context, restaurantID uuid.UUID, category string, excludeItem uuid.UUID) ([]models.ElasticityEstimate, error)
	TierEstimates(ctx context.Context, restaurantID uuid.UUID, tier string, excludeItem uuid.UUID) ([]models.ElasticityEstimate, error)
	RestaurantEstimates(ctx context.Context, restaurantID uuid.UUID, excludeItem uuid.UUID) ([]models.ElasticityEstimate, error)
}

// HierarchyConfig holds the applicability gates for the fallback levels
// below 2SLS.
type HierarchyConfig struct {
	BayesianMinObs       int
	BayesianMinPrices    int
	MinAcceptedTwoStage  float64
	MinCategoryEstimates int
	MinTierEstimates     int
}

// DefaultHierarchyConfig returns the production defaults.
func DefaultHierarchyConfig() HierarchyConfig {
	return HierarchyConfig{
		BayesianMinObs:       20,
		BayesianMinPrices:    2,
		MinAcceptedTwoStage:  0.5,
		MinCategoryEstimates: 3,
		MinTierEstimates:     5,
	}
}

// ElasticityFallbackHierarchy estimates elasticity with the best method the
// data supports, falling through six levels in strict priority order:
//
//	1. Item-level 2SLS
//	2. Bayesian shrinkage toward the category prior
//	3. Category-pooled estimate
//	4. Price-tier-pooled estimate
//	5. Restaurant average
//	6. Industry default (always succeeds)
//
// Each level owns its failure handling; the industry default anchors the
// guarantee that Estimate never fails.
type ElasticityFallbackHierarchy struct {
	cfg       HierarchyConfig
	regressor *InstrumentalVariableRegressor
	priors    *IndustryPriorTable
	source    EstimateSource
	logger    *logrus.Logger
}

// NewElasticityFallbackHierarchy wires the hierarchy. The prior table is
// injected as an immutable value; the estimate source backs levels 3-5.
func NewElasticityFallbackHierarchy(
	cfg HierarchyConfig,
	regressor *InstrumentalVariableRegressor,
	priors *IndustryPriorTable,
	source EstimateSource,
	logger *logrus.Logger,
) *ElasticityFallbackHierarchy {
	return &ElasticityFallbackHierarchy{
		cfg:       cfg,
		regressor: regressor,
		priors:    priors,
		source:    source,
		logger:    logger,
	}
}

// strategy pairs an applicability predicate with an estimator. A strategy
// whose predicate holds may still decline by returning nil; the controller
// then moves on.
type strategy struct {
	name       models.EstimationMethod
	applicable func(*estimationInput) bool
	estimate   func(context.Context, *estimationInput) *models.ElasticityEstimate
}

// estimationInput is the cleaned, pre-analyzed input shared by all levels.
type estimationInput struct {
	item         models.MenuItemRef
	observations []models.PriceObservation
	sampleSize   int
	priceLevels  int
}

// Estimate always returns a usable estimate with confidence > 0; the
// industry default level cannot decline. If the context is cancelled
// between levels, the remaining data-hungry levels are skipped and the
// industry default is returned immediately, since each level's cost is
// bounded and decreasing down the list.
func (h *ElasticityFallbackHierarchy) Estimate(ctx context.Context, item models.MenuItemRef, observations []models.PriceObservation) *models.ElasticityEstimate {
	clean := filterMalformed(item, observations, h.logger)

	input := &estimationInput{
		item:         item,
		observations: clean,
		sampleSize:   len(clean),
		priceLevels:  distinctPrices(clean),
	}

	for _, s := range h.strategies() {
		if ctx.Err() != nil {
			h.logger.WithField("item_id", item.ItemID).Warn("Estimation deadline hit, returning industry default")
			break
		}
		if !s.applicable(input) {
			h.logger.WithFields(logrus.Fields{
				"item_id": item.ItemID,
				"method":  s.name,
			}).Debug("Fallback level not applicable")
			continue
		}
		if estimate := s.estimate(ctx, input); estimate != nil {
			h.logger.WithFields(logrus.Fields{
				"item_id":    item.ItemID,
				"method":     estimate.Method,
				"elasticity": estimate.Elasticity,
				"confidence": estimate.Confidence,
			}).Info("Elasticity estimated")
			return estimate
		}
	}

	return h.industryDefault(input)
}

func (h *ElasticityFallbackHierarchy) strategies() []strategy {
	return []strategy{
		{
			name: models.MethodTwoStageLeastSquares,
			applicable: func(in *estimationInput) bool {
				return in.sampleSize >= h.regressor.cfg.MinObservations &&
					in.priceLevels >= h.regressor.cfg.MinPricePoints
			},
			estimate: h.tryTwoStage,
		},
		{
			name: models.MethodBayesianShrinkage,
			applicable: func(in *estimationInput) bool {
				return in.sampleSize >= h.cfg.BayesianMinObs &&
					in.priceLevels >= h.cfg.BayesianMinPrices
			},
			estimate: h.tryBayesian,
		},
		{
			name: models.MethodCategoryPooled,
			applicable: func(in *estimationInput) bool {
				return in.item.Category != ""
			},
			estimate: h.tryCategoryPooled,
		},
		{
			name:       models.MethodPriceTierPooled,
			applicable: func(in *estimationInput) bool { return true },
			estimate:   h.tryTierPooled,
		},
		{
			name:       models.MethodRestaurantAverage,
			applicable: func(in *estimationInput) bool { return true },
			estimate:   h.tryRestaurantAverage,
		},
	}
}

func (h *ElasticityFallbackHierarchy) tryTwoStage(_ context.Context, in *estimationInput) *models.ElasticityEstimate {
	estimate, err := h.regressor.Estimate(in.item, in.observations)
	if err != nil {
		h.logger.WithError(err).WithField("item_id", in.item.ItemID).Error("2SLS estimation failed")
		return nil
	}
	if estimate == nil || estimate.Confidence < h.cfg.MinAcceptedTwoStage {
		return nil
	}
	return estimate
}

// tryBayesian runs a lower-powered log-log OLS on the item's limited data
// and shrinks it toward the category prior by precision weighting. Small
// samples are pulled strongly toward the prior; larger samples dominate it.
func (h *ElasticityFallbackHierarchy) tryBayesian(_ context.Context, in *estimationInput) *models.ElasticityEstimate {
	prior, ok := h.priors.CategoryPrior(in.item.Category)
	if !ok {
		return nil
	}

	sampleMean, sampleVar, ok := h.simpleLogLogOLS(in)
	if !ok {
		return nil
	}

	posteriorMean, posteriorVar := precisionWeightedMerge(sampleMean, sampleVar, prior.Mean, prior.Std*prior.Std)
	posteriorStd := math.Sqrt(posteriorVar)

	confidence := 0.5 + 0.2*math.Min(1.0, float64(in.sampleSize)/100.0)

	return &models.ElasticityEstimate{
		RestaurantID: in.item.RestaurantID,
		ItemID:       in.item.ItemID,
		Elasticity:   posteriorMean,
		StdError:     posteriorStd,
		CILower:      posteriorMean - 1.96*posteriorStd,
		CIUpper:      posteriorMean + 1.96*posteriorStd,
		SampleSize:   in.sampleSize,
		Confidence:   round2(confidence),
		Method:       models.MethodBayesianShrinkage,
		EstimatedAt:  time.Now().UTC(),
	}
}

// simpleLogLogOLS regresses log(quantity) on log(price) plus a promotion
// indicator. Less rigorous than 2SLS but usable at twenty observations.
func (h *ElasticityFallbackHierarchy) simpleLogLogOLS(in *estimationInput) (elasticity, variance float64, ok bool) {
	n := in.sampleSize

	intercept := make([]float64, n)
	logPrice := make([]float64, n)
	promo := make([]float64, n)
	y := make([]float64, n)
	for i, obs := range in.observations {
		intercept[i] = 1
		logPrice[i] = math.Log(obs.UnitPrice)
		if obs.IsPromotion {
			promo[i] = 1
		}
		y[i] = math.Log(obs.QuantitySold + 1)
	}

	columns := [][]float64{intercept, logPrice}
	if hasVariation(promo) {
		columns = append(columns, promo)
	}

	X := appendColumns(columns)
	fit, err := olsFit(X, y)
	if err != nil {
		if !errors.Is(err, ErrSingularMatrix) {
			h.logger.WithError(err).WithField("item_id", in.item.ItemID).Error("Bayesian OLS failed")
		}
		return 0, 0, false
	}

	stdErrs, err := hc3StdErrors(X, fit)
	if err != nil {
		return 0, 0, false
	}

	se := stdErrs[1]
	return fit.Coefficients[1], se * se, true
}

func (h *ElasticityFallbackHierarchy) tryCategoryPooled(ctx context.Context, in *estimationInput) *models.ElasticityEstimate {
	estimates, err := h.source.CategoryEstimates(ctx, in.item.RestaurantID, in.item.Category, in.item.ItemID)
	if err != nil {
		h.logger.WithError(err).WithField("item_id", in.item.ItemID).Warn("Category pooling unavailable")
		return nil
	}
	if len(estimates) < h.cfg.MinCategoryEstimates {
		return nil
	}

	pooledMean, pooledVar, ok := poolEstimates(estimates)
	if !ok {
		return nil
	}
	pooledStd := math.Sqrt(pooledVar)

	totalSamples := 0
	for _, e := range estimates {
		totalSamples += e.SampleSize
	}

	confidence := 0.4 + 0.2*math.Min(1.0, float64(len(estimates))/10.0)

	return &models.ElasticityEstimate{
		RestaurantID: in.item.RestaurantID,
		ItemID:       in.item.ItemID,
		Elasticity:   pooledMean,
		StdError:     pooledStd,
		CILower:      pooledMean - 1.96*pooledStd,
		CIUpper:      pooledMean + 1.96*pooledStd,
		SampleSize:   totalSamples,
		Confidence:   round2(confidence),
		Method:       models.MethodCategoryPooled,
		EstimatedAt:  time.Now().UTC(),
	}
}

func (h *ElasticityFallbackHierarchy) tryTierPooled(ctx context.Context, in *estimationInput) *models.ElasticityEstimate {
	tier := h.priors.TierName(in.item.Price)

	estimates, err := h.source.TierEstimates(ctx, in.item.RestaurantID, tier, in.item.ItemID)
	if err != nil {
		h.logger.WithError(err).WithField("item_id", in.item.ItemID).Warn("Tier pooling unavailable")
		return nil
	}
	if len(estimates) < h.cfg.MinTierEstimates {
		return nil
	}

	pooledMean, pooledVar, ok := poolEstimates(estimates)
	if !ok {
		return nil
	}
	pooledStd := math.Sqrt(pooledVar)

	confidence := 0.3 + 0.2*math.Min(1.0, float64(len(estimates))/10.0)

	return &models.ElasticityEstimate{
		RestaurantID: in.item.RestaurantID,
		ItemID:       in.item.ItemID,
		Elasticity:   pooledMean,
		StdError:     pooledStd,
		CILower:      pooledMean - 1.96*pooledStd,
		CIUpper:      pooledMean + 1.96*pooledStd,
		SampleSize:   len(estimates),
		Confidence:   round2(confidence),
		Method:       models.MethodPriceTierPooled,
		EstimatedAt:  time.Now().UTC(),
	}
}

func (h *ElasticityFallbackHierarchy) tryRestaurantAverage(ctx context.Context, in *estimationInput) *models.ElasticityEstimate {
	estimates, err := h.source.RestaurantEstimates(ctx, in.item.RestaurantID, in.item.ItemID)
	if err != nil {
		h.logger.WithError(err).WithField("item_id", in.item.ItemID).Warn("Restaurant average unavailable")
		return nil
	}
	if len(estimates) == 0 {
		return nil
	}

	// Restaurant-wide average is a simple mean irrespective of category.
	sum := 0.0
	for _, e := range estimates {
		sum += e.Elasticity
	}
	avg := sum / float64(len(estimates))

	const restaurantAvgStd = 0.6

	confidence := 0.2 + 0.2*math.Min(1.0, float64(len(estimates))/10.0)

	return &models.ElasticityEstimate{
		RestaurantID: in.item.RestaurantID,
		ItemID:       in.item.ItemID,
		Elasticity:   avg,
		StdError:     restaurantAvgStd,
		CILower:      avg - 1.96*restaurantAvgStd,
		CIUpper:      avg + 1.96*restaurantAvgStd,
		SampleSize:   len(estimates),
		Confidence:   round2(confidence),
		Method:       models.MethodRestaurantAverage,
		EstimatedAt:  time.Now().UTC(),
	}
}

// industryDefault is the level-six anchor: a prior-table lookup by
// category, then price tier, then the generic default. It cannot fail.
func (h *ElasticityFallbackHierarchy) industryDefault(in *estimationInput) *models.ElasticityEstimate {
	prior, confidence := h.lookupDefaultPrior(in.item)

	return &models.ElasticityEstimate{
		RestaurantID: in.item.RestaurantID,
		ItemID:       in.item.ItemID,
		Elasticity:   prior.Mean,
		StdError:     prior.Std,
		CILower:      prior.Mean - 1.96*prior.Std,
		CIUpper:      prior.Mean + 1.96*prior.Std,
		SampleSize:   0,
		Confidence:   confidence,
		Method:       models.MethodIndustryDefault,
		EstimatedAt:  time.Now().UTC(),
	}
}

func (h *ElasticityFallbackHierarchy) lookupDefaultPrior(item models.MenuItemRef) (models.Prior, float64) {
	if prior, ok := h.priors.CategoryPrior(item.Category); ok {
		return prior, 0.25
	}
	if prior, ok := h.priors.TierPrior(item.Price); ok {
		return prior, 0.20
	}
	return h.priors.Default(), 0.15
}

// poolEstimates merges contributor estimates by inverse variance, falling
// back to an unweighted mean when no variances are available.
func poolEstimates(estimates []models.ElasticityEstimate) (mean, variance float64, ok bool) {
	means := make([]float64, len(estimates))
	variances := make([]float64, len(estimates))
	for i, e := range estimates {
		means[i] = e.Elasticity
		variances[i] = e.Variance()
	}
	return inverseVarianceAverage(means, variances)
}

func distinctPrices(observations []models.PriceObservation) int {
	seen := map[float64]bool{}
	for _, obs := range observations {
		seen[obs.UnitPrice] = true
	}
	return len(seen)
}
