package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platewise/platewise-go/internal/models"
)

// ObservationSource loads the per-item daily observation series the
// estimators consume. Implemented by the postgres observation repository.
type ObservationSource interface {
	MenuItems(ctx context.Context, restaurantID uuid.UUID) ([]models.MenuItemRef, error)
	DailyObservations(ctx context.Context, restaurantID, itemID uuid.UUID, lookbackDays int) ([]models.PriceObservation, error)
}

// PromotionStore persists inferred promotion periods.
type PromotionStore interface {
	UpsertPeriod(ctx context.Context, period models.PromotionPeriod) error
}

// EstimateStore persists elasticity estimates, replacing any previous
// record for the same item.
type EstimateStore interface {
	UpsertEstimate(ctx context.Context, estimate models.ElasticityEstimate) error
}

// EstimateCacher caches current estimates for read paths.
type EstimateCacher interface {
	Set(ctx context.Context, estimate *models.ElasticityEstimate)
}

// BatchEstimatorConfig holds the batch orchestration tunables.
type BatchEstimatorConfig struct {
	Workers                int
	PromotionLookbackDays  int
	ElasticityLookbackDays int
}

// DefaultBatchEstimatorConfig returns the production defaults.
func DefaultBatchEstimatorConfig() BatchEstimatorConfig {
	return BatchEstimatorConfig{
		Workers:                4,
		PromotionLookbackDays:  90,
		ElasticityLookbackDays: 180,
	}
}

// BatchResult summarizes a restaurant-wide estimation run.
type BatchResult struct {
	Estimated        int `json:"estimated"`
	Failed           int `json:"failed"`
	PromotionPeriods int `json:"promotion_periods"`
}

// BatchEstimator runs promotion inference and elasticity estimation across
// a restaurant's whole menu. Items are independent, so a fixed worker pool
// processes them concurrently, each worker holding only its own read-only
// slice of history. One item's failure is logged and skipped; it never
// aborts the batch.
type BatchEstimator struct {
	cfg            BatchEstimatorConfig
	observations   ObservationSource
	inference      *PromotionInferenceEngine
	hierarchy      *ElasticityFallbackHierarchy
	promotionStore PromotionStore
	estimateStore  EstimateStore
	cache          EstimateCacher
	logger         *logrus.Logger
}

// NewBatchEstimator wires the batch orchestrator. The cache may be nil.
func NewBatchEstimator(
	cfg BatchEstimatorConfig,
	observations ObservationSource,
	inference *PromotionInferenceEngine,
	hierarchy *ElasticityFallbackHierarchy,
	promotionStore PromotionStore,
	estimateStore EstimateStore,
	cache EstimateCacher,
	logger *logrus.Logger,
) *BatchEstimator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &BatchEstimator{
		cfg:            cfg,
		observations:   observations,
		inference:      inference,
		hierarchy:      hierarchy,
		promotionStore: promotionStore,
		estimateStore:  estimateStore,
		cache:          cache,
		logger:         logger,
	}
}

// EstimateAll processes every menu item of a restaurant through promotion
// inference followed by elasticity estimation.
func (b *BatchEstimator) EstimateAll(ctx context.Context, restaurantID uuid.UUID) (BatchResult, error) {
	items, err := b.observations.MenuItems(ctx, restaurantID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to list menu items: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"restaurant_id": restaurantID,
		"items":         len(items),
		"workers":       b.cfg.Workers,
	}).Info("Starting batch elasticity estimation")

	jobs := make(chan models.MenuItemRef)

	var (
		mu     sync.Mutex
		result BatchResult
		wg     sync.WaitGroup
	)

	for w := 0; w < b.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				periods, err := b.estimateItem(ctx, item)

				mu.Lock()
				if err != nil {
					result.Failed++
				} else {
					result.Estimated++
					result.PromotionPeriods += periods
				}
				mu.Unlock()
			}
		}()
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return result, ctx.Err()
		case jobs <- item:
		}
	}
	close(jobs)
	wg.Wait()

	b.logger.WithFields(logrus.Fields{
		"restaurant_id":     restaurantID,
		"estimated":         result.Estimated,
		"failed":            result.Failed,
		"promotion_periods": result.PromotionPeriods,
	}).Info("Batch elasticity estimation finished")

	return result, nil
}

// EstimateItem runs the full pipeline for a single item: promotion
// inference, persistence of inferred periods, then hierarchy estimation on
// the promotion-annotated series.
func (b *BatchEstimator) EstimateItem(ctx context.Context, item models.MenuItemRef) (*models.ElasticityEstimate, error) {
	estimate, _, err := b.runItem(ctx, item)
	return estimate, err
}

// runItem is the shared pipeline, returning the number of persisted
// promotion periods alongside the estimate.
func (b *BatchEstimator) runItem(ctx context.Context, item models.MenuItemRef) (*models.ElasticityEstimate, int, error) {
	inferred, err := b.inferAndStorePromotions(ctx, item)
	if err != nil {
		// Promotion inference is non-blocking: a stale or missing flag
		// degrades regression control quality, not correctness.
		b.logger.WithError(err).WithField("item_id", item.ItemID).Warn("Promotion inference failed, continuing without flags")
	}

	observations, err := b.observations.DailyObservations(ctx, item.RestaurantID, item.ItemID, b.cfg.ElasticityLookbackDays)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load observations for item %s: %w", item.ItemID, err)
	}
	observations = applyPromotionFlags(observations, inferred)

	estimate := b.hierarchy.Estimate(ctx, item, observations)

	if err := b.estimateStore.UpsertEstimate(ctx, *estimate); err != nil {
		return nil, 0, fmt.Errorf("failed to persist estimate for item %s: %w", item.ItemID, err)
	}
	if b.cache != nil {
		b.cache.Set(ctx, estimate)
	}

	return estimate, len(inferred), nil
}

// estimateItem is the worker-side wrapper around runItem with panic
// isolation.
func (b *BatchEstimator) estimateItem(ctx context.Context, item models.MenuItemRef) (periods int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic estimating item %s: %v", item.ItemID, r)
			b.logger.WithFields(logrus.Fields{
				"item_id": item.ItemID,
				"panic":   r,
			}).Error("Recovered from estimation panic")
		}
	}()

	_, periods, err = b.runItem(ctx, item)
	return periods, err
}

// inferAndStorePromotions runs promotion inference over the item's
// promotion lookback window and persists the surviving periods.
// Persistence failures are logged per period and do not block the rest.
func (b *BatchEstimator) inferAndStorePromotions(ctx context.Context, item models.MenuItemRef) ([]models.PromotionPeriod, error) {
	observations, err := b.observations.DailyObservations(ctx, item.RestaurantID, item.ItemID, b.cfg.PromotionLookbackDays)
	if err != nil {
		return nil, fmt.Errorf("failed to load promotion window for item %s: %w", item.ItemID, err)
	}

	periods := b.inference.InferPromotions(item, observations)

	for _, period := range periods {
		if err := b.promotionStore.UpsertPeriod(ctx, period); err != nil {
			b.logger.WithError(err).WithFields(logrus.Fields{
				"item_id":    item.ItemID,
				"start_date": period.StartDate,
			}).Warn("Failed to persist promotion period")
		}
	}

	return periods, nil
}

// applyPromotionFlags marks observations that fall inside an inferred
// promotion period. Flags already set by the ingestion pipeline are kept.
func applyPromotionFlags(observations []models.PriceObservation, periods []models.PromotionPeriod) []models.PriceObservation {
	if len(periods) == 0 {
		return observations
	}

	flagged := make([]models.PriceObservation, len(observations))
	copy(flagged, observations)

	for i := range flagged {
		for _, period := range periods {
			if !flagged[i].Date.Before(period.StartDate) && !flagged[i].Date.After(period.EndDate) {
				flagged[i].IsPromotion = true
				break
			}
		}
	}
	return flagged
}
