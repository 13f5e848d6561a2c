package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/platewise/platewise-go/internal/models"
)

// tierBounds mirrors the price tier buckets of the industry prior table.
// Keeping the ranges here lets tier pooling run as a single SQL query
// instead of loading every estimate and filtering in memory.
var tierBounds = map[string][2]float64{
	"budget":   {0, 8},
	"moderate": {8, 15},
	"premium":  {15, 25},
	"luxury":   {25, 1000},
}

// ElasticityRepository persists elasticity estimates and serves the pooled
// reads the fallback hierarchy needs. One current estimate per item;
// re-estimation replaces the stored record.
type ElasticityRepository struct {
	pool Pool
}

// NewElasticityRepository creates a new elasticity repository.
func NewElasticityRepository(pool Pool) *ElasticityRepository {
	return &ElasticityRepository{pool: pool}
}

// UpsertEstimate inserts or replaces the item's current estimate.
func (r *ElasticityRepository) UpsertEstimate(ctx context.Context, estimate models.ElasticityEstimate) error {
	query := `
		INSERT INTO elasticity_estimates (
			restaurant_id, item_id, elasticity, std_error, ci_lower, ci_upper,
			sample_size, confidence, method, r_squared, f_stat, is_weak_instrument, estimated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (restaurant_id, item_id)
		DO UPDATE SET
			elasticity = EXCLUDED.elasticity,
			std_error = EXCLUDED.std_error,
			ci_lower = EXCLUDED.ci_lower,
			ci_upper = EXCLUDED.ci_upper,
			sample_size = EXCLUDED.sample_size,
			confidence = EXCLUDED.confidence,
			method = EXCLUDED.method,
			r_squared = EXCLUDED.r_squared,
			f_stat = EXCLUDED.f_stat,
			is_weak_instrument = EXCLUDED.is_weak_instrument,
			estimated_at = EXCLUDED.estimated_at
	`

	_, err := r.pool.Exec(ctx, query,
		estimate.RestaurantID,
		estimate.ItemID,
		estimate.Elasticity,
		estimate.StdError,
		estimate.CILower,
		estimate.CIUpper,
		estimate.SampleSize,
		estimate.Confidence,
		estimate.Method,
		estimate.RSquared,
		estimate.FStat,
		estimate.IsWeakInstrument,
		estimate.EstimatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert elasticity estimate: %w", err)
	}

	return nil
}

// GetEstimate returns the item's current estimate, or nil when none exists.
func (r *ElasticityRepository) GetEstimate(ctx context.Context, restaurantID, itemID uuid.UUID) (*models.ElasticityEstimate, error) {
	query := `
		SELECT restaurant_id, item_id, elasticity, std_error, ci_lower, ci_upper,
		       sample_size, confidence, method, r_squared, f_stat, is_weak_instrument, estimated_at
		FROM elasticity_estimates
		WHERE restaurant_id = $1 AND item_id = $2
	`

	var e models.ElasticityEstimate
	err := r.pool.QueryRow(ctx, query, restaurantID, itemID).Scan(
		&e.RestaurantID,
		&e.ItemID,
		&e.Elasticity,
		&e.StdError,
		&e.CILower,
		&e.CIUpper,
		&e.SampleSize,
		&e.Confidence,
		&e.Method,
		&e.RSquared,
		&e.FStat,
		&e.IsWeakInstrument,
		&e.EstimatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get elasticity estimate: %w", err)
	}

	return &e, nil
}

// CategoryEstimates returns current estimates for other items that share the
// given category. Only estimates from methods above the pooled levels
// contribute, so pooled values never feed back into new pools.
func (r *ElasticityRepository) CategoryEstimates(ctx context.Context, restaurantID uuid.UUID, category string, excludeItem uuid.UUID) ([]models.ElasticityEstimate, error) {
	query := `
		SELECT e.restaurant_id, e.item_id, e.elasticity, e.std_error, e.ci_lower, e.ci_upper,
		       e.sample_size, e.confidence, e.method, e.r_squared, e.f_stat, e.is_weak_instrument, e.estimated_at
		FROM elasticity_estimates e
		JOIN menu_items m ON m.id = e.item_id AND m.restaurant_id = e.restaurant_id
		WHERE e.restaurant_id = $1
		  AND m.category = $2
		  AND e.item_id <> $3
		  AND e.method IN ('2sls', 'bayesian_shrinkage')
	`

	return r.queryEstimates(ctx, query, restaurantID, category, excludeItem)
}

// TierEstimates returns current estimates for other items whose menu price
// falls in the named price tier.
func (r *ElasticityRepository) TierEstimates(ctx context.Context, restaurantID uuid.UUID, tier string, excludeItem uuid.UUID) ([]models.ElasticityEstimate, error) {
	bounds, ok := tierBounds[tier]
	if !ok {
		return nil, fmt.Errorf("unknown price tier %q", tier)
	}

	query := `
		SELECT e.restaurant_id, e.item_id, e.elasticity, e.std_error, e.ci_lower, e.ci_upper,
		       e.sample_size, e.confidence, e.method, e.r_squared, e.f_stat, e.is_weak_instrument, e.estimated_at
		FROM elasticity_estimates e
		JOIN menu_items m ON m.id = e.item_id AND m.restaurant_id = e.restaurant_id
		WHERE e.restaurant_id = $1
		  AND m.price >= $2 AND m.price < $3
		  AND e.item_id <> $4
		  AND e.method IN ('2sls', 'bayesian_shrinkage')
	`

	return r.queryEstimates(ctx, query, restaurantID, bounds[0], bounds[1], excludeItem)
}

// RestaurantEstimates returns all current non-default estimates for the
// restaurant, excluding the queried item.
func (r *ElasticityRepository) RestaurantEstimates(ctx context.Context, restaurantID uuid.UUID, excludeItem uuid.UUID) ([]models.ElasticityEstimate, error) {
	query := `
		SELECT restaurant_id, item_id, elasticity, std_error, ci_lower, ci_upper,
		       sample_size, confidence, method, r_squared, f_stat, is_weak_instrument, estimated_at
		FROM elasticity_estimates
		WHERE restaurant_id = $1
		  AND item_id <> $2
		  AND method IN ('2sls', 'bayesian_shrinkage')
	`

	return r.queryEstimates(ctx, query, restaurantID, excludeItem)
}

func (r *ElasticityRepository) queryEstimates(ctx context.Context, query string, args ...interface{}) ([]models.ElasticityEstimate, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query elasticity estimates: %w", err)
	}
	defer rows.Close()

	var estimates []models.ElasticityEstimate
	for rows.Next() {
		var e models.ElasticityEstimate
		if err := rows.Scan(
			&e.RestaurantID,
			&e.ItemID,
			&e.Elasticity,
			&e.StdError,
			&e.CILower,
			&e.CIUpper,
			&e.SampleSize,
			&e.Confidence,
			&e.Method,
			&e.RSquared,
			&e.FStat,
			&e.IsWeakInstrument,
			&e.EstimatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan elasticity estimate: %w", err)
		}
		estimates = append(estimates, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read elasticity estimates: %w", err)
	}

	return estimates, nil
}
