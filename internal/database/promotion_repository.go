package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platewise/platewise-go/internal/models"
)

// PromotionRepository persists inferred promotion periods. Uniqueness on
// (restaurant_id, item_id, start_date) is enforced in the schema, so
// re-running inference replaces a period rather than duplicating it.
type PromotionRepository struct {
	pool Pool
}

// NewPromotionRepository creates a new promotion repository.
func NewPromotionRepository(pool Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// UpsertPeriod inserts or replaces a promotion period.
func (r *PromotionRepository) UpsertPeriod(ctx context.Context, period models.PromotionPeriod) error {
	query := `
		INSERT INTO promotion_periods (
			restaurant_id, item_id, start_date, end_date,
			confidence, method, baseline_price, promo_avg_price, avg_discount_pct
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (restaurant_id, item_id, start_date)
		DO UPDATE SET
			end_date = EXCLUDED.end_date,
			confidence = EXCLUDED.confidence,
			method = EXCLUDED.method,
			baseline_price = EXCLUDED.baseline_price,
			promo_avg_price = EXCLUDED.promo_avg_price,
			avg_discount_pct = EXCLUDED.avg_discount_pct,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.pool.Exec(ctx, query,
		period.RestaurantID,
		period.ItemID,
		period.StartDate,
		period.EndDate,
		period.Confidence,
		period.Method,
		period.BaselinePrice,
		period.PromoAvgPrice,
		period.AvgDiscountPct,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert promotion period: %w", err)
	}

	return nil
}

// PeriodsForItem returns the item's promotion periods overlapping the
// lookback window, ordered by start date.
func (r *PromotionRepository) PeriodsForItem(ctx context.Context, restaurantID, itemID uuid.UUID, since time.Time) ([]models.PromotionPeriod, error) {
	query := `
		SELECT restaurant_id, item_id, start_date, end_date,
		       confidence, method, baseline_price, promo_avg_price, avg_discount_pct
		FROM promotion_periods
		WHERE restaurant_id = $1 AND item_id = $2 AND end_date >= $3
		ORDER BY start_date
	`

	rows, err := r.pool.Query(ctx, query, restaurantID, itemID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query promotion periods: %w", err)
	}
	defer rows.Close()

	var periods []models.PromotionPeriod
	for rows.Next() {
		var p models.PromotionPeriod
		if err := rows.Scan(
			&p.RestaurantID,
			&p.ItemID,
			&p.StartDate,
			&p.EndDate,
			&p.Confidence,
			&p.Method,
			&p.BaselinePrice,
			&p.PromoAvgPrice,
			&p.AvgDiscountPct,
		); err != nil {
			return nil, fmt.Errorf("failed to scan promotion period: %w", err)
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read promotion periods: %w", err)
	}

	return periods, nil
}
