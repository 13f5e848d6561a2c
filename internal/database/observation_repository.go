package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/platewise/platewise-go/internal/models"
)

// ObservationRepository loads daily observation series and menu metadata.
// Observations are owned by the ingestion pipeline; this repository only
// reads them.
type ObservationRepository struct {
	pool Pool
}

// NewObservationRepository creates a new observation repository.
func NewObservationRepository(pool Pool) *ObservationRepository {
	return &ObservationRepository{pool: pool}
}

// MenuItems lists the restaurant's menu items with the attributes the
// estimation hierarchy needs.
func (r *ObservationRepository) MenuItems(ctx context.Context, restaurantID uuid.UUID) ([]models.MenuItemRef, error) {
	query := `
		SELECT restaurant_id, id, name, COALESCE(category, ''), price
		FROM menu_items
		WHERE restaurant_id = $1
		ORDER BY name
	`

	rows, err := r.pool.Query(ctx, query, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list menu items: %w", err)
	}
	defer rows.Close()

	var items []models.MenuItemRef
	for rows.Next() {
		var item models.MenuItemRef
		if err := rows.Scan(&item.RestaurantID, &item.ItemID, &item.Name, &item.Category, &item.Price); err != nil {
			return nil, fmt.Errorf("failed to scan menu item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read menu items: %w", err)
	}

	return items, nil
}

// MenuItem fetches a single menu item, or nil when it does not exist.
func (r *ObservationRepository) MenuItem(ctx context.Context, restaurantID, itemID uuid.UUID) (*models.MenuItemRef, error) {
	query := `
		SELECT restaurant_id, id, name, COALESCE(category, ''), price
		FROM menu_items
		WHERE restaurant_id = $1 AND id = $2
	`

	var item models.MenuItemRef
	err := r.pool.QueryRow(ctx, query, restaurantID, itemID).Scan(
		&item.RestaurantID, &item.ItemID, &item.Name, &item.Category, &item.Price,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get menu item: %w", err)
	}

	return &item, nil
}

// DailyObservations returns the item's aggregated per-business-day series
// over the lookback window, ordered by date. Business-day boundaries (the
// 4 AM cutoff) are applied upstream at ingestion time.
func (r *ObservationRepository) DailyObservations(ctx context.Context, restaurantID, itemID uuid.UUID, lookbackDays int) ([]models.PriceObservation, error) {
	query := `
		SELECT
			business_date,
			AVG(unit_price)::float8,
			SUM(quantity)::float8,
			MAX(hours_open)::float8,
			EXTRACT(DOW FROM business_date)::int,
			EXTRACT(MONTH FROM business_date)::int,
			BOOL_OR(is_promotion)
		FROM daily_item_sales
		WHERE restaurant_id = $1
		  AND item_id = $2
		  AND business_date >= CURRENT_DATE - $3::int
		GROUP BY business_date
		ORDER BY business_date
	`

	rows, err := r.pool.Query(ctx, query, restaurantID, itemID, lookbackDays)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily observations: %w", err)
	}
	defer rows.Close()

	var observations []models.PriceObservation
	for rows.Next() {
		var obs models.PriceObservation
		if err := rows.Scan(
			&obs.Date,
			&obs.UnitPrice,
			&obs.QuantitySold,
			&obs.HoursOpen,
			&obs.DayOfWeek,
			&obs.Month,
			&obs.IsPromotion,
		); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read observations: %w", err)
	}

	return observations, nil
}
