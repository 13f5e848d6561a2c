package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/platewise-go/internal/models"
)

func samplePeriod(restaurantID, itemID uuid.UUID) models.PromotionPeriod {
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	return models.PromotionPeriod{
		RestaurantID:   restaurantID,
		ItemID:         itemID,
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 3),
		Confidence:     0.87,
		Method:         "price_variance",
		BaselinePrice:  decimal.RequireFromString("10.00"),
		PromoAvgPrice:  decimal.RequireFromString("8.00"),
		AvgDiscountPct: decimal.RequireFromString("20.00"),
	}
}

func TestPromotionRepository_UpsertPeriod(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	restaurantID, itemID := uuid.New(), uuid.New()
	period := samplePeriod(restaurantID, itemID)

	mockPool.ExpectExec("INSERT INTO promotion_periods").
		WithArgs(
			period.RestaurantID, period.ItemID, period.StartDate, period.EndDate,
			period.Confidence, period.Method, period.BaselinePrice, period.PromoAvgPrice,
			period.AvgDiscountPct,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewPromotionRepository(mockPool)
	err = repo.UpsertPeriod(context.Background(), period)

	assert.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPromotionRepository_UpsertPeriod_Error(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectExec("INSERT INTO promotion_periods").
		WillReturnError(errors.New("deadlock detected"))

	repo := NewPromotionRepository(mockPool)
	err = repo.UpsertPeriod(context.Background(), samplePeriod(uuid.New(), uuid.New()))

	assert.Error(t, err)
}

func TestPromotionRepository_PeriodsForItem(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	restaurantID, itemID := uuid.New(), uuid.New()
	period := samplePeriod(restaurantID, itemID)
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"restaurant_id", "item_id", "start_date", "end_date",
		"confidence", "method", "baseline_price", "promo_avg_price", "avg_discount_pct",
	}).AddRow(
		period.RestaurantID, period.ItemID, period.StartDate, period.EndDate,
		period.Confidence, period.Method, period.BaselinePrice, period.PromoAvgPrice,
		period.AvgDiscountPct,
	)

	mockPool.ExpectQuery("SELECT (.+) FROM promotion_periods").
		WithArgs(restaurantID, itemID, since).
		WillReturnRows(rows)

	repo := NewPromotionRepository(mockPool)
	periods, err := repo.PeriodsForItem(context.Background(), restaurantID, itemID, since)

	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, period.StartDate, periods[0].StartDate)
	assert.Equal(t, period.EndDate, periods[0].EndDate)
	assert.Equal(t, 4, periods[0].Days())
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPromotionRepository_PeriodsForItem_Empty(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectQuery("SELECT (.+) FROM promotion_periods").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{
			"restaurant_id", "item_id", "start_date", "end_date",
			"confidence", "method", "baseline_price", "promo_avg_price", "avg_discount_pct",
		}))

	repo := NewPromotionRepository(mockPool)
	periods, err := repo.PeriodsForItem(context.Background(), uuid.New(), uuid.New(), time.Now())

	assert.NoError(t, err)
	assert.Empty(t, periods)
}
