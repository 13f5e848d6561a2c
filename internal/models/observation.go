package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceObservation represents one item's aggregated sales for a single
// business day. Observations are produced by the ingestion pipeline and are
// immutable once loaded.
type PriceObservation struct {
	Date         time.Time `json:"date" db:"business_date"`
	UnitPrice    float64   `json:"unit_price" db:"unit_price"`
	QuantitySold float64   `json:"quantity_sold" db:"quantity_sold"`
	HoursOpen    float64   `json:"hours_open" db:"hours_open"`
	DayOfWeek    int       `json:"day_of_week" db:"day_of_week"`
	Month        int       `json:"month" db:"month"`
	IsPromotion  bool      `json:"is_promotion" db:"is_promotion"`
}

// LineItem is a single transaction line as it arrives from the POS export.
// DiscountAmount is only populated when the vendor format carries an
// explicit discount column.
type LineItem struct {
	Name           string           `json:"name"`
	UnitPrice      decimal.Decimal  `json:"unit_price"`
	Total          decimal.Decimal  `json:"total"`
	DiscountAmount *decimal.Decimal `json:"discount_amount,omitempty"`
}

// MenuItemRef identifies a menu item within a restaurant, together with the
// attributes the estimation hierarchy needs for prior lookups.
type MenuItemRef struct {
	RestaurantID uuid.UUID       `json:"restaurant_id" db:"restaurant_id"`
	ItemID       uuid.UUID       `json:"item_id" db:"item_id"`
	Name         string          `json:"name" db:"name"`
	Category     string          `json:"category" db:"category"`
	Price        decimal.Decimal `json:"price" db:"price"`
}
