package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountMethod identifies how a discount was detected on a line item.
type DiscountMethod string

const (
	DiscountMethodExplicit DiscountMethod = "explicit"
	DiscountMethodCompVoid DiscountMethod = "comp_void"
	DiscountMethodKeyword  DiscountMethod = "keyword"
	DiscountMethodNone     DiscountMethod = "none"
)

// DiscountSignal is the per-line-item discount classification. Confidence is
// fixed per method: explicit and comp_void are certain, keyword matches are
// heuristic.
type DiscountSignal struct {
	Method     DiscountMethod   `json:"method"`
	Confidence float64          `json:"confidence"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Keywords   []string         `json:"keywords,omitempty"`
}

// IsDiscount reports whether the signal indicates any discount at all.
func (s DiscountSignal) IsDiscount() bool {
	return s.Method != DiscountMethodNone
}

// PromotionPeriod is a statistically inferred promotion window for one item.
// Periods never overlap for the same item and always span at least two
// consecutive observed days.
type PromotionPeriod struct {
	RestaurantID   uuid.UUID       `json:"restaurant_id" db:"restaurant_id"`
	ItemID         uuid.UUID       `json:"item_id" db:"item_id"`
	StartDate      time.Time       `json:"start_date" db:"start_date"`
	EndDate        time.Time       `json:"end_date" db:"end_date"`
	Confidence     float64         `json:"confidence" db:"confidence"`
	Method         string          `json:"method" db:"method"`
	BaselinePrice  decimal.Decimal `json:"baseline_price" db:"baseline_price"`
	PromoAvgPrice  decimal.Decimal `json:"promo_avg_price" db:"promo_avg_price"`
	AvgDiscountPct decimal.Decimal `json:"avg_discount_pct" db:"avg_discount_pct"`
}

// Days returns the number of observed days covered by the period, inclusive.
func (p PromotionPeriod) Days() int {
	return int(p.EndDate.Sub(p.StartDate).Hours()/24) + 1
}
