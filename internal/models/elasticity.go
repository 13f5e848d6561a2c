package models

import (
	"time"

	"github.com/google/uuid"
)

// EstimationMethod identifies which level of the fallback hierarchy produced
// an estimate.
type EstimationMethod string

const (
	MethodTwoStageLeastSquares EstimationMethod = "2sls"
	MethodBayesianShrinkage    EstimationMethod = "bayesian_shrinkage"
	MethodCategoryPooled       EstimationMethod = "category_pooled"
	MethodPriceTierPooled      EstimationMethod = "price_tier_pooled"
	MethodRestaurantAverage    EstimationMethod = "restaurant_average"
	MethodIndustryDefault      EstimationMethod = "industry_default"
)

// ElasticityEstimate is the result of price elasticity estimation for a
// single menu item. There is exactly one current estimate per item;
// re-estimation replaces the stored record.
type ElasticityEstimate struct {
	RestaurantID     uuid.UUID        `json:"restaurant_id" db:"restaurant_id"`
	ItemID           uuid.UUID        `json:"item_id" db:"item_id"`
	Elasticity       float64          `json:"elasticity" db:"elasticity"`
	StdError         float64          `json:"std_error" db:"std_error"`
	CILower          float64          `json:"ci_lower" db:"ci_lower"`
	CIUpper          float64          `json:"ci_upper" db:"ci_upper"`
	SampleSize       int              `json:"sample_size" db:"sample_size"`
	Confidence       float64          `json:"confidence" db:"confidence"`
	Method           EstimationMethod `json:"method" db:"method"`
	RSquared         float64          `json:"r_squared,omitempty" db:"r_squared"`
	FStat            float64          `json:"f_stat,omitempty" db:"f_stat"`
	IsWeakInstrument bool             `json:"is_weak_instrument" db:"is_weak_instrument"`
	EstimatedAt      time.Time        `json:"estimated_at" db:"estimated_at"`
}

// Variance returns the sampling variance implied by the standard error,
// used by the pooling and shrinkage levels.
func (e ElasticityEstimate) Variance() float64 {
	return e.StdError * e.StdError
}

// Prior is a read-only reference elasticity drawn from published industry
// studies, keyed by menu category or price tier.
type Prior struct {
	Key    string  `json:"key"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Source string  `json:"source"`
}
