package services

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/platewise/platewise-go/internal/models"
)

// PriceTier buckets menu items by price when no category is available.
type PriceTier struct {
	Name string
	Min  float64
	Max  float64
	Mean float64
	Std  float64
}

// IndustryPriorTable is an immutable lookup of elasticity priors drawn from
// published restaurant pricing studies. It is constructed once at startup
// and injected into the fallback hierarchy; the guaranteed-success industry
// default level is built on it.
type IndustryPriorTable struct {
	version    string
	categories map[string]models.Prior
	tiers      []PriceTier
	fallback   models.Prior
}

// NewIndustryPriorTable builds the built-in prior table. Priors come from
// meta-analyses of restaurant pricing literature; citations travel with
// each entry.
func NewIndustryPriorTable() *IndustryPriorTable {
	return &IndustryPriorTable{
		version: "2024.1",
		categories: map[string]models.Prior{
			"burgers":              {Key: "burgers", Mean: -1.2, Std: 0.4, Source: "Andreyeva et al. (2010)"},
			"sandwiches":           {Key: "sandwiches", Mean: -1.2, Std: 0.4, Source: "Andreyeva et al. (2010)"},
			"pizza":                {Key: "pizza", Mean: -1.5, Std: 0.5, Source: "Powell et al. (2013)"},
			"salads":               {Key: "salads", Mean: -0.8, Std: 0.3, Source: "Elbel et al. (2013)"},
			"desserts":             {Key: "desserts", Mean: -0.9, Std: 0.4, Source: "Finkelstein et al. (2011)"},
			"beverages_alcohol":    {Key: "beverages_alcohol", Mean: -1.6, Std: 0.6, Source: "Nelson (2013)"},
			"beverages_nonalcohol": {Key: "beverages_nonalcohol", Mean: -1.1, Std: 0.4, Source: "Andreyeva et al. (2010)"},
			"entrees_upscale":      {Key: "entrees_upscale", Mean: -0.7, Std: 0.3, Source: "Okrent & Alston (2012)"},
			"entrees_casual":       {Key: "entrees_casual", Mean: -1.3, Std: 0.5, Source: "Powell et al. (2013)"},
			"appetizers":           {Key: "appetizers", Mean: -1.0, Std: 0.4, Source: "Generic QSR studies"},
		},
		tiers: []PriceTier{
			{Name: "budget", Min: 0, Max: 8, Mean: -1.5, Std: 0.5},
			{Name: "moderate", Min: 8, Max: 15, Mean: -1.2, Std: 0.4},
			{Name: "premium", Min: 15, Max: 25, Mean: -0.9, Std: 0.4},
			{Name: "luxury", Min: 25, Max: 1000, Mean: -0.6, Std: 0.3},
		},
		fallback: models.Prior{Key: "default", Mean: -1.1, Std: 0.5, Source: "Generic restaurant default"},
	}
}

// Version returns the prior table revision.
func (t *IndustryPriorTable) Version() string {
	return t.version
}

// CategoryPrior looks up the prior for a menu category. The key is
// normalized to lowercase with underscores; a partial match in either
// direction is accepted when no exact key exists.
func (t *IndustryPriorTable) CategoryPrior(category string) (models.Prior, bool) {
	if category == "" {
		return models.Prior{}, false
	}
	key := normalizeCategoryKey(category)

	if prior, ok := t.categories[key]; ok {
		return prior, true
	}

	for candidate, prior := range t.categories {
		if strings.Contains(candidate, key) || strings.Contains(key, candidate) {
			return prior, true
		}
	}

	return models.Prior{}, false
}

// TierPrior looks up the prior for a unit price by price tier.
func (t *IndustryPriorTable) TierPrior(price decimal.Decimal) (models.Prior, bool) {
	p := price.InexactFloat64()
	for _, tier := range t.tiers {
		if p >= tier.Min && p < tier.Max {
			return models.Prior{Key: tier.Name, Mean: tier.Mean, Std: tier.Std, Source: "Price tier prior"}, true
		}
	}
	return models.Prior{}, false
}

// TierName returns the tier bucket an item price falls into, used to group
// items for price-tier pooling.
func (t *IndustryPriorTable) TierName(price decimal.Decimal) string {
	p := price.InexactFloat64()
	for _, tier := range t.tiers {
		if p >= tier.Min && p < tier.Max {
			return tier.Name
		}
	}
	return "luxury"
}

// Default returns the generic fallback prior.
func (t *IndustryPriorTable) Default() models.Prior {
	return t.fallback
}

func normalizeCategoryKey(category string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(category)), " ", "_")
}
