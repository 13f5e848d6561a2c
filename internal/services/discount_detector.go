package services

import (
	"strings"

	"github.com/platewise/platewise-go/internal/models"
)

// discountKeywords are item-name fragments that indicate a discounted line.
// Matched case-insensitively as substrings.
var discountKeywords = []string{
	"discount", "promo", "promotion", "comp", "void",
	"off", "coupon", "special", "deal", "happy hour",
	"sale", "clearance", "markdown", "reduced",
}

// Fixed per-method confidence levels. These are never computed dynamically:
// explicit columns and negative prices are certain, keyword matches are
// heuristic.
const (
	explicitConfidence = 1.0
	keywordConfidence  = 0.7
)

// DetectDiscount classifies a single transaction line item as discounted or
// not. Detection methods are tried in strict precedence order and the first
// match wins:
//
//  1. Explicit discount column present and non-zero
//  2. Negative unit price or line total (comps, voids, refunds)
//  3. Item name contains a discount keyword
//
// The function is pure; malformed input degrades to a "none" signal rather
// than an error.
func DetectDiscount(item models.LineItem) models.DiscountSignal {
	if item.DiscountAmount != nil && !item.DiscountAmount.IsZero() {
		amount := item.DiscountAmount.Abs()
		return models.DiscountSignal{
			Method:     models.DiscountMethodExplicit,
			Confidence: explicitConfidence,
			Amount:     &amount,
		}
	}

	if item.UnitPrice.IsNegative() || item.Total.IsNegative() {
		amount := item.Total.Abs()
		return models.DiscountSignal{
			Method:     models.DiscountMethodCompVoid,
			Confidence: explicitConfidence,
			Amount:     &amount,
		}
	}

	if found := matchDiscountKeywords(item.Name); len(found) > 0 {
		return models.DiscountSignal{
			Method:     models.DiscountMethodKeyword,
			Confidence: keywordConfidence,
			Keywords:   found,
		}
	}

	return models.DiscountSignal{
		Method:     models.DiscountMethodNone,
		Confidence: 0,
	}
}

func matchDiscountKeywords(name string) []string {
	lower := strings.ToLower(name)

	var found []string
	for _, kw := range discountKeywords {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}
	return found
}
