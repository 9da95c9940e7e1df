// Package money holds the BDT rounding rules shared by pricing, commission and refunds.
package money

import "github.com/shopspring/decimal"

// Places is the number of minor-unit digits kept for BDT amounts.
const Places = 2

var hundred = decimal.NewFromInt(100)

// Round rounds half away from zero to two places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Percent returns amount × pct / 100 rounded to two places.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// ValidPercent reports whether pct lies within [0, 100].
func ValidPercent(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThanOrEqual(hundred)
}

// Sum adds the given amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
