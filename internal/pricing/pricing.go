// Package pricing derives the bounty amount from normalized time and
// priority values. All arithmetic is fixed-point decimal: recomputing the
// price from the same canonical labels must produce byte-identical label
// text, which is what makes reconciliation idempotent.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/priceworks/bountybot/internal/labels"
)

// Currency is the fixed currency suffix on price labels.
const Currency = "USD"

// Price computes round2(base * 1000 * timeHours * priorityScalar/10) with
// half-up rounding. A priority scalar of zero is valid and yields zero.
func Price(base, timeHours, priorityScalar float64) decimal.Decimal {
	priority := decimal.NewFromFloat(priorityScalar).Div(decimal.NewFromInt(10))
	return decimal.NewFromFloat(base).
		Mul(decimal.NewFromInt(1000)).
		Mul(decimal.NewFromFloat(timeHours)).
		Mul(priority).
		Round(2)
}

// PriceFromSpecs prices against a configured priority scale, inverting the
// scalar when the configured order is descending (lowest number = least
// urgent): the effective scalar becomes maxConfigured - value.
func PriceFromSpecs(base, timeHours, priorityValue float64, specs []labels.Spec) (decimal.Decimal, error) {
	order, err := labels.PriorityOrder(specs)
	if err != nil {
		return decimal.Zero, err
	}
	if order < 0 {
		priorityValue = labels.MaxValue(specs) - priorityValue
	}
	return Price(base, timeHours, priorityValue), nil
}

// FormatLabel renders a price as label text, e.g. "Price: 125 USD".
func FormatLabel(d decimal.Decimal) string {
	return fmt.Sprintf("Price: %s %s", d.String(), Currency)
}

// IsPriceLabel reports whether a label carries a price, matching
// case-insensitively for compatibility with pre-existing repositories.
func IsPriceLabel(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), "price: ") ||
		strings.HasPrefix(strings.ToLower(name), "pricing: ")
}

// ParseLabel extracts the amount from a price label. The second return is
// false for non-price labels or unparseable amounts.
func ParseLabel(name string) (decimal.Decimal, bool) {
	if !IsPriceLabel(name) {
		return decimal.Zero, false
	}
	fields := strings.Fields(name)
	if len(fields) < 2 {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(fields[1])
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
