// Package money centralizes decimal arithmetic for quoted amounts. Seller
// quotes carry rupee-and-paise style decimal strings; the payment gateway
// wants integer minor units. Everything in between stays a decimal.Decimal so
// reconciliation never accumulates float drift.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnits converts a major-unit amount to integer minor units, rounding
// half away from zero (123.455 → 12346).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// Format renders an amount with two decimals, trailing zeros trimmed
// (90.00 → "90", 90.50 → "90.5").
func Format(amount decimal.Decimal) string {
	s := amount.StringFixed(2)
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// FormatDelta renders a price change as "from → to" with Format applied to
// both sides. Used for reconciliation change logs.
func FormatDelta(from, to decimal.Decimal) string {
	return fmt.Sprintf("%s → %s", Format(from), Format(to))
}

// Sum adds the provided amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
