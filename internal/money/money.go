// Package money provides the fixed-point amount arithmetic used throughout
// the engine.
//
// All monetary values are shopspring decimals. Float64 is never used for
// amounts: the canonical-total invariant requires exact two-decimal results,
// and drift detection compares stored vs computed values for equality.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Zero is the canonical zero amount.
var Zero = decimal.Zero

// Parse converts a stored amount string ("50.00", "-3.5") into a decimal.
// The empty string parses as zero, matching how the backend serializes
// absent amounts.
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

// MustParse is Parse for literals in tests and canonical defaults.
// Panics on malformed input.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Round2 rounds half-up to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FloorZero clamps negative amounts to zero. Canonical transaction totals
// are never negative even when correction edges produce a negative raw sum.
func FloorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Canonical applies the canonical-total normalization: floor at zero, then
// round to two decimals.
func Canonical(d decimal.Decimal) decimal.Decimal {
	return Round2(FloorZero(d))
}

// Format renders an amount with exactly two decimal places, the wire and
// storage representation ("0.00", "75.00").
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Equal reports whether two amounts are numerically equal ("50" == "50.00").
func Equal(a, b decimal.Decimal) bool {
	return a.Equal(b)
}
