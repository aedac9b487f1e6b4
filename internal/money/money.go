// Package money wraps shopspring/decimal with the handful of helpers the
// engine needs for prices and quantities.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Parse converts an exchange or config string into a decimal.
// An empty string is treated as zero.
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// Sum adds all values exactly.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// RoundToStep truncates value down to a multiple of step.
// A non-positive step returns value unchanged.
func RoundToStep(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

// Format renders a decimal without trailing zeros, the form exchanges accept.
func Format(d decimal.Decimal) string {
	return d.String()
}
