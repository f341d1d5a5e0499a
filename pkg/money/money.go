// Package money converts between integer minor units and display amounts.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const minorExponent = -2

// Format renders cents as a fixed two-decimal string, e.g. 1250 -> "12.50".
func Format(cents int64) string {
	return decimal.New(cents, minorExponent).StringFixed(2)
}

// ParseMajor converts a decimal amount such as "12.5" into cents. More than two
// fractional digits, negative values and zero are rejected.
func ParseMajor(value string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be positive")
	}
	cents := amount.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than two decimal places", value)
	}
	if !cents.IsInteger() || cents.GreaterThan(decimal.NewFromInt(maxCents)) {
		return 0, fmt.Errorf("amount %q out of range", value)
	}
	return cents.IntPart(), nil
}

const maxCents = 1<<53 - 1
