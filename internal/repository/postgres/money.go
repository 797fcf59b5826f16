package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// numericStringToCents parses a NUMERIC column rendered as text. Digits past
// the second decimal round half away from zero.
func numericStringToCents(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	cents := d.Shift(2).Round(0)
	if cents.Abs().GreaterThan(decimal.NewFromInt(1<<62)) {
		return 0, fmt.Errorf("parse numeric %q: out of range", s)
	}
	return cents.IntPart(), nil
}

func centsToNumericString(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
