package ledger

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyPlaces is the precision of balances and totals.
const CurrencyPlaces = 2

// RoundCurrency rounds half away from zero to two decimals.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

var maxQuantity = decimal.NewFromInt(math.MaxInt64)

// Limits checked before any decimal arithmetic. Scaling a decimal with a
// huge exponent costs time and memory proportional to the exponent.
const (
	maxQuantityLen      = 32
	maxQuantityExponent = 18
)

// ParseQuantity parses a share count from its textual form, as sent by a
// client either as a JSON number or a string. Missing, non-numeric, zero,
// negative and fractional values are rejected with InvalidQuantity.
func ParseQuantity(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return 0, reject(InvalidQuantity, "quantity is required")
	}

	if len(raw) > maxQuantityLen {
		return 0, reject(InvalidQuantity, "quantity is too long")
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, reject(InvalidQuantity, "quantity %q is not a number", raw)
	}
	if exp := d.Exponent(); exp < -maxQuantityExponent || exp > maxQuantityExponent {
		return 0, reject(InvalidQuantity, "quantity %q is out of range", raw)
	}
	if !d.IsInteger() {
		return 0, reject(InvalidQuantity, "quantity %s is not a whole number", d)
	}
	if !d.IsPositive() {
		return 0, reject(InvalidQuantity, "quantity %s must be positive", d)
	}
	if d.GreaterThan(maxQuantity) {
		return 0, reject(InvalidQuantity, "quantity %s is too large", d)
	}

	return d.IntPart(), nil
}
