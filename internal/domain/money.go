package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fractional digits every amount carries.
const MoneyPlaces = 2

// MaxAmount is the largest amount or balance the ledger can hold
// (NUMERIC(14,2)).
var MaxAmount = decimal.RequireFromString("999999999999.99")

// ValidateAmount checks that amount is a positive value with at most two
// fractional digits.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if !amount.Equal(amount.Truncate(MoneyPlaces)) {
		return fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidArgument, amount, MoneyPlaces)
	}
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: amount exceeds %s", ErrInvalidArgument, FormatAmount(MaxAmount))
	}
	return nil
}

// ParseAmount parses a client-supplied decimal string and validates it.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed amount %q", ErrInvalidArgument, s)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// FormatAmount renders an amount with exactly two fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}
