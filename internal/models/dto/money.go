package dto

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hongminglow/qrpay/internal/apperr"
)

// minorExp is the number of fractional digits carried by the ledger currency.
const minorExp = 2

var hundred = decimal.New(1, minorExp)

// ParseAmount converts a decimal string such as "100.50" into minor units.
// Amounts must be positive and carry at most two fractional digits.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, apperr.Wrap(apperr.ErrValidation, "amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, apperr.Wrap(apperr.ErrValidation, "amount %q is not a number", s)
	}
	if !d.IsPositive() {
		return 0, apperr.Wrap(apperr.ErrValidation, "amount must be positive")
	}
	if d.Exponent() < -minorExp && !d.Equal(d.Truncate(minorExp)) {
		return 0, apperr.Wrap(apperr.ErrValidation, "amount has more than %d decimal places", minorExp)
	}
	minor := d.Mul(hundred)
	if !minor.IsInteger() || minor.GreaterThan(decimal.NewFromInt(maxMinor)) {
		return 0, apperr.Wrap(apperr.ErrValidation, "amount is out of range")
	}
	return minor.IntPart(), nil
}

// maxMinor caps a single amount well inside int64 so sums cannot overflow.
const maxMinor = 1 << 53

// FormatAmount renders minor units as a fixed two-decimal string.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -minorExp).StringFixed(minorExp)
}
