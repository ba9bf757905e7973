// Package royalty computes the split of a gross sale amount between the
// payee and the platform.
package royalty

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/soundlease/payrail/internal/money"
)

var (
	// ErrInvalidAmount is returned when the gross amount is zero or negative.
	ErrInvalidAmount = errors.New("gross amount must be positive")

	// ErrInvalidRate is returned when the payee rate is outside [0, 1].
	ErrInvalidRate = errors.New("payee rate must be between 0 and 1")

	// ErrInvalidCurrency is returned when the currency code is not ISO 4217.
	ErrInvalidCurrency = errors.New("invalid currency code")
)

// Split is the result of dividing a gross sale amount. PayeeShare and
// PlatformShare always sum exactly to the gross amount; remainder minor
// units from rounding go to the platform.
type Split struct {
	PayeeShare    decimal.Decimal
	PlatformShare decimal.Decimal
	Currency      string
}

var one = decimal.New(1, 0)

// ComputeSplit divides gross between the payee and the platform at the given
// rate. The payee share is rounded half-down at the currency's minor-unit
// precision and the platform share is the exact remainder, so the two shares
// sum to gross regardless of rounding direction. The function is pure:
// identical inputs always produce identical outputs, which is what makes
// retried settlements reproduce the same amounts.
func ComputeSplit(gross decimal.Decimal, currency string, payeeRate decimal.Decimal) (Split, error) {
	if !money.ValidCurrency(currency) {
		return Split{}, ErrInvalidCurrency
	}
	if !gross.IsPositive() {
		return Split{}, ErrInvalidAmount
	}
	if payeeRate.IsNegative() || payeeRate.GreaterThan(one) {
		return Split{}, ErrInvalidRate
	}

	payee := money.RoundHalfDown(gross.Mul(payeeRate), money.MinorUnits(currency))
	return Split{
		PayeeShare:    payee,
		PlatformShare: gross.Sub(payee),
		Currency:      currency,
	}, nil
}
