// Package money provides currency-aware decimal arithmetic for settlement
// amounts. Amounts are carried as shopspring decimals and only rounded at
// minor-unit boundaries.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// minorUnits maps ISO 4217 currency codes to their minor-unit exponent.
// Currencies not listed here default to two decimal places.
var minorUnits = map[string]int32{
	"BHD": 3,
	"CLP": 0,
	"ISK": 0,
	"JOD": 3,
	"JPY": 0,
	"KRW": 0,
	"KWD": 3,
	"VND": 0,
}

const defaultMinorUnits = 2

// MinorUnits returns the number of decimal places used by the given
// ISO 4217 currency code.
func MinorUnits(currency string) int32 {
	if units, ok := minorUnits[strings.ToUpper(currency)]; ok {
		return units
	}
	return defaultMinorUnits
}

// ValidCurrency reports whether the given string looks like an ISO 4217
// alphabetic currency code.
func ValidCurrency(currency string) bool {
	if len(currency) != 3 {
		return false
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// RoundHalfDown rounds d to the given number of decimal places, with exact
// halves rounding toward zero. Standard round-half-up would leak a minor
// unit from the platform share on exact halves.
func RoundHalfDown(d decimal.Decimal, places int32) decimal.Decimal {
	shifted := d.Shift(places)
	floor := shifted.Floor()
	half := decimal.New(5, -1)
	if shifted.Sub(floor).GreaterThan(half) {
		floor = floor.Add(decimal.New(1, 0))
	}
	return floor.Shift(-places)
}

// Format renders an amount at the currency's minor-unit precision, e.g.
// "70.00" for GBP or "500" for JPY.
func Format(d decimal.Decimal, currency string) string {
	return d.StringFixed(MinorUnits(currency))
}

// Parse parses a decimal amount string and normalizes the currency code.
// It rejects amounts with more precision than the currency supports.
func Parse(amount, currency string) (decimal.Decimal, string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !ValidCurrency(currency) {
		return decimal.Zero, "", fmt.Errorf("invalid currency code %q", currency)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if !d.Equal(d.Truncate(MinorUnits(currency))) {
		return decimal.Zero, "", fmt.Errorf("amount %s has more precision than %s allows", amount, currency)
	}
	return d, currency, nil
}
