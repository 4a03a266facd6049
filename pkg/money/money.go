// Package money holds the fixed-point precision rules for ledger amounts.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// CryptoScale is the number of decimal places kept for token amounts.
	CryptoScale int32 = 8
	// FiatScale is the number of decimal places kept for fiat amounts.
	FiatScale int32 = 2
)

// Column limits: token amounts are NUMERIC(38,8), fiat amounts NUMERIC(20,2).
var (
	cryptoLimit = decimal.New(1, 38-CryptoScale)
	fiatLimit   = decimal.New(1, 20-FiatScale)
)

// CryptoInRange reports whether d, once truncated to token precision, fits a token column.
func CryptoInRange(d decimal.Decimal) bool {
	return Crypto(d).Abs().LessThan(cryptoLimit)
}

// FiatInRange reports whether d, once rounded to cents, fits a fiat column.
func FiatInRange(d decimal.Decimal) bool {
	return Fiat(d).Abs().LessThan(fiatLimit)
}

// Crypto truncates d to token precision. Truncation never credits more than the provider reported.
func Crypto(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(CryptoScale)
}

// Fiat rounds d half away from zero to cents.
func Fiat(d decimal.Decimal) decimal.Decimal {
	return d.Round(FiatScale)
}

// FitsScale reports whether d has at most scale fractional digits.
func FitsScale(d decimal.Decimal, scale int32) bool {
	return d.Equal(d.Truncate(scale))
}

// ParseCrypto parses s as a positive token amount with at most CryptoScale decimals.
func ParseCrypto(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount %q must be positive", s)
	}
	if !FitsScale(d, CryptoScale) {
		return decimal.Zero, fmt.Errorf("amount %q exceeds %d decimal places", s, CryptoScale)
	}
	return d, nil
}
