// Package money provides fixed-point monetary parsing, formatting, and
// arithmetic for the platform.
//
// Amounts are stored as big.Int in millionths of a currency unit
// (1.00 USD = 1,000,000 units) and serialized as decimal strings, matching
// the NUMERIC(20,6) columns in the database. Rounding to minor units
// (cents) happens only at the payment-gateway boundary.
package money

import (
	"math/big"
	"strings"
)

const Decimals = 6

var unitsPerCent = big.NewInt(10_000) // 10^(Decimals-2)

// Parse converts a non-negative decimal string (e.g. "1.50") to its
// smallest-unit big.Int representation (1500000). Returns (nil, false) on
// invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 6 decimal places
func Parse(s string) (*big.Int, bool) {
	if strings.HasPrefix(s, "-") {
		return nil, false
	}
	return ParseSigned(s)
}

// ParseSigned is Parse without the non-negative restriction. Ledger
// transaction amounts are signed (debits are negative).
func ParseSigned(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, false
	}
	if neg {
		result.Neg(result)
	}
	return result, true
}

// Format converts a smallest-unit big.Int to a decimal string with exactly
// 6 decimal places (e.g. "1.500000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.000000"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// Cents converts a smallest-unit amount to gateway minor units (cents),
// rounding half-up on the sub-cent remainder. This is the only place in
// the system where monetary amounts are rounded.
func Cents(amount *big.Int) int64 {
	if amount == nil {
		return 0
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)

	q, r := new(big.Int).QuoRem(abs, unitsPerCent, new(big.Int))
	// Round half-up: remainder >= 5000 of 10000 rounds away from zero.
	if r.Cmp(big.NewInt(5_000)) >= 0 {
		q.Add(q, big.NewInt(1))
	}
	if neg {
		q.Neg(q)
	}
	return q.Int64()
}

// FromCents converts gateway minor units back to a smallest-unit amount.
func FromCents(cents int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(cents), unitsPerCent)
}

// ApplyPercent returns percent% of amount, truncating below the smallest
// unit. percent is expressed in basis points of 1% (e.g. 10 for 10%,
// allowing fractional percents via PercentFromFloat). For integral percents
// of two-decimal amounts the result is exact.
func ApplyPercent(amount *big.Int, percentBasisPoints int64) *big.Int {
	product := new(big.Int).Mul(amount, big.NewInt(percentBasisPoints))
	return product.Quo(product, big.NewInt(10_000))
}

// BasisPoints converts a human percentage (e.g. 10 for 10%, 2.5 for 2.5%)
// to basis points for ApplyPercent.
func BasisPoints(percent float64) int64 {
	return int64(percent*100 + 0.5)
}

// Add returns a + b as a new big.Int.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(a, b)
}

// Sub returns a - b as a new big.Int.
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(a, b)
}

// Neg returns -a as a new big.Int.
func Neg(a *big.Int) *big.Int {
	return new(big.Int).Neg(a)
}

// Zero returns a zero amount.
func Zero() *big.Int {
	return big.NewInt(0)
}
