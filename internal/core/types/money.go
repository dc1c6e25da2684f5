// Package types holds the money type shared by every layer.
package types

import "github.com/shopspring/decimal"

// Money is an exact decimal amount. Upstream sends amounts as strings with
// comma or dot decimals; they are parsed, never computed through floats.
type Money = decimal.Decimal

// NewMoney converts a float. Prefer NewMoneyFromString wherever the source
// value is textual.
func NewMoney(f float64) Money {
	return decimal.NewFromFloat(f)
}

// NewMoneyFromString parses a decimal string.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney parses a decimal string, panicking on error. For fixtures and
// tests.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero is the zero amount.
func Zero() Money {
	return decimal.Zero
}

// Min returns the smaller of a and b. Payment allocation clamps with it.
func Min(a, b Money) Money {
	if a.LessThan(b) {
		return a
	}
	return b
}

// SameAmount compares at cent precision. Upstream amounts carry at most
// two decimals, but allocation arithmetic on our side can introduce more.
func SameAmount(a, b Money) bool {
	return a.Round(2).Equal(b.Round(2))
}
