// Package core holds the GigFin domain entities and their validation rules.
//
// Expense amounts are stored in integer minor units (cents); income amounts
// are decimals in currency units. Helpers here convert between the two so
// aggregates never mix representations.
package core

import "github.com/shopspring/decimal"

// MinorToDecimal converts minor units (cents) to currency units.
func MinorToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// FormatMinor renders minor units as a plain two-decimal string ("12.34").
func FormatMinor(minor int64) string {
	return MinorToDecimal(minor).StringFixed(2)
}
