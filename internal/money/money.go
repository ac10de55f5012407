// Package money holds the decimal arithmetic shared by the cart, order validation
// and notification summaries so that every component rounds the same way.
package money

import "github.com/shopspring/decimal"

// Places is the number of decimal places totals are rounded to.
const Places = 2

// FromFloat converts a wire/storage price to a decimal.
func FromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// Subtotal returns price×quantity, unrounded.
func Subtotal(price float64, quantity int) decimal.Decimal {
	return FromFloat(price).Mul(decimal.NewFromInt(int64(quantity)))
}

// Round rounds half away from zero to two places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Float returns d rounded to two places as a float64 for JSON and DynamoDB.
func Float(d decimal.Decimal) float64 {
	f, _ := Round(d).Float64()
	return f
}

// Cents returns d rounded to whole cents.
func Cents(d decimal.Decimal) int64 {
	return Round(d).Shift(Places).IntPart()
}

// Format renders d with exactly two decimals, e.g. "19.00".
func Format(d decimal.Decimal) string {
	return Round(d).StringFixed(Places)
}
