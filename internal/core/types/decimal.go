// Package types provides the numeric types used by the ledger.
package types

import (
	"bytes"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Money is an exact unit price or value.
type Money = decimal.Decimal

// MustMoney parses s or panics. For constants and tests.
func MustMoney(s string) Money {
	return decimal.RequireFromString(s)
}

// Quantity counts stock in ten-thousandths of a unit. It is stored as a
// BIGINT, so sums over lots stay exact.
type Quantity int64

// QuantityScale is the number of Quantity steps in one unit.
const QuantityScale int64 = 10_000

const quantityExp = 4

// NewQuantity returns units whole units.
func NewQuantity(units int64) Quantity { return Quantity(units * QuantityScale) }

// NewQuantityFromFloat64 rounds v to the nearest step.
func NewQuantityFromFloat64(v float64) Quantity {
	return Quantity(math.Round(v * float64(QuantityScale)))
}

// QuantityFromDecimal truncates d past four fractional digits.
func QuantityFromDecimal(d decimal.Decimal) (Quantity, error) {
	steps := d.Shift(quantityExp).Truncate(0)
	if !steps.BigInt().IsInt64() {
		return 0, fmt.Errorf("quantity %s out of range", d)
	}
	return Quantity(steps.IntPart()), nil
}

// ParseQuantity reads a decimal string such as "12.5" or "-3", truncating
// past four fractional digits.
func ParseQuantity(s string) (Quantity, error) {
	d, err := decimal.NewFromString(string(bytes.TrimSpace([]byte(s))))
	if err != nil {
		return 0, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	return QuantityFromDecimal(d)
}

func (q Quantity) Float64() float64 { return float64(q) / float64(QuantityScale) }

func (q Quantity) IsZero() bool     { return q == 0 }
func (q Quantity) IsPositive() bool { return q > 0 }
func (q Quantity) IsNegative() bool { return q < 0 }

// Decimal is the exact value of q.
func (q Quantity) Decimal() decimal.Decimal {
	return decimal.New(int64(q), -quantityExp)
}

// Mul prices q at price per unit.
func (q Quantity) Mul(price Money) Money {
	return q.Decimal().Mul(price)
}

// Min returns the smaller quantity.
func Min(a, b Quantity) Quantity {
	return min(a, b)
}

// String always renders four fractional digits.
func (q Quantity) String() string {
	return q.Decimal().StringFixed(quantityExp)
}

// MarshalJSON writes q as a bare JSON number.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal; null is zero.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*q = 0
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	v, err := QuantityFromDecimal(d)
	if err != nil {
		return err
	}
	*q = v
	return nil
}
