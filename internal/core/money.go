// Package core provides money parsing and handling utilities.
//
// Amounts are stored as signed integer cents. Parsing goes through
// shopspring/decimal so that feeds with either separator and arbitrary
// precision round the same way everywhere.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a signed decimal string to cents with half-up rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional leading sign. Zero amounts are rejected.
//
// Examples:
//
//	ParseAmount("-12.34") -> Money{-1234}, nil
//	ParseAmount("12,345") -> Money{1235}, nil (rounds half away from zero)
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	cents := d.Shift(2).Round(0)
	if !cents.IsInteger() || cents.IsZero() {
		return Money{}, ErrInvalidAmount
	}
	// Reject anything outside the int64 range.
	if cents.Abs().GreaterThan(decimal.NewFromInt(1 << 62)) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

// MoneyFromFloat converts major units back to cents, rounding half away from zero.
func MoneyFromFloat(v float64) Money {
	return Money{Cents: decimal.NewFromFloat(v).Shift(2).Round(0).IntPart()}
}

// Float64 returns the amount in major units for statistics.
// Use cents for sums to avoid floating-point drift.
func (m Money) Float64() float64 {
	return decimal.New(m.Cents, -2).InexactFloat64()
}

func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents}
	}
	return m
}

func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

func (m Money) Sub(o Money) Money {
	return Money{Cents: m.Cents - o.Cents}
}

func (m Money) IsZero() bool {
	return m.Cents == 0
}

// String renders the amount with two decimals, e.g. "-12.30".
func (m Money) String() string {
	return decimal.New(m.Cents, -2).StringFixed(2)
}

// Ratio returns m/o, or ErrDivisionUndefined when o is not positive.
func (m Money) Ratio(o Money) (float64, error) {
	if o.Cents <= 0 {
		return 0, ErrDivisionUndefined
	}
	r, _ := decimal.NewFromInt(m.Cents).Div(decimal.NewFromInt(o.Cents)).Float64()
	return r, nil
}

// MarshalJSON encodes the amount as a fixed two-decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ErrInvalidAmount
	}
	m.Cents = d.Shift(2).Round(0).IntPart()
	return nil
}

// UnmarshalText lets configuration files carry amounts such as "50.00".
// Unlike ParseAmount it accepts zero.
func (m *Money) UnmarshalText(text []byte) error {
	s := strings.ReplaceAll(strings.TrimSpace(string(text)), ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ErrInvalidAmount
	}
	m.Cents = d.Shift(2).Round(0).IntPart()
	return nil
}
