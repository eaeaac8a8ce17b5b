/*
Package generic provides the domain-agnostic building blocks of the leave engine.

PURPOSE:
  The leave package owns the business rules (sizing, ledger, approvals). This
  package owns the primitives those rules are written in: quantities of days,
  calendar dates, accounting periods, holiday sets, and the retry policy used
  when two writers race for the same row.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 5 days, 0.25 days)

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal so 0.25 + 0.5 + 0.25 is exactly 1
  2. Days Only: Every balance is kept in days, and Unit labels the amount

USAGE:
  requested := generic.Days(5)
  if available.LessThan(requested) {
      ...
  }

SEE ALSO:
  - time.go: TimePoint and holiday calendar types
  - period.go: Accounting periods
  - errors.go: Shared error types
  - retry.go: Bounded retry for row contention
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const UnitDays Unit = "days"

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

// Days is shorthand for an amount in days.
func Days(n float64) Amount { return NewAmount(n, UnitDays) }

// ZeroDays is the empty amount in days.
func ZeroDays() Amount { return Amount{Value: decimal.Zero, Unit: UnitDays} }

// ParseDays parses a decimal string ("1.5") into days.
func ParseDays(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse days %q: %w", s, err)
	}
	return Amount{Value: d, Unit: UnitDays}, nil
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// String renders the value without trailing zeros ("0.25", "5").
func (a Amount) String() string { return a.Value.String() }
