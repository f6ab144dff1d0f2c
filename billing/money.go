/*
Package billing provides the core vocabulary of the billing engine.

PURPOSE:
  This package contains domain-agnostic types and rules shared by the
  subscription charge engine and the transaction/installment engine:
  monetary amounts, calendar dates, the injected clock, the charge status
  state machine, and the error taxonomy.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money: A monetary amount with cent precision
  - SplitInstallments: Division of a total into n parts where the last part
    absorbs the rounding remainder

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Conservation: Splitting a total always sums back to the total exactly
  3. Determinism: No ambient time access; callers inject a Clock

USAGE:
  total := billing.NewMoneyFromFloat(100)
  parts := billing.SplitInstallments(total, 3)
  // parts = [33.33, 33.33, 33.34]

SEE ALSO:
  - date.go: Calendar dates and month arithmetic
  - status.go: The pending/paid/overdue/cancelled state machine
  - calendar.go: Due-date and overdue policy
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amount with cent precision
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoneyFromFloat(v float64) Money {
	return Money{Value: decimal.NewFromFloat(v).Round(2)}
}

func NewMoneyFromInt(v int) Money {
	return Money{Value: decimal.NewFromInt(int64(v))}
}

// ParseMoney parses a decimal string like "850.00".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d.Round(2)}, nil
}

// MustMoney parses a decimal string and returns zero on failure.
// For test fixtures and seed data only.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		return Money{}
	}
	return m
}

func Zero() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money      { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money      { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money             { return Money{Value: m.Value.Neg()} }
func (m Money) MulInt(n int) Money     { return Money{Value: m.Value.Mul(decimal.NewFromInt(int64(n)))} }
func (m Money) IsZero() bool           { return m.Value.IsZero() }
func (m Money) IsNegative() bool       { return m.Value.IsNegative() }
func (m Money) IsPositive() bool       { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool     { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool  { return m.Value.LessThan(o.Value) }

// DivRound divides by n and rounds to cents. Used for per-installment amounts.
func (m Money) DivRound(n int) Money {
	return Money{Value: m.Value.Div(decimal.NewFromInt(int64(n))).Round(2)}
}

// String formats with exactly two decimal places.
func (m Money) String() string { return m.Value.StringFixed(2) }

// Float64 returns the amount as a float for JSON responses. Lossy; never use
// the result for arithmetic.
func (m Money) Float64() float64 {
	f, _ := m.Value.Float64()
	return f
}

// MarshalJSON renders the amount as a fixed two-decimal JSON string, never a
// float.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.Value.StringFixed(2) + `"`), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	m.Value = d.Round(2)
	return nil
}

// =============================================================================
// INSTALLMENT SPLITTING - Remainder lands on the LAST part
// =============================================================================

// SplitInstallments divides total into n parts of equal rounded size, with
// the rounding remainder absorbed into the last part so that the parts sum
// back to total exactly.
//
//	SplitInstallments(100.00, 3) = [33.33, 33.33, 33.34]
//	SplitInstallments(8500.00, 10) = [850.00 x 10]
func SplitInstallments(total Money, n int) []Money {
	if n <= 0 {
		return nil
	}
	per := total.DivRound(n)
	remainder := total.Sub(per.MulInt(n))

	parts := make([]Money, n)
	for i := 0; i < n; i++ {
		parts[i] = per
	}
	parts[n-1] = parts[n-1].Add(remainder)
	return parts
}

// SplitInstallmentsFixed is the variant where the per-installment amount was
// chosen by the caller. The remainder correction still lands on the last part.
func SplitInstallmentsFixed(total Money, per Money, n int) []Money {
	if n <= 0 {
		return nil
	}
	remainder := total.Sub(per.MulInt(n))

	parts := make([]Money, n)
	for i := 0; i < n; i++ {
		parts[i] = per
	}
	parts[n-1] = parts[n-1].Add(remainder)
	return parts
}
