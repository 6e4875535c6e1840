package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an immutable amount in a single currency. All arithmetic that
// combines two Money values requires matching currencies.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney creates a non-negative Money value. User-facing prices are
// never negative; refund transactions use Negate on an existing amount.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if amount.IsNegative() {
		return Money{}, fmt.Errorf("money amount cannot be negative: %s", amount)
	}
	if currency == "" {
		return Money{}, fmt.Errorf("money currency is required")
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// MustMoney is NewMoney for constants in wiring and tests.
func MustMoney(amount string, currency string) Money {
	m, err := NewMoney(decimal.RequireFromString(amount), currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Add returns m + other
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("cannot add %s to %s", other.Currency, m.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("cannot subtract %s from %s", other.Currency, m.Currency)
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// MulScalar returns m scaled by k
func (m Money) MulScalar(k decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(k), Currency: m.Currency}
}

// Cmp compares two amounts: -1 if m < other, 0 if equal, 1 if m > other
func (m Money) Cmp(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("cannot compare %s with %s", m.Currency, other.Currency)
	}
	return m.Amount.Cmp(other.Amount), nil
}

// Round returns the amount rounded half-up to two decimal places
func (m Money) Round() Money {
	return Money{Amount: m.Amount.Round(2), Currency: m.Currency}
}

// Negate returns the amount with flipped sign, used for refund transactions
func (m Money) Negate() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

// IsZero reports whether the amount is zero
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// IsPositive reports whether the amount is strictly positive
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}

// PeriodUnit is the unit of a TimePeriod
type PeriodUnit string

const (
	PeriodUnitDays   PeriodUnit = "days"
	PeriodUnitMonths PeriodUnit = "months"
	PeriodUnitYears  PeriodUnit = "years"
)

// TimePeriod is a coarse duration used in plan definitions. Month and
// year conversion is calendar-naive (30/365).
type TimePeriod struct {
	Value int        `json:"value"`
	Unit  PeriodUnit `json:"unit"`
}

// ToDays converts the period to days. Months map to 30 days, years to 365.
func (p TimePeriod) ToDays() (int, error) {
	switch p.Unit {
	case PeriodUnitDays:
		return p.Value, nil
	case PeriodUnitMonths:
		return p.Value * 30, nil
	case PeriodUnitYears:
		return p.Value * 365, nil
	default:
		return 0, fmt.Errorf("unknown period unit: %s", p.Unit)
	}
}
