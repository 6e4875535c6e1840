package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"subscription-service/internal/domain"
)

// numericFromMoney converts a Money amount to pgtype.Numeric
func numericFromMoney(m domain.Money) (pgtype.Numeric, error) {
	n := pgtype.Numeric{}
	if err := n.Scan(m.Amount.String()); err != nil {
		return n, fmt.Errorf("convert amount: %w", err)
	}
	return n, nil
}

// moneyFromNumeric reassembles a Money value from its stored columns
func moneyFromNumeric(n pgtype.Numeric, currency string) (domain.Money, error) {
	if !n.Valid {
		return domain.Money{}, fmt.Errorf("amount column is null")
	}
	return domain.Money{
		Amount:   decimal.NewFromBigInt(n.Int, n.Exp),
		Currency: currency,
	}, nil
}

// decimalFromNumeric converts a bare numeric column
func decimalFromNumeric(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Decimal{}, fmt.Errorf("numeric column is null")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

// numericFromDecimal converts a decimal to pgtype.Numeric
func numericFromDecimal(d decimal.Decimal) (pgtype.Numeric, error) {
	n := pgtype.Numeric{}
	if err := n.Scan(d.String()); err != nil {
		return n, fmt.Errorf("convert decimal: %w", err)
	}
	return n, nil
}

// nullText wraps an optional string column
func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

// tsFromPtr wraps an optional timestamp column
func tsFromPtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

// ptrFromTs unwraps an optional timestamp column
func ptrFromTs(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

// int4FromPtr wraps an optional integer column
func int4FromPtr(v *int) pgtype.Int4 {
	if v == nil {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(*v), Valid: true}
}

// ptrFromInt4 unwraps an optional integer column
func ptrFromInt4(v pgtype.Int4) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int32)
	return &i
}
