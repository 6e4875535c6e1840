package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
)

// UserRepository implements ports.UserRepository on pgx
type UserRepository struct {
	db ports.DBPort
}

// NewUserRepository creates a new user repository
func NewUserRepository(db ports.DBPort) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) querier(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.User, error) {
	query := `
		SELECT id, email, role, balance_amount, balance_currency, is_active, created_at, updated_at
		FROM users WHERE id = $1`

	var user domain.User
	var role string
	var balance pgtype.Numeric
	var currency string

	err := r.querier(tx).QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &role, &balance, &currency,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}

	user.Role = domain.UserRole(role)
	user.Balance, err = moneyFromNumeric(balance, currency)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateBalance sets the user's balance
func (r *UserRepository) UpdateBalance(ctx context.Context, tx ports.DBTX, id string, balance domain.Money) error {
	amount, err := numericFromMoney(balance)
	if err != nil {
		return err
	}

	query := `UPDATE users SET balance_amount = $2, balance_currency = $3, updated_at = now() WHERE id = $1`
	tag, err := r.querier(tx).Exec(ctx, query, id, amount, balance.Currency)
	if err != nil {
		return fmt.Errorf("update user balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
