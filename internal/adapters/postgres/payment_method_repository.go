package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
)

// PaymentMethodRepository implements ports.PaymentMethodRepository on pgx
type PaymentMethodRepository struct {
	db ports.DBPort
}

// NewPaymentMethodRepository creates a new payment method repository
func NewPaymentMethodRepository(db ports.DBPort) *PaymentMethodRepository {
	return &PaymentMethodRepository{db: db}
}

func (r *PaymentMethodRepository) querier(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

const paymentMethodColumns = `
	id, user_id, gateway, method_type, external_id,
	is_default, is_valid, last_used, expires_at, created_at`

// Create inserts a stored payment instrument
func (r *PaymentMethodRepository) Create(ctx context.Context, tx ports.DBTX, method *domain.PaymentMethod) error {
	query := `
		INSERT INTO payment_methods (
			id, user_id, gateway, method_type, external_id,
			is_default, is_valid, last_used, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.querier(tx).Exec(ctx, query,
		method.ID, method.UserID, method.Gateway, method.MethodType, method.ExternalID,
		method.IsDefault, method.IsValid, tsFromPtr(method.LastUsed), tsFromPtr(method.ExpiresAt), method.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create payment method: %w", err)
	}
	return nil
}

// GetByID retrieves a payment method by ID
func (r *PaymentMethodRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.PaymentMethod, error) {
	query := `SELECT` + paymentMethodColumns + ` FROM payment_methods WHERE id = $1`

	row := r.querier(tx).QueryRow(ctx, query, id)
	method, err := scanPaymentMethod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentMethodNotFound
		}
		return nil, fmt.Errorf("get payment method by id: %w", err)
	}
	return method, nil
}

// GetDefaultForUser retrieves the user's default valid payment method
func (r *PaymentMethodRepository) GetDefaultForUser(ctx context.Context, tx ports.DBTX, userID string) (*domain.PaymentMethod, error) {
	query := `SELECT` + paymentMethodColumns + `
		FROM payment_methods
		WHERE user_id = $1 AND is_valid = true
		ORDER BY is_default DESC, created_at DESC
		LIMIT 1`

	row := r.querier(tx).QueryRow(ctx, query, userID)
	method, err := scanPaymentMethod(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentMethodNotFound
		}
		return nil, fmt.Errorf("get default payment method: %w", err)
	}
	return method, nil
}

// Update persists the mutable payment method fields
func (r *PaymentMethodRepository) Update(ctx context.Context, tx ports.DBTX, method *domain.PaymentMethod) error {
	query := `
		UPDATE payment_methods SET
			is_default = $2, is_valid = $3, last_used = $4, expires_at = $5
		WHERE id = $1`

	tag, err := r.querier(tx).Exec(ctx, query,
		method.ID, method.IsDefault, method.IsValid, tsFromPtr(method.LastUsed), tsFromPtr(method.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("update payment method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentMethodNotFound
	}
	return nil
}

func scanPaymentMethod(row pgx.Row) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	var lastUsed, expiresAt *time.Time

	err := row.Scan(
		&method.ID, &method.UserID, &method.Gateway, &method.MethodType, &method.ExternalID,
		&method.IsDefault, &method.IsValid, &lastUsed, &expiresAt, &method.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	method.LastUsed = lastUsed
	method.ExpiresAt = expiresAt
	return &method, nil
}
