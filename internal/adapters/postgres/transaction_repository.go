package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
)

// TransactionRepository implements ports.TransactionRepository on pgx
type TransactionRepository struct {
	db ports.DBPort
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db ports.DBPort) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) querier(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

const transactionColumns = `
	id, user_id, subscription_id, amount, currency, status, type,
	gateway, gateway_reference, description, error_message,
	idempotency_key, retry_at, metadata, created_at, updated_at`

// Create inserts a transaction record
func (r *TransactionRepository) Create(ctx context.Context, tx ports.DBTX, txn *domain.Transaction) error {
	amount, err := numericFromMoney(txn.Amount)
	if err != nil {
		return err
	}

	metadataBytes := []byte("{}")
	if txn.Metadata != nil {
		metadataBytes, err = json.Marshal(txn.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO transactions (
			id, user_id, subscription_id, amount, currency, status, type,
			gateway, gateway_reference, description, error_message,
			idempotency_key, retry_at, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = r.querier(tx).Exec(ctx, query,
		txn.ID, txn.UserID, txn.SubscriptionID, amount, txn.Amount.Currency,
		string(txn.Status), string(txn.Type),
		txn.Gateway, nullText(txn.GatewayReference), txn.Description, nullText(txn.ErrorMessage),
		nullText(txn.IdempotencyKey), tsFromPtr(txn.RetryAt), metadataBytes, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by ID
func (r *TransactionRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.Transaction, error) {
	query := `SELECT` + transactionColumns + ` FROM transactions WHERE id = $1`

	row := r.querier(tx).QueryRow(ctx, query, id)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}
	return txn, nil
}

// GetByIdempotencyKey retrieves the transaction that used the key
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, tx ports.DBTX, key string) (*domain.Transaction, error) {
	query := `SELECT` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`

	row := r.querier(tx).QueryRow(ctx, query, key)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction by idempotency key: %w", err)
	}
	return txn, nil
}

// Update persists the mutable transaction fields
func (r *TransactionRepository) Update(ctx context.Context, tx ports.DBTX, txn *domain.Transaction) error {
	query := `
		UPDATE transactions SET
			status = $2, gateway_reference = $3, error_message = $4,
			retry_at = $5, updated_at = $6
		WHERE id = $1`

	tag, err := r.querier(tx).Exec(ctx, query,
		txn.ID, string(txn.Status), nullText(txn.GatewayReference), nullText(txn.ErrorMessage),
		tsFromPtr(txn.RetryAt), txn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

// ListBySubscription returns a subscription's transactions, newest first
func (r *TransactionRepository) ListBySubscription(ctx context.Context, tx ports.DBTX, subscriptionID string) ([]*domain.Transaction, error) {
	query := `SELECT` + transactionColumns + ` FROM transactions WHERE subscription_id = $1 ORDER BY created_at DESC`

	rows, err := r.querier(tx).Query(ctx, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list transactions by subscription: %w", err)
	}
	defer rows.Close()

	var txns []*domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var txn domain.Transaction
	var amount pgtype.Numeric
	var currency, status, txnType string
	var gatewayRef, errorMessage, idemKey pgtype.Text
	var retryAt *time.Time
	var metadataBytes []byte

	err := row.Scan(
		&txn.ID, &txn.UserID, &txn.SubscriptionID, &amount, &currency, &status, &txnType,
		&txn.Gateway, &gatewayRef, &txn.Description, &errorMessage,
		&idemKey, &retryAt, &metadataBytes, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.Amount, err = moneyFromNumeric(amount, currency)
	if err != nil {
		return nil, err
	}
	txn.Status = domain.TransactionStatus(status)
	txn.Type = domain.TransactionType(txnType)
	txn.GatewayReference = gatewayRef.String
	txn.ErrorMessage = errorMessage.String
	txn.IdempotencyKey = idemKey.String
	txn.RetryAt = retryAt

	if len(metadataBytes) > 0 {
		if err := json.Unmarshal(metadataBytes, &txn.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &txn, nil
}
