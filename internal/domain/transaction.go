package domain

import (
	"time"
)

// TransactionStatus represents the lifecycle state of a transaction
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

// TransactionType represents why the charge happened
type TransactionType string

const (
	TransactionTypeInitial TransactionType = "initial"
	TransactionTypeRenewal TransactionType = "renewal"
	TransactionTypeUpgrade TransactionType = "upgrade"
	TransactionTypeRefund  TransactionType = "refund"
	TransactionTypeManual  TransactionType = "manual"
)

// Transaction is the audit record of a single money movement. It is
// persisted before the gateway call and updated once, by the worker
// that created it.
type Transaction struct {
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Metadata         map[string]string `json:"metadata"`
	SubscriptionID   *string           `json:"subscription_id"`
	RetryAt          *time.Time        `json:"retry_at"`
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	Amount           Money             `json:"amount"`
	Status           TransactionStatus `json:"status"`
	Type             TransactionType   `json:"type"`
	Gateway          string            `json:"gateway"`
	GatewayReference string            `json:"gateway_reference"`
	Description      string            `json:"description"`
	ErrorMessage     string            `json:"error_message"`
	IdempotencyKey   string            `json:"idempotency_key"`
}

// IsCompleted returns true if the gateway confirmed the charge
func (t *Transaction) IsCompleted() bool {
	return t.Status == TransactionStatusCompleted
}

// CanBeRefunded reports whether a refund can be issued against this
// transaction. Only completed positive charges qualify.
func (t *Transaction) CanBeRefunded() bool {
	return t.Status == TransactionStatusCompleted && t.Amount.IsPositive()
}

// MarkCompleted records gateway approval. A completed transaction always
// carries a non-empty gateway reference.
func (t *Transaction) MarkCompleted(gatewayRef string, now time.Time) {
	t.Status = TransactionStatusCompleted
	t.GatewayReference = gatewayRef
	t.UpdatedAt = now
}

// MarkFailed records gateway decline with the reason
func (t *Transaction) MarkFailed(reason string, now time.Time) {
	t.Status = TransactionStatusFailed
	t.ErrorMessage = reason
	t.UpdatedAt = now
}
