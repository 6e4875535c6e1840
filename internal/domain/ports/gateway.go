package ports

import (
	"context"

	"subscription-service/internal/domain"
)

// ChargeRequest carries everything a gateway needs to move money once.
// IdempotencyKey must be stable across retries of the same transaction.
type ChargeRequest struct {
	Amount         domain.Money
	MethodToken    string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

// ChargeResult is the gateway's answer to a charge or refund.
// GatewayReference is set only on approved operations.
type ChargeResult struct {
	Approved         bool
	GatewayReference string
	ResponseCode     string
	ResponseMessage  string
}

// RefundRequest reverses a previously approved charge, in full or in part
type RefundRequest struct {
	GatewayReference string
	Amount           domain.Money
	Reason           string
}

// RegisterMethodRequest tokenizes a payment instrument with the gateway
type RegisterMethodRequest struct {
	UserID     string
	MethodType string
	// Details is gateway-specific instrument data, passed through opaque
	Details map[string]string
}

// RegisterMethodResult carries the gateway-side token for the instrument
type RegisterMethodResult struct {
	ExternalID string
	MethodType string
}

// PaymentGateway abstracts a payment provider. Implementations must be
// safe for concurrent use; the billing engine calls Charge from many
// workers at once.
type PaymentGateway interface {
	// Name returns the registry tag of this gateway ("mock", "yoomoney")
	Name() string

	// Charge attempts to capture funds. A decline is returned as a
	// non-approved result, not an error; errors mean the outcome is
	// unknown (network, timeout, 5xx).
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)

	// Refund reverses an approved charge identified by its gateway reference
	Refund(ctx context.Context, req RefundRequest) (ChargeResult, error)

	// RegisterMethod stores a payment instrument with the provider and
	// returns the token to charge it by.
	RegisterMethod(ctx context.Context, req RegisterMethodRequest) (RegisterMethodResult, error)

	// VerifyWebhook checks a callback signature against the shared secret
	VerifyWebhook(payload []byte, signature string) bool
}
