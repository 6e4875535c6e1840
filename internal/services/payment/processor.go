package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
	"subscription-service/pkg/observability"
	"subscription-service/pkg/timeutil"
)

// Processor executes single charges and refunds against the configured
// gateway and records every attempt as a transaction.
type Processor struct {
	db      ports.DBPort
	txns    ports.TransactionRepository
	methods ports.PaymentMethodRepository
	gateway ports.PaymentGateway
	logger  ports.Logger
	clock   timeutil.Clock
}

// NewProcessor creates a payment processor
func NewProcessor(
	db ports.DBPort,
	txns ports.TransactionRepository,
	methods ports.PaymentMethodRepository,
	gateway ports.PaymentGateway,
	logger ports.Logger,
	clock timeutil.Clock,
) *Processor {
	if clock == nil {
		clock = timeutil.Now
	}
	return &Processor{
		db:      db,
		txns:    txns,
		methods: methods,
		gateway: gateway,
		logger:  logger,
		clock:   clock,
	}
}

// ChargeInput describes one charge to execute
type ChargeInput struct {
	UserID          string
	SubscriptionID  *string
	PaymentMethodID string
	Amount          domain.Money
	Type            domain.TransactionType
	Description     string
	Metadata        map[string]string

	// IdempotencyKey replays a previous attempt when set. Empty means a
	// fresh key derived from the new transaction ID.
	IdempotencyKey string
}

// Charge runs the full charge pipeline: persist a pending transaction,
// call the gateway once, record the outcome. The returned transaction is
// always persisted, whatever the outcome.
//
// Declines come back as domain errors (INSUFFICIENT_FUNDS or
// PAYMENT_DECLINED); transport and 5xx failures as GATEWAY_ERROR. In the
// gateway-error case the outcome is unknown, so the transaction is left
// failed with the idempotency key intact for a safe replay.
func (p *Processor) Charge(ctx context.Context, input ChargeInput) (*domain.Transaction, error) {
	if input.Amount.IsZero() {
		return nil, domain.ErrZeroAmountCharge
	}

	if input.IdempotencyKey != "" {
		if prior, err := p.txns.GetByIdempotencyKey(ctx, nil, input.IdempotencyKey); err == nil {
			if prior.IsCompleted() {
				p.logger.Info("idempotent charge replay, returning original",
					ports.String("transaction_id", prior.ID),
				)
				return prior, nil
			}
		} else if !errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, err
		}
	}

	method, err := p.methods.GetByID(ctx, nil, input.PaymentMethodID)
	if err != nil {
		return nil, err
	}
	now := p.clock()
	if !method.IsUsable(now) {
		return nil, domain.NewDomainError(domain.ErrorCodeInvalidInput, "payment method is not usable").
			WithDetail("payment_method_id", method.ID)
	}

	txn := &domain.Transaction{
		ID:             uuid.New().String(),
		UserID:         input.UserID,
		SubscriptionID: input.SubscriptionID,
		Amount:         input.Amount,
		Status:         domain.TransactionStatusPending,
		Type:           input.Type,
		Gateway:        p.gateway.Name(),
		Description:    input.Description,
		Metadata:       input.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	txn.IdempotencyKey = input.IdempotencyKey
	if txn.IdempotencyKey == "" {
		txn.IdempotencyKey = deriveIdempotencyKey(txn.ID)
	}

	if err := p.txns.Create(ctx, nil, txn); err != nil {
		return nil, err
	}

	result, err := p.gateway.Charge(ctx, ports.ChargeRequest{
		Amount:         input.Amount,
		MethodToken:    method.ExternalID,
		IdempotencyKey: txn.IdempotencyKey,
		Description:    input.Description,
		Metadata:       input.Metadata,
	})
	if err != nil {
		observability.RecordChargeAttempt(p.gateway.Name(), "gateway_error")
		txn.MarkFailed(err.Error(), p.clock())
		if updateErr := p.txns.Update(ctx, nil, txn); updateErr != nil {
			p.logger.Error("failed to record gateway error on transaction",
				ports.String("transaction_id", txn.ID), ports.Err(updateErr))
		}
		return txn, domain.WrapError(domain.ErrorCodeGatewayError, "payment gateway error", err)
	}

	if !result.Approved {
		observability.RecordChargeAttempt(p.gateway.Name(), "declined")
		txn.MarkFailed(result.ResponseMessage, p.clock())
		if err := p.txns.Update(ctx, nil, txn); err != nil {
			return nil, err
		}
		p.logger.Warn("charge declined",
			ports.String("transaction_id", txn.ID),
			ports.String("reason", result.ResponseMessage),
		)
		return txn, classifyDecline(result.ResponseMessage)
	}

	observability.RecordChargeAttempt(p.gateway.Name(), "approved")
	txn.MarkCompleted(result.GatewayReference, p.clock())
	if err := p.txns.Update(ctx, nil, txn); err != nil {
		return nil, err
	}

	// Remember the instrument worked
	p.touchMethod(ctx, method)

	p.logger.Info("charge completed",
		ports.String("transaction_id", txn.ID),
		ports.String("gateway_reference", result.GatewayReference),
	)
	return txn, nil
}

// Refund reverses a completed transaction. A zero amount means a full
// refund. The refund is recorded as its own transaction with a negative
// amount, and the original is marked refunded on a full reversal.
func (p *Processor) Refund(ctx context.Context, transactionID string, amount domain.Money, reason string) (*domain.Transaction, error) {
	original, err := p.txns.GetByID(ctx, nil, transactionID)
	if err != nil {
		return nil, err
	}
	if !original.CanBeRefunded() {
		return nil, domain.NewDomainError(domain.ErrorCodeInvalidInput, "transaction cannot be refunded").
			WithDetail("transaction_id", transactionID).
			WithDetail("status", string(original.Status))
	}

	if amount.IsZero() {
		amount = original.Amount
	}
	if cmp, err := amount.Cmp(original.Amount); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeInvalidInput, "refund currency mismatch", err)
	} else if cmp > 0 {
		return nil, domain.NewDomainError(domain.ErrorCodeInvalidInput, "refund exceeds original amount")
	}

	result, err := p.gateway.Refund(ctx, ports.RefundRequest{
		GatewayReference: original.GatewayReference,
		Amount:           amount,
		Reason:           reason,
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeGatewayError, "refund failed", err)
	}
	if !result.Approved {
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayError, "refund rejected by gateway").
			WithDetail("reason", result.ResponseMessage)
	}

	now := p.clock()
	refund := &domain.Transaction{
		ID:               uuid.New().String(),
		UserID:           original.UserID,
		SubscriptionID:   original.SubscriptionID,
		Amount:           amount.Negate(),
		Status:           domain.TransactionStatusCompleted,
		Type:             domain.TransactionTypeRefund,
		Gateway:          p.gateway.Name(),
		GatewayReference: result.GatewayReference,
		Description:      reason,
		Metadata:         map[string]string{"original_transaction_id": original.ID},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = p.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := p.txns.Create(ctx, tx, refund); err != nil {
			return err
		}
		if cmp, _ := amount.Cmp(original.Amount); cmp == 0 {
			original.Status = domain.TransactionStatusRefunded
			original.UpdatedAt = now
			return p.txns.Update(ctx, tx, original)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("refund completed",
		ports.String("original_transaction_id", original.ID),
		ports.String("refund_transaction_id", refund.ID),
	)
	return refund, nil
}

// RegisterMethod tokenizes an instrument with the gateway and stores it
func (p *Processor) RegisterMethod(ctx context.Context, userID, methodType string, details map[string]string, makeDefault bool) (*domain.PaymentMethod, error) {
	result, err := p.gateway.RegisterMethod(ctx, ports.RegisterMethodRequest{
		UserID:     userID,
		MethodType: methodType,
		Details:    details,
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeGatewayError, "failed to register payment method", err)
	}

	now := p.clock()
	method := &domain.PaymentMethod{
		ID:         uuid.New().String(),
		UserID:     userID,
		Gateway:    p.gateway.Name(),
		MethodType: result.MethodType,
		ExternalID: result.ExternalID,
		IsDefault:  makeDefault,
		IsValid:    true,
		CreatedAt:  now,
	}
	if err := p.methods.Create(ctx, nil, method); err != nil {
		return nil, err
	}
	return method, nil
}

func (p *Processor) touchMethod(ctx context.Context, method *domain.PaymentMethod) {
	now := p.clock()
	method.LastUsed = &now
	if err := p.methods.Update(ctx, nil, method); err != nil {
		p.logger.Warn("failed to update payment method last_used",
			ports.String("payment_method_id", method.ID), ports.Err(err))
	}
}

// deriveIdempotencyKey hashes the transaction ID so retries of the same
// transaction map to the same gateway-side operation.
func deriveIdempotencyKey(transactionID string) string {
	sum := sha256.Sum256([]byte(transactionID))
	return hex.EncodeToString(sum[:])
}

// classifyDecline maps a gateway decline reason onto a domain error
func classifyDecline(reason string) error {
	if strings.Contains(strings.ToLower(reason), "insufficient") {
		return domain.ErrInsufficientFunds
	}
	return domain.ErrPaymentDeclined
}
