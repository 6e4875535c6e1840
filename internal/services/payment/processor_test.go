package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription-service/internal/adapters/gateway"
	"subscription-service/internal/adapters/memory"
	"subscription-service/internal/domain"
	"subscription-service/pkg/logger"
	"subscription-service/pkg/timeutil"
)

type processorFixture struct {
	processor *Processor
	txns      *memory.TransactionRepository
	methods   *memory.PaymentMethodRepository
	gateway   *gateway.MockGateway
	now       time.Time
}

func newProcessorFixture(t *testing.T, successRate float64) *processorFixture {
	t.Helper()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	txns := memory.NewTransactionRepository()
	methods := memory.NewPaymentMethodRepository()
	mock := gateway.NewMockGateway(successRate, 42, logger.NopLogger{})

	require.NoError(t, methods.Create(context.Background(), nil, &domain.PaymentMethod{
		ID:         "pm-1",
		UserID:     "user-1",
		Gateway:    "mock",
		MethodType: "card",
		ExternalID: "tok-1",
		IsDefault:  true,
		IsValid:    true,
		CreatedAt:  now,
	}))

	return &processorFixture{
		processor: NewProcessor(memory.NewDB(), txns, methods, mock, logger.NopLogger{}, timeutil.FixedClock(now)),
		txns:      txns,
		methods:   methods,
		gateway:   mock,
		now:       now,
	}
}

func baseChargeInput() ChargeInput {
	return ChargeInput{
		UserID:          "user-1",
		PaymentMethodID: "pm-1",
		Amount:          domain.MustMoney("299.90", "RUB"),
		Type:            domain.TransactionTypeRenewal,
		Description:     "Monthly renewal",
	}
}

func TestProcessor_ChargeApproved(t *testing.T) {
	f := newProcessorFixture(t, 1.0)

	txn, err := f.processor.Charge(context.Background(), baseChargeInput())

	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)
	assert.NotEmpty(t, txn.GatewayReference)
	assert.Len(t, txn.IdempotencyKey, 64)

	stored, err := f.txns.GetByID(context.Background(), nil, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, stored.Status)

	charges := f.gateway.Charges()
	require.Len(t, charges, 1)
	assert.Equal(t, txn.IdempotencyKey, charges[0].IdempotencyKey)
	assert.Equal(t, "tok-1", charges[0].MethodToken)
}

func TestProcessor_ChargeDeclinedRecordsFailure(t *testing.T) {
	f := newProcessorFixture(t, 0.0)

	txn, err := f.processor.Charge(context.Background(), baseChargeInput())

	require.Error(t, err)
	// Mock decline catalog starts with insufficient funds
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeInsufficientFunds))
	require.NotNil(t, txn)
	assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
	assert.Equal(t, "Insufficient funds", txn.ErrorMessage)

	stored, storeErr := f.txns.GetByID(context.Background(), nil, txn.ID)
	require.NoError(t, storeErr)
	assert.Equal(t, domain.TransactionStatusFailed, stored.Status)
}

func TestProcessor_ZeroAmountRejected(t *testing.T) {
	f := newProcessorFixture(t, 1.0)

	input := baseChargeInput()
	input.Amount = domain.MustMoney("0", "RUB")

	_, err := f.processor.Charge(context.Background(), input)
	assert.ErrorIs(t, err, domain.ErrZeroAmountCharge)
	assert.Empty(t, f.gateway.Charges())
}

func TestProcessor_UnusableMethodRejected(t *testing.T) {
	f := newProcessorFixture(t, 1.0)

	expired := f.now.Add(-time.Hour)
	require.NoError(t, f.methods.Create(context.Background(), nil, &domain.PaymentMethod{
		ID:         "pm-expired",
		UserID:     "user-1",
		Gateway:    "mock",
		ExternalID: "tok-2",
		IsValid:    true,
		ExpiresAt:  &expired,
	}))

	input := baseChargeInput()
	input.PaymentMethodID = "pm-expired"

	_, err := f.processor.Charge(context.Background(), input)
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeInvalidInput))
	assert.Empty(t, f.gateway.Charges())
}

func TestProcessor_IdempotentReplayReturnsOriginal(t *testing.T) {
	f := newProcessorFixture(t, 1.0)

	first, err := f.processor.Charge(context.Background(), baseChargeInput())
	require.NoError(t, err)

	input := baseChargeInput()
	input.IdempotencyKey = first.IdempotencyKey

	second, err := f.processor.Charge(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.gateway.Charges(), 1)
}

func TestProcessor_RefundFull(t *testing.T) {
	f := newProcessorFixture(t, 1.0)

	txn, err := f.processor.Charge(context.Background(), baseChargeInput())
	require.NoError(t, err)

	refund, err := f.processor.Refund(context.Background(), txn.ID, domain.Money{}, "cancellation")
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionTypeRefund, refund.Type)
	assert.Equal(t, "-299.90 RUB", refund.Amount.String())
	assert.Equal(t, txn.ID, refund.Metadata["original_transaction_id"])

	original, err := f.txns.GetByID(context.Background(), nil, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusRefunded, original.Status)
}

func TestProcessor_RefundPartialKeepsOriginalCompleted(t *testing.T) {
	f := newProcessorFixture(t, 1.0)

	txn, err := f.processor.Charge(context.Background(), baseChargeInput())
	require.NoError(t, err)

	refund, err := f.processor.Refund(context.Background(), txn.ID, domain.MustMoney("100", "RUB"), "partial")
	require.NoError(t, err)
	assert.Equal(t, "-100.00 RUB", refund.Amount.String())

	original, err := f.txns.GetByID(context.Background(), nil, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, original.Status)
}

func TestProcessor_RefundRejectsFailedTransaction(t *testing.T) {
	f := newProcessorFixture(t, 0.0)

	txn, _ := f.processor.Charge(context.Background(), baseChargeInput())
	require.NotNil(t, txn)

	_, err := f.processor.Refund(context.Background(), txn.ID, domain.Money{}, "no")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeInvalidInput))
}

func TestProcessor_RefundRejectsExcessAmount(t *testing.T) {
	f := newProcessorFixture(t, 1.0)

	txn, err := f.processor.Charge(context.Background(), baseChargeInput())
	require.NoError(t, err)

	_, err = f.processor.Refund(context.Background(), txn.ID, domain.MustMoney("500", "RUB"), "too much")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeInvalidInput))
}

func TestProcessor_RegisterMethod(t *testing.T) {
	f := newProcessorFixture(t, 1.0)

	method, err := f.processor.RegisterMethod(context.Background(), "user-2", "card", map[string]string{"number": "4111"}, true)
	require.NoError(t, err)

	assert.Equal(t, "mock", method.Gateway)
	assert.NotEmpty(t, method.ExternalID)
	assert.True(t, method.IsDefault)
	assert.True(t, method.IsValid)

	stored, err := f.methods.GetDefaultForUser(context.Background(), nil, "user-2")
	require.NoError(t, err)
	assert.Equal(t, method.ID, stored.ID)
}
