package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription-service/internal/adapters/gateway"
	"subscription-service/internal/adapters/memory"
	"subscription-service/internal/adapters/notify"
	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
	"subscription-service/internal/services/payment"
	plansvc "subscription-service/internal/services/plan"
	"subscription-service/pkg/logger"
	"subscription-service/pkg/resilience"
	"subscription-service/pkg/timeutil"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	manager  *Manager
	subs     *memory.SubscriptionRepository
	plans    *memory.PlanRepository
	users    *memory.UserRepository
	txns     *memory.TransactionRepository
	methods  *memory.PaymentMethodRepository
	promos   *memory.PromoCodeRepository
	audit    *memory.AuditRepository
	notifier *notify.Recorder
	gateway  *gateway.MockGateway
}

func newFixture(t *testing.T, successRate float64) *fixture {
	t.Helper()
	mock := gateway.NewMockGateway(successRate, 42, logger.NopLogger{})
	f := newGatewayFixture(t, mock)
	f.gateway = mock
	return f
}

func newGatewayFixture(t *testing.T, gw ports.PaymentGateway) *fixture {
	t.Helper()
	clock := timeutil.FixedClock(testNow)
	log := logger.NopLogger{}

	subs := memory.NewSubscriptionRepository()
	plans := memory.NewPlanRepository()
	users := memory.NewUserRepository()
	txns := memory.NewTransactionRepository()
	methods := memory.NewPaymentMethodRepository()
	promos := memory.NewPromoCodeRepository()
	audit := memory.NewAuditRepository()
	recorder := notify.NewRecorder()
	db := memory.NewDB()

	calc := plansvc.NewCalculator(plans, promos, log, clock)
	processor := payment.NewProcessor(db, txns, methods, gw, log, clock)
	manager := NewManager(db, subs, users, txns, methods, promos, calc, processor, audit, recorder,
		resilience.DefaultRetrySchedule(), log, clock)

	users.Put(&domain.User{ID: "user-1", Email: "u1@example.com", Role: domain.RoleUser, IsActive: true,
		Balance: domain.MustMoney("0", "RUB")})
	require.NoError(t, methods.Create(context.Background(), nil, &domain.PaymentMethod{
		ID: "pm-1", UserID: "user-1", Gateway: "mock", MethodType: "card",
		ExternalID: "tok-1", IsDefault: true, IsValid: true, CreatedAt: testNow,
	}))

	return &fixture{
		manager: manager, subs: subs, plans: plans, users: users, txns: txns,
		methods: methods, promos: promos, audit: audit, notifier: recorder,
	}
}

func (f *fixture) seedPlan(t *testing.T, id, price string, cycleDays, trialDays int) *domain.Plan {
	t.Helper()
	plan := &domain.Plan{
		ID: id, Name: id, Price: domain.MustMoney(price, "RUB"),
		BillingCycleDays: cycleDays, TrialPeriodDays: trialDays, MaxRetries: 3,
		IsActive: true, CreatedAt: testNow,
	}
	require.NoError(t, f.plans.Create(context.Background(), nil, plan))
	return plan
}

func TestManager_CreatePaidPlan(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "299.90", 30, 0)

	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true, Actor: "user-1",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, testNow, sub.CurrentPeriodStart)
	assert.Equal(t, testNow.Add(30*24*time.Hour), sub.CurrentPeriodEnd)
	assert.True(t, sub.AutoRenew)

	charges := f.gateway.Charges()
	require.Len(t, charges, 1)
	assert.Equal(t, "299.90 RUB", charges[0].Amount.String())

	records, err := f.audit.ListByEntity(context.Background(), nil, "subscription", sub.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "subscription.create", records[0].Action)

	assert.Len(t, f.notifier.ByEvent(ports.EventSubscriptionCreated), 1)
}

func TestManager_CreateTrialPlanSkipsCharge(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "trial-plan", "299.90", 30, 7)

	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "trial-plan", AutoRenew: true, Actor: "user-1",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusTrial, sub.Status)
	require.NotNil(t, sub.TrialEnd)
	assert.Equal(t, testNow.Add(7*24*time.Hour), *sub.TrialEnd)
	// The trial sits inside a full billing period
	assert.Equal(t, testNow, sub.CurrentPeriodStart)
	assert.Equal(t, testNow.Add(30*24*time.Hour), sub.CurrentPeriodEnd)
	assert.Empty(t, f.gateway.Charges())
}

func TestManager_CreateRejectsDuplicateActive(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "299.90", 30, 0)

	_, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.NoError(t, err)

	_, err = f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeAlreadyActive))
}

func TestManager_CreateDeclinedStaysPendingWithRetryScheduled(t *testing.T) {
	f := newFixture(t, 0.0)
	f.seedPlan(t, "basic", "299.90", 30, 0)

	_, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.Error(t, err)

	subs, listErr := f.subs.ListByUser(context.Background(), nil, "user-1")
	require.NoError(t, listErr)
	require.Len(t, subs, 1)
	assert.Equal(t, domain.SubscriptionStatusPending, subs[0].Status)

	// The decline consumed one attempt and booked the day-1 retry slot
	assert.Equal(t, 1, subs[0].RetryCount)
	require.NotNil(t, subs[0].RetryAt)
	assert.Equal(t, testNow.Add(24*time.Hour), *subs[0].RetryAt)

	assert.Len(t, f.notifier.ByEvent(ports.EventPaymentFailed), 1)
	assert.Len(t, f.notifier.ByEvent(ports.EventPaymentRetryScheduled), 1)
}

func TestManager_RenewPendingActivatesWithoutExtending(t *testing.T) {
	f := newFixture(t, 0.0)
	f.seedPlan(t, "basic", "299.90", 30, 0)

	_, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.Error(t, err)

	subs, err := f.subs.ListByUser(context.Background(), nil, "user-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)

	f.gateway.SetSuccessRate(1.0)
	renewed, err := f.manager.Renew(context.Background(), subs[0].ID, "billing")
	require.NoError(t, err)

	// The initial charge pays for the period set at creation
	assert.Equal(t, domain.SubscriptionStatusActive, renewed.Status)
	assert.Equal(t, testNow.Add(30*24*time.Hour), renewed.CurrentPeriodEnd)
	assert.Equal(t, 0, renewed.RetryCount)
	assert.Nil(t, renewed.RetryAt)
}

func TestManager_CreateWithPromo(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "1000", 30, 0)
	require.NoError(t, f.promos.Create(context.Background(), nil, &domain.PromoCode{
		ID: "promo-1", Code: "SAVE20", DiscountType: domain.DiscountTypePercentage,
		DiscountValue: decimal.NewFromInt(20), ValidFrom: testNow.Add(-time.Hour), IsActive: true,
	}))

	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", PromoCode: "SAVE20", AutoRenew: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)

	charges := f.gateway.Charges()
	require.Len(t, charges, 1)
	assert.Equal(t, "800.00 RUB", charges[0].Amount.String())

	redeemed, err := f.promos.HasUserRedeemed(context.Background(), nil, "promo-1", "user-1")
	require.NoError(t, err)
	assert.True(t, redeemed)
}

func TestManager_FullDiscountSkipsGateway(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "1000", 30, 0)
	require.NoError(t, f.promos.Create(context.Background(), nil, &domain.PromoCode{
		ID: "promo-1", Code: "FREE", DiscountType: domain.DiscountTypePercentage,
		DiscountValue: decimal.NewFromInt(100), ValidFrom: testNow.Add(-time.Hour), IsActive: true,
	}))

	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PromoCode: "FREE", AutoRenew: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Empty(t, f.gateway.Charges())
}

func TestManager_CancelAtPeriodEnd(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "300", 30, 0)
	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.NoError(t, err)

	cancelled, err := f.manager.Cancel(context.Background(), sub.ID, false, "user-1")
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusActive, cancelled.Status)
	assert.True(t, cancelled.CancelAtPeriodEnd)
	assert.False(t, cancelled.AutoRenew)
	assert.Empty(t, f.gateway.Refunds())
}

func TestManager_CancelImmediateRefundsRemainder(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "300", 30, 0)
	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.NoError(t, err)

	cancelled, err := f.manager.Cancel(context.Background(), sub.ID, true, "user-1")
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	// Full period remains, so the whole charge comes back
	refunds := f.gateway.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, "300.00 RUB", refunds[0].Amount.String())
}

// refundFailingGateway approves charges but errors every refund
type refundFailingGateway struct {
	*gateway.MockGateway
}

func (refundFailingGateway) Refund(context.Context, ports.RefundRequest) (ports.ChargeResult, error) {
	return ports.ChargeResult{}, errors.New("connection reset")
}

func TestManager_CancelImmediateAbortsWhenRefundFails(t *testing.T) {
	mock := gateway.NewMockGateway(1.0, 42, logger.NopLogger{})
	f := newGatewayFixture(t, refundFailingGateway{MockGateway: mock})
	f.gateway = mock
	f.seedPlan(t, "basic", "300", 30, 0)

	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.NoError(t, err)

	_, err = f.manager.Cancel(context.Background(), sub.ID, true, "user-1")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeGatewayError))

	// The subscription is untouched and can be cancelled again later
	stored, getErr := f.subs.GetByID(context.Background(), nil, sub.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.SubscriptionStatusActive, stored.Status)
	assert.Nil(t, stored.CancelledAt)
	assert.False(t, stored.CancelAtPeriodEnd)
}

func TestManager_CancelTwiceRejected(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "300", 30, 0)
	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.NoError(t, err)

	_, err = f.manager.Cancel(context.Background(), sub.ID, true, "user-1")
	require.NoError(t, err)

	_, err = f.manager.Cancel(context.Background(), sub.ID, true, "user-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)
}

func TestManager_UpgradeChargesProratedDifference(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "300", 30, 0)
	f.seedPlan(t, "premium", "600", 30, 0)

	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.NoError(t, err)

	oldEnd := sub.CurrentPeriodEnd
	upgraded, err := f.manager.Upgrade(context.Background(), sub.ID, "premium", "user-1")
	require.NoError(t, err)

	assert.Equal(t, "premium", upgraded.PlanID)
	assert.Equal(t, oldEnd, upgraded.CurrentPeriodEnd)

	// Nothing used yet: no credit for the old plan, full new price due
	charges := f.gateway.Charges()
	require.Len(t, charges, 2)
	assert.Equal(t, "600.00 RUB", charges[1].Amount.String())
}

func TestManager_UpgradeMidPeriodCreditsUsedShare(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "1000", 30, 0)
	f.seedPlan(t, "business", "3000", 30, 0)

	// 10 of 30 days used: 3000*20/30 - 1000*10/30
	sub := &domain.Subscription{
		ID: "sub-1", UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1",
		Status:             domain.SubscriptionStatusActive,
		CurrentPeriodStart: testNow.Add(-10 * 24 * time.Hour),
		CurrentPeriodEnd:   testNow.Add(20 * 24 * time.Hour),
		AutoRenew:          true,
	}
	require.NoError(t, f.subs.Create(context.Background(), nil, sub))

	_, err := f.manager.Upgrade(context.Background(), sub.ID, "business", "user-1")
	require.NoError(t, err)

	charges := f.gateway.Charges()
	require.Len(t, charges, 1)
	assert.Equal(t, "1666.67 RUB", charges[0].Amount.String())
}

func TestManager_UpgradeRejectsCheaperPlan(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "300", 30, 0)
	f.seedPlan(t, "cheap", "100", 30, 0)

	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.NoError(t, err)

	_, err = f.manager.Upgrade(context.Background(), sub.ID, "cheap", "user-1")
	assert.ErrorIs(t, err, domain.ErrInvalidUpgrade)

	_, err = f.manager.Upgrade(context.Background(), sub.ID, "basic", "user-1")
	assert.ErrorIs(t, err, domain.ErrInvalidUpgrade)
}

func TestManager_UpgradeFromTrialActivates(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "trial-plan", "300", 30, 7)
	f.seedPlan(t, "premium", "600", 30, 0)

	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "trial-plan", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.NoError(t, err)
	periodEnd := sub.CurrentPeriodEnd

	upgraded, err := f.manager.Upgrade(context.Background(), sub.ID, "premium", "user-1")
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusActive, upgraded.Status)
	assert.Equal(t, "premium", upgraded.PlanID)
	assert.Nil(t, upgraded.TrialEnd)
	assert.Equal(t, periodEnd, upgraded.CurrentPeriodEnd)

	// The trial paid nothing, so the whole new-plan share is due
	charges := f.gateway.Charges()
	require.Len(t, charges, 1)
	assert.Equal(t, "600.00 RUB", charges[0].Amount.String())
}

func TestManager_UpgradeRejectsPastDue(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "300", 30, 0)
	f.seedPlan(t, "premium", "600", 30, 0)

	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.NoError(t, err)

	sub.Status = domain.SubscriptionStatusPastDue
	require.NoError(t, f.subs.Update(context.Background(), nil, sub))

	_, err = f.manager.Upgrade(context.Background(), sub.ID, "premium", "user-1")
	assert.ErrorIs(t, err, domain.ErrNotActive)
}

func TestManager_RenewExtendsPeriodAndResetsRetries(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "300", 30, 0)

	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.NoError(t, err)

	retryAt := testNow.Add(time.Hour)
	sub.RetryCount = 2
	sub.RetryAt = &retryAt
	sub.Status = domain.SubscriptionStatusPastDue
	require.NoError(t, f.subs.Update(context.Background(), nil, sub))

	renewed, err := f.manager.Renew(context.Background(), sub.ID, "billing")
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusActive, renewed.Status)
	assert.Equal(t, testNow.Add(60*24*time.Hour), renewed.CurrentPeriodEnd)
	assert.Equal(t, 0, renewed.RetryCount)
	assert.Nil(t, renewed.RetryAt)
	assert.Len(t, f.notifier.ByEvent(ports.EventSubscriptionRenewed), 1)
}

func TestManager_RenewDeclineLeavesSubscriptionUntouched(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "300", 30, 0)

	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.NoError(t, err)

	f.gateway.SetSuccessRate(0.0)
	_, err = f.manager.Renew(context.Background(), sub.ID, "billing")
	require.Error(t, err)

	stored, getErr := f.subs.GetByID(context.Background(), nil, sub.ID)
	require.NoError(t, getErr)
	assert.Equal(t, sub.CurrentPeriodEnd, stored.CurrentPeriodEnd)
	assert.Equal(t, domain.SubscriptionStatusActive, stored.Status)
}

func TestManager_ConvertTrial(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "trial-plan", "300", 30, 7)

	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "trial-plan", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.NoError(t, err)

	converted, err := f.manager.ConvertTrial(context.Background(), sub.ID, "billing")
	require.NoError(t, err)

	// Conversion activates in place; the period set at creation stands
	assert.Equal(t, domain.SubscriptionStatusActive, converted.Status)
	assert.Equal(t, sub.CurrentPeriodStart, converted.CurrentPeriodStart)
	assert.Equal(t, sub.CurrentPeriodEnd, converted.CurrentPeriodEnd)
	assert.Nil(t, converted.TrialEnd)
	require.Len(t, f.gateway.Charges(), 1)
	assert.Equal(t, "300.00 RUB", f.gateway.Charges()[0].Amount.String())
}

func TestManager_MarkPastDueSchedulesRetry(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "300", 30, 0)

	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.NoError(t, err)

	retryAt := testNow.Add(24 * time.Hour)
	require.NoError(t, f.manager.MarkPastDue(context.Background(), sub, retryAt, true, "Insufficient funds"))

	stored, err := f.subs.GetByID(context.Background(), nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.RetryAt)
	assert.Equal(t, retryAt, *stored.RetryAt)

	assert.Len(t, f.notifier.ByEvent(ports.EventPaymentFailed), 1)
	assert.Len(t, f.notifier.ByEvent(ports.EventPaymentRetryScheduled), 1)
}

func TestManager_MarkPastDueGatewayErrorDoesNotCount(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "300", 30, 0)

	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: true,
	})
	require.NoError(t, err)

	retryAt := testNow.Add(time.Hour)
	require.NoError(t, f.manager.MarkPastDue(context.Background(), sub, retryAt, false, "gateway timeout"))

	stored, err := f.subs.GetByID(context.Background(), nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.RetryCount)
}

func TestManager_Expire(t *testing.T) {
	f := newFixture(t, 1.0)
	f.seedPlan(t, "basic", "300", 30, 0)

	sub, err := f.manager.Create(context.Background(), CreateInput{
		UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1", AutoRenew: false,
	})
	require.NoError(t, err)

	expired, err := f.manager.Expire(context.Background(), sub.ID, "billing")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, expired.Status)
	assert.Len(t, f.notifier.ByEvent(ports.EventSubscriptionExpired), 1)

	// Expiring again is a no-op
	again, err := f.manager.Expire(context.Background(), sub.ID, "billing")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, again.Status)
}
