package billing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription-service/internal/adapters/gateway"
	"subscription-service/internal/adapters/memory"
	"subscription-service/internal/adapters/notify"
	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
	"subscription-service/internal/services/lifecycle"
	"subscription-service/internal/services/payment"
	plansvc "subscription-service/internal/services/plan"
	"subscription-service/pkg/logger"
	"subscription-service/pkg/resilience"
	"subscription-service/pkg/timeutil"
)

var testNow = time.Date(2026, 8, 1, 4, 0, 0, 0, time.UTC)

// errorGateway simulates a gateway outage: every call errors
type errorGateway struct{}

func (errorGateway) Name() string { return "mock" }
func (errorGateway) Charge(context.Context, ports.ChargeRequest) (ports.ChargeResult, error) {
	return ports.ChargeResult{}, errors.New("connection reset")
}
func (errorGateway) Refund(context.Context, ports.RefundRequest) (ports.ChargeResult, error) {
	return ports.ChargeResult{}, errors.New("connection reset")
}
func (errorGateway) RegisterMethod(context.Context, ports.RegisterMethodRequest) (ports.RegisterMethodResult, error) {
	return ports.RegisterMethodResult{}, errors.New("connection reset")
}
func (errorGateway) VerifyWebhook([]byte, string) bool { return false }

// stubRenderer skips headless Chrome and echoes the HTML back
type stubRenderer struct{ lastHTML string }

func (r *stubRenderer) RenderPDF(_ context.Context, html string) ([]byte, error) {
	r.lastHTML = html
	return []byte("%PDF-stub"), nil
}

type fixture struct {
	engine   *Engine
	manager  *lifecycle.Manager
	subs     *memory.SubscriptionRepository
	plans    *memory.PlanRepository
	users    *memory.UserRepository
	txns     *memory.TransactionRepository
	methods  *memory.PaymentMethodRepository
	notifier *notify.Recorder
	gateway  *gateway.MockGateway
	renderer *stubRenderer
}

func newFixture(t *testing.T, gw ports.PaymentGateway) *fixture {
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

	var mock *gateway.MockGateway
	if gw == nil {
		mock = gateway.NewMockGateway(1.0, 42, log)
		gw = mock
	}

	calc := plansvc.NewCalculator(plans, promos, log, clock)
	processor := payment.NewProcessor(db, txns, methods, gw, log, clock)
	manager := lifecycle.NewManager(db, subs, users, txns, methods, promos, calc, processor, audit, recorder,
		resilience.DefaultRetrySchedule(), log, clock)
	renderer := &stubRenderer{}
	engine := NewEngine(db, subs, plans, users, txns, manager, renderer, recorder,
		resilience.DefaultRetrySchedule(), 5, log, clock)

	users.Put(&domain.User{ID: "user-1", Email: "u1@example.com", Role: domain.RoleUser, IsActive: true,
		Balance: domain.MustMoney("0", "RUB")})
	require.NoError(t, methods.Create(context.Background(), nil, &domain.PaymentMethod{
		ID: "pm-1", UserID: "user-1", Gateway: "mock", MethodType: "card",
		ExternalID: "tok-1", IsDefault: true, IsValid: true, CreatedAt: testNow,
	}))

	return &fixture{
		engine: engine, manager: manager, subs: subs, plans: plans, users: users,
		txns: txns, methods: methods, notifier: recorder, gateway: mock, renderer: renderer,
	}
}

func (f *fixture) seedPlan(t *testing.T, id, price string, cycleDays, maxRetries int) *domain.Plan {
	t.Helper()
	plan := &domain.Plan{
		ID: id, Name: id, Price: domain.MustMoney(price, "RUB"),
		BillingCycleDays: cycleDays, MaxRetries: maxRetries,
		IsActive: true, CreatedAt: testNow,
	}
	require.NoError(t, f.plans.Create(context.Background(), nil, plan))
	return plan
}

func (f *fixture) seedDueSubscription(t *testing.T, id string) *domain.Subscription {
	t.Helper()
	sub := &domain.Subscription{
		ID: id, UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1",
		Status:             domain.SubscriptionStatusActive,
		CurrentPeriodStart: testNow.Add(-30 * 24 * time.Hour),
		CurrentPeriodEnd:   testNow.Add(-time.Hour),
		AutoRenew:          true,
		CreatedAt:          testNow.Add(-30 * 24 * time.Hour),
	}
	require.NoError(t, f.subs.Create(context.Background(), nil, sub))
	return sub
}

func TestEngine_RenewsDueSubscription(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, "basic", "300", 30, 3)
	sub := f.seedDueSubscription(t, "sub-1")

	result, err := f.engine.ProcessRecurringPayments(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Due)
	assert.Equal(t, 1, result.Renewed)
	assert.Zero(t, result.Failed)
	require.Len(t, result.Results, 1)
	assert.Equal(t, sub.ID, result.Results[0].SubscriptionID)
	assert.True(t, result.Results[0].Success)

	renewed, err := f.subs.GetByID(context.Background(), nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, renewed.Status)
	assert.Equal(t, sub.CurrentPeriodEnd.Add(30*24*time.Hour), renewed.CurrentPeriodEnd)
	require.Len(t, f.gateway.Charges(), 1)
	assert.Equal(t, "300.00 RUB", f.gateway.Charges()[0].Amount.String())
}

func TestEngine_DeclineSchedulesRetry(t *testing.T) {
	f := newFixture(t, nil)
	f.gateway.SetSuccessRate(0.0)
	f.seedPlan(t, "basic", "300", 30, 3)
	sub := f.seedDueSubscription(t, "sub-1")

	result, err := f.engine.ProcessRecurringPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	stored, err := f.subs.GetByID(context.Background(), nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.RetryAt)
	// First retry follows the day-1 slot of the schedule
	assert.Equal(t, testNow.Add(24*time.Hour), *stored.RetryAt)

	assert.Len(t, f.notifier.ByEvent(ports.EventPaymentFailed), 1)
	assert.Len(t, f.notifier.ByEvent(ports.EventPaymentRetryScheduled), 1)
}

func TestEngine_GatewayErrorDoesNotConsumeRetryBudget(t *testing.T) {
	f := newFixture(t, errorGateway{})
	f.seedPlan(t, "basic", "300", 30, 3)
	sub := f.seedDueSubscription(t, "sub-1")

	result, err := f.engine.ProcessRecurringPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	stored, err := f.subs.GetByID(context.Background(), nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
	require.NotNil(t, stored.RetryAt)
	assert.Equal(t, testNow.Add(time.Hour), *stored.RetryAt)

	assert.Len(t, f.notifier.ByEvent(ports.EventAdminAlert), 1)
}

func TestEngine_RetrySweepRenewsPastDue(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, "basic", "300", 30, 3)
	sub := f.seedDueSubscription(t, "sub-1")

	retryAt := testNow.Add(-time.Minute)
	sub.Status = domain.SubscriptionStatusPastDue
	sub.RetryCount = 1
	sub.RetryAt = &retryAt
	require.NoError(t, f.subs.Update(context.Background(), nil, sub))

	result, err := f.engine.RetryFailedPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Renewed)

	stored, err := f.subs.GetByID(context.Background(), nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
	assert.Nil(t, stored.RetryAt)
}

func TestEngine_RetryBudgetExhaustedCancels(t *testing.T) {
	f := newFixture(t, nil)
	f.gateway.SetSuccessRate(0.0)
	f.seedPlan(t, "basic", "300", 30, 3)
	sub := f.seedDueSubscription(t, "sub-1")

	retryAt := testNow.Add(-time.Minute)
	sub.Status = domain.SubscriptionStatusPastDue
	sub.RetryCount = 3
	sub.RetryAt = &retryAt
	require.NoError(t, f.subs.Update(context.Background(), nil, sub))

	result, err := f.engine.RetryFailedPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Cancelled)
	assert.Zero(t, result.Expired)

	stored, err := f.subs.GetByID(context.Background(), nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelledAt)
	assert.Len(t, f.notifier.ByEvent(ports.EventSubscriptionCancelled), 1)
}

func TestEngine_RetrySweepActivatesPendingCreate(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, "basic", "300", 30, 3)

	// A declined initial charge left the subscription pending with a
	// retry booked
	retryAt := testNow.Add(-time.Minute)
	sub := &domain.Subscription{
		ID: "sub-pending", UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1",
		Status:             domain.SubscriptionStatusPending,
		CurrentPeriodStart: testNow.Add(-24 * time.Hour),
		CurrentPeriodEnd:   testNow.Add(29 * 24 * time.Hour),
		RetryCount:         1,
		RetryAt:            &retryAt,
		AutoRenew:          true,
	}
	require.NoError(t, f.subs.Create(context.Background(), nil, sub))

	result, err := f.engine.RetryFailedPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Due)
	assert.Equal(t, 1, result.Renewed)

	stored, err := f.subs.GetByID(context.Background(), nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, stored.Status)
	// The initial charge covers the period set at creation
	assert.Equal(t, sub.CurrentPeriodEnd, stored.CurrentPeriodEnd)
	assert.Equal(t, 0, stored.RetryCount)
	assert.Nil(t, stored.RetryAt)
	require.Len(t, f.gateway.Charges(), 1)
}

func TestEngine_ConvertsExpiredTrial(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, "basic", "300", 30, 3)

	trialEnd := testNow.Add(-time.Hour)
	sub := &domain.Subscription{
		ID: "sub-trial", UserID: "user-1", PlanID: "basic", PaymentMethodID: "pm-1",
		Status:             domain.SubscriptionStatusTrial,
		CurrentPeriodStart: testNow.Add(-7 * 24 * time.Hour),
		CurrentPeriodEnd:   testNow.Add(23 * 24 * time.Hour),
		TrialEnd:           &trialEnd,
		AutoRenew:          true,
	}
	require.NoError(t, f.subs.Create(context.Background(), nil, sub))

	result, err := f.engine.ProcessRecurringPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Converted)

	stored, err := f.subs.GetByID(context.Background(), nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, stored.Status)
	assert.Nil(t, stored.TrialEnd)
	// Conversion pays for the period set at creation
	assert.Equal(t, sub.CurrentPeriodStart, stored.CurrentPeriodStart)
	assert.Equal(t, sub.CurrentPeriodEnd, stored.CurrentPeriodEnd)
	require.Len(t, f.gateway.Charges(), 1)
}

func TestEngine_ExpiresEndedNonRenewing(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, "basic", "300", 30, 3)

	sub := f.seedDueSubscription(t, "sub-1")
	sub.AutoRenew = false
	require.NoError(t, f.subs.Update(context.Background(), nil, sub))

	result, err := f.engine.ProcessRecurringPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	assert.Zero(t, result.Renewed)

	stored, err := f.subs.GetByID(context.Background(), nil, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, stored.Status)
	assert.Empty(t, f.gateway.Charges())
}

func TestEngine_LockedSubscriptionSkipped(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, "basic", "300", 30, 3)
	sub := f.seedDueSubscription(t, "sub-1")

	require.True(t, f.engine.locks.TryLock(sub.ID))
	defer f.engine.locks.Unlock(sub.ID)

	result, err := f.engine.ProcessRecurringPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, f.gateway.Charges())

	require.Len(t, result.Results, 1)
	assert.Equal(t, sub.ID, result.Results[0].SubscriptionID)
	assert.False(t, result.Results[0].Success)
	assert.Equal(t, "locked", result.Results[0].Error)
}

func TestEngine_BatchOfManySubscriptions(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, "basic", "300", 30, 3)
	for i := 0; i < 20; i++ {
		f.seedDueSubscription(t, "sub-"+string(rune('a'+i)))
	}

	result, err := f.engine.ProcessRecurringPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, result.Due)
	assert.Equal(t, 20, result.Renewed)
	assert.Len(t, f.gateway.Charges(), 20)
}

func TestEngine_NotifyExpiring(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, "basic", "300", 30, 3)

	sub := &domain.Subscription{
		ID: "sub-1", UserID: "user-1", PlanID: "basic",
		Status:             domain.SubscriptionStatusActive,
		CurrentPeriodStart: testNow.Add(-28 * 24 * time.Hour),
		CurrentPeriodEnd:   testNow.Add(2 * 24 * time.Hour),
		AutoRenew:          false,
	}
	require.NoError(t, f.subs.Create(context.Background(), nil, sub))

	count, err := f.engine.NotifyExpiring(context.Background(), 3*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, f.notifier.ByEvent(ports.EventExpiringSoon), 1)
}

func TestEngine_NotifyTrialsEnding(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, "basic", "300", 30, 3)

	trialEnd := testNow.Add(24 * time.Hour)
	sub := &domain.Subscription{
		ID: "sub-1", UserID: "user-1", PlanID: "basic",
		Status:             domain.SubscriptionStatusTrial,
		CurrentPeriodStart: testNow.Add(-6 * 24 * time.Hour),
		CurrentPeriodEnd:   trialEnd,
		TrialEnd:           &trialEnd,
		AutoRenew:          true,
	}
	require.NoError(t, f.subs.Create(context.Background(), nil, sub))

	count, err := f.engine.NotifyTrialsEnding(context.Background(), 2*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, f.notifier.ByEvent(ports.EventTrialEndingSoon), 1)
}

func TestEngine_GenerateInvoice(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, "basic", "300", 30, 3)
	sub := f.seedDueSubscription(t, "sub-1")

	_, err := f.engine.ProcessRecurringPayments(context.Background())
	require.NoError(t, err)

	pdf, err := f.engine.GenerateInvoice(context.Background(), sub.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-stub"), pdf)

	assert.True(t, strings.Contains(f.renderer.lastHTML, "u1@example.com"))
	assert.True(t, strings.Contains(f.renderer.lastHTML, "basic"))
	assert.True(t, strings.Contains(f.renderer.lastHTML, "300.00 RUB"))
}

func TestEngine_GenerateInvoiceForTransaction(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, "basic", "300", 30, 3)
	sub := f.seedDueSubscription(t, "sub-1")

	_, err := f.engine.ProcessRecurringPayments(context.Background())
	require.NoError(t, err)

	txns, err := f.txns.ListBySubscription(context.Background(), nil, sub.ID)
	require.NoError(t, err)
	require.NotEmpty(t, txns)
	txn := txns[0]

	pdf, err := f.engine.GenerateInvoice(context.Background(), sub.ID, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-stub"), pdf)
	assert.True(t, strings.Contains(f.renderer.lastHTML, txn.ID))
}

func TestEngine_GenerateInvoiceUnknownTransaction(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPlan(t, "basic", "300", 30, 3)
	sub := f.seedDueSubscription(t, "sub-1")

	_, err := f.engine.ProcessRecurringPayments(context.Background())
	require.NoError(t, err)

	_, err = f.engine.GenerateInvoice(context.Background(), sub.ID, "txn-missing")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeNotFound))
}

func TestKeyedLock(t *testing.T) {
	l := NewKeyedLock()

	assert.True(t, l.TryLock("a"))
	assert.False(t, l.TryLock("a"))
	assert.True(t, l.TryLock("b"))

	l.Unlock("a")
	assert.True(t, l.TryLock("a"))
}
