package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
	"subscription-service/internal/services/payment"
	plansvc "subscription-service/internal/services/plan"
	"subscription-service/pkg/resilience"
	"subscription-service/pkg/timeutil"
)

// gatewayRetryDelay schedules the retry after a gateway fault on the
// initial charge. The attempt does not count against the retry budget.
const gatewayRetryDelay = time.Hour

// Charger is the slice of the payment processor the lifecycle needs
type Charger interface {
	Charge(ctx context.Context, input payment.ChargeInput) (*domain.Transaction, error)
	Refund(ctx context.Context, transactionID string, amount domain.Money, reason string) (*domain.Transaction, error)
}

// Manager drives subscription state transitions. Every transition is
// audited and emits a notification.
type Manager struct {
	db       ports.DBPort
	subs     ports.SubscriptionRepository
	users    ports.UserRepository
	txns     ports.TransactionRepository
	methods  ports.PaymentMethodRepository
	promos   ports.PromoCodeRepository
	calc     *plansvc.Calculator
	charger  Charger
	audit    ports.AuditRepository
	notifier ports.Notifier
	schedule resilience.RetrySchedule
	logger   ports.Logger
	clock    timeutil.Clock
}

// NewManager creates a lifecycle manager
func NewManager(
	db ports.DBPort,
	subs ports.SubscriptionRepository,
	users ports.UserRepository,
	txns ports.TransactionRepository,
	methods ports.PaymentMethodRepository,
	promos ports.PromoCodeRepository,
	calc *plansvc.Calculator,
	charger Charger,
	audit ports.AuditRepository,
	notifier ports.Notifier,
	schedule resilience.RetrySchedule,
	logger ports.Logger,
	clock timeutil.Clock,
) *Manager {
	if clock == nil {
		clock = timeutil.Now
	}
	return &Manager{
		db:       db,
		subs:     subs,
		users:    users,
		txns:     txns,
		methods:  methods,
		promos:   promos,
		calc:     calc,
		charger:  charger,
		audit:    audit,
		notifier: notifier,
		schedule: schedule,
		logger:   logger,
		clock:    clock,
	}
}

// CreateInput describes a new subscription request
type CreateInput struct {
	UserID          string
	PlanID          string
	PaymentMethodID string
	PromoCode       string
	AutoRenew       bool
	Actor           string
}

// Create starts a subscription. Plans with a trial period start in
// trial without a charge; paid plans are charged up front and the
// subscription activates only on an approved charge.
func (m *Manager) Create(ctx context.Context, input CreateInput) (*domain.Subscription, error) {
	user, err := m.users.GetByID(ctx, nil, input.UserID)
	if err != nil {
		return nil, err
	}

	plan, err := m.calc.GetPlan(ctx, nil, input.PlanID)
	if err != nil {
		return nil, err
	}

	if existing, err := m.subs.GetActiveByUserAndPlan(ctx, nil, input.UserID, input.PlanID); err == nil {
		return nil, domain.NewDomainError(domain.ErrorCodeAlreadyActive, "user already has a subscription for this plan").
			WithDetail("subscription_id", existing.ID)
	} else if !errors.Is(err, domain.ErrSubscriptionNotFound) {
		return nil, err
	}

	now := m.clock()
	sub := &domain.Subscription{
		ID:                 uuid.New().String(),
		UserID:             user.ID,
		PlanID:             plan.ID,
		PaymentMethodID:    input.PaymentMethodID,
		CurrentPeriodStart: now,
		AutoRenew:          input.AutoRenew,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if plan.HasTrial() {
		// The trial is a sub-interval of a regular billing period
		trialEnd := now.Add(time.Duration(plan.TrialPeriodDays) * 24 * time.Hour)
		sub.Status = domain.SubscriptionStatusTrial
		sub.TrialEnd = &trialEnd
		sub.CurrentPeriodEnd = now.Add(plan.CycleDuration())

		if err := m.subs.Create(ctx, nil, sub); err != nil {
			return nil, err
		}
		m.record(ctx, input.Actor, "subscription.create", sub.ID, nil, map[string]interface{}{
			"status": string(sub.Status), "plan_id": plan.ID, "trial_end": trialEnd,
		})
		m.notify(ctx, ports.EventSubscriptionCreated, sub, map[string]string{"plan": plan.Name, "trial": "true"})
		return sub, nil
	}

	price := plan.Price
	var promo *domain.PromoCode
	if input.PromoCode != "" {
		price, promo, err = m.calc.ApplyPromo(ctx, nil, plan, input.PromoCode, user.ID)
		if err != nil {
			return nil, err
		}
	}

	sub.Status = domain.SubscriptionStatusPending
	sub.CurrentPeriodEnd = now.Add(plan.CycleDuration())
	if err := m.subs.Create(ctx, nil, sub); err != nil {
		return nil, err
	}

	if price.IsPositive() {
		methodID, err := m.resolveMethod(ctx, user.ID, input.PaymentMethodID)
		if err != nil {
			return nil, err
		}
		sub.PaymentMethodID = methodID

		_, err = m.charger.Charge(ctx, payment.ChargeInput{
			UserID:          user.ID,
			SubscriptionID:  &sub.ID,
			PaymentMethodID: methodID,
			Amount:          price,
			Type:            domain.TransactionTypeInitial,
			Description:     fmt.Sprintf("Subscription to %s", plan.Name),
		})
		if err != nil {
			retryAt := m.clock().Add(m.schedule.NextDelay(1))
			countAttempt := true
			if domain.IsDomainError(err, domain.ErrorCodeGatewayError) {
				retryAt = m.clock().Add(gatewayRetryDelay)
				countAttempt = false
			}
			if pdErr := m.MarkPastDue(ctx, sub, retryAt, countAttempt, err.Error()); pdErr != nil {
				m.logger.Error("failed to schedule initial charge retry",
					ports.String("subscription_id", sub.ID), ports.Err(pdErr))
			}
			m.logger.Warn("initial charge failed, subscription stays pending",
				ports.String("subscription_id", sub.ID), ports.Err(err))
			return nil, err
		}
	}

	sub.Status = domain.SubscriptionStatusActive
	sub.UpdatedAt = m.clock()
	if err := m.subs.Update(ctx, nil, sub); err != nil {
		return nil, err
	}

	if promo != nil {
		if err := m.promos.IncrementUsage(ctx, nil, promo.ID, user.ID); err != nil {
			m.logger.Error("failed to record promo usage",
				ports.String("promo_id", promo.ID), ports.Err(err))
		}
	}

	m.record(ctx, input.Actor, "subscription.create", sub.ID, nil, map[string]interface{}{
		"status": string(sub.Status), "plan_id": plan.ID, "price": price.String(),
	})
	m.notify(ctx, ports.EventSubscriptionCreated, sub, map[string]string{"plan": plan.Name})
	return sub, nil
}

// Cancel ends a subscription. Immediate cancellation refunds the unused
// remainder of the current period; otherwise the subscription stays
// active until the period ends and then expires.
func (m *Manager) Cancel(ctx context.Context, subscriptionID string, immediate bool, actor string) (*domain.Subscription, error) {
	sub, err := m.subs.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.IsTerminal() {
		return nil, domain.ErrAlreadyCancelled
	}

	oldStatus := sub.Status
	now := m.clock()

	if !immediate {
		sub.CancelAtPeriodEnd = true
		sub.AutoRenew = false
		sub.UpdatedAt = now
		if err := m.subs.Update(ctx, nil, sub); err != nil {
			return nil, err
		}
		m.record(ctx, actor, "subscription.cancel_at_period_end", sub.ID,
			map[string]interface{}{"status": string(oldStatus)},
			map[string]interface{}{"cancel_at_period_end": true})
		m.notify(ctx, ports.EventSubscriptionCancelled, sub, map[string]string{"immediate": "false"})
		return sub, nil
	}

	refund, err := m.proratedRefund(ctx, sub, now)
	if err != nil {
		return nil, err
	}

	sub.MarkCancelled(now)
	sub.UpdatedAt = now
	if err := m.subs.Update(ctx, nil, sub); err != nil {
		return nil, err
	}

	values := map[string]interface{}{"status": string(sub.Status)}
	if refund != nil {
		values["refund_transaction_id"] = refund.ID
		values["refund_amount"] = refund.Amount.String()
	}
	m.record(ctx, actor, "subscription.cancel", sub.ID,
		map[string]interface{}{"status": string(oldStatus)}, values)
	m.notify(ctx, ports.EventSubscriptionCancelled, sub, map[string]string{"immediate": "true"})
	return sub, nil
}

// Upgrade moves an active or trial subscription to a strictly more
// expensive plan. The prorated difference is charged immediately, the
// current period end is unchanged, and a trial subscription activates.
func (m *Manager) Upgrade(ctx context.Context, subscriptionID, newPlanID, actor string) (*domain.Subscription, error) {
	sub, err := m.subs.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != domain.SubscriptionStatusActive && sub.Status != domain.SubscriptionStatusTrial {
		return nil, domain.ErrNotActive
	}

	oldPlan, err := m.calc.GetPlan(ctx, nil, sub.PlanID)
	if err != nil {
		return nil, err
	}
	newPlan, err := m.calc.GetPlan(ctx, nil, newPlanID)
	if err != nil {
		return nil, err
	}

	if cmp, err := newPlan.Price.Cmp(oldPlan.Price); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeInvalidInput, "plan prices are not comparable", err)
	} else if cmp <= 0 {
		return nil, domain.ErrInvalidUpgrade
	}

	due, err := m.calc.Prorate(sub, oldPlan, newPlan)
	if err != nil {
		return nil, err
	}

	if due.IsPositive() {
		methodID, err := m.resolveMethod(ctx, sub.UserID, sub.PaymentMethodID)
		if err != nil {
			return nil, err
		}
		_, err = m.charger.Charge(ctx, payment.ChargeInput{
			UserID:          sub.UserID,
			SubscriptionID:  &sub.ID,
			PaymentMethodID: methodID,
			Amount:          due,
			Type:            domain.TransactionTypeUpgrade,
			Description:     fmt.Sprintf("Upgrade to %s", newPlan.Name),
		})
		if err != nil {
			return nil, err
		}
	}

	oldPlanID := sub.PlanID
	sub.PlanID = newPlan.ID
	sub.Status = domain.SubscriptionStatusActive
	sub.TrialEnd = nil
	sub.RetryCount = 0
	sub.RetryAt = nil
	sub.UpdatedAt = m.clock()
	if err := m.subs.Update(ctx, nil, sub); err != nil {
		return nil, err
	}

	m.record(ctx, actor, "subscription.upgrade", sub.ID,
		map[string]interface{}{"plan_id": oldPlanID},
		map[string]interface{}{"plan_id": newPlan.ID, "amount_due": due.String()})
	m.notify(ctx, ports.EventSubscriptionUpgraded, sub, map[string]string{
		"old_plan": oldPlan.Name, "new_plan": newPlan.Name,
	})
	return sub, nil
}

// Renew charges one billing cycle and extends the period. A pending
// subscription activates in place: its first period was set at creation
// and the initial charge pays for it. Callers decide what a failed
// renewal means; Renew leaves the subscription untouched on a declined
// or errored charge.
func (m *Manager) Renew(ctx context.Context, subscriptionID, actor string) (*domain.Subscription, error) {
	sub, err := m.subs.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.IsBillable() {
		return nil, domain.ErrNotActive
	}

	plan, err := m.calc.GetPlan(ctx, nil, sub.PlanID)
	if err != nil {
		return nil, err
	}

	methodID, err := m.resolveMethod(ctx, sub.UserID, sub.PaymentMethodID)
	if err != nil {
		return nil, err
	}

	initial := sub.Status == domain.SubscriptionStatusPending
	chargeType := domain.TransactionTypeRenewal
	description := fmt.Sprintf("Renewal of %s", plan.Name)
	if initial {
		chargeType = domain.TransactionTypeInitial
		description = fmt.Sprintf("Subscription to %s", plan.Name)
	}

	_, err = m.charger.Charge(ctx, payment.ChargeInput{
		UserID:          sub.UserID,
		SubscriptionID:  &sub.ID,
		PaymentMethodID: methodID,
		Amount:          plan.Price,
		Type:            chargeType,
		Description:     description,
	})
	if err != nil {
		return nil, err
	}

	oldEnd := sub.CurrentPeriodEnd
	if initial {
		sub.RetryCount = 0
		sub.RetryAt = nil
	} else {
		sub.ExtendPeriod(plan.BillingCycleDays)
	}
	sub.Status = domain.SubscriptionStatusActive
	sub.UpdatedAt = m.clock()
	if err := m.subs.Update(ctx, nil, sub); err != nil {
		return nil, err
	}

	m.record(ctx, actor, "subscription.renew", sub.ID,
		map[string]interface{}{"current_period_end": oldEnd},
		map[string]interface{}{"current_period_end": sub.CurrentPeriodEnd})
	m.notify(ctx, ports.EventSubscriptionRenewed, sub, map[string]string{"plan": plan.Name})
	return sub, nil
}

// ConvertTrial charges the first paid period of an expired trial. On an
// approved charge the subscription activates; the period bounds set at
// creation stay in place, the trial was a sub-interval of them.
func (m *Manager) ConvertTrial(ctx context.Context, subscriptionID, actor string) (*domain.Subscription, error) {
	sub, err := m.subs.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != domain.SubscriptionStatusTrial || sub.TrialEnd == nil {
		return nil, domain.NewDomainError(domain.ErrorCodeInvalidInput, "subscription is not in trial")
	}

	plan, err := m.calc.GetPlan(ctx, nil, sub.PlanID)
	if err != nil {
		return nil, err
	}

	methodID, err := m.resolveMethod(ctx, sub.UserID, sub.PaymentMethodID)
	if err != nil {
		return nil, err
	}

	_, err = m.charger.Charge(ctx, payment.ChargeInput{
		UserID:          sub.UserID,
		SubscriptionID:  &sub.ID,
		PaymentMethodID: methodID,
		Amount:          plan.Price,
		Type:            domain.TransactionTypeInitial,
		Description:     fmt.Sprintf("First period of %s after trial", plan.Name),
	})
	if err != nil {
		return nil, err
	}

	sub.Status = domain.SubscriptionStatusActive
	sub.TrialEnd = nil
	sub.UpdatedAt = m.clock()
	if err := m.subs.Update(ctx, nil, sub); err != nil {
		return nil, err
	}

	m.record(ctx, actor, "subscription.trial_convert", sub.ID,
		map[string]interface{}{"status": string(domain.SubscriptionStatusTrial)},
		map[string]interface{}{"status": string(sub.Status)})
	m.notify(ctx, ports.EventSubscriptionRenewed, sub, map[string]string{"plan": plan.Name, "trial_converted": "true"})
	return sub, nil
}

// Expire transitions a non-renewing subscription past its period end to
// the terminal expired state.
func (m *Manager) Expire(ctx context.Context, subscriptionID, actor string) (*domain.Subscription, error) {
	sub, err := m.subs.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.IsTerminal() {
		return sub, nil
	}

	oldStatus := sub.Status
	now := m.clock()
	sub.Status = domain.SubscriptionStatusExpired
	sub.RetryAt = nil
	sub.UpdatedAt = now
	if err := m.subs.Update(ctx, nil, sub); err != nil {
		return nil, err
	}

	m.record(ctx, actor, "subscription.expire", sub.ID,
		map[string]interface{}{"status": string(oldStatus)},
		map[string]interface{}{"status": string(sub.Status)})
	m.notify(ctx, ports.EventSubscriptionExpired, sub, nil)
	return sub, nil
}

// CancelForNonPayment terminates a subscription whose retry budget ran
// out. No refund is issued.
func (m *Manager) CancelForNonPayment(ctx context.Context, subscriptionID, reason string) (*domain.Subscription, error) {
	sub, err := m.subs.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.IsTerminal() {
		return sub, nil
	}

	oldStatus := sub.Status
	now := m.clock()
	sub.MarkCancelled(now)
	sub.UpdatedAt = now
	if err := m.subs.Update(ctx, nil, sub); err != nil {
		return nil, err
	}

	m.record(ctx, "billing", "subscription.cancel_non_payment", sub.ID,
		map[string]interface{}{"status": string(oldStatus)},
		map[string]interface{}{"status": string(sub.Status), "reason": reason})
	m.notify(ctx, ports.EventSubscriptionCancelled, sub, map[string]string{"reason": reason})
	return sub, nil
}

// MarkPastDue records a failed charge and schedules the next retry.
// Gateway errors do not count against the retry budget. A subscription
// that has never been active stays pending instead of past_due.
func (m *Manager) MarkPastDue(ctx context.Context, sub *domain.Subscription, retryAt time.Time, countAttempt bool, reason string) error {
	oldStatus := sub.Status
	if sub.Status != domain.SubscriptionStatusPending {
		sub.Status = domain.SubscriptionStatusPastDue
	}
	if countAttempt {
		sub.RetryCount++
	}
	sub.RetryAt = &retryAt
	sub.UpdatedAt = m.clock()
	if err := m.subs.Update(ctx, nil, sub); err != nil {
		return err
	}

	m.record(ctx, "billing", "subscription.payment_failed", sub.ID,
		map[string]interface{}{"status": string(oldStatus)},
		map[string]interface{}{
			"status": string(sub.Status), "retry_count": sub.RetryCount, "retry_at": retryAt, "reason": reason,
		})
	m.notify(ctx, ports.EventPaymentFailed, sub, map[string]string{"reason": reason})
	m.notify(ctx, ports.EventPaymentRetryScheduled, sub, map[string]string{
		"retry_at": retryAt.Format(time.RFC3339),
	})
	return nil
}

// Get loads a subscription
func (m *Manager) Get(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	return m.subs.GetByID(ctx, nil, subscriptionID)
}

// proratedRefund refunds the unused remainder of the period against the
// most recent completed charge. A missing or unrefundable transaction
// skips the refund; a failed refund is an error, and the caller must not
// change subscription state.
func (m *Manager) proratedRefund(ctx context.Context, sub *domain.Subscription, now time.Time) (*domain.Transaction, error) {
	total := sub.TotalDays()
	remaining := sub.RemainingDays(now)
	if total <= 0 || remaining <= 0 {
		return nil, nil
	}

	txns, err := m.txns.ListBySubscription(ctx, nil, sub.ID)
	if err != nil {
		return nil, err
	}

	var last *domain.Transaction
	for _, txn := range txns {
		if txn.CanBeRefunded() && txn.Type != domain.TransactionTypeRefund {
			last = txn
			break
		}
	}
	if last == nil {
		return nil, nil
	}

	amount := domain.Money{
		Amount: last.Amount.Amount.
			Mul(decimal.NewFromInt(int64(remaining))).
			Div(decimal.NewFromInt(int64(total))).
			Round(2),
		Currency: last.Amount.Currency,
	}
	if !amount.IsPositive() {
		return nil, nil
	}

	refund, err := m.charger.Refund(ctx, last.ID, amount, "immediate cancellation")
	if err != nil {
		m.logger.Error("cancellation refund failed",
			ports.String("subscription_id", sub.ID),
			ports.String("transaction_id", last.ID),
			ports.Err(err))
		return nil, err
	}
	return refund, nil
}

// resolveMethod picks the explicit payment method or falls back to the
// user's default.
func (m *Manager) resolveMethod(ctx context.Context, userID, methodID string) (string, error) {
	if methodID != "" {
		return methodID, nil
	}
	method, err := m.methods.GetDefaultForUser(ctx, nil, userID)
	if err != nil {
		return "", err
	}
	return method.ID, nil
}

func (m *Manager) record(ctx context.Context, actor, action, entityID string, old, new map[string]interface{}) {
	rec := &domain.AuditRecord{
		ID:         uuid.New().String(),
		Actor:      actor,
		Action:     action,
		EntityType: "subscription",
		EntityID:   entityID,
		OldValues:  old,
		NewValues:  new,
		CreatedAt:  m.clock(),
	}
	if err := m.audit.Append(ctx, nil, rec); err != nil {
		m.logger.Error("failed to append audit record",
			ports.String("action", action), ports.Err(err))
	}
}

func (m *Manager) notify(ctx context.Context, event ports.NotificationEvent, sub *domain.Subscription, data map[string]string) {
	if data == nil {
		data = map[string]string{}
	}
	data["subscription_id"] = sub.ID
	m.notifier.Send(ctx, ports.Notification{Event: event, UserID: sub.UserID, Data: data})
}
