package billing

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
	"subscription-service/internal/services/lifecycle"
	"subscription-service/pkg/observability"
	"subscription-service/pkg/resilience"
	"subscription-service/pkg/timeutil"
)

// DefaultWorkers bounds the charge fan-out of a billing batch
const DefaultWorkers = 5

// GatewayErrorRetryDelay is how long a subscription waits after a
// gateway fault. The attempt does not count against the retry budget.
const GatewayErrorRetryDelay = time.Hour

// Engine runs the recurring billing batches: the due-scan, the retry
// sweep, trial conversions and period-end expiry.
type Engine struct {
	db       ports.DBPort
	subs     ports.SubscriptionRepository
	plans    ports.PlanRepository
	users    ports.UserRepository
	txns     ports.TransactionRepository
	manager  *lifecycle.Manager
	renderer ports.InvoiceRenderer
	notifier ports.Notifier
	schedule resilience.RetrySchedule
	locks    *KeyedLock
	logger   ports.Logger
	clock    timeutil.Clock
	workers  int
}

// NewEngine creates a billing engine
func NewEngine(
	db ports.DBPort,
	subs ports.SubscriptionRepository,
	plans ports.PlanRepository,
	users ports.UserRepository,
	txns ports.TransactionRepository,
	manager *lifecycle.Manager,
	renderer ports.InvoiceRenderer,
	notifier ports.Notifier,
	schedule resilience.RetrySchedule,
	workers int,
	logger ports.Logger,
	clock timeutil.Clock,
) *Engine {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if clock == nil {
		clock = timeutil.Now
	}
	return &Engine{
		db:       db,
		subs:     subs,
		plans:    plans,
		users:    users,
		txns:     txns,
		manager:  manager,
		renderer: renderer,
		notifier: notifier,
		schedule: schedule,
		locks:    NewKeyedLock(),
		logger:   logger,
		clock:    clock,
		workers:  workers,
	}
}

// SubscriptionResult reports the outcome for one subscription in a batch
type SubscriptionResult struct {
	SubscriptionID string
	Success        bool
	Error          string
}

// BatchResult summarizes one billing batch
type BatchResult struct {
	Due       int
	Renewed   int
	Converted int
	Failed    int
	Skipped   int
	Expired   int
	Cancelled int
	Results   []SubscriptionResult
}

// observe folds one processed subscription into the batch counters and
// the per-subscription result list. Callers hold the batch mutex.
func (r *BatchResult) observe(subscriptionID string, outcome chargeOutcome, convert bool, err error) {
	entry := SubscriptionResult{SubscriptionID: subscriptionID}
	if err != nil {
		entry.Error = err.Error()
	}
	switch outcome {
	case outcomeRenewed:
		if convert {
			r.Converted++
		} else {
			r.Renewed++
		}
		entry.Success = true
	case outcomeFailed:
		r.Failed++
	case outcomeSkipped:
		r.Skipped++
		entry.Error = "locked"
	case outcomeCancelled:
		r.Cancelled++
	case outcomeExpired:
		r.Expired++
	}
	r.Results = append(r.Results, entry)
}

// ProcessRecurringPayments runs one due-scan: renews due subscriptions,
// converts expired trials and expires ended non-renewing ones. Charges
// fan out across a bounded worker pool; a subscription already being
// processed is skipped, never double-charged.
func (e *Engine) ProcessRecurringPayments(ctx context.Context) (BatchResult, error) {
	start := e.clock()
	defer func() { observability.ObserveBillingBatch(e.clock().Sub(start)) }()

	now := e.clock()
	var result BatchResult
	var mu sync.Mutex

	ended, err := e.subs.ListEndedNonRenewing(ctx, nil, now)
	if err != nil {
		return result, err
	}
	for _, sub := range ended {
		if _, err := e.manager.Expire(ctx, sub.ID, "billing"); err != nil {
			e.logger.Error("failed to expire subscription",
				ports.String("subscription_id", sub.ID), ports.Err(err))
			continue
		}
		result.Expired++
	}

	due, err := e.subs.ListDueForPayment(ctx, nil, now)
	if err != nil {
		return result, err
	}
	trials, err := e.subs.ListTrialsExpired(ctx, nil, now)
	if err != nil {
		return result, err
	}
	result.Due = len(due) + len(trials)

	e.logger.Info("billing batch started",
		ports.Int("due", len(due)),
		ports.Int("expired_trials", len(trials)),
		ports.Int("workers", e.workers),
	)

	type job struct {
		sub     *domain.Subscription
		convert bool
	}
	jobs := make([]job, 0, len(due)+len(trials))
	for _, sub := range due {
		jobs = append(jobs, job{sub: sub})
	}
	for _, sub := range trials {
		jobs = append(jobs, job{sub: sub, convert: true})
	}

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, procErr := e.processOne(ctx, j.sub, j.convert)
			mu.Lock()
			result.observe(j.sub.ID, outcome, j.convert, procErr)
			mu.Unlock()
		}(j)
	}
	wg.Wait()

	e.logger.Info("billing batch finished",
		ports.Int("renewed", result.Renewed),
		ports.Int("converted", result.Converted),
		ports.Int("failed", result.Failed),
		ports.Int("skipped", result.Skipped),
		ports.Int("expired", result.Expired),
		ports.Int("cancelled", result.Cancelled),
	)
	return result, nil
}

// RetryFailedPayments runs the retry sweep over past_due and pending
// subscriptions whose retry time has arrived.
func (e *Engine) RetryFailedPayments(ctx context.Context) (BatchResult, error) {
	now := e.clock()
	var result BatchResult

	eligible, err := e.subs.ListEligibleForRetry(ctx, nil, now)
	if err != nil {
		return result, err
	}
	result.Due = len(eligible)
	if len(eligible) == 0 {
		return result, nil
	}

	e.logger.Info("retry sweep started", ports.Int("eligible", len(eligible)))

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, sub := range eligible {
		wg.Add(1)
		sem <- struct{}{}
		go func(sub *domain.Subscription) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, procErr := e.processOne(ctx, sub, false)
			mu.Lock()
			result.observe(sub.ID, outcome, false, procErr)
			mu.Unlock()
		}(sub)
	}
	wg.Wait()
	return result, nil
}

type chargeOutcome int

const (
	outcomeRenewed chargeOutcome = iota
	outcomeFailed
	outcomeSkipped
	outcomeCancelled
	outcomeExpired
)

// processOne charges a single subscription under its lock. convert
// selects trial conversion instead of a plain renewal.
func (e *Engine) processOne(ctx context.Context, sub *domain.Subscription, convert bool) (chargeOutcome, error) {
	if !e.locks.TryLock(sub.ID) {
		e.logger.Warn("subscription locked by another worker, skipping",
			ports.String("subscription_id", sub.ID))
		return outcomeSkipped, nil
	}
	defer e.locks.Unlock(sub.ID)

	observability.BillingInFlightInc()
	defer observability.BillingInFlightDec()

	plan, err := e.plans.GetByID(ctx, nil, sub.PlanID)
	if err != nil {
		e.logger.Error("plan lookup failed",
			ports.String("subscription_id", sub.ID), ports.Err(err))
		return outcomeFailed, err
	}

	if convert {
		_, err = e.manager.ConvertTrial(ctx, sub.ID, "billing")
	} else {
		_, err = e.manager.Renew(ctx, sub.ID, "billing")
	}
	if err == nil {
		return outcomeRenewed, nil
	}

	return e.handleChargeFailure(ctx, sub, plan, err), err
}

// handleChargeFailure applies the retry policy. Gateway faults retry in
// an hour without consuming the budget and alert the admin channel;
// declines consume one attempt and follow the retry schedule until the
// plan's budget runs out, at which point the subscription is cancelled.
func (e *Engine) handleChargeFailure(ctx context.Context, sub *domain.Subscription, plan *domain.Plan, chargeErr error) chargeOutcome {
	now := e.clock()

	if domain.IsDomainError(chargeErr, domain.ErrorCodeGatewayError) {
		e.notifier.Send(ctx, ports.Notification{
			Event:  ports.EventAdminAlert,
			UserID: sub.UserID,
			Data: map[string]string{
				"subscription_id": sub.ID,
				"error":           chargeErr.Error(),
			},
		})
		if err := e.manager.MarkPastDue(ctx, sub, now.Add(GatewayErrorRetryDelay), false, chargeErr.Error()); err != nil {
			e.logger.Error("failed to schedule gateway-error retry",
				ports.String("subscription_id", sub.ID), ports.Err(err))
		}
		return outcomeFailed
	}

	if !sub.ShouldRetry(plan.MaxRetries) {
		e.logger.Warn("retry budget exhausted, cancelling subscription",
			ports.String("subscription_id", sub.ID),
			ports.Int("retry_count", sub.RetryCount),
		)
		if _, err := e.manager.CancelForNonPayment(ctx, sub.ID, chargeErr.Error()); err != nil {
			e.logger.Error("failed to cancel subscription",
				ports.String("subscription_id", sub.ID), ports.Err(err))
			return outcomeFailed
		}
		return outcomeCancelled
	}

	attempt := sub.RetryCount + 1
	retryAt := now.Add(e.schedule.NextDelay(attempt))
	if err := e.manager.MarkPastDue(ctx, sub, retryAt, true, chargeErr.Error()); err != nil {
		e.logger.Error("failed to mark subscription past due",
			ports.String("subscription_id", sub.ID), ports.Err(err))
	}
	return outcomeFailed
}

// NotifyExpiring sends a heads-up to users whose non-renewing
// subscriptions end within the window.
func (e *Engine) NotifyExpiring(ctx context.Context, within time.Duration) (int, error) {
	subs, err := e.subs.ListExpiringSoon(ctx, nil, e.clock(), within)
	if err != nil {
		return 0, err
	}
	for _, sub := range subs {
		e.notifier.Send(ctx, ports.Notification{
			Event:  ports.EventExpiringSoon,
			UserID: sub.UserID,
			Data: map[string]string{
				"subscription_id": sub.ID,
				"ends_at":         sub.CurrentPeriodEnd.Format(time.RFC3339),
			},
		})
	}
	return len(subs), nil
}

// NotifyTrialsEnding sends a heads-up to users whose trials end within
// the window.
func (e *Engine) NotifyTrialsEnding(ctx context.Context, within time.Duration) (int, error) {
	subs, err := e.subs.ListTrialsEndingSoon(ctx, nil, e.clock(), within)
	if err != nil {
		return 0, err
	}
	for _, sub := range subs {
		data := map[string]string{"subscription_id": sub.ID}
		if sub.TrialEnd != nil {
			data["trial_ends_at"] = sub.TrialEnd.Format(time.RFC3339)
		}
		e.notifier.Send(ctx, ports.Notification{
			Event:  ports.EventTrialEndingSoon,
			UserID: sub.UserID,
			Data:   data,
		})
	}
	return len(subs), nil
}

// GenerateInvoice renders a subscription's transaction history as a
// PDF. A non-empty transactionID narrows the invoice to that single
// transaction; it must belong to the subscription and be completed.
func (e *Engine) GenerateInvoice(ctx context.Context, subscriptionID, transactionID string) ([]byte, error) {
	sub, err := e.subs.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	plan, err := e.plans.GetByID(ctx, nil, sub.PlanID)
	if err != nil {
		return nil, err
	}
	user, err := e.users.GetByID(ctx, nil, sub.UserID)
	if err != nil {
		return nil, err
	}
	txns, err := e.txns.ListBySubscription(ctx, nil, sub.ID)
	if err != nil {
		return nil, err
	}

	if transactionID != "" {
		var match *domain.Transaction
		for _, txn := range txns {
			if txn.ID == transactionID {
				match = txn
				break
			}
		}
		if match == nil || !match.IsCompleted() {
			return nil, domain.ErrTransactionNotFound
		}
		txns = []*domain.Transaction{match}
	}

	var buf bytes.Buffer
	err = invoiceTemplate.Execute(&buf, invoiceData{
		Subscription: sub,
		Plan:         plan,
		User:         user,
		Transactions: txns,
		GeneratedAt:  e.clock(),
	})
	if err != nil {
		return nil, fmt.Errorf("render invoice template: %w", err)
	}

	return e.renderer.RenderPDF(ctx, buf.String())
}
