package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
)

// SubscriptionRepository implements ports.SubscriptionRepository on pgx
type SubscriptionRepository struct {
	db ports.DBPort
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db ports.DBPort) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) querier(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

const subscriptionColumns = `
	id, user_id, plan_id, payment_method_id, status,
	current_period_start, current_period_end,
	cancelled_at, trial_end, retry_at, retry_count,
	cancel_at_period_end, auto_renew, created_at, updated_at`

// Create inserts a new subscription
func (r *SubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, user_id, plan_id, payment_method_id, status,
			current_period_start, current_period_end,
			cancelled_at, trial_end, retry_at, retry_count,
			cancel_at_period_end, auto_renew, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.querier(tx).Exec(ctx, query,
		sub.ID, sub.UserID, sub.PlanID, nullText(sub.PaymentMethodID), string(sub.Status),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		tsFromPtr(sub.CancelledAt), tsFromPtr(sub.TrialEnd), tsFromPtr(sub.RetryAt), sub.RetryCount,
		sub.CancelAtPeriodEnd, sub.AutoRenew, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// GetByID retrieves a subscription by its ID
func (r *SubscriptionRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	row := r.querier(tx).QueryRow(ctx, query, id)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription by id: %w", err)
	}
	return sub, nil
}

// Update persists all mutable subscription fields
func (r *SubscriptionRepository) Update(ctx context.Context, tx ports.DBTX, sub *domain.Subscription) error {
	query := `
		UPDATE subscriptions SET
			plan_id = $2, payment_method_id = $3, status = $4,
			current_period_start = $5, current_period_end = $6,
			cancelled_at = $7, trial_end = $8, retry_at = $9, retry_count = $10,
			cancel_at_period_end = $11, auto_renew = $12, updated_at = $13
		WHERE id = $1`

	tag, err := r.querier(tx).Exec(ctx, query,
		sub.ID, sub.PlanID, nullText(sub.PaymentMethodID), string(sub.Status),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		tsFromPtr(sub.CancelledAt), tsFromPtr(sub.TrialEnd), tsFromPtr(sub.RetryAt), sub.RetryCount,
		sub.CancelAtPeriodEnd, sub.AutoRenew, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// ListByUser returns all subscriptions of a user, newest first
func (r *SubscriptionRepository) ListByUser(ctx context.Context, tx ports.DBTX, userID string) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.querier(tx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by user: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// GetActiveByUserAndPlan returns the user's non-terminal subscription to the plan
func (r *SubscriptionRepository) GetActiveByUserAndPlan(ctx context.Context, tx ports.DBTX, userID, planID string) (*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND plan_id = $2
		  AND status NOT IN ('cancelled', 'expired')
		ORDER BY created_at DESC
		LIMIT 1`

	row := r.querier(tx).QueryRow(ctx, query, userID, planID)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	return sub, nil
}

// ListDueForPayment returns active auto-renew subscriptions whose period has ended
func (r *SubscriptionRepository) ListDueForPayment(ctx context.Context, tx ports.DBTX, now time.Time) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'active' AND auto_renew = true AND current_period_end <= $1
		ORDER BY current_period_end ASC`

	rows, err := r.querier(tx).Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list due for payment: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListEligibleForRetry returns past_due and pending subscriptions whose
// retry time has arrived.
func (r *SubscriptionRepository) ListEligibleForRetry(ctx context.Context, tx ports.DBTX, now time.Time) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions s
		WHERE s.status IN ('past_due', 'pending')
		  AND s.retry_at IS NOT NULL AND s.retry_at <= $1
		  AND s.retry_count < (SELECT p.max_retries FROM plans p WHERE p.id = s.plan_id)
		ORDER BY s.retry_at ASC`

	rows, err := r.querier(tx).Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list eligible for retry: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListTrialsExpired returns trials whose trial window has been crossed
func (r *SubscriptionRepository) ListTrialsExpired(ctx context.Context, tx ports.DBTX, now time.Time) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'trial' AND trial_end IS NOT NULL AND trial_end <= $1
		ORDER BY trial_end ASC`

	rows, err := r.querier(tx).Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list trials expired: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListEndedNonRenewing returns active subscriptions past period end that will not renew
func (r *SubscriptionRepository) ListEndedNonRenewing(ctx context.Context, tx ports.DBTX, now time.Time) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'active'
		  AND (auto_renew = false OR cancel_at_period_end = true)
		  AND current_period_end <= $1
		ORDER BY current_period_end ASC`

	rows, err := r.querier(tx).Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list ended non-renewing: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListExpiringSoon returns active non-renewing subscriptions ending within the window
func (r *SubscriptionRepository) ListExpiringSoon(ctx context.Context, tx ports.DBTX, now time.Time, within time.Duration) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'active'
		  AND (auto_renew = false OR cancel_at_period_end = true)
		  AND current_period_end > $1 AND current_period_end <= $2
		ORDER BY current_period_end ASC`

	rows, err := r.querier(tx).Query(ctx, query, now, now.Add(within))
	if err != nil {
		return nil, fmt.Errorf("list expiring soon: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListTrialsEndingSoon returns trial subscriptions whose trial ends within the window
func (r *SubscriptionRepository) ListTrialsEndingSoon(ctx context.Context, tx ports.DBTX, now time.Time, within time.Duration) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'trial'
		  AND trial_end IS NOT NULL
		  AND trial_end > $1 AND trial_end <= $2
		ORDER BY trial_end ASC`

	rows, err := r.querier(tx).Query(ctx, query, now, now.Add(within))
	if err != nil {
		return nil, fmt.Errorf("list trials ending soon: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var paymentMethodID pgtype.Text
	var status string
	var cancelledAt, trialEnd, retryAt *time.Time

	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &paymentMethodID, &status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&cancelledAt, &trialEnd, &retryAt, &sub.RetryCount,
		&sub.CancelAtPeriodEnd, &sub.AutoRenew, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.PaymentMethodID = paymentMethodID.String
	sub.Status = domain.SubscriptionStatus(status)
	sub.CancelledAt = cancelledAt
	sub.TrialEnd = trialEnd
	sub.RetryAt = retryAt
	return &sub, nil
}

func scanSubscriptions(rows pgx.Rows) ([]*domain.Subscription, error) {
	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
