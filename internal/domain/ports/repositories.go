package ports

import (
	"context"
	"time"

	"subscription-service/internal/domain"
)

// UserRepository reads and updates user accounts. Account creation lives
// in a separate service; this repository never inserts.
type UserRepository interface {
	GetByID(ctx context.Context, tx DBTX, id string) (*domain.User, error)
	UpdateBalance(ctx context.Context, tx DBTX, id string, balance domain.Money) error
}

// PlanRepository provides access to billing plans
type PlanRepository interface {
	GetByID(ctx context.Context, tx DBTX, id string) (*domain.Plan, error)
	ListActive(ctx context.Context, tx DBTX) ([]*domain.Plan, error)
	Create(ctx context.Context, tx DBTX, plan *domain.Plan) error
}

// SubscriptionRepository persists subscriptions and serves the billing scans
type SubscriptionRepository interface {
	Create(ctx context.Context, tx DBTX, sub *domain.Subscription) error
	GetByID(ctx context.Context, tx DBTX, id string) (*domain.Subscription, error)
	Update(ctx context.Context, tx DBTX, sub *domain.Subscription) error
	ListByUser(ctx context.Context, tx DBTX, userID string) ([]*domain.Subscription, error)

	// GetActiveByUserAndPlan returns the user's non-terminal subscription
	// to the plan, or domain.ErrSubscriptionNotFound.
	GetActiveByUserAndPlan(ctx context.Context, tx DBTX, userID, planID string) (*domain.Subscription, error)

	// ListDueForPayment returns active auto-renew subscriptions whose
	// period end is at or before now.
	ListDueForPayment(ctx context.Context, tx DBTX, now time.Time) ([]*domain.Subscription, error)

	// ListEligibleForRetry returns past_due and pending subscriptions
	// whose retry time has arrived.
	ListEligibleForRetry(ctx context.Context, tx DBTX, now time.Time) ([]*domain.Subscription, error)

	// ListTrialsExpired returns trial subscriptions whose trial window
	// has been crossed and which are waiting for their first paid charge.
	ListTrialsExpired(ctx context.Context, tx DBTX, now time.Time) ([]*domain.Subscription, error)

	// ListEndedNonRenewing returns active subscriptions past their period
	// end that will not renew, either by auto_renew being off or a
	// pending cancellation.
	ListEndedNonRenewing(ctx context.Context, tx DBTX, now time.Time) ([]*domain.Subscription, error)

	// ListExpiringSoon returns active non-renewing subscriptions ending
	// within the window.
	ListExpiringSoon(ctx context.Context, tx DBTX, now time.Time, within time.Duration) ([]*domain.Subscription, error)

	// ListTrialsEndingSoon returns trial subscriptions whose trial ends
	// within the window.
	ListTrialsEndingSoon(ctx context.Context, tx DBTX, now time.Time, within time.Duration) ([]*domain.Subscription, error)
}

// TransactionRepository persists payment transactions
type TransactionRepository interface {
	Create(ctx context.Context, tx DBTX, txn *domain.Transaction) error
	GetByID(ctx context.Context, tx DBTX, id string) (*domain.Transaction, error)
	Update(ctx context.Context, tx DBTX, txn *domain.Transaction) error
	ListBySubscription(ctx context.Context, tx DBTX, subscriptionID string) ([]*domain.Transaction, error)

	// GetByIdempotencyKey returns the transaction that already used the
	// key, or domain.ErrTransactionNotFound.
	GetByIdempotencyKey(ctx context.Context, tx DBTX, key string) (*domain.Transaction, error)
}

// PaymentMethodRepository persists stored payment instruments
type PaymentMethodRepository interface {
	Create(ctx context.Context, tx DBTX, method *domain.PaymentMethod) error
	GetByID(ctx context.Context, tx DBTX, id string) (*domain.PaymentMethod, error)
	GetDefaultForUser(ctx context.Context, tx DBTX, userID string) (*domain.PaymentMethod, error)
	Update(ctx context.Context, tx DBTX, method *domain.PaymentMethod) error
}

// PromoCodeRepository persists promo codes and their usage counters
type PromoCodeRepository interface {
	GetByCode(ctx context.Context, tx DBTX, code string) (*domain.PromoCode, error)
	Create(ctx context.Context, tx DBTX, promo *domain.PromoCode) error

	// IncrementUsage bumps the global counter and records the user's
	// redemption in the same statement batch.
	IncrementUsage(ctx context.Context, tx DBTX, promoID, userID string) error

	// HasUserRedeemed reports whether the user already used this code
	HasUserRedeemed(ctx context.Context, tx DBTX, promoID, userID string) (bool, error)
}

// AuditRepository appends state transition records. The log is
// append-only; there is no update or delete.
type AuditRepository interface {
	Append(ctx context.Context, tx DBTX, rec *domain.AuditRecord) error
	ListByEntity(ctx context.Context, tx DBTX, entityType, entityID string) ([]*domain.AuditRecord, error)
}
