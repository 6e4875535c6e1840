package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
)

// UserRepository is a map-backed ports.UserRepository
type UserRepository struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewUserRepository creates an empty user repository
func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[string]domain.User)}
}

// Put seeds a user. Test helper; the port has no insert.
func (r *UserRepository) Put(user *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = *user
}

func (r *UserRepository) GetByID(_ context.Context, _ ports.DBTX, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &user, nil
}

func (r *UserRepository) UpdateBalance(_ context.Context, _ ports.DBTX, id string, balance domain.Money) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.Balance = balance
	r.users[id] = user
	return nil
}

// PlanRepository is a map-backed ports.PlanRepository
type PlanRepository struct {
	mu    sync.RWMutex
	plans map[string]domain.Plan
}

// NewPlanRepository creates an empty plan repository
func NewPlanRepository() *PlanRepository {
	return &PlanRepository{plans: make(map[string]domain.Plan)}
}

func (r *PlanRepository) GetByID(_ context.Context, _ ports.DBTX, id string) (*domain.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plan, ok := r.plans[id]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return &plan, nil
}

func (r *PlanRepository) ListActive(_ context.Context, _ ports.DBTX) ([]*domain.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var plans []*domain.Plan
	for _, plan := range r.plans {
		if plan.IsActive {
			p := plan
			plans = append(plans, &p)
		}
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].Price.Amount.LessThan(plans[j].Price.Amount)
	})
	return plans, nil
}

func (r *PlanRepository) Create(_ context.Context, _ ports.DBTX, plan *domain.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[plan.ID] = *plan
	return nil
}

// SubscriptionRepository is a map-backed ports.SubscriptionRepository
type SubscriptionRepository struct {
	mu   sync.RWMutex
	subs map[string]domain.Subscription
}

// NewSubscriptionRepository creates an empty subscription repository
func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{subs: make(map[string]domain.Subscription)}
}

func (r *SubscriptionRepository) Create(_ context.Context, _ ports.DBTX, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = cloneSubscription(sub)
	return nil
}

func (r *SubscriptionRepository) GetByID(_ context.Context, _ ports.DBTX, id string) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	out := cloneSubscription(&sub)
	return &out, nil
}

func (r *SubscriptionRepository) Update(_ context.Context, _ ports.DBTX, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.ID]; !ok {
		return domain.ErrSubscriptionNotFound
	}
	r.subs[sub.ID] = cloneSubscription(sub)
	return nil
}

func (r *SubscriptionRepository) ListByUser(_ context.Context, _ ports.DBTX, userID string) ([]*domain.Subscription, error) {
	return r.list(func(s *domain.Subscription) bool {
		return s.UserID == userID
	}), nil
}

func (r *SubscriptionRepository) GetActiveByUserAndPlan(_ context.Context, _ ports.DBTX, userID, planID string) (*domain.Subscription, error) {
	matches := r.list(func(s *domain.Subscription) bool {
		return s.UserID == userID && s.PlanID == planID && !s.IsTerminal()
	})
	if len(matches) == 0 {
		return nil, domain.ErrSubscriptionNotFound
	}
	return matches[0], nil
}

func (r *SubscriptionRepository) ListDueForPayment(_ context.Context, _ ports.DBTX, now time.Time) ([]*domain.Subscription, error) {
	return r.list(func(s *domain.Subscription) bool {
		return s.DueForRenewal(now)
	}), nil
}

func (r *SubscriptionRepository) ListEligibleForRetry(_ context.Context, _ ports.DBTX, now time.Time) ([]*domain.Subscription, error) {
	return r.list(func(s *domain.Subscription) bool {
		return (s.Status == domain.SubscriptionStatusPastDue || s.Status == domain.SubscriptionStatusPending) &&
			s.RetryAt != nil && !s.RetryAt.After(now)
	}), nil
}

func (r *SubscriptionRepository) ListTrialsExpired(_ context.Context, _ ports.DBTX, now time.Time) ([]*domain.Subscription, error) {
	return r.list(func(s *domain.Subscription) bool {
		return s.TrialExpired(now)
	}), nil
}

func (r *SubscriptionRepository) ListEndedNonRenewing(_ context.Context, _ ports.DBTX, now time.Time) ([]*domain.Subscription, error) {
	return r.list(func(s *domain.Subscription) bool {
		return s.Status == domain.SubscriptionStatusActive &&
			(!s.AutoRenew || s.CancelAtPeriodEnd) &&
			!s.CurrentPeriodEnd.After(now)
	}), nil
}

func (r *SubscriptionRepository) ListExpiringSoon(_ context.Context, _ ports.DBTX, now time.Time, within time.Duration) ([]*domain.Subscription, error) {
	limit := now.Add(within)
	return r.list(func(s *domain.Subscription) bool {
		return s.Status == domain.SubscriptionStatusActive &&
			(!s.AutoRenew || s.CancelAtPeriodEnd) &&
			s.CurrentPeriodEnd.After(now) && !s.CurrentPeriodEnd.After(limit)
	}), nil
}

func (r *SubscriptionRepository) ListTrialsEndingSoon(_ context.Context, _ ports.DBTX, now time.Time, within time.Duration) ([]*domain.Subscription, error) {
	limit := now.Add(within)
	return r.list(func(s *domain.Subscription) bool {
		return s.Status == domain.SubscriptionStatusTrial &&
			s.TrialEnd != nil && s.TrialEnd.After(now) && !s.TrialEnd.After(limit)
	}), nil
}

func (r *SubscriptionRepository) list(match func(*domain.Subscription) bool) []*domain.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Subscription
	for id := range r.subs {
		sub := cloneSubscription(ptr(r.subs[id]))
		if match(&sub) {
			out = append(out, &sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func ptr(s domain.Subscription) *domain.Subscription { return &s }

func cloneSubscription(s *domain.Subscription) domain.Subscription {
	out := *s
	out.CancelledAt = cloneTime(s.CancelledAt)
	out.TrialEnd = cloneTime(s.TrialEnd)
	out.RetryAt = cloneTime(s.RetryAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TransactionRepository is a map-backed ports.TransactionRepository
type TransactionRepository struct {
	mu      sync.RWMutex
	txns    map[string]domain.Transaction
	byIdem  map[string]string
	ordered []string
}

// NewTransactionRepository creates an empty transaction repository
func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		txns:   make(map[string]domain.Transaction),
		byIdem: make(map[string]string),
	}
}

func (r *TransactionRepository) Create(_ context.Context, _ ports.DBTX, txn *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txns[txn.ID] = cloneTransaction(txn)
	if txn.IdempotencyKey != "" {
		r.byIdem[txn.IdempotencyKey] = txn.ID
	}
	r.ordered = append(r.ordered, txn.ID)
	return nil
}

func (r *TransactionRepository) GetByID(_ context.Context, _ ports.DBTX, id string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	txn, ok := r.txns[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	out := cloneTransaction(&txn)
	return &out, nil
}

func (r *TransactionRepository) GetByIdempotencyKey(_ context.Context, _ ports.DBTX, key string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdem[key]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	txn := r.txns[id]
	out := cloneTransaction(&txn)
	return &out, nil
}

func (r *TransactionRepository) Update(_ context.Context, _ ports.DBTX, txn *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txns[txn.ID]; !ok {
		return domain.ErrTransactionNotFound
	}
	r.txns[txn.ID] = cloneTransaction(txn)
	if txn.IdempotencyKey != "" {
		r.byIdem[txn.IdempotencyKey] = txn.ID
	}
	return nil
}

func (r *TransactionRepository) ListBySubscription(_ context.Context, _ ports.DBTX, subscriptionID string) ([]*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Transaction
	// ordered holds insertion order; newest first mirrors the SQL repo
	for i := len(r.ordered) - 1; i >= 0; i-- {
		txn := r.txns[r.ordered[i]]
		if txn.SubscriptionID != nil && *txn.SubscriptionID == subscriptionID {
			t := cloneTransaction(&txn)
			out = append(out, &t)
		}
	}
	return out, nil
}

func cloneTransaction(t *domain.Transaction) domain.Transaction {
	out := *t
	out.RetryAt = cloneTime(t.RetryAt)
	if t.SubscriptionID != nil {
		v := *t.SubscriptionID
		out.SubscriptionID = &v
	}
	if t.Metadata != nil {
		out.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// PaymentMethodRepository is a map-backed ports.PaymentMethodRepository
type PaymentMethodRepository struct {
	mu      sync.RWMutex
	methods map[string]domain.PaymentMethod
}

// NewPaymentMethodRepository creates an empty payment method repository
func NewPaymentMethodRepository() *PaymentMethodRepository {
	return &PaymentMethodRepository{methods: make(map[string]domain.PaymentMethod)}
}

func (r *PaymentMethodRepository) Create(_ context.Context, _ ports.DBTX, method *domain.PaymentMethod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[method.ID] = *method
	return nil
}

func (r *PaymentMethodRepository) GetByID(_ context.Context, _ ports.DBTX, id string) (*domain.PaymentMethod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	method, ok := r.methods[id]
	if !ok {
		return nil, domain.ErrPaymentMethodNotFound
	}
	return &method, nil
}

func (r *PaymentMethodRepository) GetDefaultForUser(_ context.Context, _ ports.DBTX, userID string) (*domain.PaymentMethod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var fallback *domain.PaymentMethod
	for id := range r.methods {
		method := r.methods[id]
		if method.UserID != userID || !method.IsValid {
			continue
		}
		if method.IsDefault {
			return &method, nil
		}
		if fallback == nil {
			m := method
			fallback = &m
		}
	}
	if fallback == nil {
		return nil, domain.ErrPaymentMethodNotFound
	}
	return fallback, nil
}

func (r *PaymentMethodRepository) Update(_ context.Context, _ ports.DBTX, method *domain.PaymentMethod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.methods[method.ID]; !ok {
		return domain.ErrPaymentMethodNotFound
	}
	r.methods[method.ID] = *method
	return nil
}

// PromoCodeRepository is a map-backed ports.PromoCodeRepository
type PromoCodeRepository struct {
	mu          sync.RWMutex
	byCode      map[string]domain.PromoCode
	redemptions map[string]map[string]bool
}

// NewPromoCodeRepository creates an empty promo code repository
func NewPromoCodeRepository() *PromoCodeRepository {
	return &PromoCodeRepository{
		byCode:      make(map[string]domain.PromoCode),
		redemptions: make(map[string]map[string]bool),
	}
}

func (r *PromoCodeRepository) GetByCode(_ context.Context, _ ports.DBTX, code string) (*domain.PromoCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	promo, ok := r.byCode[code]
	if !ok {
		return nil, domain.ErrPromoCodeNotFound
	}
	return &promo, nil
}

func (r *PromoCodeRepository) Create(_ context.Context, _ ports.DBTX, promo *domain.PromoCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCode[promo.Code] = *promo
	return nil
}

func (r *PromoCodeRepository) IncrementUsage(_ context.Context, _ ports.DBTX, promoID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for code, promo := range r.byCode {
		if promo.ID == promoID {
			promo.UsedCount++
			r.byCode[code] = promo
			if r.redemptions[promoID] == nil {
				r.redemptions[promoID] = make(map[string]bool)
			}
			r.redemptions[promoID][userID] = true
			return nil
		}
	}
	return domain.ErrPromoCodeNotFound
}

func (r *PromoCodeRepository) HasUserRedeemed(_ context.Context, _ ports.DBTX, promoID, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.redemptions[promoID][userID], nil
}

// AuditRepository is an append-only in-memory ports.AuditRepository
type AuditRepository struct {
	mu      sync.RWMutex
	records []domain.AuditRecord
}

// NewAuditRepository creates an empty audit repository
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Append(_ context.Context, _ ports.DBTX, rec *domain.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

func (r *AuditRepository) ListByEntity(_ context.Context, _ ports.DBTX, entityType, entityID string) ([]*domain.AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.AuditRecord
	for i := range r.records {
		if r.records[i].EntityType == entityType && r.records[i].EntityID == entityID {
			rec := r.records[i]
			out = append(out, &rec)
		}
	}
	return out, nil
}
