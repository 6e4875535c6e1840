package domain

import (
	"time"
)

// SubscriptionStatus represents the subscription state
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// Subscription represents a user's enrollment in a plan for the period
// [CurrentPeriodStart, CurrentPeriodEnd).
type Subscription struct {
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CancelledAt        *time.Time `json:"cancelled_at"`
	TrialEnd           *time.Time `json:"trial_end"`
	RetryAt            *time.Time `json:"retry_at"`

	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	PlanID          string             `json:"plan_id"`
	PaymentMethodID string             `json:"payment_method_id"`
	Status          SubscriptionStatus `json:"status"`

	RetryCount        int  `json:"retry_count"`
	CancelAtPeriodEnd bool `json:"cancel_at_period_end"`
	AutoRenew         bool `json:"auto_renew"`
}

// IsTerminal reports whether the subscription can no longer transition
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusCancelled || s.Status == SubscriptionStatusExpired
}

// IsActive returns true if the subscription is currently active
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// IsBillable reports whether the subscription can be charged at all
func (s *Subscription) IsBillable() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusPending:
		return true
	}
	return false
}

// DueForRenewal reports whether the scheduled billing scan should pick
// this subscription up at the given time.
func (s *Subscription) DueForRenewal(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.AutoRenew && !s.CurrentPeriodEnd.After(now)
}

// TrialExpired reports whether the trial window has been crossed
func (s *Subscription) TrialExpired(now time.Time) bool {
	return s.Status == SubscriptionStatusTrial && s.TrialEnd != nil && !s.TrialEnd.After(now)
}

// ShouldRetry returns true if another charge attempt is allowed
func (s *Subscription) ShouldRetry(maxRetries int) bool {
	return s.RetryCount < maxRetries
}

// ExtendPeriod moves the period end forward by one billing cycle and
// clears retry state after a successful charge.
func (s *Subscription) ExtendPeriod(cycleDays int) {
	s.CurrentPeriodEnd = s.CurrentPeriodEnd.Add(time.Duration(cycleDays) * 24 * time.Hour)
	s.RetryCount = 0
	s.RetryAt = nil
}

// MarkCancelled transitions to the terminal cancelled state
func (s *Subscription) MarkCancelled(now time.Time) {
	s.Status = SubscriptionStatusCancelled
	s.CancelledAt = &now
	s.RetryAt = nil
}

// RemainingDays returns whole days left in the current period, clamped
// to [0, total].
func (s *Subscription) RemainingDays(now time.Time) int {
	total := s.TotalDays()
	used := int(now.Sub(s.CurrentPeriodStart).Hours() / 24)
	if used < 0 {
		used = 0
	}
	if used > total {
		used = total
	}
	return total - used
}

// TotalDays returns the whole-day length of the current period
func (s *Subscription) TotalDays() int {
	return int(s.CurrentPeriodEnd.Sub(s.CurrentPeriodStart).Hours() / 24)
}
