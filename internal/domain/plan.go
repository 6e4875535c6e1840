package domain

import "time"

// Plan is a billing plan. Plans are immutable once any active
// subscription references them; admin writes create new plans instead.
type Plan struct {
	CreatedAt        time.Time `json:"created_at"`
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Price            Money     `json:"price"`
	BillingCycleDays int       `json:"billing_cycle_days"`
	TrialPeriodDays  int       `json:"trial_period_days"`
	MaxRetries       int       `json:"max_retries"`
	IsActive         bool      `json:"is_active"`
}

// HasTrial reports whether new subscriptions start with a trial period
func (p *Plan) HasTrial() bool {
	return p.TrialPeriodDays > 0
}

// CycleDuration returns the billing cycle as a duration
func (p *Plan) CycleDuration() time.Duration {
	return time.Duration(p.BillingCycleDays) * 24 * time.Hour
}
