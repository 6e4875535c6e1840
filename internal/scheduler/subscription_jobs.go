package scheduler

import (
	"context"
	"time"

	"subscription-service/internal/services/billing"
)

// Jobs wires the billing engine into the scheduler
type Jobs struct {
	engine *billing.Engine

	// BillingHour and BillingMinute set the daily due-scan slot
	BillingHour   int
	BillingMinute int
	// RetryInterval is how often the retry sweep runs
	RetryInterval time.Duration
	// ExpiringWindow is how far ahead the expiry scan looks
	ExpiringWindow time.Duration
	// TrialWindow is how far ahead the trial-ending scan looks
	TrialWindow time.Duration
}

// NewJobs creates the standard job set
func NewJobs(engine *billing.Engine, billingHour, billingMinute int) *Jobs {
	return &Jobs{
		engine:         engine,
		BillingHour:    billingHour,
		BillingMinute:  billingMinute,
		RetryInterval:  time.Hour,
		ExpiringWindow: 3 * 24 * time.Hour,
		TrialWindow:    2 * 24 * time.Hour,
	}
}

// Register installs all recurring billing tasks on the scheduler
func (j *Jobs) Register(s *Scheduler) error {
	if err := s.ScheduleDaily("billing.due_scan", j.BillingHour, j.BillingMinute, func(ctx context.Context) error {
		_, err := j.engine.ProcessRecurringPayments(ctx)
		return err
	}); err != nil {
		return err
	}

	if err := s.ScheduleInterval("billing.retry_sweep", j.RetryInterval, func(ctx context.Context) error {
		_, err := j.engine.RetryFailedPayments(ctx)
		return err
	}); err != nil {
		return err
	}

	if err := s.ScheduleDaily("billing.expiring_scan", 9, 0, func(ctx context.Context) error {
		_, err := j.engine.NotifyExpiring(ctx, j.ExpiringWindow)
		return err
	}); err != nil {
		return err
	}

	return s.ScheduleDaily("billing.trial_scan", 10, 0, func(ctx context.Context) error {
		_, err := j.engine.NotifyTrialsEnding(ctx, j.TrialWindow)
		return err
	})
}
