package resilience

import (
	"math"
	"time"
)

// RetrySchedule decides how long to wait before the next charge attempt
// for a subscription that failed with a funds-related decline.
//
// When an explicit day schedule is configured (RETRY_DELAY_DAYS, default
// [1, 3, 7]) it takes precedence; beyond the schedule, or when none is
// configured, the delay falls back to InitialDelay * Backoff^(attempt-1)
// capped at MaxDelay.
type RetrySchedule struct {
	DelaysDays   []int         // explicit schedule, indexed by attempt-1
	InitialDelay time.Duration // base for the exponential fallback
	Backoff      float64       // exponential multiplier
	MaxDelay     time.Duration // cap for the exponential fallback
}

// DefaultRetrySchedule mirrors the production billing policy: retries on
// days 1, 3 and 7 after the failed charge.
func DefaultRetrySchedule() RetrySchedule {
	return RetrySchedule{
		DelaysDays:   []int{1, 3, 7},
		InitialDelay: 24 * time.Hour,
		Backoff:      2.0,
		MaxDelay:     24 * 24 * time.Hour,
	}
}

// NextDelay returns the delay before retry number attempt (1-indexed:
// attempt 1 is the first retry after the initial failure).
func (s RetrySchedule) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if len(s.DelaysDays) >= attempt {
		return time.Duration(s.DelaysDays[attempt-1]) * 24 * time.Hour
	}
	delay := float64(s.InitialDelay) * math.Pow(s.Backoff, float64(attempt-1))
	if delay > float64(s.MaxDelay) {
		delay = float64(s.MaxDelay)
	}
	return time.Duration(delay)
}
