package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetrySchedule_ExplicitDays(t *testing.T) {
	s := DefaultRetrySchedule()

	assert.Equal(t, 24*time.Hour, s.NextDelay(1))
	assert.Equal(t, 3*24*time.Hour, s.NextDelay(2))
	assert.Equal(t, 7*24*time.Hour, s.NextDelay(3))
}

func TestRetrySchedule_ExponentialFallback(t *testing.T) {
	s := DefaultRetrySchedule()

	// Attempt 4 is past the explicit schedule: 1d * 2^3 = 8d
	assert.Equal(t, 8*24*time.Hour, s.NextDelay(4))
	// Attempt 5: 16d
	assert.Equal(t, 16*24*time.Hour, s.NextDelay(5))
	// Capped at 24 days
	assert.Equal(t, 24*24*time.Hour, s.NextDelay(6))
	assert.Equal(t, 24*24*time.Hour, s.NextDelay(10))
}

func TestRetrySchedule_NoExplicitSchedule(t *testing.T) {
	s := RetrySchedule{
		InitialDelay: 24 * time.Hour,
		Backoff:      2.0,
		MaxDelay:     24 * 24 * time.Hour,
	}

	assert.Equal(t, 24*time.Hour, s.NextDelay(1))
	assert.Equal(t, 2*24*time.Hour, s.NextDelay(2))
	assert.Equal(t, 4*24*time.Hour, s.NextDelay(3))
}

func TestRetrySchedule_AttemptFloor(t *testing.T) {
	s := DefaultRetrySchedule()

	assert.Equal(t, s.NextDelay(1), s.NextDelay(0))
	assert.Equal(t, s.NextDelay(1), s.NextDelay(-3))
}
