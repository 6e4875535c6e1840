package api

import (
	"context"
	"net/http"
	"time"

	"subscription-service/internal/domain/ports"
)

// billingRunTimeout bounds a fire-and-forget billing run kicked off over
// HTTP; the scheduler path has its own task timeout.
const billingRunTimeout = 10 * time.Minute

// ProcessBilling kicks off a billing run and returns immediately
func (h *Handler) ProcessBilling(w http.ResponseWriter, r *http.Request) {
	startedAt := h.clock().UTC()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), billingRunTimeout)
		defer cancel()

		result, err := h.biller.ProcessRecurringPayments(ctx)
		if err != nil {
			h.logger.Error("billing run failed", ports.Err(err))
			return
		}
		h.logger.Info("billing run finished",
			ports.Int("due", result.Due),
			ports.Int("renewed", result.Renewed),
			ports.Int("failed", result.Failed),
			ports.Int("skipped", result.Skipped),
			ports.Int("expired", result.Expired),
		)
	}()

	h.respondJSON(w, http.StatusAccepted, map[string]string{
		"started_at": startedAt.Format(time.RFC3339),
	})
}

// SchedulerStatus returns the state of every scheduled task
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.sched == nil {
		h.respondJSON(w, http.StatusOK, map[string]string{"status": "scheduler not running"})
		return
	}
	h.respondJSON(w, http.StatusOK, h.sched.Status())
}
