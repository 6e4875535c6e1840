package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
	"subscription-service/internal/scheduler"
	"subscription-service/internal/services/billing"
	"subscription-service/internal/services/lifecycle"
	"subscription-service/pkg/timeutil"
)

// Lifecycle is the slice of the lifecycle manager the API consumes
type Lifecycle interface {
	Create(ctx context.Context, input lifecycle.CreateInput) (*domain.Subscription, error)
	Cancel(ctx context.Context, subscriptionID string, immediate bool, actor string) (*domain.Subscription, error)
	Upgrade(ctx context.Context, subscriptionID, newPlanID, actor string) (*domain.Subscription, error)
	Renew(ctx context.Context, subscriptionID, actor string) (*domain.Subscription, error)
	Get(ctx context.Context, subscriptionID string) (*domain.Subscription, error)
}

// Biller is the slice of the billing engine the API consumes
type Biller interface {
	ProcessRecurringPayments(ctx context.Context) (billing.BatchResult, error)
	GenerateInvoice(ctx context.Context, subscriptionID, transactionID string) ([]byte, error)
}

// StatusReporter exposes scheduler task state to operators
type StatusReporter interface {
	Status() map[string]scheduler.TaskStatus
}

// Handler serves the JSON HTTP API
type Handler struct {
	lifecycle Lifecycle
	biller    Biller
	sched     StatusReporter
	gateway   ports.PaymentGateway
	logger    ports.Logger
	clock     timeutil.Clock
}

// NewHandler creates the API handler
func NewHandler(
	lc Lifecycle,
	biller Biller,
	sched StatusReporter,
	gateway ports.PaymentGateway,
	logger ports.Logger,
	clock timeutil.Clock,
) *Handler {
	if clock == nil {
		clock = timeutil.Now
	}
	return &Handler{
		lifecycle: lc,
		biller:    biller,
		sched:     sched,
		gateway:   gateway,
		logger:    logger,
		clock:     clock,
	}
}

// Register mounts all routes on the mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/subscriptions", h.CreateSubscription)
	mux.HandleFunc("GET /api/v1/subscriptions/{id}", h.GetSubscription)
	mux.HandleFunc("POST /api/v1/subscriptions/{id}/cancel", h.CancelSubscription)
	mux.HandleFunc("POST /api/v1/subscriptions/{id}/upgrade", h.UpgradeSubscription)
	mux.HandleFunc("POST /api/v1/subscriptions/{id}/renew", h.RenewSubscription)
	mux.HandleFunc("GET /api/v1/subscriptions/{id}/invoice", h.GetInvoice)
	mux.HandleFunc("POST /admin/process-billing", h.ProcessBilling)
	mux.HandleFunc("GET /admin/scheduler", h.SchedulerStatus)
	mux.HandleFunc("POST /webhooks/payment", h.PaymentWebhook)
	mux.HandleFunc("GET /health", h.Health)
}

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", ports.Err(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Code: string(domain.ErrorCodeInternal), Message: "internal error"}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		status = statusForCode(domainErr.Code)
		body = errorBody{
			Code:    string(domainErr.Code),
			Message: domainErr.Message,
			Details: domainErr.Details,
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", ports.Err(err))
	}
	h.respondJSON(w, status, errorResponse{Error: body})
}

func statusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.ErrorCodeNotFound:
		return http.StatusNotFound
	case domain.ErrorCodeInvalidInput, domain.ErrorCodeAlreadyActive:
		return http.StatusBadRequest
	case domain.ErrorCodeInsufficientFunds, domain.ErrorCodePaymentDeclined:
		return http.StatusPaymentRequired
	case domain.ErrorCodeLockUnavailable:
		return http.StatusConflict
	case domain.ErrorCodeGatewayError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondError(w, domain.WrapError(domain.ErrorCodeInvalidInput, "malformed request body", err))
		return false
	}
	return true
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
