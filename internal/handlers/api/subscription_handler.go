package api

import (
	"net/http"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
	"subscription-service/internal/services/lifecycle"
)

type createSubscriptionRequest struct {
	UserID          string `json:"user_id"`
	PlanID          string `json:"plan_id"`
	PaymentMethodID string `json:"payment_method_id"`
	PromoCode       string `json:"promo_code"`
	AutoRenew       *bool  `json:"auto_renew"`
}

type cancelSubscriptionRequest struct {
	Immediate bool `json:"immediate"`
}

type upgradeSubscriptionRequest struct {
	NewPlanID string `json:"new_plan_id"`
}

// CreateSubscription starts a subscription for a user
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		h.respondError(w, domain.NewDomainError(domain.ErrorCodeInvalidInput, "user_id is required"))
		return
	}
	if req.PlanID == "" {
		h.respondError(w, domain.NewDomainError(domain.ErrorCodeInvalidInput, "plan_id is required"))
		return
	}

	autoRenew := true
	if req.AutoRenew != nil {
		autoRenew = *req.AutoRenew
	}

	sub, err := h.lifecycle.Create(r.Context(), lifecycle.CreateInput{
		UserID:          req.UserID,
		PlanID:          req.PlanID,
		PaymentMethodID: req.PaymentMethodID,
		PromoCode:       req.PromoCode,
		AutoRenew:       autoRenew,
		Actor:           "api",
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, sub)
}

// GetSubscription returns a subscription by id
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.lifecycle.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, sub)
}

// CancelSubscription cancels at period end, or immediately with a
// prorated refund.
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req cancelSubscriptionRequest
	if !h.decode(w, r, &req) {
		return
	}

	sub, err := h.lifecycle.Cancel(r.Context(), r.PathValue("id"), req.Immediate, "api")
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, sub)
}

// UpgradeSubscription moves a subscription to a more expensive plan
func (h *Handler) UpgradeSubscription(w http.ResponseWriter, r *http.Request) {
	var req upgradeSubscriptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.NewPlanID == "" {
		h.respondError(w, domain.NewDomainError(domain.ErrorCodeInvalidInput, "new_plan_id is required"))
		return
	}

	sub, err := h.lifecycle.Upgrade(r.Context(), r.PathValue("id"), req.NewPlanID, "api")
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, sub)
}

// RenewSubscription charges one billing cycle on demand
func (h *Handler) RenewSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.lifecycle.Renew(r.Context(), r.PathValue("id"), "api")
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, sub)
}

// GetInvoice renders the subscription's invoice as PDF. An optional
// transaction_id query parameter narrows it to a single charge.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	pdf, err := h.biller.GenerateInvoice(r.Context(), r.PathValue("id"), r.URL.Query().Get("transaction_id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=invoice.pdf")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf); err != nil {
		h.logger.Error("failed to write invoice response", ports.Err(err))
	}
}
