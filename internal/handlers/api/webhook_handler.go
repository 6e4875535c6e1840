package api

import (
	"encoding/json"
	"io"
	"net/http"

	"subscription-service/internal/domain/ports"
)

// maxWebhookBody caps the accepted webhook payload size
const maxWebhookBody = 1 << 20

type webhookEvent struct {
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"object"`
}

// PaymentWebhook authenticates a gateway callback and acknowledges it.
// Signature verification is delegated to the active gateway.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if !h.gateway.VerifyWebhook(payload, signature) {
		h.logger.Warn("rejected webhook with bad signature",
			ports.String("gateway", h.gateway.Name()))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	h.logger.Info("gateway webhook received",
		ports.String("gateway", h.gateway.Name()),
		ports.String("event", event.Event),
		ports.String("object_id", event.Object.ID),
	)
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
