package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"subscription-service/internal/domain/ports"
	pkgerrors "subscription-service/pkg/errors"
)

// DefaultRequestTimeout bounds every outbound gateway call
const DefaultRequestTimeout = 30 * time.Second

// DefaultBaseURL is the production YooMoney API endpoint
const DefaultBaseURL = "https://api.yookassa.ru/v3"

// YooMoneyConfig carries the credentials for the YooMoney API
type YooMoneyConfig struct {
	ShopID        string
	SecretKey     string
	WebhookSecret string
	BaseURL       string
}

// YooMoneyGateway implements PaymentGateway against the YooMoney API
type YooMoneyGateway struct {
	config     YooMoneyConfig
	httpClient ports.HTTPClient
	logger     ports.Logger
}

// NewYooMoneyGateway creates a new YooMoney adapter with dependency injection
func NewYooMoneyGateway(config YooMoneyConfig, httpClient ports.HTTPClient, logger ports.Logger) *YooMoneyGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	return &YooMoneyGateway{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Name implements ports.PaymentGateway
func (g *YooMoneyGateway) Name() string { return "yoomoney" }

// apiAmount is the YooMoney money representation
type apiAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// createPaymentRequest represents the API request structure
type createPaymentRequest struct {
	Amount          apiAmount         `json:"amount"`
	Capture         bool              `json:"capture"`
	PaymentMethodID string            `json:"payment_method_id"`
	Description     string            `json:"description,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// paymentResponse represents the API response structure
type paymentResponse struct {
	ID                  string `json:"id"`
	Status              string `json:"status"`
	CancellationDetails struct {
		Party  string `json:"party"`
		Reason string `json:"reason"`
	} `json:"cancellation_details"`
	Description string `json:"description,omitempty"`
}

// Charge implements ports.PaymentGateway.Charge
func (g *YooMoneyGateway) Charge(ctx context.Context, req ports.ChargeRequest) (ports.ChargeResult, error) {
	if req.MethodToken == "" {
		return ports.ChargeResult{}, pkgerrors.NewValidationError("method_token", "payment method token is required")
	}
	if req.IdempotencyKey == "" {
		return ports.ChargeResult{}, pkgerrors.NewValidationError("idempotency_key", "idempotency key is required")
	}

	apiReq := createPaymentRequest{
		Amount: apiAmount{
			Value:    req.Amount.Amount.StringFixed(2),
			Currency: req.Amount.Currency,
		},
		Capture:         true,
		PaymentMethodID: req.MethodToken,
		Description:     req.Description,
		Metadata:        req.Metadata,
	}

	var resp paymentResponse
	if err := g.makeRequest(ctx, "POST", "/payments", req.IdempotencyKey, apiReq, &resp); err != nil {
		return ports.ChargeResult{}, err
	}

	return g.toChargeResult(resp), nil
}

// createRefundRequest represents the refund API request structure
type createRefundRequest struct {
	PaymentID string    `json:"payment_id"`
	Amount    apiAmount `json:"amount"`
}

// Refund implements ports.PaymentGateway.Refund
func (g *YooMoneyGateway) Refund(ctx context.Context, req ports.RefundRequest) (ports.ChargeResult, error) {
	if req.GatewayReference == "" {
		return ports.ChargeResult{}, pkgerrors.NewValidationError("gateway_reference", "original payment reference is required")
	}

	apiReq := createRefundRequest{
		PaymentID: req.GatewayReference,
		Amount: apiAmount{
			Value:    req.Amount.Amount.StringFixed(2),
			Currency: req.Amount.Currency,
		},
	}

	// Refunds use the payment reference as the idempotency scope
	idemKey := "refund-" + req.GatewayReference

	var resp paymentResponse
	if err := g.makeRequest(ctx, "POST", "/refunds", idemKey, apiReq, &resp); err != nil {
		return ports.ChargeResult{}, err
	}

	return g.toChargeResult(resp), nil
}

// registerMethodRequest represents the method tokenization request
type registerMethodRequest struct {
	Type     string            `json:"type"`
	Card     map[string]string `json:"card,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// registerMethodResponse represents the tokenization response
type registerMethodResponse struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// RegisterMethod implements ports.PaymentGateway.RegisterMethod
func (g *YooMoneyGateway) RegisterMethod(ctx context.Context, req ports.RegisterMethodRequest) (ports.RegisterMethodResult, error) {
	apiReq := registerMethodRequest{
		Type:     req.MethodType,
		Card:     req.Details,
		Metadata: map[string]string{"user_id": req.UserID},
	}

	idemKey := "method-" + req.UserID + "-" + req.MethodType

	var resp registerMethodResponse
	if err := g.makeRequest(ctx, "POST", "/payment_methods", idemKey, apiReq, &resp); err != nil {
		return ports.RegisterMethodResult{}, err
	}
	if resp.ID == "" {
		return ports.RegisterMethodResult{}, pkgerrors.NewPaymentError("REGISTER_FAILED", "Gateway did not return a method token", pkgerrors.CategorySystemError, true)
	}

	return ports.RegisterMethodResult{ExternalID: resp.ID, MethodType: resp.Type}, nil
}

// VerifyWebhook implements ports.PaymentGateway.VerifyWebhook.
// The signature is a hex HMAC-SHA256 of the raw payload; comparison is
// constant time.
func (g *YooMoneyGateway) VerifyWebhook(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(g.config.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// toChargeResult maps an API payment object onto the port result.
// A cancelled payment is a decline, not an error.
func (g *YooMoneyGateway) toChargeResult(resp paymentResponse) ports.ChargeResult {
	if resp.Status == "succeeded" {
		return ports.ChargeResult{
			Approved:         true,
			GatewayReference: resp.ID,
			ResponseCode:     resp.Status,
		}
	}
	return ports.ChargeResult{
		Approved:         false,
		GatewayReference: resp.ID,
		ResponseCode:     resp.Status,
		ResponseMessage:  resp.CancellationDetails.Reason,
	}
}

func (g *YooMoneyGateway) makeRequest(ctx context.Context, method, endpoint, idempotencyKey string, request interface{}, response interface{}) error {
	payloadBytes, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := g.config.BaseURL + endpoint
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payloadBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", idempotencyKey)
	httpReq.SetBasicAuth(g.config.ShopID, g.config.SecretKey)

	if g.logger != nil {
		g.logger.Info("making request to YooMoney",
			ports.String("method", method),
			ports.String("endpoint", endpoint),
		)
	}

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.NewPaymentError("NETWORK_ERROR", "Failed to connect to payment gateway", pkgerrors.CategoryNetworkError, true)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode >= 500 {
		return pkgerrors.NewPaymentError("GATEWAY_ERROR", "Payment gateway error", pkgerrors.CategorySystemError, true)
	}

	if httpResp.StatusCode >= 400 {
		return pkgerrors.NewPaymentError("REQUEST_ERROR", "Invalid request to payment gateway", pkgerrors.CategoryInvalidRequest, false).
			WithGatewayMessage(string(body))
	}

	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}
