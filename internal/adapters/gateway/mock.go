package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"subscription-service/internal/domain/ports"
)

// declineReasons is the rotation of decline messages the mock emits
var declineReasons = []string{
	"Insufficient funds",
	"Card expired",
	"Gateway timeout",
	"Invalid payment method",
}

// MockGateway simulates a payment provider in memory. Charges succeed
// with a configurable probability; declines rotate through a fixed
// catalog of reasons. Safe for concurrent use.
type MockGateway struct {
	mu          sync.Mutex
	rng         *rand.Rand
	successRate float64
	counter     int
	declines    int
	charges     []ports.ChargeRequest
	refunds     []ports.RefundRequest
	logger      ports.Logger
}

// NewMockGateway creates a mock gateway. Seed makes charge outcomes
// reproducible in tests.
func NewMockGateway(successRate float64, seed int64, logger ports.Logger) *MockGateway {
	return &MockGateway{
		rng:         rand.New(rand.NewSource(seed)),
		successRate: successRate,
		logger:      logger,
	}
}

// Name implements ports.PaymentGateway
func (g *MockGateway) Name() string { return "mock" }

// SetSuccessRate changes the charge approval probability
func (g *MockGateway) SetSuccessRate(rate float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successRate = rate
}

// Charges returns a copy of every charge request seen so far
func (g *MockGateway) Charges() []ports.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ports.ChargeRequest, len(g.charges))
	copy(out, g.charges)
	return out
}

// Refunds returns a copy of every refund request seen so far
func (g *MockGateway) Refunds() []ports.RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ports.RefundRequest, len(g.refunds))
	copy(out, g.refunds)
	return out
}

// Charge implements ports.PaymentGateway. Declines are results, never errors.
func (g *MockGateway) Charge(_ context.Context, req ports.ChargeRequest) (ports.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counter++
	g.charges = append(g.charges, req)

	if g.rng.Float64() >= g.successRate {
		reason := declineReasons[g.declines%len(declineReasons)]
		g.declines++
		if g.logger != nil {
			g.logger.Debug("mock charge declined",
				ports.String("idempotency_key", req.IdempotencyKey),
				ports.String("reason", reason),
			)
		}
		return ports.ChargeResult{
			Approved:        false,
			ResponseCode:    "declined",
			ResponseMessage: reason,
		}, nil
	}

	return ports.ChargeResult{
		Approved:         true,
		GatewayReference: fmt.Sprintf("mock-ch-%06d", g.counter),
		ResponseCode:     "succeeded",
	}, nil
}

// Refund implements ports.PaymentGateway. Refunds always succeed.
func (g *MockGateway) Refund(_ context.Context, req ports.RefundRequest) (ports.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counter++
	g.refunds = append(g.refunds, req)
	return ports.ChargeResult{
		Approved:         true,
		GatewayReference: fmt.Sprintf("mock-rf-%06d", g.counter),
		ResponseCode:     "succeeded",
	}, nil
}

// RegisterMethod implements ports.PaymentGateway
func (g *MockGateway) RegisterMethod(_ context.Context, req ports.RegisterMethodRequest) (ports.RegisterMethodResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counter++
	return ports.RegisterMethodResult{
		ExternalID: fmt.Sprintf("mock-pm-%06d", g.counter),
		MethodType: req.MethodType,
	}, nil
}

// VerifyWebhook implements ports.PaymentGateway. The mock trusts everything.
func (g *MockGateway) VerifyWebhook(_ []byte, _ string) bool { return true }
