package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
)

func TestMockGateway_ChargeApproved(t *testing.T) {
	g := NewMockGateway(1.0, 42, nil)

	result, err := g.Charge(context.Background(), ports.ChargeRequest{
		Amount:         domain.MustMoney("100", "RUB"),
		MethodToken:    "tok-1",
		IdempotencyKey: "key-1",
	})

	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.NotEmpty(t, result.GatewayReference)
	assert.Len(t, g.Charges(), 1)
}

func TestMockGateway_DeclinesRotateThroughCatalog(t *testing.T) {
	g := NewMockGateway(0.0, 42, nil)

	seen := make([]string, 0, len(declineReasons))
	for range declineReasons {
		result, err := g.Charge(context.Background(), ports.ChargeRequest{
			Amount:      domain.MustMoney("100", "RUB"),
			MethodToken: "tok-1",
		})
		require.NoError(t, err)
		assert.False(t, result.Approved)
		assert.Empty(t, result.GatewayReference)
		seen = append(seen, result.ResponseMessage)
	}

	assert.Equal(t, declineReasons, seen)
}

func TestMockGateway_SetSuccessRate(t *testing.T) {
	g := NewMockGateway(0.0, 42, nil)

	result, err := g.Charge(context.Background(), ports.ChargeRequest{
		Amount: domain.MustMoney("100", "RUB"),
	})
	require.NoError(t, err)
	assert.False(t, result.Approved)

	g.SetSuccessRate(1.0)
	result, err = g.Charge(context.Background(), ports.ChargeRequest{
		Amount: domain.MustMoney("100", "RUB"),
	})
	require.NoError(t, err)
	assert.True(t, result.Approved)
}

func TestMockGateway_RefundAlwaysApproved(t *testing.T) {
	g := NewMockGateway(0.0, 42, nil)

	result, err := g.Refund(context.Background(), ports.RefundRequest{
		GatewayReference: "mock-ch-000001",
		Amount:           domain.MustMoney("50", "RUB"),
	})

	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.Len(t, g.Refunds(), 1)
}

func TestMockGateway_RegisterMethodAndWebhook(t *testing.T) {
	g := NewMockGateway(1.0, 42, nil)

	result, err := g.RegisterMethod(context.Background(), ports.RegisterMethodRequest{
		UserID:     "user-1",
		MethodType: "card",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, result.ExternalID)
	assert.Equal(t, "card", result.MethodType)
	assert.True(t, g.VerifyWebhook([]byte("anything"), "any-signature"))
}
