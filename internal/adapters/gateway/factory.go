package gateway

import (
	"fmt"
	"time"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
)

// FactoryConfig selects and configures the active payment gateway
type FactoryConfig struct {
	// Gateway is the registry tag: "mock" or "yoomoney"
	Gateway string

	YooMoney YooMoneyConfig

	// MockSuccessRate is the charge approval probability for the mock
	// gateway. Zero is a valid rate: every charge declines.
	MockSuccessRate float64
	// MockSeed makes mock outcomes reproducible; 0 means time-based
	MockSeed int64
}

// New builds the payment gateway named by cfg.Gateway. An unknown tag
// is a configuration error.
func New(cfg FactoryConfig, httpClient ports.HTTPClient, logger ports.Logger) (ports.PaymentGateway, error) {
	switch cfg.Gateway {
	case "mock":
		seed := cfg.MockSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		return NewMockGateway(cfg.MockSuccessRate, seed, logger), nil
	case "yoomoney":
		if cfg.YooMoney.ShopID == "" || cfg.YooMoney.SecretKey == "" {
			return nil, domain.NewDomainError(domain.ErrorCodeInvalidInput,
				"yoomoney gateway requires shop id and secret key")
		}
		return NewYooMoneyGateway(cfg.YooMoney, httpClient, logger), nil
	default:
		return nil, domain.NewDomainError(domain.ErrorCodeInvalidInput,
			fmt.Sprintf("unknown payment gateway: %q", cfg.Gateway))
	}
}
