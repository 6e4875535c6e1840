package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Gateway   GatewayConfig
	Billing   BillingConfig
	Scheduler SchedulerConfig
	Auth      AuthConfig
	Logger    LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	MetricsPort int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL         string
	PoolSize    int
	MaxOverflow int
}

// GatewayConfig selects and configures the payment gateway
type GatewayConfig struct {
	Name                  string // mock or yoomoney
	MockSuccessRate       float64
	YooMoneyShopID        string
	YooMoneySecretKey     string
	YooMoneyWebhookSecret string
}

// BillingConfig holds the billing engine knobs
type BillingConfig struct {
	Hour           int
	Minute         int
	Workers        int
	MaxRetries     int
	RetryDelayDays []int
}

// SchedulerConfig holds scheduler limits
type SchedulerConfig struct {
	MaxWorkers int
}

// AuthConfig holds token signing configuration
type AuthConfig struct {
	SecretKey          string
	TokenExpireMinutes int
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvAsInt("SERVER_PORT", 8080),
			MetricsPort: getEnvAsInt("METRICS_PORT", 9090),
		},
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", ""),
			PoolSize:    getEnvAsInt("DB_POOL_SIZE", 20),
			MaxOverflow: getEnvAsInt("DB_MAX_OVERFLOW", 10),
		},
		Gateway: GatewayConfig{
			Name:                  getEnv("PAYMENT_GATEWAY", "mock"),
			MockSuccessRate:       getEnvAsFloat("PAYMENT_SUCCESS_RATE", 0.95),
			YooMoneyShopID:        getEnv("YOOMONEY_SHOP_ID", ""),
			YooMoneySecretKey:     getEnv("YOOMONEY_SECRET_KEY", ""),
			YooMoneyWebhookSecret: getEnv("YOOMONEY_WEBHOOK_SECRET", ""),
		},
		Billing: BillingConfig{
			Hour:           getEnvAsInt("BILLING_HOUR", 2),
			Minute:         getEnvAsInt("BILLING_MINUTE", 0),
			Workers:        getEnvAsInt("BILLING_MAX_WORKERS", 5),
			MaxRetries:     getEnvAsInt("MAX_PAYMENT_RETRIES", 3),
			RetryDelayDays: getEnvAsIntSlice("RETRY_DELAY_DAYS", []int{1, 3, 7}),
		},
		Scheduler: SchedulerConfig{
			MaxWorkers: getEnvAsInt("SCHEDULER_MAX_WORKERS", 10),
		},
		Auth: AuthConfig{
			SecretKey:          getEnv("SECRET_KEY", ""),
			TokenExpireMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Auth.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY is required")
	}
	switch c.Gateway.Name {
	case "mock":
		if c.Gateway.MockSuccessRate < 0 || c.Gateway.MockSuccessRate > 1 {
			return fmt.Errorf("PAYMENT_SUCCESS_RATE must be between 0 and 1, got %v", c.Gateway.MockSuccessRate)
		}
	case "yoomoney":
		if c.Gateway.YooMoneyShopID == "" {
			return fmt.Errorf("YOOMONEY_SHOP_ID is required when PAYMENT_GATEWAY=yoomoney")
		}
		if c.Gateway.YooMoneySecretKey == "" {
			return fmt.Errorf("YOOMONEY_SECRET_KEY is required when PAYMENT_GATEWAY=yoomoney")
		}
	default:
		return fmt.Errorf("unknown PAYMENT_GATEWAY %q", c.Gateway.Name)
	}
	if c.Billing.Hour < 0 || c.Billing.Hour > 23 {
		return fmt.Errorf("BILLING_HOUR must be between 0 and 23, got %d", c.Billing.Hour)
	}
	if c.Billing.Minute < 0 || c.Billing.Minute > 59 {
		return fmt.Errorf("BILLING_MINUTE must be between 0 and 59, got %d", c.Billing.Minute)
	}
	if c.Billing.Workers < 1 {
		return fmt.Errorf("BILLING_MAX_WORKERS must be at least 1, got %d", c.Billing.Workers)
	}
	if len(c.Billing.RetryDelayDays) == 0 {
		return fmt.Errorf("RETRY_DELAY_DAYS must list at least one delay")
	}
	for _, d := range c.Billing.RetryDelayDays {
		if d < 1 {
			return fmt.Errorf("RETRY_DELAY_DAYS entries must be positive, got %d", d)
		}
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsIntSlice parses a comma-separated integer list, e.g. "1,3,7"
func getEnvAsIntSlice(key string, defaultValue []int) []int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return defaultValue
		}
		values = append(values, v)
	}
	return values
}
