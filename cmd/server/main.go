package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"subscription-service/internal/adapters/gateway"
	"subscription-service/internal/adapters/notify"
	"subscription-service/internal/adapters/pdf"
	"subscription-service/internal/adapters/postgres"
	"subscription-service/internal/config"
	"subscription-service/internal/domain/ports"
	"subscription-service/internal/handlers/api"
	"subscription-service/internal/scheduler"
	"subscription-service/internal/services/billing"
	"subscription-service/internal/services/lifecycle"
	"subscription-service/internal/services/payment"
	plansvc "subscription-service/internal/services/plan"
	"subscription-service/pkg/logger"
	"subscription-service/pkg/observability"
	"subscription-service/pkg/resilience"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	zapLogger := initLogger(cfg.Logger)
	defer zapLogger.Sync()
	log := logger.NewZapLogger(zapLogger)

	log.Info("starting subscription service",
		ports.String("gateway", cfg.Gateway.Name),
		ports.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := postgres.NewAdapter(ctx, &postgres.Config{
		DatabaseURL:     cfg.Database.URL,
		MaxConns:        int32(cfg.Database.PoolSize + cfg.Database.MaxOverflow),
		MinConns:        int32(cfg.Database.PoolSize / 4),
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}, log)
	cancel()
	if err != nil {
		log.Error("failed to connect to database", ports.Err(err))
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database connection established")

	// Repositories
	users := postgres.NewUserRepository(db)
	plans := postgres.NewPlanRepository(db)
	subs := postgres.NewSubscriptionRepository(db)
	txns := postgres.NewTransactionRepository(db)
	methods := postgres.NewPaymentMethodRepository(db)
	promos := postgres.NewPromoCodeRepository(db)
	audit := postgres.NewAuditRepository(db)

	// Payment gateway
	gw, err := gateway.New(gateway.FactoryConfig{
		Gateway:         cfg.Gateway.Name,
		MockSuccessRate: cfg.Gateway.MockSuccessRate,
		YooMoney: gateway.YooMoneyConfig{
			ShopID:        cfg.Gateway.YooMoneyShopID,
			SecretKey:     cfg.Gateway.YooMoneySecretKey,
			WebhookSecret: cfg.Gateway.YooMoneyWebhookSecret,
		},
	}, nil, log)
	if err != nil {
		log.Error("failed to build payment gateway", ports.Err(err))
		os.Exit(1)
	}

	// Services
	notifier := notify.NewLogNotifier(log)
	renderer := pdf.NewChromeRenderer(log)
	calc := plansvc.NewCalculator(plans, promos, log, nil)
	processor := payment.NewProcessor(db, txns, methods, gw, log, nil)

	schedule := resilience.DefaultRetrySchedule()
	schedule.DelaysDays = cfg.Billing.RetryDelayDays
	manager := lifecycle.NewManager(db, subs, users, txns, methods, promos, calc, processor, audit, notifier, schedule, log, nil)
	engine := billing.NewEngine(db, subs, plans, users, txns, manager, renderer, notifier,
		schedule, cfg.Billing.Workers, log, nil)

	// Scheduler
	sched := scheduler.New(log, nil, cfg.Scheduler.MaxWorkers)
	jobs := scheduler.NewJobs(engine, cfg.Billing.Hour, cfg.Billing.Minute)
	if err := jobs.Register(sched); err != nil {
		log.Error("failed to register scheduled jobs", ports.Err(err))
		os.Exit(1)
	}
	sched.Start()

	// HTTP API
	handler := api.NewHandler(manager, engine, sched, gw, log, nil)
	mux := http.NewServeMux()
	handler.Register(mux)

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("HTTP API listening", ports.Int("port", cfg.Server.Port))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", ports.Err(err))
			os.Exit(1)
		}
	}()

	// Metrics
	metricsServer := observability.NewMetricsServer(cfg.Server.MetricsPort)
	go func() {
		log.Info("metrics listening", ports.Int("port", cfg.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", ports.Err(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	sched.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", ports.Err(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown error", ports.Err(err))
	}

	log.Info("stopped")
}

// initLogger builds the zap core per configuration
func initLogger(cfg config.LoggerConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zlog, err := zapCfg.Build()
	if err != nil {
		zlog, _ = zap.NewProduction()
	}
	return zlog
}
