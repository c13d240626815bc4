package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kevin07696/billing-engine/internal/adapters/postgres"
	"github.com/kevin07696/billing-engine/internal/adapters/sandbox"
	"github.com/kevin07696/billing-engine/internal/adapters/secrets"
	"github.com/kevin07696/billing-engine/internal/config"
	"github.com/kevin07696/billing-engine/internal/domain/ports"
	"github.com/kevin07696/billing-engine/internal/handlers/cron"
	invoicesvc "github.com/kevin07696/billing-engine/internal/services/invoice"
	subscriptionsvc "github.com/kevin07696/billing-engine/internal/services/subscription"
	transactionsvc "github.com/kevin07696/billing-engine/internal/services/transaction"
	"github.com/kevin07696/billing-engine/pkg/logging"
	"github.com/kevin07696/billing-engine/pkg/middleware"
	"github.com/kevin07696/billing-engine/pkg/timeutil"
)

func main() {
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting billing engine")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	dbPool, err := initDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbPool.Close()

	deps, err := initDependencies(dbPool, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", zap.Error(err))
	}

	rateLimiter := middleware.NewRateLimiter(10, 20)
	defer rateLimiter.Shutdown()

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/cron/process-billing", deps.billingHandler.ProcessBilling)
	httpMux.HandleFunc("/cron/health", deps.billingHandler.HealthCheck)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      rateLimiter.Middleware(httpMux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	metricsServer := initMetricsServer(cfg, deps, logger)
	go func() {
		logger.Info("Metrics server listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server shutdown failed", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

// initLogger creates the zap logger based on ENVIRONMENT
func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENVIRONMENT")

	if env == "production" {
		zapConfig := zap.NewProductionConfig()
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.MessageKey = "message"
		return zapConfig.Build()
	}

	return zap.NewDevelopment()
}

// initDatabase creates the PostgreSQL connection pool and verifies it
func initDatabase(cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database),
		zap.Int32("max_conns", cfg.Database.MaxConns),
	)

	return pool, nil
}

// Dependencies holds the wired application graph
type Dependencies struct {
	billingHandler *cron.BillingHandler
	secretManager  ports.SecretManager
}

// initDependencies wires repositories, engines, and handlers
func initDependencies(dbPool *pgxpool.Pool, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	db := postgres.NewDBExecutor(dbPool)

	customerRepo := postgres.NewCustomerRepository(db)
	planRepo := postgres.NewPlanRepository(db)
	subscriptionRepo := postgres.NewSubscriptionRepository(db)
	invoiceRepo := postgres.NewInvoiceRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)

	secretManager, err := initSecrets(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secrets backend: %w", err)
	}

	gateway, err := initGateway(cfg, secretManager, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize processor gateway: %w", err)
	}

	domainLogger := logging.NewZapAdapter(logger)
	clock := ports.ClockFunc(timeutil.Now)

	transactionService := transactionsvc.NewService(
		db,
		transactionRepo,
		invoiceRepo,
		customerRepo,
		gateway,
		clock,
		domainLogger,
		cfg.Billing.MaxRetries,
		cfg.Billing.ProcessBatchSize,
	)

	invoiceService := invoicesvc.NewService(
		db,
		invoiceRepo,
		transactionRepo,
		subscriptionRepo,
		planRepo,
		transactionService,
		clock,
		domainLogger,
	)

	subscriptionService := subscriptionsvc.NewService(
		db,
		subscriptionRepo,
		planRepo,
		customerRepo,
		transactionRepo,
		invoiceService,
		clock,
		domainLogger,
		cfg.Billing.YieldBatchSize,
	)

	billingHandler := cron.NewBillingHandler(
		subscriptionService,
		transactionService,
		logger,
		cfg.Server.CronSecret,
	)

	logger.Info("Dependencies initialized",
		zap.String("processor", cfg.Processor.Kind),
		zap.String("secrets_backend", cfg.Secrets.Backend),
		zap.Int("max_retries", cfg.Billing.MaxRetries),
	)

	return &Dependencies{
		billingHandler: billingHandler,
		secretManager:  secretManager,
	}, nil
}

// initSecrets selects the secrets backend from configuration
func initSecrets(cfg *config.Config, logger *zap.Logger) (ports.SecretManager, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.Secrets.Backend {
	case "local":
		return secrets.NewLocalSecretManager(cfg.Secrets.LocalPath, logger), nil

	case "aws":
		return secrets.NewAWSSecretsManager(ctx, secrets.DefaultAWSSecretsManagerConfig(cfg.Secrets.AWSRegion), logger)

	case "vault":
		vaultCfg := secrets.DefaultVaultConfig(os.Getenv("VAULT_ADDR"))
		vaultCfg.Token = os.Getenv("VAULT_TOKEN")
		return secrets.NewVaultSecretManager(ctx, vaultCfg, logger)

	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", cfg.Secrets.Backend)
	}
}

// initGateway selects the processor gateway from configuration. The sandbox
// gateway needs no credential; anything else resolves its API key through the
// secret manager before construction.
func initGateway(cfg *config.Config, secretManager ports.SecretManager, logger *zap.Logger) (ports.ProcessorGateway, error) {
	switch cfg.Processor.Kind {
	case "sandbox":
		logger.Warn("Using sandbox processor gateway; no real money moves")
		return sandbox.NewGateway(), nil

	default:
		return nil, fmt.Errorf("unknown processor kind: %s", cfg.Processor.Kind)
	}
}

// initMetricsServer serves Prometheus metrics and a deep health check on a
// separate port, outside the rate limiter.
func initMetricsServer(cfg *config.Config, deps *Dependencies, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := deps.secretManager.HealthCheck(ctx); err != nil {
			logger.Warn("Health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"unhealthy"}`)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy"}`)
	})

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
