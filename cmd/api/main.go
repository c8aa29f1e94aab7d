package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prk-Jr/payments-service/internal/credential"
	"github.com/prk-Jr/payments-service/internal/infra/postgres"
	infraredis "github.com/prk-Jr/payments-service/internal/infra/redis"
	"github.com/prk-Jr/payments-service/internal/infra/sqlite"
	"github.com/prk-Jr/payments-service/internal/ledger"
	"github.com/prk-Jr/payments-service/internal/ratelimit"
	"github.com/prk-Jr/payments-service/internal/transport/httpapi"
	"github.com/prk-Jr/payments-service/internal/transport/httpapi/handler"
	"github.com/prk-Jr/payments-service/internal/transport/httpapi/middleware"
	"github.com/prk-Jr/payments-service/internal/webhook"
	"github.com/prk-Jr/payments-service/pkg/config"
	"github.com/prk-Jr/payments-service/pkg/logger"
)

// repository is the full persistence surface the services share. Both store
// backends implement it on a single struct so one connection serves the
// ledger, credentials, and the webhook outbox.
type repository interface {
	ledger.Repository
	credential.Repository
	webhook.Repository
}

func main() {
	// Create context that listens for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("Failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewDefault(cfg.Env)
	log.Info("Starting payments API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	// Open the store and run migrations. The URL scheme selects the engine.
	repo, dbHealth, closeDB, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer closeDB()

	// Initialize services
	ledgerSvc := ledger.NewService(repo)
	credentialSvc := credential.NewService(repo, log)
	webhookRegistry := webhook.NewRegistry(repo, log)

	// Select the rate-limit backend
	limiter, err := newLimiter(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	// Initialize HTTP handlers
	accountHandler := handler.NewAccountHandler(ledgerSvc, log)
	transactionHandler := handler.NewTransactionHandler(ledgerSvc, log)
	webhookHandler := handler.NewWebhookHandler(webhookRegistry, log)
	apiKeyHandler := handler.NewAPIKeyHandler(credentialSvc, log)
	healthHandler := handler.NewHealthHandler(dbHealth)

	// Determine allowed origins for CORS
	allowedOrigins := []string{"*"}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		allowedOrigins = strings.Split(origins, ",")
	}

	// Create HTTP router
	routerCfg := httpapi.Config{
		Logger:              log,
		AllowedOrigins:      allowedOrigins,
		AccountHandler:      accountHandler,
		TransactionHandler:  transactionHandler,
		WebhookHandler:      webhookHandler,
		APIKeyHandler:       apiKeyHandler,
		HealthHandler:       healthHandler,
		AuthMiddleware:      middleware.Auth(credentialSvc),
		RateLimitMiddleware: middleware.RateLimit(limiter, log),
	}
	r := httpapi.NewRouter(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start the webhook delivery worker pool
	worker := webhook.NewWorker(repo, webhook.Config{
		Workers:     cfg.WebhookWorkers,
		BatchSize:   cfg.WebhookBatchSize,
		MaxAttempts: cfg.WebhookMaxAttempts,
		BaseDelay:   cfg.WebhookBaseDelay,
		MaxDelay:    cfg.WebhookMaxDelay,
		HTTPTimeout: cfg.WebhookHTTPTimeout,
	}, log)
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Webhook worker stopped", "error", err)
		}
	}()
	log.Info("Webhook worker started", "workers", cfg.WebhookWorkers)

	// Start server in a goroutine
	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()
	log.Info("Shutdown signal received")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("Server stopped gracefully")
}

// openStore connects to the configured database, applies migrations, and
// returns the repository plus a health probe and a close func.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository, handler.DatabasePinger, func(), error) {
	switch {
	case strings.HasPrefix(cfg.DatabaseURL, "postgres://"), strings.HasPrefix(cfg.DatabaseURL, "postgresql://"):
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, nil, err
		}
		connectCtx, cancel := context.WithTimeout(ctx, cfg.DBTimeout)
		defer cancel()
		db, err := postgres.NewPool(connectCtx, postgres.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("Database connection established", "engine", "postgres")
		return postgres.NewRepository(db), db, db.Close, nil

	case strings.HasPrefix(cfg.DatabaseURL, "sqlite://"):
		path := strings.TrimPrefix(cfg.DatabaseURL, "sqlite://")
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		log.Info("Database connection established", "engine", "sqlite", "path", path)
		return sqlite.NewRepository(db), db, func() { db.Close() }, nil

	default:
		return nil, nil, nil, errors.New("DATABASE_URL must start with postgres:// or sqlite://")
	}
}

// newLimiter builds the configured rate-limit backend. The memory limiter is
// the default; Redis shares one budget across replicas.
func newLimiter(ctx context.Context, cfg *config.Config, log *logger.Logger) (ratelimit.Limiter, error) {
	if cfg.RateLimitBackend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		log.Info("Rate limiter initialized", "backend", "redis", "capacity", cfg.RateLimitCapacity)
		return infraredis.NewLimiter(client, cfg.RateLimitCapacity, log), nil
	}

	limiter := ratelimit.NewMemoryLimiter(cfg.RateLimitCapacity)
	limiter.StartJanitor(ctx, time.Minute)
	log.Info("Rate limiter initialized", "backend", "memory", "capacity", cfg.RateLimitCapacity)
	return limiter, nil
}
