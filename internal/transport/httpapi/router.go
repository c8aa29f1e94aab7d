package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/prk-Jr/payments-service/internal/transport/httpapi/handler"
	"github.com/prk-Jr/payments-service/internal/transport/httpapi/middleware"
	"github.com/prk-Jr/payments-service/pkg/logger"
)

// Config holds router configuration
type Config struct {
	Logger              *logger.Logger
	AllowedOrigins      []string
	AccountHandler      *handler.AccountHandler
	TransactionHandler  *handler.TransactionHandler
	WebhookHandler      *handler.WebhookHandler
	APIKeyHandler       *handler.APIKeyHandler
	HealthHandler       *handler.HealthHandler
	AuthMiddleware      func(http.Handler) http.Handler
	RateLimitMiddleware func(http.Handler) http.Handler
}

// NewRouter creates a new HTTP router
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))

	// Health check endpoints (no authentication required)
	r.Get("/health", handler.GetHealth)
	r.Get("/health/live", handler.GetLiveness)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
	}

	// Bootstrap is the only unauthenticated API route: it mints the first
	// key and refuses once any active key exists. IP rate limited so it
	// cannot be hammered.
	if cfg.APIKeyHandler != nil {
		r.Group(func(r chi.Router) {
			r.Use(middleware.PublicRateLimit())
			r.Post("/api/bootstrap", cfg.APIKeyHandler.Bootstrap)
		})
	}

	// Protected routes (require API key authentication)
	if cfg.AuthMiddleware != nil {
		r.Route("/api", func(r chi.Router) {
			r.Use(cfg.AuthMiddleware)
			if cfg.RateLimitMiddleware != nil {
				r.Use(cfg.RateLimitMiddleware)
			}

			// Account routes
			if cfg.AccountHandler != nil {
				r.Post("/accounts", cfg.AccountHandler.CreateAccount)
				r.Get("/accounts", cfg.AccountHandler.ListAccounts)
				r.Get("/accounts/{id}", cfg.AccountHandler.GetAccount)
				r.Get("/accounts/{id}/transactions", cfg.AccountHandler.ListTransactions)
			}

			// Transaction routes
			if cfg.TransactionHandler != nil {
				r.Post("/transactions/deposit", cfg.TransactionHandler.Deposit)
				r.Post("/transactions/withdraw", cfg.TransactionHandler.Withdraw)
				r.Post("/transactions/transfer", cfg.TransactionHandler.Transfer)
			}

			// Webhook routes
			if cfg.WebhookHandler != nil {
				r.Post("/webhooks", cfg.WebhookHandler.CreateWebhook)
				r.Get("/webhooks", cfg.WebhookHandler.ListWebhooks)
				r.Delete("/webhooks/{id}", cfg.WebhookHandler.DeleteWebhook)
			}

			// API key routes
			if cfg.APIKeyHandler != nil {
				r.Post("/keys", cfg.APIKeyHandler.CreateAPIKey)
				r.Get("/keys", cfg.APIKeyHandler.ListAPIKeys)
				r.Delete("/keys/{id}", cfg.APIKeyHandler.DeleteAPIKey)
			}
		})
	}

	return r
}
