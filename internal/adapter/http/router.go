package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iho/cryptoledger/internal/adapter/http/handler"
	"github.com/iho/cryptoledger/internal/adapter/http/middleware"
	"github.com/iho/cryptoledger/internal/infrastructure/metrics"
)

// Rate-limited operations.
const (
	OperationDeposit  = "deposit"
	OperationWithdraw = "withdraw"
	OperationTransfer = "transfer"
	OperationDefault  = "default"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	BalanceHandler     *handler.BalanceHandler
	TransactionHandler *handler.TransactionHandler
	OperationHandler   *handler.OperationHandler
	LedgerHandler      *handler.LedgerHandler
	WebhookHandler     *handler.WebhookHandler
	HealthHandler      *handler.HealthHandler

	Authenticator *middleware.Authenticator
	// Optional
	RateLimiter    *middleware.RateLimiter
	Idempotency    *middleware.IdempotencyMiddleware
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler

	CORSAllowedOrigins []string
	Logger             zerolog.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Global middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.UserIDHeader, middleware.IdempotencyKeyHeader, handler.SignatureHeader},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", middleware.ReplayHeader},
		MaxAge:         300,
	}))
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Recovery(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	// Confirmation events are authenticated by signature, not by user.
	r.Post("/webhook/crypto", cfg.WebhookHandler.Crypto)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cfg.Authenticator.Wrap)

		limit := func(operation string) func(http.Handler) http.Handler {
			if cfg.RateLimiter == nil {
				return passThrough
			}
			return cfg.RateLimiter.Limit(operation)
		}

		idempotent := passThrough
		if cfg.Idempotency != nil {
			idempotent = cfg.Idempotency.Wrap
		}

		r.With(limit(OperationDefault)).Get("/balances", cfg.BalanceHandler.List)
		r.With(limit(OperationDefault)).Get("/balances/{currency}", cfg.BalanceHandler.Get)

		r.With(limit(OperationDefault)).Get("/transactions", cfg.TransactionHandler.List)
		r.With(limit(OperationDefault)).Get("/transactions/{id}", cfg.TransactionHandler.Get)

		r.With(limit(OperationDeposit), idempotent).Post("/deposit", cfg.OperationHandler.Deposit)
		r.With(limit(OperationWithdraw), idempotent).Post("/withdraw", cfg.OperationHandler.Withdraw)
		r.With(limit(OperationTransfer), idempotent).Post("/transfer", cfg.OperationHandler.Transfer)

		r.With(limit(OperationDefault)).Get("/ledger/consistency", cfg.LedgerHandler.CheckConsistency)
	})

	return r
}

func passThrough(next http.Handler) http.Handler { return next }
