package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/creatorstudio/entitlements/internal/database"
	mw "github.com/creatorstudio/entitlements/internal/middleware"
	inats "github.com/creatorstudio/entitlements/internal/nats"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Entitlement gate
	CheckEntitlement http.HandlerFunc
	ListEntitlements http.HandlerFunc
	RequireFeature   func(http.Handler) http.Handler

	// Usage ledger and plan
	GetUsage        http.HandlerFunc
	GetSubscription http.HandlerFunc
	ListAuditLogs   http.HandlerFunc

	// Generation
	Generate http.HandlerFunc

	// Billing
	StripeWebhook http.HandlerFunc

	// Auth middleware
	AuthMiddleware         func(http.Handler) http.Handler
	OptionalAuthMiddleware func(http.Handler) http.Handler

	// RedisPing reports Redis health for readiness, nil when unused.
	RedisPing func(ctx context.Context) error
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins  []string
	GenerateRateLimiter func(http.Handler) http.Handler
}

func NewRouter(pool *pgxpool.Pool, natsClient *inats.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe, always 200 with no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe checks DB, Redis and NATS
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"redis":    "healthy",
			"nats":     "healthy",
		}

		status := http.StatusOK

		if pool == nil {
			health["database"] = "not configured"
		} else if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if h.RedisPing == nil {
			health["redis"] = "not configured"
		} else if err := h.RedisPing(r.Context()); err != nil {
			health["redis"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		// Events are best effort, so a NATS outage degrades without failing readiness.
		if natsClient != nil && !natsClient.Healthy() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
		} else if natsClient == nil {
			health["nats"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// Stripe signs the raw body, so this route takes no auth middleware.
	if h.StripeWebhook != nil {
		r.Post("/webhooks/stripe", h.StripeWebhook)
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Entitlements answer anonymous callers with a sign-in decision.
		r.Group(func(r chi.Router) {
			r.Use(h.OptionalAuthMiddleware)
			r.Get("/entitlements", h.ListEntitlements)
			r.Get("/entitlements/{feature}", h.CheckEntitlement)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/usage", h.GetUsage)
			r.Get("/subscription", h.GetSubscription)
			r.Get("/audit", h.ListAuditLogs)

			r.Route("/generate/{feature}", func(r chi.Router) {
				if cfg.GenerateRateLimiter != nil {
					r.Use(cfg.GenerateRateLimiter)
				}
				r.Use(h.RequireFeature)
				r.Post("/", h.Generate)
			})
		})
	})

	return r
}
