package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/creatorstudio/entitlements/internal/api"
	"github.com/creatorstudio/entitlements/internal/app"
	"github.com/creatorstudio/entitlements/internal/audit"
	"github.com/creatorstudio/entitlements/internal/auth"
	"github.com/creatorstudio/entitlements/internal/billing"
	"github.com/creatorstudio/entitlements/internal/config"
	"github.com/creatorstudio/entitlements/internal/gate"
	"github.com/creatorstudio/entitlements/internal/generation"
	"github.com/creatorstudio/entitlements/internal/ledger"
	mw "github.com/creatorstudio/entitlements/internal/middleware"
	inats "github.com/creatorstudio/entitlements/internal/nats"
	"github.com/creatorstudio/entitlements/internal/server"
	"github.com/creatorstudio/entitlements/internal/subscriptions"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL, Redis and the selected ledger backend
	backend, err := app.Open(ctx, cfg, true)
	if err != nil {
		slog.Error("opening backends", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	// NATS (optional). Without it events are dropped and nothing is audited.
	var natsClient *inats.Client
	var events inats.EventPublisher = inats.NopPublisher{}
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Warn("NATS unavailable, continuing without usage events", "error", err)
			natsClient = nil
		} else {
			defer natsClient.Close()
			events = inats.NewPublisher(natsClient.JetStream())

			auditConsumer := audit.NewConsumer(
				audit.NewRepository(backend.Pool),
				inats.NewConsumerManager(natsClient.JetStream()),
			)
			go func() {
				if err := auditConsumer.Start(ctx); err != nil {
					slog.Error("audit consumer stopped", "error", err)
				}
			}()
		}
	}

	// Subscriptions and tier lookup
	subSvc := subscriptions.NewService(backend.Subscriptions)
	tierCache := subscriptions.NewCachedTierSource(subSvc, backend.Redis, cfg.Subscription.CacheTTL)

	// Usage ledger and gate
	usage := ledger.New(backend.Usage, tierCache, cfg.Ledger.Period)
	entitlements := gate.New(usage, tierCache, gate.WithEvents(events))

	// Generation provider
	generator, err := generation.NewGeminiGenerator(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.Timeout)
	if err != nil {
		slog.Error("creating generator", "error", err)
		os.Exit(1)
	}
	defer generator.Close()

	// Billing (optional)
	var billingSvc billing.Service
	if cfg.Stripe.Enabled() {
		billingSvc = billing.NewStripeService(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, billing.PriceConfig{
			Basic:   cfg.Stripe.PriceBasic,
			Pro:     cfg.Stripe.PricePro,
			Creator: cfg.Stripe.PriceCreator,
		})
	}

	// Auth
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Audience, cfg.Auth.TokenExpiry)

	// Handlers
	gateHandler := gate.NewHandler(entitlements)
	usageHandler := ledger.NewHandler(usage)
	subHandler := subscriptions.NewHandler(subSvc)
	auditHandler := audit.NewHandler(audit.NewRepository(backend.Pool))
	genHandler := generation.NewHandler(generator, usage, events)
	webhookHandler := billing.NewWebhookHandler(billingSvc, subSvc, usage, tierCache, events)

	generateLimiter := mw.NewRateLimiter(backend.Redis, "generate",
		cfg.RateLimit.GenerateMax, cfg.RateLimit.GenerateWindow, userOrIP)

	// Router
	router := api.NewRouter(backend.Pool, natsClient, api.RouterConfig{
		CORSAllowedOrigins:  cfg.CORS.AllowedOrigins,
		GenerateRateLimiter: generateLimiter.Middleware,
	}, api.HandlerSet{
		CheckEntitlement: gateHandler.Check,
		ListEntitlements: gateHandler.List,
		RequireFeature:   entitlements.RequireFeature(gate.FeatureFromURLParam("feature")),

		GetUsage:        usageHandler.Usage,
		GetSubscription: subHandler.Get,
		ListAuditLogs:   auditHandler.List,

		Generate: genHandler.Generate,

		StripeWebhook: webhookHandler.HandleStripeWebhook,

		AuthMiddleware:         auth.Middleware(jwtManager),
		OptionalAuthMiddleware: auth.OptionalMiddleware(jwtManager),

		RedisPing: func(ctx context.Context) error { return backend.Redis.Ping(ctx).Err() },
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// userOrIP buckets generate requests per signed-in user.
func userOrIP(r *http.Request) string {
	if user := auth.CurrentUser(r.Context()); user != nil {
		return "user:" + user.ID.String()
	}
	return "ip:" + mw.ClientIP(r)
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
