package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// Session token secret
	if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, "AUTH_JWT_SECRET must be at least 32 characters")
	}

	// Ledger backend and the credentials it needs
	switch c.Ledger.Backend {
	case BackendPostgres, BackendRedis:
	case BackendSupabase:
		if c.Supabase.URL == "" || c.Supabase.ServiceKey == "" {
			errs = append(errs, "SUPABASE_URL and SUPABASE_SERVICE_KEY are required when LEDGER_BACKEND=supabase")
		}
	default:
		errs = append(errs, fmt.Sprintf("LEDGER_BACKEND must be postgres, redis or supabase, got %q", c.Ledger.Backend))
	}
	if c.Ledger.Period < time.Hour {
		errs = append(errs, fmt.Sprintf("LEDGER_PERIOD must be at least 1h, got %s", c.Ledger.Period))
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	if c.RateLimit.GenerateMax < 1 {
		errs = append(errs, "RATELIMIT_GENERATE_MAX must be positive")
	}
	if c.Gemini.APIKey == "" {
		errs = append(errs, "GEMINI_API_KEY is required")
	}

	// Optional integrations: warn only
	if !c.Stripe.Enabled() {
		slog.Warn("STRIPE_SECRET_KEY or STRIPE_WEBHOOK_SECRET is empty, billing webhooks are disabled")
	} else if c.Stripe.PriceBasic == "" && c.Stripe.PricePro == "" && c.Stripe.PriceCreator == "" {
		errs = append(errs, "at least one STRIPE_PRICE_* id is required when Stripe is enabled")
	}
	if c.NATS.URL == "" {
		slog.Warn("NATS_URL is empty, usage events will not be audited")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
