package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Ledger storage backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSupabase = "supabase"
)

type Config struct {
	Server       ServerConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Ledger       LedgerConfig
	Supabase     SupabaseConfig
	Stripe       StripeConfig
	Gemini       GeminiConfig
	NATS         NATSConfig
	CORS         CORSConfig
	RateLimit    RateLimitConfig
	Subscription SubscriptionConfig
	Log          LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig verifies session tokens issued by the BaaS provider.
type AuthConfig struct {
	JWTSecret   string
	Audience    string
	TokenExpiry time.Duration
}

type LedgerConfig struct {
	Backend string
	Period  time.Duration
}

type SupabaseConfig struct {
	URL        string
	ServiceKey string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	PriceBasic    string
	PricePro      string
	PriceCreator  string
}

// Enabled reports whether webhook processing can run.
func (c StripeConfig) Enabled() bool {
	return c.SecretKey != "" && c.WebhookSecret != ""
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

type NATSConfig struct {
	URL string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	GenerateMax    int
	GenerateWindow time.Duration
}

type SubscriptionConfig struct {
	CacheTTL time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		Auth: AuthConfig{
			JWTSecret: k.String("auth.jwt.secret"),
			Audience:  k.String("auth.audience"),
		},
		Ledger: LedgerConfig{
			Backend: strings.ToLower(k.String("ledger.backend")),
		},
		Supabase: SupabaseConfig{
			URL:        k.String("supabase.url"),
			ServiceKey: k.String("supabase.service.key"),
		},
		Stripe: StripeConfig{
			SecretKey:     k.String("stripe.secret.key"),
			WebhookSecret: k.String("stripe.webhook.secret"),
			PriceBasic:    k.String("stripe.price.basic"),
			PricePro:      k.String("stripe.price.pro"),
			PriceCreator:  k.String("stripe.price.creator"),
		},
		Gemini: GeminiConfig{
			APIKey: k.String("gemini.api.key"),
			Model:  k.String("gemini.model"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(k.String("cors.allowed.origins")),
		},
		RateLimit: RateLimitConfig{
			GenerateMax: k.Int("ratelimit.generate.max"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "entitlements"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "entitlements"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Auth.Audience == "" {
		cfg.Auth.Audience = "authenticated"
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = BackendPostgres
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-1.5-flash"
	}
	if cfg.RateLimit.GenerateMax == 0 {
		cfg.RateLimit.GenerateMax = 20
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"auth.token.expiry", "1h", &cfg.Auth.TokenExpiry},
		{"ledger.period", "720h", &cfg.Ledger.Period},
		{"gemini.timeout", "30s", &cfg.Gemini.Timeout},
		{"ratelimit.generate.window", "1m", &cfg.RateLimit.GenerateWindow},
		{"subscription.cache.ttl", "60s", &cfg.Subscription.CacheTTL},
	}
	for _, d := range durations {
		s := k.String(d.key)
		if s == "" {
			s = d.def
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", d.key, err)
		}
		*d.dest = v
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
