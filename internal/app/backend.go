// Package app opens the storage backends shared by the API server and the
// tierctl command.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/creatorstudio/entitlements/internal/config"
	"github.com/creatorstudio/entitlements/internal/database"
	"github.com/creatorstudio/entitlements/internal/ledger"
	iredis "github.com/creatorstudio/entitlements/internal/redis"
	"github.com/creatorstudio/entitlements/internal/subscriptions"
)

// Backend holds the open connections and the stores built on them.
type Backend struct {
	Pool          *pgxpool.Pool
	Redis         *redis.Client
	Usage         ledger.Store
	Subscriptions subscriptions.Repository
}

// Open connects to PostgreSQL and Redis, applies migrations when asked, and
// selects the ledger and subscription stores for cfg.Ledger.Backend.
func Open(ctx context.Context, cfg *config.Config, migrate bool) (*Backend, error) {
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if migrate {
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
			pool.Close()
			return nil, err
		}
	}

	rdb, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	b := &Backend{Pool: pool, Redis: rdb}

	switch cfg.Ledger.Backend {
	case config.BackendRedis:
		b.Usage = ledger.NewRedisStore(rdb)
		b.Subscriptions = subscriptions.NewPostgresRepository(pool)
	case config.BackendSupabase:
		b.Usage = ledger.NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
		b.Subscriptions = subscriptions.NewSupabaseRepository(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
	default:
		b.Usage = ledger.NewPostgresStore(pool)
		b.Subscriptions = subscriptions.NewPostgresRepository(pool)
	}

	slog.Info("usage ledger backend selected", "backend", cfg.Ledger.Backend)
	return b, nil
}

// Close releases every connection.
func (b *Backend) Close() {
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
}
