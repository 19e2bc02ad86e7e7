package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/creatorstudio/entitlements/internal/catalog"
	"github.com/creatorstudio/entitlements/internal/metrics"
)

// DefaultCacheTTL bounds how long a tier change can go unnoticed when an
// invalidation is lost.
const DefaultCacheTTL = 60 * time.Second

// TierSource resolves a user's current tier.
type TierSource interface {
	TierFor(ctx context.Context, userID uuid.UUID) (catalog.Tier, error)
}

// CachedTierSource keeps resolved tiers in Redis. Redis failures fall through
// to the underlying source.
type CachedTierSource struct {
	next   TierSource
	client redis.Cmdable
	ttl    time.Duration
}

// NewCachedTierSource wraps next with a Redis cache.
func NewCachedTierSource(next TierSource, client redis.Cmdable, ttl time.Duration) *CachedTierSource {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedTierSource{next: next, client: client, ttl: ttl}
}

func tierKey(userID uuid.UUID) string {
	return fmt.Sprintf("tier:%s", userID.String())
}

func (c *CachedTierSource) TierFor(ctx context.Context, userID uuid.UUID) (catalog.Tier, error) {
	key := tierKey(userID)

	val, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if tier, perr := catalog.ParseTier(val); perr == nil {
			metrics.TierCacheLookupsTotal.WithLabelValues("hit").Inc()
			return tier, nil
		}
		metrics.TierCacheLookupsTotal.WithLabelValues("corrupt").Inc()
	case errors.Is(err, redis.Nil):
		metrics.TierCacheLookupsTotal.WithLabelValues("miss").Inc()
	default:
		metrics.TierCacheLookupsTotal.WithLabelValues("error").Inc()
		slog.Warn("tier cache read failed", "user_id", userID, "error", err)
	}

	tier, err := c.next.TierFor(ctx, userID)
	if err != nil {
		return "", err
	}

	if err := c.client.Set(ctx, key, string(tier), c.ttl).Err(); err != nil {
		slog.Warn("tier cache write failed", "user_id", userID, "error", err)
	}
	return tier, nil
}

// Invalidate drops the cached tier so the next lookup reads the source.
func (c *CachedTierSource) Invalidate(ctx context.Context, userID uuid.UUID) error {
	if err := c.client.Del(ctx, tierKey(userID)).Err(); err != nil {
		return fmt.Errorf("invalidating tier cache: %w", err)
	}
	return nil
}
