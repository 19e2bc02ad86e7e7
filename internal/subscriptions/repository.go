package subscriptions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

// Repository stores subscription rows.
type Repository interface {
	Get(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	GetByCustomerID(ctx context.Context, customerID string) (*Subscription, error)
	Upsert(ctx context.Context, sub *Subscription) error
}

// PostgresRepository handles subscriptions PostgreSQL operations.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const subscriptionColumns = `user_id, tier, status, COALESCE(stripe_customer_id, ''),
	COALESCE(stripe_subscription_id, ''), current_period_end, updated_at`

func (r *PostgresRepository) Get(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	return scanSubscription(row)
}

func (r *PostgresRepository) GetByCustomerID(ctx context.Context, customerID string) (*Subscription, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_customer_id = $1`, customerID)
	return scanSubscription(row)
}

func (r *PostgresRepository) Upsert(ctx context.Context, sub *Subscription) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO subscriptions (user_id, tier, status, stripe_customer_id, stripe_subscription_id, current_period_end)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		 ON CONFLICT (user_id) DO UPDATE
		 SET tier = EXCLUDED.tier,
		     status = EXCLUDED.status,
		     stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscriptions.stripe_customer_id),
		     stripe_subscription_id = EXCLUDED.stripe_subscription_id,
		     current_period_end = EXCLUDED.current_period_end,
		     updated_at = NOW()
		 RETURNING updated_at`,
		sub.UserID, string(sub.Tier), string(sub.Status), sub.StripeCustomerID, sub.StripeSubscriptionID, sub.CurrentPeriodEnd,
	).Scan(&sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting subscription: %w", err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		sub    Subscription
		tier   string
		status string
	)
	err := row.Scan(&sub.UserID, &tier, &status, &sub.StripeCustomerID,
		&sub.StripeSubscriptionID, &sub.CurrentPeriodEnd, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning subscription: %w", err)
	}
	sub.Tier = catalog.NormalizeTier(tier)
	sub.Status = Status(status)
	return &sub, nil
}
