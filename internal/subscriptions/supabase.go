package subscriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

const subscriptionsTable = "subscriptions"

// SupabaseRepository reads and writes subscriptions through the Supabase
// REST API with the service-role key.
type SupabaseRepository struct {
	connect func() (*supabase.Client, error)
}

// NewSupabaseRepository creates a SupabaseRepository.
func NewSupabaseRepository(url, serviceKey string) *SupabaseRepository {
	return &SupabaseRepository{
		connect: func() (*supabase.Client, error) {
			return supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
		},
	}
}

type supabaseSubscriptionRow struct {
	UserID               string     `json:"user_id"`
	Tier                 string     `json:"tier"`
	Status               string     `json:"status"`
	StripeCustomerID     *string    `json:"stripe_customer_id"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	UpdatedAt            time.Time  `json:"updated_at,omitempty"`
}

func (r *SupabaseRepository) Get(_ context.Context, userID uuid.UUID) (*Subscription, error) {
	return r.selectOne("user_id", userID.String())
}

func (r *SupabaseRepository) GetByCustomerID(_ context.Context, customerID string) (*Subscription, error) {
	return r.selectOne("stripe_customer_id", customerID)
}

func (r *SupabaseRepository) Upsert(_ context.Context, sub *Subscription) error {
	c, err := r.connect()
	if err != nil {
		return fmt.Errorf("creating supabase client: %w", err)
	}

	row := map[string]any{
		"user_id":                sub.UserID.String(),
		"tier":                   string(sub.Tier),
		"status":                 string(sub.Status),
		"stripe_subscription_id": nullable(sub.StripeSubscriptionID),
		"current_period_end":     sub.CurrentPeriodEnd,
		"updated_at":             time.Now().UTC(),
	}
	if sub.StripeCustomerID != "" {
		row["stripe_customer_id"] = sub.StripeCustomerID
	}

	data, _, err := c.From(subscriptionsTable).
		Insert(row, true, "user_id", "representation", "").
		Execute()
	if err != nil {
		return fmt.Errorf("upserting subscription: %w", err)
	}

	var rows []supabaseSubscriptionRow
	if err := json.Unmarshal(data, &rows); err == nil && len(rows) > 0 {
		sub.UpdatedAt = rows[0].UpdatedAt
	}
	return nil
}

func (r *SupabaseRepository) selectOne(column, value string) (*Subscription, error) {
	c, err := r.connect()
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}

	data, _, err := c.From(subscriptionsTable).
		Select("*", "", false).
		Eq(column, value).
		Limit(1, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("querying subscription: %w", err)
	}

	var rows []supabaseSubscriptionRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decoding subscription: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0].toSubscription()
}

func (row supabaseSubscriptionRow) toSubscription() (*Subscription, error) {
	id, err := uuid.Parse(row.UserID)
	if err != nil {
		return nil, fmt.Errorf("decoding subscription user id: %w", err)
	}
	sub := &Subscription{
		UserID:           id,
		Tier:             catalog.NormalizeTier(row.Tier),
		Status:           Status(row.Status),
		CurrentPeriodEnd: row.CurrentPeriodEnd,
		UpdatedAt:        row.UpdatedAt,
	}
	if row.StripeCustomerID != nil {
		sub.StripeCustomerID = *row.StripeCustomerID
	}
	if row.StripeSubscriptionID != nil {
		sub.StripeSubscriptionID = *row.StripeSubscriptionID
	}
	return sub, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
