package subscriptions

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

var ErrNotFound = errors.New("subscription not found")

// Status mirrors the payment processor's subscription status.
type Status string

const (
	StatusActive     Status = "active"
	StatusTrialing   Status = "trialing"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
	StatusUnpaid     Status = "unpaid"
)

// Subscription matches the subscriptions table schema.
type Subscription struct {
	UserID               uuid.UUID    `json:"user_id"`
	Tier                 catalog.Tier `json:"tier"`
	Status               Status       `json:"status"`
	StripeCustomerID     string       `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string       `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodEnd     *time.Time   `json:"current_period_end,omitempty"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// Default is the record every user implicitly has at signup.
func Default(userID uuid.UUID) *Subscription {
	return &Subscription{UserID: userID, Tier: catalog.TierFree, Status: StatusActive}
}

// EffectiveTier is the tier that currently grants access. Only active and
// trialing subscriptions keep their paid tier.
func (s *Subscription) EffectiveTier() catalog.Tier {
	if s == nil {
		return catalog.TierFree
	}
	switch s.Status {
	case StatusActive, StatusTrialing:
		return catalog.NormalizeTier(string(s.Tier))
	default:
		return catalog.TierFree
	}
}

// View is the API representation of a user's plan.
type View struct {
	Tier             catalog.Tier `json:"tier"`
	EffectiveTier    catalog.Tier `json:"effective_tier"`
	Status           Status       `json:"status"`
	CurrentPeriodEnd *time.Time   `json:"current_period_end,omitempty"`
	CatalogVersion   string       `json:"catalog_version"`
}
