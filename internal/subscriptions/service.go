package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

// Service resolves and changes subscription tiers.
type Service struct {
	repo Repository
}

// NewService creates a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the user's subscription. Users without a row are on the free
// tier.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Default(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// TierFor returns the tier that currently grants access to the user.
func (s *Service) TierFor(ctx context.Context, userID uuid.UUID) (catalog.Tier, error) {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("resolving tier: %w", err)
	}
	return sub.EffectiveTier(), nil
}

// View returns the API representation of the user's plan.
func (s *Service) View(ctx context.Context, userID uuid.UUID) (*View, error) {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &View{
		Tier:             sub.Tier,
		EffectiveTier:    sub.EffectiveTier(),
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		CatalogVersion:   catalog.Version,
	}, nil
}

// GetByCustomerID looks up a subscription by payment-processor customer.
func (s *Service) GetByCustomerID(ctx context.Context, customerID string) (*Subscription, error) {
	return s.repo.GetByCustomerID(ctx, customerID)
}

// LinkCustomer records the processor customer for a user without changing
// the tier.
func (s *Service) LinkCustomer(ctx context.Context, userID uuid.UUID, customerID string) error {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	sub.StripeCustomerID = customerID
	return s.repo.Upsert(ctx, sub)
}

// Change describes a tier update coming from billing.
type Change struct {
	UserID               uuid.UUID
	Tier                 catalog.Tier
	Status               Status
	StripeCustomerID     string
	StripeSubscriptionID string
	CurrentPeriodEnd     *time.Time
}

// Transition is a subscription before and after a change.
type Transition struct {
	From Subscription
	To   Subscription
}

// PlanChanged reports whether the purchased tier changed. Status-only
// changes such as a failed payment do not count.
func (t Transition) PlanChanged() bool {
	return t.From.Tier != t.To.Tier
}

// AccessChanged reports whether the effective tier changed.
func (t Transition) AccessChanged() bool {
	return t.From.EffectiveTier() != t.To.EffectiveTier()
}

// Upgraded reports whether the change raises the tier the user gets access
// to. Unpaid targets never qualify, and settling a failed payment on the same
// tier is a recovery rather than an upgrade.
func (t Transition) Upgraded() bool {
	if t.To.EffectiveTier().Rank() <= t.From.EffectiveTier().Rank() {
		return false
	}
	recovered := t.From.Tier == t.To.Tier &&
		(t.From.Status == StatusPastDue || t.From.Status == StatusUnpaid)
	return !recovered
}

// Apply stores the change and returns the transition it caused.
func (s *Service) Apply(ctx context.Context, change Change) (Transition, error) {
	if !change.Tier.Valid() {
		return Transition{}, fmt.Errorf("%w %q", catalog.ErrUnknownTier, change.Tier)
	}

	sub, err := s.Get(ctx, change.UserID)
	if err != nil {
		return Transition{}, err
	}
	t := Transition{From: *sub}

	sub.Tier = change.Tier
	sub.Status = change.Status
	if change.StripeCustomerID != "" {
		sub.StripeCustomerID = change.StripeCustomerID
	}
	sub.StripeSubscriptionID = change.StripeSubscriptionID
	sub.CurrentPeriodEnd = change.CurrentPeriodEnd

	if err := s.repo.Upsert(ctx, sub); err != nil {
		return Transition{}, err
	}
	t.To = *sub

	slog.Info("subscription updated",
		"user_id", change.UserID,
		"tier", change.Tier,
		"status", change.Status,
		"effective_before", t.From.EffectiveTier(),
		"effective_after", t.To.EffectiveTier(),
	)
	return t, nil
}
