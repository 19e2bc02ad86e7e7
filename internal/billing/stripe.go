// Package billing turns Stripe subscription events into tier changes and
// usage resets.
package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

// Service defines the billing operations the webhook needs.
type Service interface {
	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// TierForPriceID returns the tier a Stripe price grants.
	TierForPriceID(priceID string) (catalog.Tier, bool)
}

// PriceConfig holds the Stripe price IDs for each paid tier.
type PriceConfig struct {
	Basic   string
	Pro     string
	Creator string
}

type stripeService struct {
	webhookSecret string
	priceToTier   map[string]catalog.Tier
}

// NewStripeService creates a new Stripe billing service.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	priceToTier := make(map[string]catalog.Tier)
	if prices.Basic != "" {
		priceToTier[prices.Basic] = catalog.TierBasic
	}
	if prices.Pro != "" {
		priceToTier[prices.Pro] = catalog.TierPro
	}
	if prices.Creator != "" {
		priceToTier[prices.Creator] = catalog.TierCreator
	}

	return &stripeService{
		webhookSecret: webhookSecret,
		priceToTier:   priceToTier,
	}
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) TierForPriceID(priceID string) (catalog.Tier, bool) {
	tier, ok := s.priceToTier[priceID]
	return tier, ok
}
