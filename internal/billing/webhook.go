package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"

	"github.com/creatorstudio/entitlements/internal/catalog"
	"github.com/creatorstudio/entitlements/internal/metrics"
	"github.com/creatorstudio/entitlements/internal/nats"
	"github.com/creatorstudio/entitlements/internal/subscriptions"
)

const maxWebhookBody = 65536

// errIgnored marks events that are valid but carry nothing to act on. They
// are acknowledged so Stripe does not retry them.
var errIgnored = errors.New("event ignored")

// Subscriptions is the subscription store the webhook writes to.
type Subscriptions interface {
	Get(ctx context.Context, userID uuid.UUID) (*subscriptions.Subscription, error)
	GetByCustomerID(ctx context.Context, customerID string) (*subscriptions.Subscription, error)
	LinkCustomer(ctx context.Context, userID uuid.UUID, customerID string) error
	Apply(ctx context.Context, change subscriptions.Change) (subscriptions.Transition, error)
}

// UsageResetter starts a fresh usage period for a user.
type UsageResetter interface {
	ResetAllForUser(ctx context.Context, userID uuid.UUID) error
}

// TierInvalidator drops a cached tier.
type TierInvalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing Service
	subs    Subscriptions
	usage   UsageResetter
	cache   TierInvalidator
	events  nats.EventPublisher
}

// NewWebhookHandler creates a new WebhookHandler. billingService may be nil
// when Stripe is not configured; cache may be nil when tiers are not cached.
func NewWebhookHandler(billingService Service, subs Subscriptions, usage UsageResetter, cache TierInvalidator, events nats.EventPublisher) *WebhookHandler {
	if events == nil {
		events = nats.NopPublisher{}
	}
	return &WebhookHandler{
		billing: billingService,
		subs:    subs,
		usage:   usage,
		cache:   cache,
		events:  events,
	}
}

// HandleStripeWebhook processes incoming Stripe webhook events. Processing
// failures answer 500 so Stripe redelivers the event.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		slog.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		metrics.BillingWebhookEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		slog.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	slog.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	ctx := context.WithoutCancel(r.Context())
	err = h.dispatch(ctx, event)

	eventType := string(event.Type)
	switch {
	case err == nil:
		metrics.BillingWebhookEventsTotal.WithLabelValues(eventType, "ok").Inc()
	case errors.Is(err, errIgnored):
		metrics.BillingWebhookEventsTotal.WithLabelValues(eventType, "ignored").Inc()
		slog.Info("stripe webhook ignored", "type", event.Type, "id", event.ID, "reason", err)
	default:
		metrics.BillingWebhookEventsTotal.WithLabelValues(eventType, "error").Inc()
		slog.Error("stripe webhook failed", "type", event.Type, "id", event.ID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) dispatch(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		return h.handleSubscriptionChanged(ctx, event)
	case "customer.subscription.deleted":
		return h.handleSubscriptionDeleted(ctx, event)
	case "invoice.payment_succeeded":
		return h.handlePaymentSucceeded(ctx, event)
	case "invoice.payment_failed":
		return h.handlePaymentFailed(ctx, event)
	default:
		return fmt.Errorf("%w: unhandled type %s", errIgnored, event.Type)
	}
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("parsing checkout session: %w", err)
	}

	if session.Customer == nil {
		return fmt.Errorf("%w: checkout session %s has no customer", errIgnored, session.ID)
	}
	userID, err := uuid.Parse(session.ClientReferenceID)
	if err != nil {
		return fmt.Errorf("%w: checkout session %s has no user reference", errIgnored, session.ID)
	}

	if err := h.subs.LinkCustomer(ctx, userID, session.Customer.ID); err != nil {
		return fmt.Errorf("linking customer: %w", err)
	}
	slog.Info("stripe customer linked", "user_id", userID, "customer_id", session.Customer.ID)
	return nil
}

func (h *WebhookHandler) handleSubscriptionChanged(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("parsing subscription: %w", err)
	}
	if sub.Customer == nil {
		return fmt.Errorf("%w: subscription %s has no customer", errIgnored, sub.ID)
	}

	userID, err := h.resolveUser(ctx, sub.Customer.ID, sub.Metadata)
	if err != nil {
		return err
	}

	priceID := subscriptionPriceID(&sub)
	tier, ok := h.billing.TierForPriceID(priceID)
	if !ok {
		return fmt.Errorf("%w: unknown price %q", errIgnored, priceID)
	}

	return h.applyChange(ctx, subscriptions.Change{
		UserID:               userID,
		Tier:                 tier,
		Status:               subscriptions.Status(sub.Status),
		StripeCustomerID:     sub.Customer.ID,
		StripeSubscriptionID: sub.ID,
		CurrentPeriodEnd:     unixTime(sub.CurrentPeriodEnd),
	}, false)
}

func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("parsing subscription: %w", err)
	}
	if sub.Customer == nil {
		return fmt.Errorf("%w: subscription %s has no customer", errIgnored, sub.ID)
	}

	userID, err := h.resolveUser(ctx, sub.Customer.ID, sub.Metadata)
	if err != nil {
		return err
	}

	return h.applyChange(ctx, subscriptions.Change{
		UserID:           userID,
		Tier:             catalog.TierFree,
		Status:           subscriptions.StatusCanceled,
		StripeCustomerID: sub.Customer.ID,
	}, false)
}

func (h *WebhookHandler) handlePaymentSucceeded(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("parsing invoice: %w", err)
	}
	if invoice.Customer == nil {
		return fmt.Errorf("%w: invoice %s has no customer", errIgnored, invoice.ID)
	}

	current, err := h.subs.GetByCustomerID(ctx, invoice.Customer.ID)
	if errors.Is(err, subscriptions.ErrNotFound) {
		return fmt.Errorf("%w: no user for customer %s", errIgnored, invoice.Customer.ID)
	}
	if err != nil {
		return fmt.Errorf("looking up customer: %w", err)
	}

	renewal := invoice.BillingReason == stripe.InvoiceBillingReasonSubscriptionCycle
	if current.Status == subscriptions.StatusActive && !renewal {
		return nil
	}

	// Activates an incomplete subscription or recovers from past_due while
	// keeping the purchased tier. Only the first counts as an upgrade.
	return h.applyChange(ctx, subscriptions.Change{
		UserID:               current.UserID,
		Tier:                 current.Tier,
		Status:               subscriptions.StatusActive,
		StripeSubscriptionID: current.StripeSubscriptionID,
		CurrentPeriodEnd:     current.CurrentPeriodEnd,
	}, renewal)
}

func (h *WebhookHandler) handlePaymentFailed(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("parsing invoice: %w", err)
	}
	if invoice.Customer == nil {
		return fmt.Errorf("%w: invoice %s has no customer", errIgnored, invoice.ID)
	}

	current, err := h.subs.GetByCustomerID(ctx, invoice.Customer.ID)
	if errors.Is(err, subscriptions.ErrNotFound) {
		return fmt.Errorf("%w: no user for customer %s", errIgnored, invoice.Customer.ID)
	}
	if err != nil {
		return fmt.Errorf("looking up customer: %w", err)
	}

	slog.Warn("payment failed", "user_id", current.UserID, "customer_id", invoice.Customer.ID)
	return h.applyChange(ctx, subscriptions.Change{
		UserID:               current.UserID,
		Tier:                 current.Tier,
		Status:               subscriptions.StatusPastDue,
		StripeSubscriptionID: current.StripeSubscriptionID,
		CurrentPeriodEnd:     current.CurrentPeriodEnd,
	}, false)
}

// applyChange resets usage when a paid period renews or the change raises
// the user's effective tier, then stores the change. Unpaid, canceled and
// downgraded targets keep their counts. The reset runs first so a failed
// store is retried with the reset repeated rather than skipped.
func (h *WebhookHandler) applyChange(ctx context.Context, change subscriptions.Change, renewal bool) error {
	current, err := h.subs.Get(ctx, change.UserID)
	if err != nil {
		return fmt.Errorf("loading subscription: %w", err)
	}

	next := subscriptions.Transition{
		From: *current,
		To:   subscriptions.Subscription{Tier: change.Tier, Status: change.Status},
	}
	if renewal || next.Upgraded() {
		if err := h.usage.ResetAllForUser(ctx, change.UserID); err != nil {
			return fmt.Errorf("resetting usage: %w", err)
		}
		nats.Emit(ctx, h.events, nats.UsageEvent{
			UserID:    change.UserID,
			EventType: nats.EventUsageReset,
			Tier:      change.Tier,
			Details:   resetReason(renewal),
		})
	}

	tr, err := h.subs.Apply(ctx, change)
	if err != nil {
		return fmt.Errorf("applying subscription change: %w", err)
	}

	if h.cache != nil {
		if err := h.cache.Invalidate(ctx, change.UserID); err != nil {
			slog.Warn("tier cache invalidation failed", "user_id", change.UserID, "error", err)
		}
	}

	if tr.PlanChanged() || tr.AccessChanged() {
		nats.Emit(ctx, h.events, nats.UsageEvent{
			UserID:    change.UserID,
			EventType: nats.EventTierChanged,
			Tier:      tr.To.EffectiveTier(),
			Details:   fmt.Sprintf("%s/%s -> %s/%s", tr.From.Tier, tr.From.Status, tr.To.Tier, tr.To.Status),
		})
	}
	return nil
}

// resolveUser finds the user for a Stripe customer, falling back to a
// user_id set in the subscription metadata at checkout.
func (h *WebhookHandler) resolveUser(ctx context.Context, customerID string, metadata map[string]string) (uuid.UUID, error) {
	sub, err := h.subs.GetByCustomerID(ctx, customerID)
	if err == nil {
		return sub.UserID, nil
	}
	if !errors.Is(err, subscriptions.ErrNotFound) {
		return uuid.Nil, fmt.Errorf("looking up customer: %w", err)
	}

	if id, perr := uuid.Parse(metadata["user_id"]); perr == nil {
		return id, nil
	}
	return uuid.Nil, fmt.Errorf("%w: no user for customer %s", errIgnored, customerID)
}

func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func resetReason(renewal bool) string {
	if renewal {
		return "renewal"
	}
	return "upgrade"
}
