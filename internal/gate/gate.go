package gate

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/creatorstudio/entitlements/internal/auth"
	"github.com/creatorstudio/entitlements/internal/catalog"
	"github.com/creatorstudio/entitlements/internal/metrics"
	"github.com/creatorstudio/entitlements/internal/nats"
)

// UsageReader is the part of the usage ledger the gate reads.
type UsageReader interface {
	LimitFor(tier catalog.Tier, feature catalog.Feature) int
	Remaining(ctx context.Context, userID uuid.UUID, feature catalog.Feature, tier catalog.Tier) (int, error)
}

// TierSource resolves a user's current tier.
type TierSource interface {
	TierFor(ctx context.Context, userID uuid.UUID) (catalog.Tier, error)
}

// Gate evaluates entitlement decisions.
type Gate struct {
	usage  UsageReader
	tiers  TierSource
	events nats.EventPublisher
}

// Option configures a Gate.
type Option func(*Gate)

// WithEvents publishes a gate.denied event for every denied generation
// attempt by a signed-in user.
func WithEvents(p nats.EventPublisher) Option {
	return func(g *Gate) { g.events = p }
}

// New creates a Gate.
func New(usage UsageReader, tiers TierSource, opts ...Option) *Gate {
	g := &Gate{usage: usage, tiers: tiers, events: nats.NopPublisher{}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check runs the gate for one feature. A non-nil error wraps
// ledger.ErrLedgerRead; the returned decision is then a quota denial, never
// allowed.
func (g *Gate) Check(ctx context.Context, user *auth.User, feature catalog.Feature) (Decision, error) {
	if user == nil {
		return g.evaluate(ctx, nil, "", feature)
	}
	return g.evaluate(ctx, user, g.tierFor(ctx, user.ID), feature)
}

// CheckAll runs the gate for every feature with a single tier lookup. The
// first ledger error is returned alongside the full set of decisions.
func (g *Gate) CheckAll(ctx context.Context, user *auth.User) ([]Decision, error) {
	var tier catalog.Tier
	if user != nil {
		tier = g.tierFor(ctx, user.ID)
	}

	var firstErr error
	features := catalog.AllFeatures()
	out := make([]Decision, 0, len(features))
	for _, f := range features {
		d, err := g.evaluate(ctx, user, tier, f)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		out = append(out, d)
	}
	return out, firstErr
}

func (g *Gate) evaluate(ctx context.Context, user *auth.User, tier catalog.Tier, feature catalog.Feature) (Decision, error) {
	d, err := g.decide(ctx, user, tier, feature)

	state := string(d.State)
	if err != nil {
		state = "ledger_error"
	}
	metrics.EntitlementDecisionsTotal.WithLabelValues(string(feature), state).Inc()
	return d, err
}

func (g *Gate) decide(ctx context.Context, user *auth.User, tier catalog.Tier, feature catalog.Feature) (Decision, error) {
	if user == nil {
		return deniedNoAuth(feature), nil
	}

	limit := g.usage.LimitFor(tier, feature)
	if limit == 0 {
		return deniedNoEntitlement(feature, tier), nil
	}

	remaining, err := g.usage.Remaining(ctx, user.ID, feature, tier)
	if err != nil {
		slog.Error("gate: usage read failed, denying",
			"user_id", user.ID, "feature", feature, "tier", tier, "error", err)
		d := deniedQuota(feature, tier, limit)
		d.Reason = ReasonLedgerRead
		return d, err
	}
	if remaining == 0 {
		return deniedQuota(feature, tier, limit), nil
	}
	return allowed(feature, tier, limit, remaining), nil
}

func (g *Gate) tierFor(ctx context.Context, userID uuid.UUID) catalog.Tier {
	if g.tiers == nil {
		return catalog.TierFree
	}
	tier, err := g.tiers.TierFor(ctx, userID)
	if err != nil {
		slog.Warn("gate: tier lookup failed, using free tier", "user_id", userID, "error", err)
		return catalog.TierFree
	}
	return catalog.NormalizeTier(string(tier))
}
