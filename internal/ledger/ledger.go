// Package ledger records per-user, per-feature generator usage against the
// monthly limits in the tier catalog.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/creatorstudio/entitlements/internal/catalog"
	"github.com/creatorstudio/entitlements/internal/metrics"
)

// Ledger is the single entry point for reading and mutating usage records.
type Ledger struct {
	store  Store
	tiers  TierSource
	quotas catalog.QuotaTable
	period time.Duration
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithQuotas replaces the default pricing table.
func WithQuotas(q catalog.QuotaTable) Option {
	return func(l *Ledger) { l.quotas = q }
}

// New creates a Ledger. A non-positive period falls back to DefaultPeriod.
func New(store Store, tiers TierSource, period time.Duration, opts ...Option) *Ledger {
	if period <= 0 {
		period = DefaultPeriod
	}
	l := &Ledger{
		store:  store,
		tiers:  tiers,
		quotas: catalog.DefaultQuotas,
		period: period,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Period returns the configured usage period.
func (l *Ledger) Period() time.Duration {
	return l.period
}

// LimitFor exposes the ledger's pricing table to callers such as the gate.
func (l *Ledger) LimitFor(tier catalog.Tier, feature catalog.Feature) int {
	return l.quotas.LimitFor(tier, feature)
}

// GetUsage returns the count for the current period. A missing or expired
// record reads as 0.
func (l *Ledger) GetUsage(ctx context.Context, userID uuid.UUID, feature catalog.Feature) (int, error) {
	rec, err := l.store.Get(ctx, userID, feature)
	if err != nil {
		metrics.LedgerErrorsTotal.WithLabelValues("get").Inc()
		return 0, fmt.Errorf("%w: getting %s usage: %w", ErrLedgerRead, feature, err)
	}
	return rec.activeCount(l.now()), nil
}

// Remaining returns max(0, limit - usage). Features the tier is not entitled
// to return 0 without a store read.
func (l *Ledger) Remaining(ctx context.Context, userID uuid.UUID, feature catalog.Feature, tier catalog.Tier) (int, error) {
	limit := l.quotas.LimitFor(tier, feature)
	if limit == 0 {
		return 0, nil
	}

	used, err := l.GetUsage(ctx, userID, feature)
	if err != nil {
		return 0, err
	}
	return max(0, limit-used), nil
}

// Increment records one use of feature for the user's current tier. It
// returns false when the tier is not entitled or the limit is reached. A
// false with a non-nil error wrapping ErrLedgerWrite means the store failed.
func (l *Ledger) Increment(ctx context.Context, userID uuid.UUID, feature catalog.Feature) (bool, error) {
	out, err := l.Record(ctx, userID, feature)
	return out.Recorded, err
}

// Record is Increment with the resulting count and limit.
func (l *Ledger) Record(ctx context.Context, userID uuid.UUID, feature catalog.Feature) (Outcome, error) {
	tier := l.tierFor(ctx, userID)
	limit := l.quotas.LimitFor(tier, feature)
	out := Outcome{Tier: tier, Limit: limit}

	if limit == 0 {
		metrics.UsageIncrementsTotal.WithLabelValues(string(feature), "not_entitled").Inc()
		slog.Warn("ledger: increment refused, feature not entitled",
			"user_id", userID, "feature", feature, "tier", tier)
		return out, nil
	}

	now := l.now()
	count, ok, err := l.store.IncrementIfBelow(ctx, userID, feature, limit, now, now.Add(l.period))
	if err != nil {
		metrics.LedgerErrorsTotal.WithLabelValues("increment").Inc()
		metrics.UsageIncrementsTotal.WithLabelValues(string(feature), "error").Inc()
		return out, fmt.Errorf("%w: incrementing %s usage: %w", ErrLedgerWrite, feature, err)
	}

	if !ok {
		out.Count = limit
		metrics.UsageIncrementsTotal.WithLabelValues(string(feature), "limit_reached").Inc()
		slog.Info("ledger: increment refused, limit reached",
			"user_id", userID, "feature", feature, "tier", tier, "limit", limit)
		return out, nil
	}

	out.Recorded = true
	out.Count = count
	metrics.UsageIncrementsTotal.WithLabelValues(string(feature), "recorded").Inc()
	slog.Debug("ledger: usage recorded",
		"user_id", userID, "feature", feature, "count", count, "limit", limit)
	return out, nil
}

// ResetAllForUser starts a fresh period for every feature, creating records
// where none exist yet.
func (l *Ledger) ResetAllForUser(ctx context.Context, userID uuid.UUID) error {
	resetAt := l.now().Add(l.period)
	if err := l.store.ResetAll(ctx, userID, catalog.AllFeatures(), resetAt); err != nil {
		metrics.LedgerErrorsTotal.WithLabelValues("reset").Inc()
		return fmt.Errorf("%w: resetting usage: %w", ErrLedgerWrite, err)
	}

	slog.Info("ledger: usage reset", "user_id", userID, "reset_at", resetAt)
	return nil
}

// Summary returns the per-feature dashboard view for the given tier using a
// single store read.
func (l *Ledger) Summary(ctx context.Context, userID uuid.UUID, tier catalog.Tier) ([]FeatureUsage, error) {
	records, err := l.store.List(ctx, userID)
	if err != nil {
		metrics.LedgerErrorsTotal.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("%w: listing usage: %w", ErrLedgerRead, err)
	}

	byFeature := make(map[catalog.Feature]*Record, len(records))
	for i := range records {
		byFeature[records[i].Feature] = &records[i]
	}

	now := l.now()
	features := catalog.AllFeatures()
	out := make([]FeatureUsage, 0, len(features))
	for _, f := range features {
		limit := l.quotas.LimitFor(tier, f)
		rec := byFeature[f]
		used := rec.activeCount(now)

		row := FeatureUsage{
			Feature:   f,
			Entitled:  limit > 0,
			Limit:     limit,
			Used:      used,
			Remaining: max(0, limit-used),
		}
		if rec != nil && rec.ResetAt.After(now) {
			resetAt := rec.ResetAt
			row.ResetAt = &resetAt
		}
		out = append(out, row)
	}
	return out, nil
}

func (l *Ledger) tierFor(ctx context.Context, userID uuid.UUID) catalog.Tier {
	if l.tiers == nil {
		return catalog.TierFree
	}
	tier, err := l.tiers.TierFor(ctx, userID)
	if err != nil {
		slog.Warn("ledger: tier lookup failed, using free tier", "user_id", userID, "error", err)
		return catalog.TierFree
	}
	return catalog.NormalizeTier(string(tier))
}

// UserSummary resolves the user's tier and returns its Summary.
func (l *Ledger) UserSummary(ctx context.Context, userID uuid.UUID) (catalog.Tier, []FeatureUsage, error) {
	tier := l.tierFor(ctx, userID)
	usage, err := l.Summary(ctx, userID, tier)
	return tier, usage, err
}
