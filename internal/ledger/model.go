package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

// DefaultPeriod is the length of one usage period.
const DefaultPeriod = 30 * 24 * time.Hour

var (
	// ErrLedgerRead means the persisted count could not be read. Callers
	// must treat it as a denial, never as unused quota.
	ErrLedgerRead = errors.New("usage ledger read failed")

	// ErrLedgerWrite means a usage change was not persisted.
	ErrLedgerWrite = errors.New("usage ledger write failed")
)

// Record matches the usage_records row shape.
type Record struct {
	UserID  uuid.UUID       `json:"user_id"`
	Feature catalog.Feature `json:"feature"`
	Count   int             `json:"count"`
	ResetAt time.Time       `json:"reset_at"`
}

// activeCount is the count that still applies at now. A record whose period
// has ended counts as zero.
func (r *Record) activeCount(now time.Time) int {
	if r == nil || !r.ResetAt.After(now) {
		return 0
	}
	return r.Count
}

// Store is the persistence collaborator addressed by (user, feature).
type Store interface {
	// Get returns nil, nil when no record exists. It never creates one.
	Get(ctx context.Context, userID uuid.UUID, feature catalog.Feature) (*Record, error)

	// List returns every record stored for the user.
	List(ctx context.Context, userID uuid.UUID) ([]Record, error)

	// IncrementIfBelow adds one to the count in a single atomic operation
	// when the count is below limit, creating the record with nextReset if
	// absent and restarting the period if reset_at <= now. ok is false when
	// the limit was already reached; nothing is written in that case.
	IncrementIfBelow(ctx context.Context, userID uuid.UUID, feature catalog.Feature, limit int, now, nextReset time.Time) (count int, ok bool, err error)

	// ResetAll sets count=0 and reset_at=resetAt for every listed feature,
	// creating the missing records.
	ResetAll(ctx context.Context, userID uuid.UUID, features []catalog.Feature, resetAt time.Time) error
}

// TierSource resolves a user's current subscription tier.
type TierSource interface {
	TierFor(ctx context.Context, userID uuid.UUID) (catalog.Tier, error)
}

// Outcome describes one attempt to record usage.
type Outcome struct {
	Recorded bool         `json:"recorded"`
	Tier     catalog.Tier `json:"tier"`
	Count    int          `json:"count"`
	Limit    int          `json:"limit"`
}

// Remaining is the allowance left after the attempt.
func (o Outcome) Remaining() int {
	return max(0, o.Limit-o.Count)
}

// FeatureUsage is one row of the usage dashboard.
type FeatureUsage struct {
	Feature   catalog.Feature `json:"feature"`
	Entitled  bool            `json:"entitled"`
	Limit     int             `json:"limit"`
	Used      int             `json:"used"`
	Remaining int             `json:"remaining"`
	ResetAt   *time.Time      `json:"reset_at,omitempty"`
}
