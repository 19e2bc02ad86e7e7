package nats

import (
	"time"

	"github.com/google/uuid"

	"github.com/creatorstudio/entitlements/internal/catalog"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// StreamEvents holds every entitlement event.
const StreamEvents = "ENTITLEMENT_EVENTS"

// Subject constants.
const (
	SubjectEventsPrefix = "entitlements.events."
	SubjectUsageEvent   = SubjectEventsPrefix + "usage"
)

// Event types.
const (
	EventUsageRecorded   = "usage.recorded"
	EventUsageUnrecorded = "usage.unrecorded"
	EventUsageOverLimit  = "usage.over_limit"
	EventUsageReset      = "usage.reset"
	EventTierChanged     = "tier.changed"
	EventGateDenied      = "gate.denied"
)

// Severities.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// UsageEvent is published for anything that changes or fails to change a
// user's usage accounting.
type UsageEvent struct {
	UserID    uuid.UUID       `json:"user_id"`
	EventType string          `json:"event_type"`
	Severity  string          `json:"severity"`
	Feature   catalog.Feature `json:"feature,omitempty"`
	Tier      catalog.Tier    `json:"tier,omitempty"`
	Details   string          `json:"details,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
