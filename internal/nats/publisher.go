package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// EventPublisher publishes usage events.
type EventPublisher interface {
	PublishUsageEvent(ctx context.Context, event UsageEvent) error
}

// Publisher provides typed methods for publishing events to NATS JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishUsageEvent publishes a usage accounting event.
func (p *Publisher) PublishUsageEvent(ctx context.Context, event UsageEvent) error {
	return p.publish(ctx, SubjectUsageEvent, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// NopPublisher drops every event. Used when NATS is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishUsageEvent(context.Context, UsageEvent) error { return nil }

// Emit publishes event and logs a failure instead of returning it. Audit
// publishing never fails the request that produced the event.
func Emit(ctx context.Context, p EventPublisher, event UsageEvent) {
	if p == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if err := p.PublishUsageEvent(context.WithoutCancel(ctx), event); err != nil {
		slog.Warn("publishing usage event failed",
			"event_type", event.EventType, "user_id", event.UserID, "error", err)
	}
}
