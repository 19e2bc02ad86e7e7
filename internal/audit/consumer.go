// Package audit persists usage accounting events so discrepancies such as
// unrecorded or over-limit generations can be reviewed later.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/creatorstudio/entitlements/internal/nats"
)

const consumerName = "audit-persister"

type inserter interface {
	Insert(ctx context.Context, log *AuditLog) error
}

// Consumer listens on the usage event subject and persists entries to the database.
type Consumer struct {
	repo        inserter
	consumerMgr *inats.ConsumerManager
}

// NewConsumer creates a new audit event Consumer.
func NewConsumer(repo inserter, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, consumerName, inats.SubjectUsageEvent,
		inats.WithBackOff(time.Second, 5*time.Second, 30*time.Second, time.Minute),
	)
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEvent(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	var event inats.UsageEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		// A payload that never decodes would be redelivered forever.
		slog.Error("audit consumer: unmarshaling event", "error", err)
		_ = msg.Term()
		return
	}

	log := eventToLog(event, messageID(msg))
	if err := c.repo.Insert(ctx, log); err != nil {
		slog.Error("audit consumer: persisting audit log", "error", err, "event_type", event.EventType)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()

	slog.Debug("audit consumer: persisted event",
		"event_type", event.EventType,
		"user_id", event.UserID,
		"feature", event.Feature,
	)
}

// eventToLog converts a usage event into an audit row. A stable id makes
// redelivery idempotent.
func eventToLog(event inats.UsageEvent, id uuid.UUID) *AuditLog {
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := event.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	severity := event.Severity
	if severity == "" {
		severity = inats.SeverityInfo
	}

	log := &AuditLog{
		ID:          id,
		OwnerUserID: event.UserID,
		EventType:   event.EventType,
		Severity:    severity,
		Feature:     string(event.Feature),
		Tier:        string(event.Tier),
		CreatedAt:   createdAt,
	}

	detailsMap := map[string]string{"message": event.Details}
	if data, err := json.Marshal(detailsMap); err == nil {
		log.Details = data
	}
	return log
}

// messageID derives a deterministic id from the stream sequence, or returns
// uuid.Nil when the message carries no metadata.
func messageID(msg jetstream.Msg) uuid.UUID {
	meta, err := msg.Metadata()
	if err != nil || meta == nil {
		return uuid.Nil
	}
	name := meta.Stream + "/" + strconv.FormatUint(meta.Sequence.Stream, 10)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name))
}
