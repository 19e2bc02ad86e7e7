package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Redelivery defaults for durable consumers. A message that keeps failing is
// dropped after DefaultMaxDeliver attempts instead of blocking the stream.
const (
	DefaultAckWait    = 30 * time.Second
	DefaultMaxDeliver = 5
)

// ConsumerManager handles durable consumer creation and retrieval.
type ConsumerManager struct {
	js jetstream.JetStream
}

// NewConsumerManager creates a new ConsumerManager.
func NewConsumerManager(js jetstream.JetStream) *ConsumerManager {
	return &ConsumerManager{js: js}
}

// ConsumerOption adjusts a consumer config before it is created.
type ConsumerOption func(*jetstream.ConsumerConfig)

// WithMaxDeliver caps delivery attempts per message.
func WithMaxDeliver(n int) ConsumerOption {
	return func(c *jetstream.ConsumerConfig) { c.MaxDeliver = n }
}

// WithBackOff spaces out redeliveries after a Nak or ack timeout.
func WithBackOff(steps ...time.Duration) ConsumerOption {
	return func(c *jetstream.ConsumerConfig) { c.BackOff = steps }
}

// EnsureConsumer creates or updates a durable consumer on the given stream.
func (cm *ConsumerManager) EnsureConsumer(ctx context.Context, stream, name, filterSubject string, opts ...ConsumerOption) (jetstream.Consumer, error) {
	cfg := consumerConfig(name, filterSubject, opts...)

	consumer, err := cm.js.CreateOrUpdateConsumer(ctx, stream, cfg)
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %s on %s: %w", name, stream, err)
	}
	return consumer, nil
}

func consumerConfig(name, filterSubject string, opts ...ConsumerOption) jetstream.ConsumerConfig {
	cfg := jetstream.ConsumerConfig{
		Durable:       name,
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       DefaultAckWait,
		MaxDeliver:    DefaultMaxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	// The server rejects a backoff list longer than MaxDeliver.
	if cfg.MaxDeliver > 0 && len(cfg.BackOff) > cfg.MaxDeliver {
		cfg.BackOff = cfg.BackOff[:cfg.MaxDeliver]
	}
	return cfg
}
