// Package bus wraps franz-go for the comments topic: a synchronous
// keyed producer on the edge side and two consumer flavors, periodic
// auto-commit for fan-out and manual commit for the projector.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/PablitoCBR/commenter/internal/comment"
)

// Producer publishes comments keyed by group id, so every event for
// one group lands on one partition and stays ordered.
type Producer struct {
	client  *kgo.Client
	topic   string
	timeout time.Duration
	logger  zerolog.Logger
}

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	Brokers []string
	Topic   string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// NewProducer connects a producer. Timeout bounds the full delivery
// (enqueue through broker ack) of each publish; zero means 5s.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("bus: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("bus: topic is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.ProduceRequestTimeout(cfg.Timeout),
		kgo.RecordDeliveryTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: create producer: %w", err)
	}

	return &Producer{
		client:  client,
		topic:   cfg.Topic,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With().Str("component", "producer").Logger(),
	}, nil
}

// NewRecord maps a comment onto its bus record: key is the group id,
// value the binary payload.
func NewRecord(topic string, c comment.Comment) *kgo.Record {
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(c.GroupID),
		Value: c.Marshal(),
	}
}

// Publish produces c synchronously and returns once the broker has
// acknowledged it or the delivery timeout lapsed.
func (p *Producer) Publish(ctx context.Context, c comment.Comment) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.client.ProduceSync(ctx, NewRecord(p.topic, c)).FirstErr(); err != nil {
		return fmt.Errorf("bus: produce comment %q: %w", c.ID, err)
	}
	p.logger.Debug().
		Str("comment_id", c.ID).
		Str("group_id", c.GroupID).
		Str("state", c.State.String()).
		Msg("comment produced")
	return nil
}

// Close flushes and releases the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}
