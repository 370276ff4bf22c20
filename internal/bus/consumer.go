package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Consumer wraps a franz-go consumer-group client on the comments
// topic. The edge runs it with periodic auto-commit (a missed record
// only costs a live broadcast); the projector disables auto-commit and
// commits each record after its row is durably written.
type Consumer struct {
	client *kgo.Client
	topic  string
	logger zerolog.Logger
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	Group   string
	Logger  zerolog.Logger

	// ManualCommit disables auto-commit; the caller owns offset
	// progress via CommitRecords and Rewind.
	ManualCommit bool
	// FromStart begins at the earliest offset for a group with no
	// committed position; the default is the latest.
	FromStart bool
	// FetchMaxWait caps how long Poll blocks broker-side when no
	// records are available. Zero means 1s.
	FetchMaxWait time.Duration
}

// NewConsumer connects a consumer and joins its group; the topic
// subscription is part of construction.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("bus: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("bus: topic is required")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("bus: consumer group is required")
	}
	if cfg.FetchMaxWait <= 0 {
		cfg.FetchMaxWait = time.Second
	}

	logger := cfg.Logger.With().
		Str("component", "consumer").
		Str("group", cfg.Group).
		Logger()

	reset := kgo.NewOffset().AtEnd()
	if cfg.FromStart {
		reset = kgo.NewOffset().AtStart()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(reset),
		kgo.FetchMaxWait(cfg.FetchMaxWait),
		kgo.SessionTimeout(30 * time.Second),
		kgo.AllowAutoTopicCreation(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info().Interface("partitions", assigned).Msg("partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			logger.Info().Interface("partitions", revoked).Msg("partitions revoked")
		}),
	}
	if cfg.ManualCommit {
		opts = append(opts, kgo.DisableAutoCommit())
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: create consumer: %w", err)
	}

	return &Consumer{client: client, topic: cfg.Topic, logger: logger}, nil
}

// Poll blocks for up to the fetch wait and returns the records it got,
// possibly none. Partition-level fetch errors are logged and the rest
// of the fetch is still returned; only client closure yields nil with
// no further records to come.
func (c *Consumer) Poll(ctx context.Context) []*kgo.Record {
	fetches := c.client.PollFetches(ctx)
	if fetches.IsClientClosed() || ctx.Err() != nil {
		return nil
	}

	fetches.EachError(func(topic string, partition int32, err error) {
		c.logger.Error().
			Err(err).
			Str("topic", topic).
			Int32("partition", partition).
			Msg("fetch error")
	})

	return fetches.Records()
}

// CommitRecords synchronously commits the offsets of recs. Only
// meaningful under ManualCommit.
func (c *Consumer) CommitRecords(ctx context.Context, recs ...*kgo.Record) error {
	if err := c.client.CommitRecords(ctx, recs...); err != nil {
		return fmt.Errorf("bus: commit offsets: %w", err)
	}
	return nil
}

// Rewind moves the consumer's position on rec's partition back to rec,
// so the record (and everything after it) is polled again. Used by the
// projector when a write fails before commit.
func (c *Consumer) Rewind(rec *kgo.Record) {
	c.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		rec.Topic: {
			rec.Partition: {
				Epoch:  rec.LeaderEpoch,
				Offset: rec.Offset,
			},
		},
	})
	c.logger.Warn().
		Int32("partition", rec.Partition).
		Int64("offset", rec.Offset).
		Msg("rewound partition for redelivery")
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() {
	c.client.Close()
}
