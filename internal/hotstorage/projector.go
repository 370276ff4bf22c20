// Package hotstorage runs the log-to-store projector: an at-least-once
// consumer that upserts every comment into Postgres and commits its
// offset only after the row is durable.
package hotstorage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/PablitoCBR/commenter/internal/comment"
	"github.com/PablitoCBR/commenter/internal/metrics"
)

// Source is the manual-commit consumer the projector drains.
type Source interface {
	Poll(ctx context.Context) []*kgo.Record
	CommitRecords(ctx context.Context, recs ...*kgo.Record) error
	Rewind(rec *kgo.Record)
}

// Store persists projected comments.
type Store interface {
	Upsert(ctx context.Context, c comment.Comment) error
}

// Projector tails the comments topic into hot storage.
type Projector struct {
	source  Source
	store   Store
	logger  zerolog.Logger
	metrics *metrics.Registry

	// retryBackoff is the pause after a failed record before the
	// rewound partition is polled again.
	retryBackoff time.Duration
}

// New builds a projector. backoff zero means 1s.
func New(source Source, store Store, reg *metrics.Registry, logger zerolog.Logger, backoff time.Duration) *Projector {
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Projector{
		source:       source,
		store:        store,
		logger:       logger.With().Str("component", "projector").Logger(),
		metrics:      reg,
		retryBackoff: backoff,
	}
}

// Run polls until ctx ends. Each record is decoded, upserted and then
// committed, in that order. Any failure leaves the offset uncommitted,
// rewinds the partition to the failed record and backs off, so the
// record is redelivered; persistent failure shows up as consumer lag,
// never as a crash.
func (p *Projector) Run(ctx context.Context) {
	p.logger.Info().Msg("projector started")
	for ctx.Err() == nil {
		recs := p.source.Poll(ctx)
		for _, rec := range recs {
			if !p.project(ctx, rec) {
				p.sleep(ctx)
				break
			}
		}
	}
	p.logger.Info().Msg("projector stopped")
}

// project handles one record; false means the record failed and the
// partition was rewound to retry it.
func (p *Projector) project(ctx context.Context, rec *kgo.Record) bool {
	c, err := comment.Unmarshal(rec.Value)
	if err != nil {
		p.logger.Error().
			Err(err).
			Int32("partition", rec.Partition).
			Int64("offset", rec.Offset).
			Msg("undecodable record")
		p.source.Rewind(rec)
		return false
	}

	if err := p.store.Upsert(ctx, c); err != nil {
		p.logger.Error().
			Err(err).
			Str("comment_id", c.ID).
			Int64("offset", rec.Offset).
			Msg("upsert failed")
		p.source.Rewind(rec)
		return false
	}
	p.metrics.ProjectorUpserts.Inc()

	if err := p.source.CommitRecords(ctx, rec); err != nil {
		// The row is durable; a redelivery after restart only
		// repeats an idempotent upsert.
		p.metrics.ProjectorCommitFailures.Inc()
		p.logger.Error().
			Err(err).
			Int64("offset", rec.Offset).
			Msg("offset commit failed")
		return true
	}

	p.logger.Debug().
		Str("comment_id", c.ID).
		Str("group_id", c.GroupID).
		Str("state", c.State.String()).
		Int64("offset", rec.Offset).
		Msg("comment projected")
	return true
}

func (p *Projector) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.retryBackoff):
	}
}
