package edge

import (
	"github.com/PablitoCBR/commenter/internal/comment"
	"github.com/PablitoCBR/commenter/internal/stomp"
)

// consumeLoop runs for the lifetime of the process: every record on
// the comments topic becomes a MESSAGE frame fanned out to the
// subscribers of its group. Undecodable records are counted and
// skipped; the edge has no durability duty, so offsets advance under
// auto-commit regardless.
func (s *Server) consumeLoop() {
	s.logger.Info().Msg("consume loop started")
	for s.ctx.Err() == nil {
		for _, rec := range s.source.Poll(s.ctx) {
			s.metrics.BusRecordsIn.Inc()

			c, err := comment.Unmarshal(rec.Value)
			if err != nil {
				s.metrics.BusDecodeFailures.Inc()
				s.logger.Error().
					Err(err).
					Int32("partition", rec.Partition).
					Int64("offset", rec.Offset).
					Msg("undecodable record skipped")
				continue
			}

			enqueued, dropped := s.hub.Broadcast(stomp.NewMessage(c), c.GroupID)
			s.metrics.BroadcastEnqueued.Add(float64(enqueued))
			s.metrics.BroadcastDropped.Add(float64(dropped))

			s.logger.Debug().
				Str("comment_id", c.ID).
				Str("group_id", c.GroupID).
				Int("subscribers", enqueued).
				Msg("record fanned out")
		}
	}
	s.logger.Info().Msg("consume loop stopped")
}
