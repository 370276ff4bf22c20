package edge

import (
	"errors"

	"github.com/google/uuid"

	"github.com/PablitoCBR/commenter/internal/comment"
	"github.com/PablitoCBR/commenter/internal/resolver"
	"github.com/PablitoCBR/commenter/internal/stomp"
)

// dispatch routes one decoded client frame. It runs on the session's
// read pump, so each connection's commands execute in order.
func (s *Server) dispatch(sess *session, frame stomp.ClientFrame) {
	switch f := frame.(type) {
	case stomp.Subscribe:
		s.subscribe(sess, f)
	case stomp.Unsubscribe:
		s.unsubscribe(sess, f)
	case stomp.SendCreate:
		c := comment.Comment{
			ID:      uuid.NewString(),
			GroupID: f.Destination,
			Text:    f.Text,
			State:   comment.StateCreated,
		}
		s.publish(sess, c)
	case stomp.SendUpdate:
		prior, ok := s.resolvePrior(sess, f.ID)
		if !ok {
			return
		}
		s.publish(sess, comment.Comment{
			ID:      f.ID,
			GroupID: prior.GroupID,
			Text:    f.Text,
			State:   comment.StateUpdated,
		})
	case stomp.SendDelete:
		prior, ok := s.resolvePrior(sess, f.ID)
		if !ok {
			return
		}
		// A delete carries the last stored text as its tombstone body.
		s.publish(sess, comment.Comment{
			ID:      f.ID,
			GroupID: prior.GroupID,
			Text:    prior.Text,
			State:   comment.StateDeleted,
		})
	}
}

func (s *Server) subscribe(sess *session, f stomp.Subscribe) {
	if err := s.hub.Subscribe(sess.id, f.Destination); err != nil {
		sess.logger.Error().Err(err).Str("group_id", f.Destination).Msg("subscribe failed")
		sess.queue.Push(stomp.NewError("subscribe failed"))
		return
	}

	if prev, ok := sess.subs[f.Label]; ok {
		// Label reuse rebinds the subscription.
		if prev != f.Destination {
			s.hub.Unsubscribe(sess.id, prev)
		}
	} else {
		s.metrics.Subscriptions.Inc()
	}
	sess.subs[f.Label] = f.Destination

	sess.logger.Debug().
		Str("group_id", f.Destination).
		Str("label", f.Label).
		Msg("subscribed")
}

func (s *Server) unsubscribe(sess *session, f stomp.Unsubscribe) {
	group, ok := sess.subs[f.Label]
	if !ok {
		sess.logger.Debug().Str("label", f.Label).Msg("unsubscribe for unknown label")
		return
	}
	delete(sess.subs, f.Label)
	s.hub.Unsubscribe(sess.id, group)
	s.metrics.Subscriptions.Dec()

	sess.logger.Debug().
		Str("group_id", group).
		Str("label", f.Label).
		Msg("unsubscribed")
}

// resolvePrior fetches the stored state for id; on failure the SEND is
// dropped and the client notified.
func (s *Server) resolvePrior(sess *session, id string) (comment.Comment, bool) {
	prior, err := s.resolver.Resolve(s.ctx, id)
	if err != nil {
		outcome := "error"
		msg := "prior state lookup failed"
		if errors.Is(err, resolver.ErrNotFound) {
			outcome = "not_found"
			msg = "unknown comment id"
		}
		s.metrics.ResolverLookups.WithLabelValues(outcome).Inc()
		sess.logger.Warn().Err(err).Str("comment_id", id).Msg("resolve failed")
		sess.queue.Push(stomp.NewError(msg))
		return comment.Comment{}, false
	}
	s.metrics.ResolverLookups.WithLabelValues("ok").Inc()
	return prior, true
}

func (s *Server) publish(sess *session, c comment.Comment) {
	if err := s.producer.Publish(s.ctx, c); err != nil {
		s.metrics.ProduceFailures.Inc()
		sess.logger.Error().
			Err(err).
			Str("comment_id", c.ID).
			Str("group_id", c.GroupID).
			Msg("produce failed")
		sess.queue.Push(stomp.NewError("comment not accepted"))
		return
	}
	sess.logger.Debug().
		Str("comment_id", c.ID).
		Str("group_id", c.GroupID).
		Str("state", c.State.String()).
		Msg("comment published")
}
