package edge

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/PablitoCBR/commenter/internal/fanout"
	"github.com/PablitoCBR/commenter/internal/stomp"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// session is one client connection. Ingress is handled sequentially on
// the read pump goroutine; a SEND awaiting prior-state resolution or a
// broker ack blocks only this connection. Egress runs on its own pump
// draining the outbound queue.
type session struct {
	id    int64
	conn  net.Conn
	queue *fanout.Queue

	// subs maps the client's subscription labels to group ids; the
	// UNSUBSCRIBE command identifies a subscription by label only.
	subs map[string]string

	limiter   *rate.Limiter
	logger    zerolog.Logger
	closeOnce sync.Once
}

// serveConn owns the connection lifecycle: register, pump, dispatch,
// teardown.
func (s *Server) serveConn(conn net.Conn) {
	id, queue := s.hub.Register()
	sess := &session{
		id:      id,
		conn:    conn,
		queue:   queue,
		subs:    make(map[string]string),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.MsgRate), s.cfg.MsgBurst),
		logger:  s.logger.With().Int64("conn_id", id).Logger(),
	}

	s.conns.Store(id, conn)
	s.metrics.ActiveConnections.Inc()
	sess.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("connection established")

	var pumps sync.WaitGroup
	pumps.Add(1)
	go func() {
		defer pumps.Done()
		s.writePump(sess)
	}()

	s.readPump(sess)

	// Teardown order: purge subscriptions and close the queue (which
	// stops the write pump), then account for the connection.
	s.hub.Unregister(id)
	pumps.Wait()
	s.conns.Delete(id)
	s.metrics.ActiveConnections.Dec()
	s.metrics.Subscriptions.Sub(float64(len(sess.subs)))
	sess.logger.Info().Msg("connection closed")
}

// readPump drives ingress until disconnect, read error or deadline.
func (s *Server) readPump(sess *session) {
	for {
		if err := sess.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return
		}

		msg, op, err := wsutil.ReadClientData(sess.conn)
		if err != nil {
			sess.logger.Debug().Err(err).Msg("read ended")
			return
		}

		switch op {
		case ws.OpText:
			s.metrics.FramesIn.Inc()

			if !sess.limiter.Allow() {
				s.metrics.RateLimited.Inc()
				sess.logger.Warn().Msg("message rate exceeded, frame dropped")
				sess.queue.Push(stomp.NewError("rate limit exceeded"))
				continue
			}

			frame, err := stomp.Decode(msg)
			if err != nil {
				// Permissive: drop the frame, tell the client, keep
				// the connection.
				s.metrics.ParseFailures.Inc()
				sess.logger.Warn().Err(err).Msg("unparseable frame")
				sess.queue.Push(stomp.NewError(err.Error()))
				continue
			}

			if _, ok := frame.(stomp.Disconnect); ok {
				sess.logger.Debug().Msg("client disconnect")
				return
			}
			s.dispatch(sess, frame)

		case ws.OpPing:
			// Pong is handled by the library.
		case ws.OpClose:
			return
		}
	}
}

// writePump drains the outbound queue onto the socket and keeps the
// connection alive with pings. It exits when the queue closes or a
// write fails, and closes the socket so the read pump unblocks.
func (s *Server) writePump(sess *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.closeOnce.Do(func() { sess.conn.Close() })
	}()

	for {
		select {
		case frame, ok := <-sess.queue.Frames():
			if !ok {
				_ = wsutil.WriteServerMessage(sess.conn, ws.OpClose, nil)
				return
			}
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(sess.conn, ws.OpText, frame.Serialize()); err != nil {
				sess.logger.Debug().Err(err).Msg("write failed")
				return
			}
			s.metrics.FramesOut.Inc()

		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(sess.conn, ws.OpPing, nil); err != nil {
				sess.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}
