// Package edge implements the WebSocket edge broker: it terminates
// client connections, decodes STOMP-like frames, shuttles client
// mutations onto the bus and fans consumed records out to subscribers.
package edge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/PablitoCBR/commenter/internal/comment"
	"github.com/PablitoCBR/commenter/internal/config"
	"github.com/PablitoCBR/commenter/internal/fanout"
	"github.com/PablitoCBR/commenter/internal/limits"
	"github.com/PablitoCBR/commenter/internal/metrics"
)

// Publisher produces comments to the bus.
type Publisher interface {
	Publish(ctx context.Context, c comment.Comment) error
}

// Resolver fetches the prior stored state of a comment by id.
type Resolver interface {
	Resolve(ctx context.Context, id string) (comment.Comment, error)
}

// RecordSource yields consumed bus records for fan-out.
type RecordSource interface {
	Poll(ctx context.Context) []*kgo.Record
}

// Options wires a Server. Source and Limiter may be nil; the consume
// loop and admission limiting are then disabled (used by tests).
type Options struct {
	Config   config.Edge
	Logger   zerolog.Logger
	Producer Publisher
	Resolver Resolver
	Source   RecordSource
	Limiter  *limits.ConnectionLimiter
	Metrics  *metrics.Registry
}

// Server is the edge process: one HTTP listener serving /ws, /healthz
// and /metrics, a hub for fan-out, and one consume loop for the
// lifetime of the process.
type Server struct {
	cfg      config.Edge
	logger   zerolog.Logger
	hub      *fanout.Hub
	producer Publisher
	resolver Resolver
	source   RecordSource
	limiter  *limits.ConnectionLimiter
	metrics  *metrics.Registry

	listener net.Listener
	httpSrv  *http.Server
	sem      chan struct{}
	draining atomic.Bool

	// conns tracks the hijacked sockets so shutdown can force-close
	// clients that outlive the grace period.
	conns sync.Map // map[int64]net.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer builds a Server from opts.
func NewServer(opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      opts.Config,
		logger:   opts.Logger.With().Str("component", "edge").Logger(),
		hub:      fanout.NewHub(opts.Config.QueueSize),
		producer: opts.Producer,
		resolver: opts.Resolver,
		source:   opts.Source,
		limiter:  opts.Limiter,
		metrics:  opts.Metrics,
		sem:      make(chan struct{}, opts.Config.MaxConnections),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the listener and launches the HTTP server and the
// consume loop. It returns once the server is accepting.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return err
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", s.metrics.Handler())
	s.httpSrv = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http server failed")
		}
	}()

	if s.source != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.consumeLoop()
		}()
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("edge listening")
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops accepting, waits for connections to drain within the
// configured grace period and then force-closes the rest.
func (s *Server) Shutdown() error {
	s.draining.Store(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	err := s.httpSrv.Shutdown(shutdownCtx)

	deadline := time.NewTimer(s.cfg.ShutdownGrace)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for s.hub.Connections() > 0 {
		select {
		case <-deadline.C:
			s.logger.Warn().
				Int("connections", s.hub.Connections()).
				Msg("grace period lapsed, force closing")
			s.conns.Range(func(_, v any) bool {
				v.(net.Conn).Close()
				return true
			})
			goto done
		case <-tick.C:
		}
	}
done:
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("edge stopped")
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if s.draining.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleWS admits, upgrades and serves one client connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	if s.limiter != nil && !s.limiter.Allow(clientIP(r)) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	select {
	case s.sem <- struct{}{}:
	default:
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-s.sem
		s.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		s.serveConn(conn)
	}()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
