// Package api serves the lookup tier: the HTTP read side answering
// "what is the last stored state of comment X" for the edge's
// UPDATE/DELETE flows and for anything else that needs it.
package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/PablitoCBR/commenter/internal/metrics"
	"github.com/PablitoCBR/commenter/internal/storage"
)

// Server is the lookup API.
type Server struct {
	router  *gin.Engine
	store   *storage.CommentStore
	db      *sql.DB
	logger  zerolog.Logger
	metrics *metrics.Registry
	http    *http.Server
}

// New builds the API around db. Debug mode switches gin out of release
// mode and is meant for local runs only.
func New(db *sql.DB, logger zerolog.Logger, reg *metrics.Registry, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		store:   storage.NewCommentStore(db),
		db:      db,
		logger:  logger.With().Str("component", "api").Logger(),
		metrics: reg,
	}

	router := gin.New()
	router.Use(s.requestLogger(), gin.Recovery())
	router.GET("/api/comments/:id", s.getComment)
	router.GET("/healthz", s.healthz)
	router.GET("/metrics", gin.WrapH(reg.Handler()))
	s.router = router
	return s
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("lookup api listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) getComment(c *gin.Context) {
	id := c.Param("id")

	got, err := s.store.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.metrics.LookupMisses.Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "comment not found"})
	case err != nil:
		s.logger.Error().Err(err).Str("comment_id", id).Msg("lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		s.metrics.LookupHits.Inc()
		c.JSON(http.StatusOK, got)
	}
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
