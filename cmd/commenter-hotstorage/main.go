// commenter-hotstorage tails the comments topic into Postgres so the
// lookup API can serve the last stored state of every comment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/PablitoCBR/commenter/internal/bus"
	"github.com/PablitoCBR/commenter/internal/config"
	"github.com/PablitoCBR/commenter/internal/hotstorage"
	"github.com/PablitoCBR/commenter/internal/logging"
	"github.com/PablitoCBR/commenter/internal/metrics"
	"github.com/PablitoCBR/commenter/internal/storage"
)

func main() {
	debug := flag.Bool("debug", false, "console log output at debug level")
	flag.Parse()

	cfg, err := config.LoadHotstorage()
	if err != nil {
		fmt.Fprintf(os.Stderr, "commenter-hotstorage: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
		cfg.LogFormat = "console"
	}

	logger := logging.New("commenter-hotstorage", cfg.LogLevel, cfg.LogFormat)
	logger.Info().
		Strs("brokers", cfg.Brokers()).
		Str("topic", cfg.Topic).
		Str("group", cfg.GroupID).
		Msg("starting")

	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connect failed")
	}
	defer db.Close()

	schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = storage.EnsureSchema(schemaCtx, db)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("schema init failed")
	}

	consumer, err := bus.NewConsumer(bus.ConsumerConfig{
		Brokers:      cfg.Brokers(),
		Topic:        cfg.Topic,
		Group:        cfg.GroupID,
		ManualCommit: true,
		FromStart:    true,
		FetchMaxWait: cfg.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("consumer init failed")
	}
	defer consumer.Close()

	reg := metrics.NewRegistry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DiagAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(pingCtx); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		diag := &http.Server{Addr: cfg.DiagAddress, Handler: mux}
		go func() {
			if err := diag.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("diagnostics listener failed")
			}
		}()
		defer diag.Close()
	}

	projector := hotstorage.New(consumer, storage.NewCommentStore(db), reg, logger, cfg.PollInterval)
	projector.Run(ctx)
}
