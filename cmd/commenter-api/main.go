// commenter-api serves the lookup tier over the hot storage table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/PablitoCBR/commenter/internal/api"
	"github.com/PablitoCBR/commenter/internal/config"
	"github.com/PablitoCBR/commenter/internal/logging"
	"github.com/PablitoCBR/commenter/internal/metrics"
	"github.com/PablitoCBR/commenter/internal/storage"
)

func main() {
	debug := flag.Bool("debug", false, "console log output at debug level")
	flag.Parse()

	cfg, err := config.LoadAPI()
	if err != nil {
		fmt.Fprintf(os.Stderr, "commenter-api: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
		cfg.LogFormat = "console"
	}

	logger := logging.New("commenter-api", cfg.LogLevel, cfg.LogFormat)
	logger.Info().Str("listen", cfg.ListenAddr()).Msg("starting")

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.New(db, logger, metrics.NewRegistry(), *debug)
	if err := server.Run(ctx, cfg.ListenAddr()); err != nil {
		logger.Fatal().Err(err).Msg("api server failed")
	}
}
