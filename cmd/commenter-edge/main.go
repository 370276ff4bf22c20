// commenter-edge terminates client WebSockets, bridges their comment
// mutations onto the bus and fans consumed records back out to
// subscribers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/PablitoCBR/commenter/internal/bus"
	"github.com/PablitoCBR/commenter/internal/config"
	"github.com/PablitoCBR/commenter/internal/edge"
	"github.com/PablitoCBR/commenter/internal/limits"
	"github.com/PablitoCBR/commenter/internal/logging"
	"github.com/PablitoCBR/commenter/internal/metrics"
	"github.com/PablitoCBR/commenter/internal/monitoring"
	"github.com/PablitoCBR/commenter/internal/resolver"
)

func main() {
	debug := flag.Bool("debug", false, "console log output at debug level")
	flag.Parse()

	cfg, err := config.LoadEdge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "commenter-edge: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
		cfg.LogFormat = "console"
	}

	logger := logging.New("commenter-edge", cfg.LogLevel, cfg.LogFormat)
	logger.Info().
		Strs("brokers", cfg.Brokers()).
		Str("topic", cfg.Topic).
		Str("group", cfg.GroupID).
		Str("listen", cfg.ListenAddr()).
		Str("lookup", cfg.LookupBaseURL()).
		Msg("starting")

	reg := metrics.NewRegistry()

	producer, err := bus.NewProducer(bus.ProducerConfig{
		Brokers: cfg.Brokers(),
		Topic:   cfg.Topic,
		Timeout: cfg.ProduceTimeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("producer init failed")
	}
	defer producer.Close()

	consumer, err := bus.NewConsumer(bus.ConsumerConfig{
		Brokers: cfg.Brokers(),
		Topic:   cfg.Topic,
		Group:   cfg.GroupID,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("consumer init failed")
	}
	defer consumer.Close()

	limiter := limits.NewConnectionLimiter(limits.ConnectionLimiterConfig{
		GlobalRate:  cfg.ConnRate,
		GlobalBurst: cfg.ConnBurst,
		Logger:      logger,
	})
	defer limiter.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sampler := monitoring.NewSampler(0, reg, logger)
	sampler.Start(ctx)
	defer sampler.Stop()

	server := edge.NewServer(edge.Options{
		Config:   cfg,
		Logger:   logger,
		Producer: producer,
		Resolver: resolver.New(cfg.LookupBaseURL(), cfg.ResolverTimeout, logger),
		Source:   consumer,
		Limiter:  limiter,
		Metrics:  reg,
	})
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("edge start failed")
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
