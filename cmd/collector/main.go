package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/downfa11-org/packrat/pkg/api"
	"github.com/downfa11-org/packrat/pkg/broker"
	"github.com/downfa11-org/packrat/pkg/config"
	"github.com/downfa11-org/packrat/pkg/metrics"
	"github.com/downfa11-org/packrat/pkg/store"
	"github.com/downfa11-org/packrat/pkg/supervisor"
	"github.com/downfa11-org/packrat/util"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := util.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("collector failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	topics := cfg.Topics()
	logger.Info("starting collector",
		zap.Strings("brokers", cfg.BootstrapServers),
		zap.String("group", cfg.GroupID),
		zap.Strings("topics", topics),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("exporter", cfg.EnableExporter))

	backend, err := store.Open(ctx, cfg.Store, topics, topics, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := backend.Close(cctx); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()

	factory := func(src config.SourceConfig) (broker.Consumer, error) {
		return broker.NewKafkaConsumer(broker.KafkaConfig{
			Brokers:           cfg.BootstrapServers,
			GroupID:           cfg.GroupID,
			ClientID:          cfg.ClientID,
			SessionTimeout:    time.Duration(cfg.SessionTimeoutMS) * time.Millisecond,
			HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond,
			MaxPollRecords:    cfg.MaxPollRecords,
			CursorLookup:      backend.GetOffset,
			Logger:            logger.With(zap.String("source", src.Name)),
		})
	}

	sup, err := supervisor.New(cfg, factory, store.WithTrace(backend, logger), backend, logger)
	if err != nil {
		return err
	}

	if cfg.EnableExporter {
		exporter := metrics.StartMetricsServer(cfg.ExporterPort, logger)
		defer shutdown(exporter.Shutdown, logger)
	}

	apiCfg := api.DefaultServerConfig()
	apiCfg.Addr = fmt.Sprintf(":%d", cfg.APIPort)
	srv := api.NewServer(backend, func() map[string]string {
		out := make(map[string]string)
		for name, state := range sup.States() {
			out[name] = state.String()
		}
		return out
	}, apiCfg, logger)
	srv.Start()
	defer shutdown(srv.Stop, logger)

	if err := sup.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	sup.Stop()
	return nil
}

func shutdown(fn func(context.Context) error, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}
