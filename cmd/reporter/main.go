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
	"github.com/downfa11-org/packrat/pkg/config"
	"github.com/downfa11-org/packrat/pkg/store"
	"github.com/downfa11-org/packrat/util"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	// the reporter only reads; namespaces are the collector's to create
	storeCfg := cfg.Store
	storeCfg.AutoProvision = false
	backend, err := store.Open(ctx, storeCfg, nil, nil, logger)
	if err != nil {
		logger.Error("open store", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	apiCfg := api.DefaultServerConfig()
	apiCfg.Addr = fmt.Sprintf(":%d", cfg.APIPort)
	srv := api.NewServer(backend, nil, apiCfg, logger)
	srv.Start()

	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(sctx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	if err := backend.Close(sctx); err != nil {
		logger.Warn("close store", zap.Error(err))
	}
}
