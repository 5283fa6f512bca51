package main

import (
	"context"
	"os/signal"
	"syscall"

	"sgecollector/config"
	"sgecollector/internal/collector"
	"sgecollector/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run collector until interrupted
	if err := collector.StartCollector(ctx, cfg, log); err != nil {
		log.Fatal("collector failed", zap.Error(err))
	}
	log.Info("collector stopped")
}
