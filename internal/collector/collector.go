package collector

import (
	"context"
	"fmt"
	"time"

	"sgecollector/config"
	"sgecollector/internal/fxgate"
	"sgecollector/internal/session"
	"sgecollector/pkg/alphavantage"
	"sgecollector/pkg/sge"
	"sgecollector/pkg/storage"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StartCollector wires the store, the quotation client and the FX gate from
// cfg and runs the ingest loop until ctx is cancelled.
func StartCollector(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Initialize store (sqlite or postgres)
	store, err := storage.InitializeAndMigrate(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer store.Close()

	// Build clients and the ingest loop
	ingestor, err := newIngestorFromConfig(cfg, store, logger)
	if err != nil {
		return err
	}

	logger.Info("collector starting",
		zap.String("env", cfg.Environment),
		zap.String("storage", cfg.Storage.Driver))

	// Blocks until ctx is cancelled
	return ingestor.Run(ctx)
}

func newIngestorFromConfig(cfg *config.Config, store *storage.Client, logger *zap.Logger) (*Ingestor, error) {
	// Cutoff buffer ordering
	order, err := session.ParseBufferOrder(cfg.Ingest.BufferOrder)
	if err != nil {
		return nil, err
	}

	// Quote client with outbound pacing
	limiter := rate.NewLimiter(rate.Limit(cfg.SGE.RatePerSec), cfg.SGE.Burst)
	quotes := sge.NewClient(cfg.SGE.Timeout,
		sge.WithBaseURL(cfg.SGE.BaseURL),
		sge.WithLimiter(limiter))

	// FX client; in prod the key comes from Parameter Store
	apiKey := cfg.FX.ResolveAPIKey(cfg.Environment)
	if apiKey == "" {
		logger.Warn("no FX API key configured, using cached/default rate")
	}
	fx := alphavantage.NewClient(apiKey, cfg.FX.Timeout,
		alphavantage.WithBaseURL(cfg.FX.BaseURL))

	// Quota-guarded rate gate
	gate := fxgate.New(fx, fxgate.Config{
		DailyQuota:  cfg.FX.DailyQuota,
		DefaultRate: cfg.FX.DefaultRate,
		MaxBackoff:  cfg.FX.MaxBackoff,
	}, logger.Named("fxgate"))

	// Instruments to poll, in write order
	instruments := make([]sge.Instrument, 0, len(cfg.SGE.Instruments))
	for _, ic := range cfg.SGE.Instruments {
		instruments = append(instruments, sge.Instrument{Metal: ic.Metal, InstID: ic.InstID, Unit: ic.Unit})
	}

	return NewIngestor(store, quotes, gate, Options{
		Interval:       cfg.Ingest.Interval,
		MaxJitter:      cfg.Ingest.MaxJitter,
		MaxBackoff:     cfg.Ingest.MaxBackoff,
		RateRefresh:    cfg.FX.RefreshInterval,
		StaleThreshold: time.Duration(cfg.Ingest.StaleThresholdMin) * time.Minute,
		PriceBuffer:    time.Duration(cfg.Ingest.PriceBufferMin) * time.Minute,
		BufferOrder:    order,
		DefaultRate:    cfg.FX.DefaultRate,
		Instruments:    instruments,
		RequestTimeout: cfg.SGE.Timeout,
	}, logger), nil
}
