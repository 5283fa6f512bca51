package collector

import (
	"context"
	"math/rand"
	"time"

	"sgecollector/internal/fxgate"
	"sgecollector/internal/session"
	"sgecollector/pkg/sge"
	"sgecollector/pkg/storage"

	"go.uber.org/zap"
)

func (in *Ingestor) logRate(out fxgate.Outcome) {
	fields := []zap.Field{
		zap.String("outcome", out.Kind.String()),
		zap.Float64("usd_cny", out.State.Rate),
		zap.Duration("fx_backoff", out.State.Backoff),
		zap.Int("quota_used", out.QuotaUsed),
	}
	if out.Err != nil {
		fields = append(fields, zap.Error(out.Err))
	}
	if out.Failed() {
		in.logger.Warn("FX rate fell back to cache", fields...)
		return
	}
	in.logger.Info("FX USD/CNY", fields...)
}

func (in *Ingestor) logWrite(inst sge.Instrument, q sge.Quote, cutoff time.Time, res storage.WriteResult) {
	for _, r := range res.Revisions {
		in.logger.Info("revising previous price",
			zap.String("metal", r.Metal),
			zap.String("timestamp", r.Timestamp),
			zap.Float64("old", r.Old),
			zap.Float64("new", r.New))
	}
	for _, ts := range res.NearCutoffBound {
		in.logger.Debug("price equals min/max bound near cutoff",
			zap.String("metal", inst.Metal),
			zap.String("timestamp", ts))
	}
	if res.NaNFiltered > 0 {
		in.logger.Warn("filtered NaN values from source data",
			zap.String("metal", inst.Metal),
			zap.Int("count", res.NaNFiltered))
	}
	if res.BoundFiltered > 0 || res.FutureSkipped > 0 {
		in.logger.Debug("filtered points",
			zap.String("metal", inst.Metal),
			zap.Int("outside_bounds", res.BoundFiltered),
			zap.Int("future_or_unanchored", res.FutureSkipped))
	}

	fields := []zap.Field{
		zap.String("metal", inst.Metal),
		zap.String("unit", inst.Unit),
		zap.Int("wrote", res.Written),
		zap.String("cutoff", session.FormatTimestamp(cutoff)),
		zap.String("contract", q.Contract),
		zap.String("delaystr", q.DelayStr),
	}
	if q.Min != nil {
		fields = append(fields, zap.Float64("min", *q.Min))
	}
	if q.Max != nil {
		fields = append(fields, zap.Float64("max", *q.Max))
	}
	if res.LatestTimestamp != "" {
		fields = append(fields, zap.String("latest", res.LatestTimestamp))
	}
	in.logger.Info("stored quotes", fields...)
}

// rollover logs the previous UTC day's quota usage and series sizes once the
// quota day changes. Read-only; failures are only logged.
func (in *Ingestor) rollover(ctx context.Context, now time.Time) {
	day := fxgate.QuotaDay(now)
	prev := in.state.lastDay
	in.state.lastDay = day
	if prev == "" || prev == day {
		return
	}

	used, err := in.store.QuotaCount(ctx, prev)
	if err != nil {
		in.logger.Warn("daily summary failed", zap.Error(err))
		return
	}
	fields := []zap.Field{zap.String("day", prev), zap.Int("fx_requests", used)}
	for _, inst := range in.opts.Instruments {
		n, err := in.store.CountPoints(ctx, inst.Metal)
		if err != nil {
			in.logger.Warn("daily summary failed", zap.Error(err))
			return
		}
		fields = append(fields, zap.Int64(inst.Metal+"_points", n))
	}
	in.logger.Info("daily summary", fields...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
