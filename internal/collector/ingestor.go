package collector

import (
	"context"
	"fmt"
	"time"

	"sgecollector/internal/fxgate"
	"sgecollector/internal/session"
	"sgecollector/pkg/sge"
	"sgecollector/pkg/storage"

	"go.uber.org/zap"
)

// QuoteSource fetches one instrument's minute series.
type QuoteSource interface {
	FetchQuote(ctx context.Context, inst sge.Instrument) (sge.Quote, error)
}

// RateGate hands out the conversion rate under quota and backoff rules.
type RateGate interface {
	Acquire(ctx context.Context, store fxgate.QuotaStore, cur fxgate.State) (fxgate.Outcome, error)
}

// Options tune the loop; zero values fall back to the defaults below.
type Options struct {
	Interval       time.Duration
	MaxJitter      time.Duration
	MaxBackoff     time.Duration
	RateRefresh    time.Duration
	StaleThreshold time.Duration
	PriceBuffer    time.Duration
	BufferOrder    session.BufferOrder
	DefaultRate    float64
	Instruments    []sge.Instrument
	RequestTimeout time.Duration
	Now            func() time.Time
	Sleep          func(ctx context.Context, d time.Duration) error
	Jitter         func(max time.Duration) time.Duration
}

// loopState is everything the loop carries between cycles.
type loopState struct {
	rate            float64
	rateBackoff     time.Duration
	nextRateRefresh time.Time
	backoff         time.Duration
	lastDay         string
}

// CycleReport describes one committed cycle.
type CycleReport struct {
	Written     int
	Rate        float64
	RateOutcome *fxgate.Outcome
	PerMetal    map[string]storage.WriteResult
}

// Ingestor polls the quote source and persists final minute prices. It runs
// a single cooperative loop: one cycle finishes (commit or rollback) before
// the next starts.
type Ingestor struct {
	store  *storage.Client
	quotes QuoteSource
	gate   RateGate
	opts   Options
	logger *zap.Logger
	state  loopState
}

func NewIngestor(store *storage.Client, quotes QuoteSource, gate RateGate, opts Options, logger *zap.Logger) *Ingestor {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.MaxJitter < 0 {
		opts.MaxJitter = 0
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = fxgate.DefaultMaxBackoff
	}
	if opts.RateRefresh <= 0 {
		opts.RateRefresh = time.Hour
	}
	if opts.DefaultRate <= 0 {
		opts.DefaultRate = fxgate.DefaultRate
	}
	if opts.BufferOrder == "" {
		opts.BufferOrder = session.BufferAfterMin
	}
	if len(opts.Instruments) == 0 {
		opts.Instruments = sge.DefaultInstruments
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Jitter == nil {
		opts.Jitter = randomJitter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ingestor{
		store:  store,
		quotes: quotes,
		gate:   gate,
		opts:   opts,
		logger: logger,
		state: loopState{
			rateBackoff: fxgate.InitialBackoff,
			backoff:     fxgate.InitialBackoff,
		},
	}
}

// Run loops until ctx is cancelled. Cycle failures are logged and backed off,
// never returned.
func (in *Ingestor) Run(ctx context.Context) error {
	rate, err := in.store.CachedRate(ctx, in.opts.DefaultRate)
	if err != nil {
		in.logger.Warn("failed to read cached rate, using default", zap.Error(err))
		rate = in.opts.DefaultRate
	}
	in.state.rate = rate
	in.logger.Info("ingestor started",
		zap.Float64("cached_rate", rate),
		zap.Int("instruments", len(in.opts.Instruments)),
		zap.Duration("interval", in.opts.Interval))

	for {
		if _, err := in.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			in.logger.Error("fetch/store failed",
				zap.Error(err),
				zap.Duration("backoff", in.state.backoff))
			if in.opts.Sleep(ctx, in.state.backoff) != nil {
				return nil
			}
			in.state.backoff = fxgate.NextBackoff(in.state.backoff, in.opts.MaxBackoff)
		}

		wait := in.opts.Interval + in.opts.Jitter(in.opts.MaxJitter)
		if in.opts.Sleep(ctx, wait) != nil {
			in.logger.Info("ingestor stopped")
			return nil
		}
	}
}

// RunCycle performs one fetch-and-store pass inside a single transaction.
// On error nothing from the cycle is persisted, including any quota increment,
// and the in-memory rate is left untouched. A rate refresh attempted by a
// failed cycle still counts toward the refresh schedule.
func (in *Ingestor) RunCycle(ctx context.Context) (CycleReport, error) {
	now := in.opts.Now()
	nowSH := now.In(session.Shanghai)
	report := CycleReport{PerMetal: make(map[string]storage.WriteResult, len(in.opts.Instruments))}

	in.rollover(ctx, now)

	next := in.state
	var writes []pendingWrite
	err := in.store.Transaction(ctx, func(tx *storage.Client) error {
		if next.rate <= 0 {
			rate, err := tx.CachedRate(ctx, in.opts.DefaultRate)
			if err != nil {
				return fmt.Errorf("cached rate: %w", err)
			}
			next.rate = rate
		}
		if !now.Before(next.nextRateRefresh) && in.gate != nil {
			out, err := in.gate.Acquire(ctx, tx, fxgate.State{Rate: next.rate, Backoff: next.rateBackoff})
			if err != nil {
				return fmt.Errorf("rate gate: %w", err)
			}
			next.rate, next.rateBackoff = out.State.Rate, out.State.Backoff
			next.nextRateRefresh = now.Add(in.opts.RateRefresh)
			if out.Failed() {
				next.nextRateRefresh = next.nextRateRefresh.Add(out.State.Backoff)
			}
			report.RateOutcome = &out
		}
		report.Rate = next.rate

		for _, inst := range in.opts.Instruments {
			w, err := in.ingest(ctx, tx, inst, nowSH, next.rate)
			if err != nil {
				return err
			}
			writes = append(writes, w)
			report.PerMetal[inst.Metal] = w.res
			report.Written += w.res.Written
		}
		return nil
	})
	if err != nil {
		// the refresh schedule survives the rollback; rate and quota do not
		if report.RateOutcome != nil {
			in.state.nextRateRefresh = next.nextRateRefresh
		}
		return report, err
	}

	next.backoff = fxgate.InitialBackoff
	in.state = next

	if report.RateOutcome != nil {
		in.logRate(*report.RateOutcome)
	}
	for _, w := range writes {
		in.logWrite(w.inst, w.quote, w.cutoff, w.res)
	}
	return report, nil
}

// pendingWrite holds what a cycle stored for one instrument until commit.
type pendingWrite struct {
	inst   sge.Instrument
	quote  sge.Quote
	cutoff time.Time
	res    storage.WriteResult
}

func (in *Ingestor) ingest(ctx context.Context, tx *storage.Client, inst sge.Instrument, nowSH time.Time, rate float64) (pendingWrite, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, in.opts.RequestTimeout)
	q, err := in.quotes.FetchQuote(fetchCtx, inst)
	cancel()
	if err != nil {
		return pendingWrite{}, fmt.Errorf("fetch %s: %w", inst.Metal, err)
	}

	delay, hasDelay := session.ParseDelayStamp(q.DelayStr)
	if hasDelay && in.opts.StaleThreshold > 0 {
		if diff := absDuration(nowSH.Sub(delay)); diff > in.opts.StaleThreshold {
			in.logger.Warn("source timestamp diverges from local clock",
				zap.String("metal", inst.Metal),
				zap.String("source", delay.Format(session.TimestampLayout)),
				zap.String("local", nowSH.Format(session.TimestampLayout)),
				zap.Float64("diff_min", diff.Minutes()))
		}
	}

	cutoff := session.EffectiveCutoff(session.CutoffInput{
		Now:    nowSH,
		Delay:  delay,
		Buffer: in.opts.PriceBuffer,
		Order:  in.opts.BufferOrder,
	})

	points := make([]storage.Point, len(q.Times))
	for i := range q.Times {
		points[i] = storage.Point{Label: q.Times[i], Price: q.Prices[i]}
	}

	res, err := tx.WritePoints(ctx, storage.Batch{
		Metal:  inst.Metal,
		Points: points,
		Bounds: storage.Bounds{Min: q.Min, Max: q.Max},
		Rate:   rate,
		Cutoff: cutoff,
	})
	if err != nil {
		return pendingWrite{}, fmt.Errorf("store %s: %w", inst.Metal, err)
	}
	return pendingWrite{inst: inst, quote: q, cutoff: cutoff, res: res}, nil
}
