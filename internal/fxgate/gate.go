// Package fxgate guards the USD/CNY rate source: a daily request quota kept
// in the store, a sanity clamp on implausible jumps, and exponential backoff.
// Every call returns a classified Outcome instead of failing; only storage
// errors are returned as errors.
package fxgate

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

const (
	InitialBackoff    = time.Second
	DefaultMaxBackoff = 300 * time.Second
	DefaultDailyQuota = 24
	DefaultRate       = 7.0060

	// maxRelativeMove rejects candidates that moved more than 100% away
	// from the current rate.
	maxRelativeMove = 1.0
)

// Source is the upstream rate provider.
type Source interface {
	HasCredential() bool
	USDCNY(ctx context.Context) (float64, error)
}

// QuotaStore is the slice of the store the gate reads and writes. Pass a
// transaction-bound store so the quota increment shares the caller's
// durability boundary.
type QuotaStore interface {
	QuotaCount(ctx context.Context, day string) (int, error)
	IncrementQuota(ctx context.Context, day string) error
	CachedRate(ctx context.Context, fallback float64) (float64, error)
}

// State is the caller-owned rate and gate backoff, threaded through Acquire.
type State struct {
	Rate    float64
	Backoff time.Duration
}

type Kind int

const (
	KindFetched Kind = iota
	KindNoCredential
	KindQuotaExhausted
	KindSourceFailed
	KindInvalidRate
	KindClampRejected
)

func (k Kind) String() string {
	switch k {
	case KindFetched:
		return "fetched"
	case KindNoCredential:
		return "no_credential"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindSourceFailed:
		return "source_failed"
	case KindInvalidRate:
		return "invalid_rate"
	case KindClampRejected:
		return "clamp_rejected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the classified result of one Acquire call.
type Outcome struct {
	Kind      Kind
	State     State   // rate and backoff to carry into the next call
	Candidate float64 // rate returned by the source, if any
	QuotaUsed int     // today's count after this call
	Err       error   // source error for KindSourceFailed
}

// Failed reports whether the outcome advanced the backoff.
func (o Outcome) Failed() bool {
	return o.Kind == KindSourceFailed || o.Kind == KindInvalidRate || o.Kind == KindClampRejected
}

type Config struct {
	DailyQuota  int
	DefaultRate float64
	MaxBackoff  time.Duration
}

type Gate struct {
	source Source
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Gate)

// WithClock overrides the clock used to pick the quota day.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

func New(source Source, cfg Config, logger *zap.Logger, opts ...Option) *Gate {
	if cfg.DailyQuota <= 0 {
		cfg.DailyQuota = DefaultDailyQuota
	}
	if cfg.DefaultRate <= 0 {
		cfg.DefaultRate = DefaultRate
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{source: source, cfg: cfg, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// QuotaDay is the UTC calendar date quota usage is counted against.
func QuotaDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// NextBackoff doubles b, starting from InitialBackoff and capped at max.
func NextBackoff(b, max time.Duration) time.Duration {
	if b < InitialBackoff {
		b = InitialBackoff
	}
	b *= 2
	if b > max {
		return max
	}
	return b
}

// Acquire tries to obtain a fresh rate. Callers should invoke it at most
// hourly; the gate itself only enforces the daily quota.
func (g *Gate) Acquire(ctx context.Context, store QuotaStore, cur State) (Outcome, error) {
	if g.source == nil || !g.source.HasCredential() {
		return g.cached(ctx, store, cur, KindNoCredential, cur.Backoff, nil)
	}

	day := QuotaDay(g.now())
	used, err := store.QuotaCount(ctx, day)
	if err != nil {
		return Outcome{}, err
	}
	if used >= g.cfg.DailyQuota {
		out, err := g.cached(ctx, store, cur, KindQuotaExhausted, cur.Backoff, nil)
		out.QuotaUsed = used
		return out, err
	}

	failed := NextBackoff(cur.Backoff, g.cfg.MaxBackoff)

	candidate, err := g.source.USDCNY(ctx)
	if err != nil {
		g.logger.Warn("fx fetch failed", zap.Error(err))
		out, serr := g.cached(ctx, store, cur, KindSourceFailed, failed, err)
		out.QuotaUsed = used
		return out, serr
	}
	if candidate <= 0 || math.IsNaN(candidate) || math.IsInf(candidate, 0) {
		g.logger.Warn("fx rate not positive", zap.Float64("candidate", candidate))
		out, serr := g.cached(ctx, store, cur, KindInvalidRate, failed, nil)
		out.Candidate, out.QuotaUsed = candidate, used
		return out, serr
	}
	if cur.Rate > 0 && math.Abs(candidate-cur.Rate)/math.Max(cur.Rate, 1e-9) > maxRelativeMove {
		g.logger.Warn("fx sanity clamp triggered",
			zap.Float64("current", cur.Rate),
			zap.Float64("candidate", candidate))
		out, serr := g.cached(ctx, store, cur, KindClampRejected, failed, nil)
		out.Candidate, out.QuotaUsed = candidate, used
		return out, serr
	}

	if err := store.IncrementQuota(ctx, day); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Kind:      KindFetched,
		State:     State{Rate: candidate, Backoff: InitialBackoff},
		Candidate: candidate,
		QuotaUsed: used + 1,
	}, nil
}

func (g *Gate) cached(ctx context.Context, store QuotaStore, cur State, kind Kind, backoff time.Duration, srcErr error) (Outcome, error) {
	rate, err := store.CachedRate(ctx, g.cfg.DefaultRate)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Kind:  kind,
		State: State{Rate: rate, Backoff: backoff},
		Err:   srcErr,
	}, nil
}
