package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"sgecollector/internal/session"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RevisionTolerance is the absolute price difference above which a
// re-submitted price counts as an upstream revision.
var RevisionTolerance = decimal.RequireFromString("0.01")

// Point is one raw (label, price) pair as delivered by the quote source.
type Point struct {
	Label string // "HH:MM"
	Price float64
}

// Bounds is the source's optional [min, max] sanity window for a batch.
type Bounds struct {
	Min *float64
	Max *float64
}

func (b Bounds) contains(p float64) bool {
	if b.Min != nil && p < *b.Min {
		return false
	}
	if b.Max != nil && p > *b.Max {
		return false
	}
	return true
}

func (b Bounds) touches(p float64) bool {
	return (b.Min != nil && p == *b.Min) || (b.Max != nil && p == *b.Max)
}

// Batch is one instrument's quote series to persist.
type Batch struct {
	Metal  string
	Points []Point
	Bounds Bounds
	Rate   float64   // conversion rate snapshot attached to every written row
	Cutoff time.Time // latest final instant, see session.EffectiveCutoff
}

// Revision reports a stored price that the source has since changed.
type Revision struct {
	Metal     string
	Timestamp string
	Old       float64
	New       float64
}

// WriteResult summarises one WritePoints call.
type WriteResult struct {
	Written       int
	NaNFiltered   int
	BoundFiltered int
	FutureSkipped int
	Revisions     []Revision
	// NearCutoffBound lists written timestamps whose price equals a batch
	// bound within five minutes of the cutoff; likely placeholders.
	NearCutoffBound []string
	LatestTimestamp string
}

// WritePoints filters, anchors and upserts a batch. Writes are idempotent:
// replaying the same batch against the same cutoff leaves every key unchanged
// and reports no revisions.
func (c *Client) WritePoints(ctx context.Context, b Batch) (WriteResult, error) {
	var res WriteResult
	db := c.DB.WithContext(ctx)
	nearCutoff := b.Cutoff.Add(-5 * time.Minute)

	for _, p := range b.Points {
		if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
			res.NaNFiltered++
			continue
		}
		if !b.Bounds.contains(p.Price) {
			res.BoundFiltered++
			continue
		}

		at, ok := session.Anchor(p.Label, b.Cutoff)
		if !ok {
			res.FutureSkipped++
			continue
		}
		ts := session.FormatTimestamp(at)

		existing, err := c.getPrice(db, b.Metal, ts)
		if err != nil {
			return res, err
		}
		if existing != nil && isRevision(existing.PriceCNY, p.Price) {
			res.Revisions = append(res.Revisions, Revision{
				Metal:     b.Metal,
				Timestamp: ts,
				Old:       existing.PriceCNY,
				New:       p.Price,
			})
		}

		if !at.Before(nearCutoff) && b.Bounds.touches(p.Price) {
			res.NearCutoffBound = append(res.NearCutoffBound, ts)
		}

		rate := b.Rate
		rec := &PriceRecord{
			Metal:      b.Metal,
			Timestamp:  ts,
			PriceCNY:   p.Price,
			USDCNYRate: &rate,
		}
		if err := upsertPrice(db, rec); err != nil {
			return res, fmt.Errorf("upsert %s %s: %w", b.Metal, ts, err)
		}
		res.Written++
		res.LatestTimestamp = ts
	}

	return res, nil
}

func isRevision(old, incoming float64) bool {
	diff := decimal.NewFromFloat(incoming).Sub(decimal.NewFromFloat(old)).Abs()
	return diff.GreaterThan(RevisionTolerance)
}

func upsertPrice(db *gorm.DB, rec *PriceRecord) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "metal"},
			{Name: "timestamp"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"price_cny", "usd_cny_rate"}),
	}).Create(rec).Error
}

// GetPrice returns the stored point at (metal, timestamp), or nil.
func (c *Client) GetPrice(ctx context.Context, metal, timestamp string) (*PriceRecord, error) {
	return c.getPrice(c.DB.WithContext(ctx), metal, timestamp)
}

func (c *Client) getPrice(db *gorm.DB, metal, timestamp string) (*PriceRecord, error) {
	var rec PriceRecord
	err := db.Where(`metal = ? AND "timestamp" = ?`, metal, timestamp).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s %s: %w", metal, timestamp, err)
	}
	return &rec, nil
}

// CountPoints returns how many points are stored for metal.
func (c *Client) CountPoints(ctx context.Context, metal string) (int64, error) {
	var n int64
	err := c.DB.WithContext(ctx).Model(&PriceRecord{}).Where("metal = ?", metal).Count(&n).Error
	return n, err
}

// LatestRate returns the most recent non-null rate snapshot across all
// stored points. ok is false when none exists.
func (c *Client) LatestRate(ctx context.Context) (rate float64, ok bool, err error) {
	var rec PriceRecord
	err = c.DB.WithContext(ctx).
		Where("usd_cny_rate IS NOT NULL").
		Order(`"timestamp" DESC`).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("latest rate: %w", err)
	}
	return *rec.USDCNYRate, true, nil
}

// CachedRate is LatestRate with a fallback for an empty store.
func (c *Client) CachedRate(ctx context.Context, fallback float64) (float64, error) {
	rate, ok, err := c.LatestRate(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback, nil
	}
	return rate, nil
}
