package session

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var delayRe = regexp.MustCompile(`^\s*(\d{4})年(\d{1,2})月(\d{1,2})日\s+(\d{1,2}):(\d{2}):(\d{2})\s*$`)

// ParseDelayStamp parses the quote source's "as-of" string, e.g.
// "2025年01月15日 14:30:25", as a Shanghai wall-clock instant.
// Empty, malformed or out-of-range stamps report false.
func ParseDelayStamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	m := delayRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}

	var f [6]int
	for i := range f {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return time.Time{}, false
		}
		f[i] = n
	}

	t := time.Date(f[0], time.Month(f[1]), f[2], f[3], f[4], f[5], 0, Shanghai)
	// time.Date normalises overflow (month 13, 25:00); treat that as malformed.
	if t.Year() != f[0] || int(t.Month()) != f[1] || t.Day() != f[2] ||
		t.Hour() != f[3] || t.Minute() != f[4] || t.Second() != f[5] {
		return time.Time{}, false
	}
	return t, true
}

// BufferOrder selects when the safety buffer is subtracted relative to the
// min() against the delay-stamp cutoff.
type BufferOrder string

const (
	// BufferAfterMin subtracts the buffer from min(wall, delay).
	BufferAfterMin BufferOrder = "after_min"
	// BufferBeforeMin subtracts the buffer from the wall-clock cutoff only,
	// then takes the min with the delay-stamp cutoff.
	BufferBeforeMin BufferOrder = "before_min"
)

// ParseBufferOrder validates a configured buffer order. Empty means
// BufferAfterMin.
func ParseBufferOrder(s string) (BufferOrder, error) {
	switch BufferOrder(s) {
	case "", BufferAfterMin:
		return BufferAfterMin, nil
	case BufferBeforeMin:
		return BufferBeforeMin, nil
	default:
		return "", fmt.Errorf("unknown buffer order %q", s)
	}
}

// CutoffInput gathers everything that narrows the persistence cutoff for one
// instrument fetch.
type CutoffInput struct {
	Now    time.Time
	Delay  time.Time // zero when the source sent no usable stamp
	Buffer time.Duration
	Order  BufferOrder
}

// EffectiveCutoff combines the wall-clock cutoff with the source's delay
// stamp and the safety buffer. Neither clock is trusted alone: the earlier of
// the two wins. The result is always settled into a session.
func EffectiveCutoff(in CutoffInput) time.Time {
	cutoff := Cutoff(in.Now)

	if in.Buffer > 0 && in.Order == BufferBeforeMin {
		cutoff = cutoff.Add(-in.Buffer)
	}
	if !in.Delay.IsZero() {
		if stamp := LastClosedMinute(in.Delay); stamp.Before(cutoff) {
			cutoff = stamp
		}
	}
	if in.Buffer > 0 && in.Order != BufferBeforeMin {
		cutoff = cutoff.Add(-in.Buffer)
	}
	return Settle(cutoff)
}
