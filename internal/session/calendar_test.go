package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sh(y int, mo time.Month, d, h, mi, s int) time.Time {
	return time.Date(y, mo, d, h, mi, s, 0, Shanghai)
}

// go test -v --run TestTradingDayStart
func TestTradingDayStart(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"afternoon belongs to previous day", sh(2025, 1, 15, 15, 30, 0), sh(2025, 1, 14, 0, 0, 0)},
		{"evening starts new day", sh(2025, 1, 15, 21, 0, 0), sh(2025, 1, 15, 0, 0, 0)},
		{"exactly 20:00", sh(2025, 1, 15, 20, 0, 0), sh(2025, 1, 15, 0, 0, 0)},
		{"just before 20:00", sh(2025, 1, 15, 19, 59, 59), sh(2025, 1, 14, 0, 0, 0)},
		{"after midnight", sh(2025, 1, 16, 1, 0, 0), sh(2025, 1, 15, 0, 0, 0)},
		{"utc input", time.Date(2025, 1, 15, 12, 30, 0, 0, time.UTC), sh(2025, 1, 15, 0, 0, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.want.Equal(TradingDayStart(tc.at)), "got %s", TradingDayStart(tc.at))
		})
	}
}

// go test -v --run TestLastClosedMinute
func TestLastClosedMinute(t *testing.T) {
	in := time.Date(2025, 1, 15, 14, 35, 42, 123456000, Shanghai)
	assert.True(t, sh(2025, 1, 15, 14, 34, 0).Equal(LastClosedMinute(in)))
}

// go test -v --run TestPhaseOf
func TestPhaseOf(t *testing.T) {
	cases := []struct {
		at   time.Time
		want Phase
	}{
		{sh(2025, 1, 15, 20, 0, 0), PhaseNight},
		{sh(2025, 1, 16, 2, 30, 0), PhaseNight},
		{sh(2025, 1, 16, 2, 30, 1), PhaseGapA},
		{sh(2025, 1, 16, 8, 59, 59), PhaseGapA},
		{sh(2025, 1, 16, 9, 0, 0), PhaseDay},
		{sh(2025, 1, 16, 15, 30, 0), PhaseDay},
		{sh(2025, 1, 16, 15, 30, 1), PhaseGapB},
		{sh(2025, 1, 16, 19, 59, 59), PhaseGapB},
	}
	for _, tc := range cases {
		got, _ := PhaseOf(tc.at)
		assert.Equal(t, tc.want, got, "at %s", tc.at)
	}
}

// go test -v --run TestCutoff
func TestCutoff(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"day session", sh(2025, 1, 15, 14, 30, 30), sh(2025, 1, 15, 14, 29, 0)},
		{"night session", sh(2025, 1, 15, 21, 30, 30), sh(2025, 1, 15, 21, 29, 0)},
		{"night session after midnight", sh(2025, 1, 16, 1, 10, 5), sh(2025, 1, 16, 1, 9, 0)},
		{"gap after night", sh(2025, 1, 15, 8, 0, 0), sh(2025, 1, 15, 2, 30, 0)},
		{"gap after day", sh(2025, 1, 15, 18, 0, 0), sh(2025, 1, 15, 15, 30, 0)},
		{"night end edge is in session", sh(2025, 1, 16, 2, 30, 0), sh(2025, 1, 16, 2, 29, 0)},
		{"day end edge is in session", sh(2025, 1, 15, 15, 30, 0), sh(2025, 1, 15, 15, 29, 0)},
		{"first night minute stays on day end", sh(2025, 1, 15, 20, 0, 30), sh(2025, 1, 15, 15, 30, 0)},
		{"first day minute stays on night end", sh(2025, 1, 15, 9, 0, 30), sh(2025, 1, 15, 2, 30, 0)},
		{"second night minute", sh(2025, 1, 15, 20, 1, 0), sh(2025, 1, 15, 20, 0, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Cutoff(tc.now)
			assert.True(t, tc.want.Equal(got), "want %s got %s", tc.want, got)
		})
	}
}

// go test -v --run TestCutoffNeverInFuture
func TestCutoffNeverInFuture(t *testing.T) {
	start := sh(2025, 1, 14, 0, 0, 0)
	for i := 0; i < 3*24*60*2; i++ {
		now := start.Add(time.Duration(i) * 30 * time.Second)
		require.False(t, Cutoff(now).After(now), "cutoff after now at %s", now)
	}
}

// go test -v --run TestCutoffMonotonic
func TestCutoffMonotonic(t *testing.T) {
	start := sh(2025, 1, 14, 19, 0, 0)
	prev := Cutoff(start)
	for i := 1; i < 2*24*60*4; i++ {
		now := start.Add(time.Duration(i) * 15 * time.Second)
		got := Cutoff(now)
		require.False(t, got.Before(prev), "cutoff went back at %s: %s -> %s", now, prev, got)
		prev = got
	}
}

// go test -v --run TestSettle
func TestSettle(t *testing.T) {
	assert.True(t, sh(2025, 1, 15, 15, 30, 0).Equal(Settle(sh(2025, 1, 15, 19, 57, 0))))
	assert.True(t, sh(2025, 1, 15, 2, 30, 0).Equal(Settle(sh(2025, 1, 15, 8, 58, 0))))
	assert.True(t, sh(2025, 1, 15, 10, 0, 0).Equal(Settle(sh(2025, 1, 15, 10, 0, 0))))
}

// go test -v --run TestAnchor
func TestAnchor(t *testing.T) {
	cases := []struct {
		name   string
		label  string
		cutoff time.Time
		want   string
		ok     bool
	}{
		{"day session", "14:25", sh(2025, 1, 15, 14, 30, 0), "2025-01-15T14:25:00+08:00", true},
		{"night session", "21:25", sh(2025, 1, 15, 21, 30, 0), "2025-01-15T21:25:00+08:00", true},
		{"post midnight", "01:25", sh(2025, 1, 16, 1, 30, 0), "2025-01-16T01:25:00+08:00", true},
		{"night label from day cutoff", "21:25", sh(2025, 1, 16, 10, 0, 0), "2025-01-15T21:25:00+08:00", true},
		{"equal to cutoff", "14:30", sh(2025, 1, 15, 14, 30, 0), "2025-01-15T14:30:00+08:00", true},
		{"future", "14:35", sh(2025, 1, 15, 14, 30, 0), "", false},
		{"future day label during night", "09:00", sh(2025, 1, 15, 23, 0, 0), "", false},
		{"single digit hour", "9:05", sh(2025, 1, 15, 10, 0, 0), "2025-01-15T09:05:00+08:00", true},
		{"malformed", "invalid", sh(2025, 1, 15, 14, 30, 0), "", false},
		{"hour out of range", "24:00", sh(2025, 1, 15, 14, 30, 0), "", false},
		{"minute out of range", "10:60", sh(2025, 1, 15, 14, 30, 0), "", false},
		{"empty", "", sh(2025, 1, 15, 14, 30, 0), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Anchor(tc.label, tc.cutoff)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.want, FormatTimestamp(got))
			}
		})
	}
}

// go test -v --run TestAnchorSecondsOnCutoffIgnored
func TestAnchorSecondsOnCutoffIgnored(t *testing.T) {
	cutoff := time.Date(2025, 1, 15, 14, 30, 45, 0, Shanghai)
	_, ok := Anchor("14:30", cutoff)
	assert.True(t, ok)
	_, ok = Anchor("14:31", cutoff)
	assert.False(t, ok)
}

// go test -v --run TestAnchorStableWithinTradingDay
func TestAnchorStableWithinTradingDay(t *testing.T) {
	c1 := sh(2025, 1, 15, 22, 0, 0)
	c2 := sh(2025, 1, 16, 14, 0, 0)
	for _, label := range []string{"20:00", "21:59", "23:30", "00:15", "02:30"} {
		a1, ok1 := Anchor(label, c1)
		a2, ok2 := Anchor(label, c2)
		if ok1 && ok2 {
			assert.True(t, a1.Equal(a2), "label %s: %s vs %s", label, a1, a2)
		}
	}
}
