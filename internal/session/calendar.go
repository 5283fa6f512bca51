// Package session implements the Shanghai Gold Exchange trading calendar:
// trading-day boundaries, session phases, the persistence cutoff and the
// anchoring of bare "HH:MM" labels to absolute instants.
//
// A trading day D starts at 20:00 local time and is made of
//
//	night session  [D 20:00, D+1 02:30]
//	gap A          (D+1 02:30, D+1 09:00)
//	day session    [D+1 09:00, D+1 15:30]
//	gap B          (D+1 15:30, D+1 20:00)
//
// Session intervals include both edges; gaps exclude them.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Shanghai is the exchange's fixed civil zone (UTC+8, no DST).
var Shanghai = time.FixedZone("CST", 8*60*60)

// TimestampLayout renders instants the way they are persisted.
const TimestampLayout = "2006-01-02T15:04:05-07:00"

const (
	nightStartHour = 20
	nightEndHour   = 2
	nightEndMinute = 30
	dayStartHour   = 9
	dayEndHour     = 15
	dayEndMinute   = 30
)

// Phase identifies where an instant falls within its trading day.
type Phase int

const (
	PhaseNight Phase = iota
	PhaseGapA
	PhaseDay
	PhaseGapB
)

func (p Phase) String() string {
	switch p {
	case PhaseNight:
		return "night"
	case PhaseGapA:
		return "gap_a"
	case PhaseDay:
		return "day"
	case PhaseGapB:
		return "gap_b"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Bounds holds the session edges of one trading day.
type Bounds struct {
	NightStart time.Time
	NightEnd   time.Time
	DayStart   time.Time
	DayEnd     time.Time
}

// TradingDayStart returns the calendar date (midnight, Shanghai) of the
// trading day containing t. A trading day begins at 20:00 local time.
func TradingDayStart(t time.Time) time.Time {
	local := t.In(Shanghai)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, Shanghai)
	if local.Hour() >= nightStartHour {
		return day
	}
	return day.AddDate(0, 0, -1)
}

// TradingDayBounds returns the session edges of the trading day containing t.
func TradingDayBounds(t time.Time) Bounds {
	td := TradingDayStart(t)
	next := td.AddDate(0, 0, 1)
	return Bounds{
		NightStart: at(td, nightStartHour, 0),
		NightEnd:   at(next, nightEndHour, nightEndMinute),
		DayStart:   at(next, dayStartHour, 0),
		DayEnd:     at(next, dayEndHour, dayEndMinute),
	}
}

// PhaseOf classifies t against its trading day's sessions.
func PhaseOf(t time.Time) (Phase, Bounds) {
	b := TradingDayBounds(t)
	switch {
	case !t.Before(b.NightStart) && !t.After(b.NightEnd):
		return PhaseNight, b
	case t.Before(b.DayStart):
		return PhaseGapA, b
	case !t.After(b.DayEnd):
		return PhaseDay, b
	default:
		return PhaseGapB, b
	}
}

// LastClosedMinute floors t to the minute and steps back one full minute:
// the minute in progress is never final.
func LastClosedMinute(t time.Time) time.Time {
	return floorMinute(t).Add(-time.Minute)
}

// Settle returns the greatest instant <= t that lies inside a session.
// Instants in a gap collapse onto the end of the session before it.
func Settle(t time.Time) time.Time {
	t = t.In(Shanghai)
	phase, b := PhaseOf(t)
	switch phase {
	case PhaseGapA:
		return b.NightEnd
	case PhaseGapB:
		return b.DayEnd
	default:
		return t
	}
}

// Cutoff returns the latest instant considered final at now. Inside a
// session it is the last closed minute; between sessions it freezes at the
// end of the preceding session.
//
// The last closed minute is settled as well, so during the first minute of a
// session (20:00:xx, 09:00:xx) the cutoff stays at the previous session end
// instead of pointing into the gap.
func Cutoff(now time.Time) time.Time {
	now = now.In(Shanghai)
	phase, b := PhaseOf(now)
	switch phase {
	case PhaseGapA:
		return b.NightEnd
	case PhaseGapB:
		return b.DayEnd
	default:
		return Settle(LastClosedMinute(now))
	}
}

// ParseLabel parses a bare "HH:MM" (or "H:MM") minute-of-day label.
func ParseLabel(hhmm string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(hhmm), ":")
	if len(parts) != 2 || len(parts[1]) != 2 || len(parts[0]) == 0 || len(parts[0]) > 2 {
		return 0, 0, fmt.Errorf("malformed time label %q", hhmm)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("malformed time label %q", hhmm)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("malformed time label %q", hhmm)
	}
	return hour, minute, nil
}

// Anchor resolves an "HH:MM" label to an absolute instant in the trading day
// of cutoff. Hours >= 20 belong to the trading day's start date, all other
// hours to the following date. It reports false for malformed labels and for
// instants later than cutoff floored to the minute.
func Anchor(hhmm string, cutoff time.Time) (time.Time, bool) {
	hour, minute, err := ParseLabel(hhmm)
	if err != nil {
		return time.Time{}, false
	}

	date := TradingDayStart(cutoff)
	if hour < nightStartHour {
		date = date.AddDate(0, 0, 1)
	}
	point := at(date, hour, minute)

	if point.After(floorMinute(cutoff.In(Shanghai))) {
		return time.Time{}, false
	}
	return point, true
}

// FormatTimestamp renders t in Shanghai time with an explicit +08:00 offset.
func FormatTimestamp(t time.Time) string {
	return t.In(Shanghai).Format(TimestampLayout)
}

func floorMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

func at(date time.Time, hour, minute int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, Shanghai)
}
