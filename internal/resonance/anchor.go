package resonance

import (
	"fmt"
	"strings"
	"time"
)

// An anchor key is the opaque cache/scoring partition key for one
// (user, period, timezone, period start) tuple. The wire format is
// "user|period|tz|YYYY-MM-DD". Callers treat it as opaque; only the
// engine builds and parses it.

// Anchor is a decoded anchor key.
type Anchor struct {
	User   string
	Period string // day, week, month, year
	TZ     string // IANA timezone name
	Start  time.Time
}

// MakeKey builds the anchor key for a user/period/timezone/start tuple.
// The start is rendered as a date in the given timezone.
func MakeKey(user, period, tz string, start time.Time) string {
	loc := locationOr(tz, time.UTC)
	return fmt.Sprintf("%s|%s|%s|%s", user, period, tz, start.In(loc).Format("2006-01-02"))
}

// ParseKey decodes an anchor key. The start is midnight of the encoded
// date in the encoded timezone.
func ParseKey(key string) (Anchor, error) {
	parts := strings.Split(key, "|")
	if len(parts) != 4 {
		return Anchor{}, fmt.Errorf("anchor key %q: want 4 fields, got %d", key, len(parts))
	}

	loc := locationOr(parts[2], time.UTC)
	start, err := time.ParseInLocation("2006-01-02", parts[3], loc)
	if err != nil {
		return Anchor{}, fmt.Errorf("anchor key %q: bad start date: %w", key, err)
	}

	return Anchor{
		User:   parts[0],
		Period: parts[1],
		TZ:     parts[2],
		Start:  start,
	}, nil
}

// locationOr loads an IANA timezone, falling back when it is unknown.
func locationOr(tz string, fallback *time.Location) *time.Location {
	if tz == "" {
		return fallback
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fallback
	}
	return loc
}

// wholeDaysBetween returns the whole-day difference between two instants
// at calendar-day granularity in the given location: an entry written at
// 23:59 yesterday is one day old at 00:01 today regardless of elapsed
// seconds.
func wholeDaysBetween(from, to time.Time, loc *time.Location) float64 {
	f := from.In(loc)
	t := to.In(loc)
	fd := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	td := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return td.Sub(fd).Hours() / 24
}
