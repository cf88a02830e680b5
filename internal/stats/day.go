package stats

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// Day is a calendar date with no time or zone attached.
type Day struct {
	Year  int
	Month time.Month
	Dom   int
}

// DayOf returns the calendar date of t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	y, m, d := t.In(loc).Date()
	return Day{Year: y, Month: m, Dom: d}
}

// ParseDay parses YYYY-MM-DD.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return DayOf(t, time.UTC), nil
}

// AddDays returns the date n days later (earlier for negative n).
func (d Day) AddDays(n int) Day {
	return DayOf(time.Date(d.Year, d.Month, d.Dom+n, 12, 0, 0, 0, time.UTC), time.UTC)
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Dom)
}

// Clock decides which calendar day "today" is. Bucketing always uses Loc,
// never the server's local zone.
type Clock struct {
	Now func() time.Time
	Loc *time.Location
}

// NewClock returns a clock for the named IANA zone; "" means UTC.
func NewClock(zone string) (Clock, error) {
	if zone == "" {
		zone = "UTC"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Clock{}, fmt.Errorf("load stats timezone: %w", err)
	}
	return Clock{Now: time.Now, Loc: loc}, nil
}

// Today returns the current calendar day in the clock's zone.
func (c Clock) Today() Day {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Loc
	if loc == nil {
		loc = time.UTC
	}
	return DayOf(now(), loc)
}
