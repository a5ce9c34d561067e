package timezone

import (
	"fmt"
	"time"
)

const (
	localLayout      = "2006-01-02T15:04:05.000-07:00"
	transitionLayout = "2006-01-02T15:04:05-07:00"
)

// Result is the civil time answer for one zone and instant.
type Result struct {
	Abbreviation string  `json:"abbreviation"`
	Datetime     string  `json:"datetime"`
	DayOfWeek    int     `json:"day_of_week"`
	DayOfYear    int     `json:"day_of_year"`
	DST          bool    `json:"dst"`
	DSTFrom      *string `json:"dst_from"`
	DSTOffset    int     `json:"dst_offset"`
	DSTUntil     *string `json:"dst_until"`
	RawOffset    int     `json:"raw_offset"`
	Timezone     string  `json:"timezone"`
	Unixtime     int64   `json:"unixtime"`
	UTCDatetime  string  `json:"utc_datetime"`
	UTCOffset    string  `json:"utc_offset"`
	WeekNumber   int     `json:"week_number"`
}

// compute fills a Result for t, which is already in the zone's location.
func compute(zone string, t time.Time) Result {
	name, offset := t.Zone()
	dst, raw := daylight(t)

	_, week := t.ISOWeek()
	res := Result{
		Abbreviation: abbreviation(name, offset),
		Datetime:     t.Format(localLayout),
		DayOfWeek:    int(t.Weekday()),
		DayOfYear:    t.YearDay(),
		DST:          dst,
		RawOffset:    raw,
		Timezone:     zone,
		Unixtime:     t.Unix(),
		UTCDatetime:  t.UTC().Format(localLayout),
		UTCOffset:    formatOffset(offset),
		WeekNumber:   week,
	}
	if dst {
		res.DSTOffset = offset - raw
	}

	prev, hasPrev := previousChange(t)
	next, hasNext := nextChange(t)
	switch {
	case dst:
		res.DSTFrom = formatTransition(prev, hasPrev)
		res.DSTUntil = formatTransition(next, hasNext)
	case hasNext:
		res.DSTFrom = formatTransition(next, true)
		res.DSTUntil = formatTransition(prev, hasPrev)
	}
	return res
}

func formatTransition(t time.Time, ok bool) *string {
	if !ok {
		return nil
	}
	s := t.UTC().Format(transitionLayout)
	return &s
}

// formatOffset renders seconds east of UTC as ±HH:MM.
func formatOffset(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	return fmt.Sprintf("%c%02d:%02d", sign, seconds/3600, seconds%3600/60)
}

// abbreviation returns the zone name, synthesizing +01 or -0930 style names
// from the offset when the database has none.
func abbreviation(name string, offset int) string {
	if name != "" {
		return name
	}
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	h, m := offset/3600, offset%3600/60
	if m == 0 {
		return fmt.Sprintf("%c%02d", sign, h)
	}
	return fmt.Sprintf("%c%02d%02d", sign, h, m)
}
