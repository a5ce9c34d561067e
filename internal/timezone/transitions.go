package timezone

import "time"

// maxHops bounds how many zone periods a search walks through.
const maxHops = 128

// period is one run of constant offset in a zone.
type period struct {
	start, end time.Time // zero when unbounded
	offset     int
	flagged    bool // the database's isdst bit
}

func periodAt(t time.Time) period {
	_, off := t.Zone()
	start, end := t.ZoneBounds()
	return period{start: start, end: end, offset: off, flagged: t.IsDST()}
}

// daylight reports whether t falls in a daylight-saving period and returns
// the standard offset that applies at t.
//
// The isdst bit alone is not enough: some zones (Europe/Dublin,
// Africa/Casablanca) flag their winter or Ramadan time as a negative DST.
// A period is daylight time when its offset is above an adjacent period and
// either of the two carries the isdst bit; the standard offset is then the
// lower neighbour's. Offset changes with no isdst bit on either side are
// permanent changes of standard time.
func daylight(t time.Time) (bool, int) {
	p := periodAt(t)
	dst, raw := false, p.offset

	consider := func(n period) {
		if p.offset <= n.offset || !(p.flagged || n.flagged) {
			return
		}
		if !dst || n.offset < raw {
			raw = n.offset
		}
		dst = true
	}
	if !p.start.IsZero() {
		consider(periodAt(p.start.Add(-time.Second)))
	}
	if !p.end.IsZero() {
		consider(periodAt(p.end))
	}
	return dst, raw
}

func isDaylight(t time.Time) bool {
	dst, _ := daylight(t)
	return dst
}

// previousChange returns the start of the run of zone periods that share
// t's daylight state: the DST start when t is in DST, otherwise the last
// DST end.
func previousChange(t time.Time) (time.Time, bool) {
	state := isDaylight(t)
	cur := t
	for i := 0; i < maxHops; i++ {
		start, _ := cur.ZoneBounds()
		if start.IsZero() {
			return time.Time{}, false
		}
		before := start.Add(-time.Second)
		if isDaylight(before) != state {
			return start, true
		}
		cur = before
	}
	return time.Time{}, false
}

// nextChange returns the first instant after t whose daylight state differs.
func nextChange(t time.Time) (time.Time, bool) {
	state := isDaylight(t)
	cur := t
	for i := 0; i < maxHops; i++ {
		_, end := cur.ZoneBounds()
		if end.IsZero() {
			return time.Time{}, false
		}
		if isDaylight(end) != state {
			return end, true
		}
		cur = end
	}
	return time.Time{}, false
}
