// Package timezone computes civil time, UTC offsets and the surrounding DST
// window for IANA zones.
//
// The zone database is embedded (time/tzdata) and every listed zone is
// loaded once by Load; a Database is read-only afterwards and safe for
// concurrent use.
package timezone

import (
	"bufio"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/withObsrvr/obsrvr-geotime/internal/metrics"
)

//go:embed zones.txt
var zoneList string

// ErrZoneNotFound is matched by every ZoneError.
var ErrZoneNotFound = errors.New("zone not found")

// ZoneError reports an unknown zone or area.
type ZoneError struct {
	Zone string
}

func (e *ZoneError) Error() string {
	return fmt.Sprintf("unknown location %q", e.Zone)
}

// Is reports ErrZoneNotFound as the error class.
func (e *ZoneError) Is(target error) bool { return target == ErrZoneNotFound }

// Database holds the loaded zones.
type Database struct {
	names []string
	locs  map[string]*time.Location
	now   func() time.Time
}

// Load reads every zone in the embedded list. Zones the runtime cannot load
// are skipped.
func Load() (*Database, error) {
	db := &Database{locs: make(map[string]*time.Location), now: time.Now}
	log := slog.With("component", "timezone")

	sc := bufio.NewScanner(strings.NewReader(zoneList))
	skipped := 0
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		loc, err := time.LoadLocation(name)
		if err != nil {
			skipped++
			log.Debug("zone skipped", "zone", name, "error", err)
			continue
		}
		db.locs[name] = loc
		db.names = append(db.names, name)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read zone list: %w", err)
	}
	if len(db.names) == 0 {
		return nil, errors.New("no zones loaded")
	}

	sort.Strings(db.names)
	log.Debug("zone database loaded", "zones", len(db.names), "skipped", skipped)
	return db, nil
}

// Location returns the loaded location for zone.
func (db *Database) Location(zone string) (*time.Location, error) {
	loc, ok := db.locs[zone]
	if !ok {
		return nil, &ZoneError{Zone: zone}
	}
	return loc, nil
}

// Zones returns all zone names, sorted.
func (db *Database) Zones() []string {
	out := make([]string, len(db.names))
	copy(out, db.names)
	return out
}

// ZonesByArea returns the zones under area, e.g. "Europe".
func (db *Database) ZonesByArea(area string) ([]string, error) {
	prefix := strings.TrimSuffix(area, "/") + "/"
	var out []string
	for _, name := range db.names {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	if area == "" || len(out) == 0 {
		return nil, &ZoneError{Zone: area}
	}
	return out, nil
}

// Now computes the result for zone at the current instant.
func (db *Database) Now(zone string) (Result, error) {
	return db.Get(zone, db.now())
}

// Get computes the result for zone at instant.
func (db *Database) Get(zone string, instant time.Time) (Result, error) {
	loc, err := db.Location(zone)
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.IncCalendarRequests(metrics.Labels{Outcome: "zone_not_found"})
		}
		return Result{}, err
	}
	if m := metrics.Get(); m != nil {
		m.IncCalendarRequests(metrics.Labels{Outcome: "ok"})
	}
	return compute(zone, instant.In(loc)), nil
}
