// Package geo answers IP lookups against the loaded geo tables.
package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/obsrvr-geotime/internal/iprange"
	"github.com/withObsrvr/obsrvr-geotime/internal/metrics"
	"github.com/withObsrvr/obsrvr-geotime/internal/store"
)

// Status is the outcome of a lookup.
type Status int

const (
	Found Status = iota
	NotFound
	InvalidAddress
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case InvalidAddress:
		return "invalid_address"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Resolution is the timezone resolved for an address. Zone is set exactly
// when Status is Found.
type Resolution struct {
	Status Status
	Zone   string
}

// The key is bound as hex and decoded in SQL, since the D1 API carries
// parameters as JSON and cannot send a blob.
const zoneQuery = `
SELECT
  location.time_zone AS time_zone,
  registered_country.time_zone AS registered_country_time_zone,
  represented_country.time_zone AS represented_country_time_zone
FROM geoip2_network net
LEFT JOIN geoip2_location location ON (
  net.geoname_id = location.geoname_id AND location.locale_code = 'en'
)
LEFT JOIN geoip2_location registered_country ON (
  net.registered_country_geoname_id = registered_country.geoname_id
  AND registered_country.locale_code = 'en'
)
LEFT JOIN geoip2_location represented_country ON (
  net.represented_country_geoname_id = represented_country.geoname_id
  AND represented_country.locale_code = 'en'
)
WHERE unhex(?) BETWEEN net.network_start AND net.network_end
ORDER BY net.network_end
LIMIT 1`

// Resolver maps IP addresses to timezones and locations. It holds no
// mutable state and is safe for concurrent use.
type Resolver struct {
	q   store.Querier
	log *slog.Logger
}

// NewResolver creates a resolver over a store that has the geo tables.
func NewResolver(q store.Querier) *Resolver {
	return &Resolver{q: q, log: slog.With("component", "resolver")}
}

// Resolve returns the timezone of the narrowest-ending network containing
// ip. A malformed address yields InvalidAddress and no error; the error is
// reserved for store failures.
func (r *Resolver) Resolve(ctx context.Context, ip string) (Resolution, error) {
	key, err := iprange.ParseAddr(ip)
	if err != nil {
		return r.invalid(ip, err)
	}

	rows, err := r.q.Query(ctx, zoneQuery, key.Hex())
	if err != nil {
		return Resolution{}, r.fail(fmt.Errorf("resolve %s: %w", ip, err))
	}
	if len(rows) == 0 {
		count(NotFound)
		return Resolution{Status: NotFound}, nil
	}

	zone := firstString(rows[0],
		"time_zone",
		"registered_country_time_zone",
		"represented_country_time_zone",
	)
	if zone == "" {
		// matched network, but neither it nor its countries carry a zone
		count(NotFound)
		return Resolution{Status: NotFound}, nil
	}
	count(Found)
	return Resolution{Status: Found, Zone: zone}, nil
}

func (r *Resolver) invalid(ip string, err error) (Resolution, error) {
	if !errors.Is(err, iprange.ErrInvalidAddress) {
		return Resolution{}, err
	}
	r.log.Debug("invalid address", "ip", ip, "error", err)
	count(InvalidAddress)
	return Resolution{Status: InvalidAddress}, nil
}

func (r *Resolver) fail(err error) error {
	if m := metrics.Get(); m != nil {
		m.IncLookups(metrics.Labels{Outcome: "error"})
	}
	return err
}

func count(s Status) {
	if m := metrics.Get(); m != nil {
		m.IncLookups(metrics.Labels{Outcome: s.String()})
	}
}

// firstString returns the first non-empty text column.
func firstString(row store.Row, cols ...string) string {
	for _, c := range cols {
		if v, ok := row.String(c); ok && v != "" {
			return v
		}
	}
	return ""
}
