package geo

import (
	"context"
	"fmt"

	"github.com/withObsrvr/obsrvr-geotime/internal/iprange"
	"github.com/withObsrvr/obsrvr-geotime/internal/store"
)

// Location is the full geo record for an address.
type Location struct {
	IP                  string        `json:"ip"`
	Latitude            *float64      `json:"latitude"`
	Longitude           *float64      `json:"longitude"`
	AccuracyRadius      *int64        `json:"accuracy_radius"`
	TimeZone            *string       `json:"timezone"`
	City                *string       `json:"city"`
	PostalCode          *string       `json:"postal_code"`
	MetroCode           *int64        `json:"metro_code"`
	Subdivisions        []Subdivision `json:"subdivisions"`
	Country             Place         `json:"country"`
	Continent           Place         `json:"continent"`
	IsInEuropeanUnion   bool          `json:"is_in_european_union"`
	IsAnonymousProxy    bool          `json:"is_anonymous_proxy"`
	IsSatelliteProvider bool          `json:"is_satellite_provider"`
	IsAnycast           bool          `json:"is_anycast"`
}

// Subdivision is a region within a country.
type Subdivision struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Place is a country or continent. Fields are nil when unknown.
type Place struct {
	Code *string `json:"code"`
	Name *string `json:"name"`
}

const locationQuery = `
SELECT
  net.latitude,
  net.longitude,
  net.accuracy_radius,
  net.postal_code,
  net.is_anonymous_proxy,
  net.is_satellite_provider,
  net.is_anycast,
  location.city_name,
  location.metro_code,
  location.time_zone,
  location.subdivision_1_iso_code,
  location.subdivision_1_name,
  location.subdivision_2_iso_code,
  location.subdivision_2_name,
  location.country_iso_code,
  location.country_name,
  location.continent_code,
  location.continent_name,
  location.is_in_european_union,
  registered_country.country_iso_code AS registered_country_iso_code,
  registered_country.country_name AS registered_country_name,
  registered_country.continent_code AS registered_continent_code,
  registered_country.continent_name AS registered_continent_name,
  registered_country.is_in_european_union AS registered_is_in_european_union,
  registered_country.time_zone AS registered_time_zone,
  represented_country.time_zone AS represented_time_zone
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

// Locate returns the full record for ip. Country, continent, EU membership
// and zone fall back to the registered country when the network's own
// location lacks them. The Location is zero unless a network matched; a
// matched network with no zone anywhere keeps its Location but reports
// NotFound, the same answer Resolve gives.
func (r *Resolver) Locate(ctx context.Context, ip string) (Location, Resolution, error) {
	key, err := iprange.ParseAddr(ip)
	if err != nil {
		res, err := r.invalid(ip, err)
		return Location{}, res, err
	}

	rows, err := r.q.Query(ctx, locationQuery, key.Hex())
	if err != nil {
		return Location{}, Resolution{}, r.fail(fmt.Errorf("locate %s: %w", ip, err))
	}
	if len(rows) == 0 {
		count(NotFound)
		return Location{}, Resolution{Status: NotFound}, nil
	}

	loc := buildLocation(ip, rows[0])
	if loc.TimeZone == nil {
		count(NotFound)
		return loc, Resolution{Status: NotFound}, nil
	}
	count(Found)
	return loc, Resolution{Status: Found, Zone: *loc.TimeZone}, nil
}

func buildLocation(ip string, row store.Row) Location {
	loc := Location{
		IP:                  ip,
		Latitude:            optFloat(row, "latitude"),
		Longitude:           optFloat(row, "longitude"),
		AccuracyRadius:      optInt(row, "accuracy_radius"),
		City:                optString(row, "city_name"),
		PostalCode:          optString(row, "postal_code"),
		MetroCode:           optInt(row, "metro_code"),
		Subdivisions:        []Subdivision{},
		IsAnonymousProxy:    flag(row, "is_anonymous_proxy"),
		IsSatelliteProvider: flag(row, "is_satellite_provider"),
		IsAnycast:           flag(row, "is_anycast"),
		Country: Place{
			Code: optString(row, "country_iso_code", "registered_country_iso_code"),
			Name: optString(row, "country_name", "registered_country_name"),
		},
		Continent: Place{
			Code: optString(row, "continent_code", "registered_continent_code"),
			Name: optString(row, "continent_name", "registered_continent_name"),
		},
		TimeZone: optString(row, "time_zone", "registered_time_zone", "represented_time_zone"),
	}

	for _, n := range []string{"1", "2"} {
		code := optString(row, "subdivision_"+n+"_iso_code")
		name := optString(row, "subdivision_"+n+"_name")
		if code != nil && name != nil {
			loc.Subdivisions = append(loc.Subdivisions, Subdivision{Code: *code, Name: *name})
		}
	}

	if v, ok := row.Bool("is_in_european_union"); ok {
		loc.IsInEuropeanUnion = v
	} else {
		loc.IsInEuropeanUnion = flag(row, "registered_is_in_european_union")
	}
	return loc
}

// optString returns the first non-empty column, or nil.
func optString(row store.Row, cols ...string) *string {
	if v := firstString(row, cols...); v != "" {
		return &v
	}
	return nil
}

func optInt(row store.Row, col string) *int64 {
	if v, ok := row.Int64(col); ok {
		return &v
	}
	return nil
}

func optFloat(row store.Row, col string) *float64 {
	if v, ok := row.Float64(col); ok {
		return &v
	}
	return nil
}

// flag treats NULL and unparseable values as false.
func flag(row store.Row, col string) bool {
	v, _ := row.Bool(col)
	return v
}
