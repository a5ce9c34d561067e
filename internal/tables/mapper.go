package tables

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/withObsrvr/obsrvr-geotime/internal/iprange"
)

// ErrMissingKey is returned when a row lacks a conflict-key field.
var ErrMissingKey = errors.New("missing key field")

// Row is one source CSV row keyed by header name.
type Row map[string]string

// optString returns the trimmed field, or nil when it is unset or empty.
func (r Row) optString(field string) *string {
	v, ok := r[field]
	if !ok {
		return nil
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// optInt parses a base-10 integer; unparsable values are absent.
func (r Row) optInt(field string) *int64 {
	s := r.optString(field)
	if s == nil {
		return nil
	}
	n, err := strconv.ParseInt(*s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func (r Row) optFloat(field string) *float64 {
	s := r.optString(field)
	if s == nil {
		return nil
	}
	f, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// optBool maps "1"/"true" and "0"/"false"; anything else is absent.
func (r Row) optBool(field string) *bool {
	s := r.optString(field)
	if s == nil {
		return nil
	}
	var b bool
	switch strings.ToLower(*s) {
	case "1", "true":
		b = true
	case "0", "false":
		b = false
	default:
		return nil
	}
	return &b
}

// MapNetwork converts a blocks row. Only a malformed network field fails.
func MapNetwork(row Row) (NetworkRecord, error) {
	network := row.optString("network")
	if network == nil {
		return NetworkRecord{}, fmt.Errorf("network: %w", ErrMissingKey)
	}
	rng, err := iprange.Parse(*network)
	if err != nil {
		return NetworkRecord{}, fmt.Errorf("network: %w", err)
	}

	return NetworkRecord{
		Network:                     rng,
		GeonameID:                   row.optInt("geoname_id"),
		RegisteredCountryGeonameID:  row.optInt("registered_country_geoname_id"),
		RepresentedCountryGeonameID: row.optInt("represented_country_geoname_id"),
		IsAnonymousProxy:            row.optBool("is_anonymous_proxy"),
		IsSatelliteProvider:         row.optBool("is_satellite_provider"),
		IsAnycast:                   row.optBool("is_anycast"),
		PostalCode:                  row.optString("postal_code"),
		Latitude:                    row.optFloat("latitude"),
		Longitude:                   row.optFloat("longitude"),
		AccuracyRadius:              row.optInt("accuracy_radius"),
	}, nil
}

// MapLocation converts a locations row. geoname_id and locale_code form the
// conflict key and are required.
func MapLocation(row Row) (LocationRecord, error) {
	id := row.optInt("geoname_id")
	if id == nil {
		return LocationRecord{}, fmt.Errorf("geoname_id: %w", ErrMissingKey)
	}
	locale := row.optString("locale_code")
	if locale == nil {
		return LocationRecord{}, fmt.Errorf("locale_code: %w", ErrMissingKey)
	}

	return LocationRecord{
		GeonameID:           *id,
		LocaleCode:          *locale,
		ContinentCode:       row.optString("continent_code"),
		ContinentName:       row.optString("continent_name"),
		CountryISOCode:      row.optString("country_iso_code"),
		CountryName:         row.optString("country_name"),
		Subdivision1ISOCode: row.optString("subdivision_1_iso_code"),
		Subdivision1Name:    row.optString("subdivision_1_name"),
		Subdivision2ISOCode: row.optString("subdivision_2_iso_code"),
		Subdivision2Name:    row.optString("subdivision_2_name"),
		CityName:            row.optString("city_name"),
		MetroCode:           row.optInt("metro_code"),
		TimeZone:            row.optString("time_zone"),
		IsInEuropeanUnion:   row.optBool("is_in_european_union"),
	}, nil
}
