package tables

import "github.com/withObsrvr/obsrvr-geotime/internal/upsert"

// Table names of the persisted layout.
const (
	NetworkTableName  = "geoip2_network"
	LocationTableName = "geoip2_location"
)

// NetworkTable is keyed by the encoded range bounds.
var NetworkTable = upsert.Table{
	Name: NetworkTableName,
	Columns: []string{
		"network_start",
		"network_end",
		"geoname_id",
		"registered_country_geoname_id",
		"represented_country_geoname_id",
		"is_anonymous_proxy",
		"is_satellite_provider",
		"is_anycast",
		"postal_code",
		"latitude",
		"longitude",
		"accuracy_radius",
	},
	ConflictKey: []string{"network_start", "network_end"},
}

// LocationTable is keyed by geoname id and locale.
var LocationTable = upsert.Table{
	Name: LocationTableName,
	Columns: []string{
		"geoname_id",
		"locale_code",
		"continent_code",
		"continent_name",
		"country_iso_code",
		"country_name",
		"subdivision_1_iso_code",
		"subdivision_1_name",
		"subdivision_2_iso_code",
		"subdivision_2_name",
		"city_name",
		"metro_code",
		"time_zone",
		"is_in_european_union",
	},
	ConflictKey: []string{"geoname_id", "locale_code"},
}
