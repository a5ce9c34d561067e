package tables

import (
	"errors"
	"testing"

	"github.com/withObsrvr/obsrvr-geotime/internal/iprange"
)

func TestMapNetwork(t *testing.T) {
	row := Row{
		"network":                        "1.0.0.0/24",
		"geoname_id":                     "2077456",
		"registered_country_geoname_id":  "2077456",
		"represented_country_geoname_id": "",
		"is_anonymous_proxy":             "0",
		"is_satellite_provider":          "1",
		"is_anycast":                     "",
		"postal_code":                    "",
		"latitude":                       "-33.4940",
		"longitude":                      "143.2104",
		"accuracy_radius":                "1000",
	}

	rec, err := MapNetwork(row)
	if err != nil {
		t.Fatalf("MapNetwork failed: %v", err)
	}

	want, _ := iprange.Parse("1.0.0.0/24")
	if rec.Network != want {
		t.Errorf("Network = %s, want %s", rec.Network, want)
	}
	if rec.GeonameID == nil || *rec.GeonameID != 2077456 {
		t.Errorf("GeonameID = %v, want 2077456", rec.GeonameID)
	}
	if rec.RepresentedCountryGeonameID != nil {
		t.Error("empty represented_country_geoname_id should be absent")
	}
	if rec.IsAnonymousProxy == nil || *rec.IsAnonymousProxy {
		t.Error("is_anonymous_proxy \"0\" should map to false")
	}
	if rec.IsSatelliteProvider == nil || !*rec.IsSatelliteProvider {
		t.Error("is_satellite_provider \"1\" should map to true")
	}
	if rec.IsAnycast != nil {
		t.Error("empty is_anycast should be absent")
	}
	if rec.PostalCode != nil {
		t.Error("empty postal_code should be absent, not empty string")
	}
	if rec.Latitude == nil || *rec.Latitude != -33.494 {
		t.Errorf("Latitude = %v, want -33.494", rec.Latitude)
	}
	if rec.AccuracyRadius == nil || *rec.AccuracyRadius != 1000 {
		t.Errorf("AccuracyRadius = %v, want 1000", rec.AccuracyRadius)
	}
}

func TestMapNetworkFailsSoftOnOptionalFields(t *testing.T) {
	rec, err := MapNetwork(Row{"network": "2001:db8::/32", "geoname_id": "abc", "accuracy_radius": "1.5"})
	if err != nil {
		t.Fatalf("MapNetwork failed: %v", err)
	}
	if rec.GeonameID != nil || rec.AccuracyRadius != nil {
		t.Error("unparsable integers should be absent")
	}
}

func TestMapNetworkRejectsBadNetwork(t *testing.T) {
	if _, err := MapNetwork(Row{"network": "1.0.0.0/99"}); !errors.Is(err, iprange.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
	if _, err := MapNetwork(Row{}); !errors.Is(err, ErrMissingKey) {
		t.Errorf("expected ErrMissingKey, got %v", err)
	}
}

func TestMapLocation(t *testing.T) {
	row := Row{
		"geoname_id":             "2759794",
		"locale_code":            "en",
		"continent_code":         "EU",
		"continent_name":         "Europe",
		"country_iso_code":       "NL",
		"country_name":           "Netherlands",
		"subdivision_1_iso_code": "NH",
		"subdivision_1_name":     "North Holland",
		"subdivision_2_iso_code": "",
		"city_name":              "Amsterdam",
		"metro_code":             "",
		"time_zone":              "Europe/Amsterdam",
		"is_in_european_union":   "1",
	}

	rec, err := MapLocation(row)
	if err != nil {
		t.Fatalf("MapLocation failed: %v", err)
	}
	if rec.GeonameID != 2759794 || rec.LocaleCode != "en" {
		t.Errorf("key = (%d, %s)", rec.GeonameID, rec.LocaleCode)
	}
	if rec.TimeZone == nil || *rec.TimeZone != "Europe/Amsterdam" {
		t.Errorf("TimeZone = %v", rec.TimeZone)
	}
	if rec.Subdivision2ISOCode != nil || rec.Subdivision2Name != nil || rec.MetroCode != nil {
		t.Error("empty and unset fields should be absent")
	}
	if rec.IsInEuropeanUnion == nil || !*rec.IsInEuropeanUnion {
		t.Error("is_in_european_union should be true")
	}
	if len(rec.Values()) != len(LocationTable.Columns) {
		t.Errorf("Values() has %d entries, table has %d columns", len(rec.Values()), len(LocationTable.Columns))
	}
}

func TestMapLocationRequiresKey(t *testing.T) {
	if _, err := MapLocation(Row{"locale_code": "en"}); !errors.Is(err, ErrMissingKey) {
		t.Errorf("expected ErrMissingKey, got %v", err)
	}
	if _, err := MapLocation(Row{"geoname_id": "1"}); !errors.Is(err, ErrMissingKey) {
		t.Errorf("expected ErrMissingKey, got %v", err)
	}
}

func TestNetworkValuesMatchColumns(t *testing.T) {
	rec, _ := MapNetwork(Row{"network": "8.8.8.0/24"})
	if len(rec.Values()) != len(NetworkTable.Columns) {
		t.Errorf("Values() has %d entries, table has %d columns", len(rec.Values()), len(NetworkTable.Columns))
	}
	if err := NetworkTable.Validate(); err != nil {
		t.Errorf("NetworkTable invalid: %v", err)
	}
	if err := LocationTable.Validate(); err != nil {
		t.Errorf("LocationTable invalid: %v", err)
	}
}
