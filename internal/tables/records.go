package tables

import "github.com/withObsrvr/obsrvr-geotime/internal/iprange"

// NetworkRecord is one row of the network blocks table.
// Nil pointers are absent values.
type NetworkRecord struct {
	Network                     iprange.Range
	GeonameID                   *int64
	RegisteredCountryGeonameID  *int64
	RepresentedCountryGeonameID *int64
	IsAnonymousProxy            *bool
	IsSatelliteProvider         *bool
	IsAnycast                   *bool
	PostalCode                  *string
	Latitude                    *float64
	Longitude                   *float64
	AccuracyRadius              *int64
}

// Values returns the record in NetworkTable column order.
func (r NetworkRecord) Values() []any {
	return []any{
		r.Network.Start.Bytes(),
		r.Network.End.Bytes(),
		r.GeonameID,
		r.RegisteredCountryGeonameID,
		r.RepresentedCountryGeonameID,
		r.IsAnonymousProxy,
		r.IsSatelliteProvider,
		r.IsAnycast,
		r.PostalCode,
		r.Latitude,
		r.Longitude,
		r.AccuracyRadius,
	}
}

// LocationRecord is one row of the locations table.
type LocationRecord struct {
	GeonameID           int64
	LocaleCode          string
	ContinentCode       *string
	ContinentName       *string
	CountryISOCode      *string
	CountryName         *string
	Subdivision1ISOCode *string
	Subdivision1Name    *string
	Subdivision2ISOCode *string
	Subdivision2Name    *string
	CityName            *string
	MetroCode           *int64
	TimeZone            *string
	IsInEuropeanUnion   *bool
}

// Values returns the record in LocationTable column order.
func (r LocationRecord) Values() []any {
	return []any{
		r.GeonameID,
		r.LocaleCode,
		r.ContinentCode,
		r.ContinentName,
		r.CountryISOCode,
		r.CountryName,
		r.Subdivision1ISOCode,
		r.Subdivision1Name,
		r.Subdivision2ISOCode,
		r.Subdivision2Name,
		r.CityName,
		r.MetroCode,
		r.TimeZone,
		r.IsInEuropeanUnion,
	}
}
