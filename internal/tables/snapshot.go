package tables

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/multierr"
)

// NetworkSnapshotRow is the columnar form of a NetworkRecord.
type NetworkSnapshotRow struct {
	NetworkStart                string    `parquet:"network_start"`
	NetworkEnd                  string    `parquet:"network_end"`
	StartIP                     string    `parquet:"start_ip"`
	EndIP                       string    `parquet:"end_ip"`
	GeonameID                   *int64    `parquet:"geoname_id,optional"`
	RegisteredCountryGeonameID  *int64    `parquet:"registered_country_geoname_id,optional"`
	RepresentedCountryGeonameID *int64    `parquet:"represented_country_geoname_id,optional"`
	IsAnonymousProxy            *bool     `parquet:"is_anonymous_proxy,optional"`
	IsSatelliteProvider         *bool     `parquet:"is_satellite_provider,optional"`
	IsAnycast                   *bool     `parquet:"is_anycast,optional"`
	PostalCode                  *string   `parquet:"postal_code,optional"`
	Latitude                    *float64  `parquet:"latitude,optional"`
	Longitude                   *float64  `parquet:"longitude,optional"`
	AccuracyRadius              *int64    `parquet:"accuracy_radius,optional"`
	SourceMarker                string    `parquet:"source_marker"`
	DumpedAt                    time.Time `parquet:"dumped_at,timestamp(millisecond)"`
}

// LocationSnapshotRow is the columnar form of a LocationRecord.
type LocationSnapshotRow struct {
	GeonameID           int64     `parquet:"geoname_id"`
	LocaleCode          string    `parquet:"locale_code"`
	ContinentCode       *string   `parquet:"continent_code,optional"`
	ContinentName       *string   `parquet:"continent_name,optional"`
	CountryISOCode      *string   `parquet:"country_iso_code,optional"`
	CountryName         *string   `parquet:"country_name,optional"`
	Subdivision1ISOCode *string   `parquet:"subdivision_1_iso_code,optional"`
	Subdivision1Name    *string   `parquet:"subdivision_1_name,optional"`
	Subdivision2ISOCode *string   `parquet:"subdivision_2_iso_code,optional"`
	Subdivision2Name    *string   `parquet:"subdivision_2_name,optional"`
	CityName            *string   `parquet:"city_name,optional"`
	MetroCode           *int64    `parquet:"metro_code,optional"`
	TimeZone            *string   `parquet:"time_zone,optional"`
	IsInEuropeanUnion   *bool     `parquet:"is_in_european_union,optional"`
	SourceMarker        string    `parquet:"source_marker"`
	DumpedAt            time.Time `parquet:"dumped_at,timestamp(millisecond)"`
}

// SnapshotConfig configures parquet snapshot output.
type SnapshotConfig struct {
	Dir          string
	Prefix       string // file name prefix, e.g. "geoip2-20250101"
	Compression  string // "snappy" | "zstd" | "none"
	SourceMarker string
}

// SnapshotWriter writes mapped records to one parquet file per table so a
// dump-only run can be inspected with columnar tools.
type SnapshotWriter struct {
	cfg      SnapshotConfig
	now      time.Time
	files    []*os.File
	networks *parquet.GenericWriter[NetworkSnapshotRow]
	location *parquet.GenericWriter[LocationSnapshotRow]
	paths    []string
}

// NewSnapshotWriter creates <prefix>.network.parquet and <prefix>.location.parquet in Dir.
func NewSnapshotWriter(cfg SnapshotConfig) (*SnapshotWriter, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	w := &SnapshotWriter{cfg: cfg, now: time.Now().UTC()}
	opts := []parquet.WriterOption{compressionOption(cfg.Compression)}

	netFile, err := w.create(NetworkTableName)
	if err != nil {
		return nil, err
	}
	w.networks = parquet.NewGenericWriter[NetworkSnapshotRow](netFile, opts...)

	locFile, err := w.create(LocationTableName)
	if err != nil {
		netFile.Close()
		return nil, err
	}
	w.location = parquet.NewGenericWriter[LocationSnapshotRow](locFile, opts...)

	return w, nil
}

func (w *SnapshotWriter) create(table string) (*os.File, error) {
	path := filepath.Join(w.cfg.Dir, fmt.Sprintf("%s.%s.parquet", w.cfg.Prefix, table))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create snapshot %s: %w", path, err)
	}
	w.files = append(w.files, f)
	w.paths = append(w.paths, path)
	return f, nil
}

func compressionOption(name string) parquet.WriterOption {
	switch strings.ToLower(name) {
	case "zstd":
		return parquet.Compression(&parquet.Zstd)
	case "none":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// WriteNetworks appends a batch of network records.
func (w *SnapshotWriter) WriteNetworks(recs []NetworkRecord) error {
	rows := make([]NetworkSnapshotRow, len(recs))
	for i, r := range recs {
		rows[i] = NetworkSnapshotRow{
			NetworkStart:                r.Network.Start.Hex(),
			NetworkEnd:                  r.Network.End.Hex(),
			StartIP:                     r.Network.Start.String(),
			EndIP:                       r.Network.End.String(),
			GeonameID:                   r.GeonameID,
			RegisteredCountryGeonameID:  r.RegisteredCountryGeonameID,
			RepresentedCountryGeonameID: r.RepresentedCountryGeonameID,
			IsAnonymousProxy:            r.IsAnonymousProxy,
			IsSatelliteProvider:         r.IsSatelliteProvider,
			IsAnycast:                   r.IsAnycast,
			PostalCode:                  r.PostalCode,
			Latitude:                    r.Latitude,
			Longitude:                   r.Longitude,
			AccuracyRadius:              r.AccuracyRadius,
			SourceMarker:                w.cfg.SourceMarker,
			DumpedAt:                    w.now,
		}
	}
	if _, err := w.networks.Write(rows); err != nil {
		return fmt.Errorf("write network snapshot: %w", err)
	}
	return nil
}

// WriteLocations appends a batch of location records.
func (w *SnapshotWriter) WriteLocations(recs []LocationRecord) error {
	rows := make([]LocationSnapshotRow, len(recs))
	for i, r := range recs {
		rows[i] = LocationSnapshotRow{
			GeonameID:           r.GeonameID,
			LocaleCode:          r.LocaleCode,
			ContinentCode:       r.ContinentCode,
			ContinentName:       r.ContinentName,
			CountryISOCode:      r.CountryISOCode,
			CountryName:         r.CountryName,
			Subdivision1ISOCode: r.Subdivision1ISOCode,
			Subdivision1Name:    r.Subdivision1Name,
			Subdivision2ISOCode: r.Subdivision2ISOCode,
			Subdivision2Name:    r.Subdivision2Name,
			CityName:            r.CityName,
			MetroCode:           r.MetroCode,
			TimeZone:            r.TimeZone,
			IsInEuropeanUnion:   r.IsInEuropeanUnion,
			SourceMarker:        w.cfg.SourceMarker,
			DumpedAt:            w.now,
		}
	}
	if _, err := w.location.Write(rows); err != nil {
		return fmt.Errorf("write location snapshot: %w", err)
	}
	return nil
}

// Paths returns the snapshot file paths.
func (w *SnapshotWriter) Paths() []string { return w.paths }

// Close flushes both writers and closes the files.
func (w *SnapshotWriter) Close() error {
	var err error
	err = multierr.Append(err, w.networks.Close())
	err = multierr.Append(err, w.location.Close())
	for _, f := range w.files {
		err = multierr.Append(err, f.Close())
	}
	return err
}
