package metadata

import (
	"context"
	"time"
)

type CatalogConfig struct {
	PostgresDSN string
	Namespace   string
}

// Writer records refresh lineage in a catalog.
type Writer interface {
	RecordRun(ctx context.Context, rec RunRecord) error
	RecordArtifact(ctx context.Context, rec ArtifactRecord) error
	RecordQuality(ctx context.Context, rec QualityRecord) error
	Close() error
}

// RunRecord describes one refresh run. It is written when the run starts
// and again when it finishes.
type RunRecord struct {
	RunID           string
	Marker          string
	Mode            string // "import" | "dump"
	Status          string // "running" | "committed" | "skipped" | "failed"
	RowsGenerated   int64
	Statements      int64
	Artifacts       int
	Error           string
	ProducerVersion string
	StartedAt       time.Time
	FinishedAt      time.Time
}

// ArtifactRecord describes one imported artifact.
type ArtifactRecord struct {
	RunID           string
	Name            string
	ETag            string
	Checksum        string
	ByteSize        int64
	Bookmark        string
	AlreadyImported bool
	Attempts        int
	StorageURI      string
}

// QualityRecord is the range validation outcome for one table.
type QualityRecord struct {
	RunID        string
	Table        string
	RowsChecked  int64
	Violations   int64
	Passed       bool
	ErrorMessage string
}

// NewWriter returns a PostgreSQL writer when a DSN is configured, otherwise
// a no-op writer.
func NewWriter(ctx context.Context, cfg CatalogConfig) (Writer, error) {
	if cfg.PostgresDSN == "" {
		return noopWriter{}, nil
	}
	return NewPostgresWriter(ctx, cfg)
}

// NoopWriter returns a writer that discards every record.
func NoopWriter() Writer { return noopWriter{} }

type noopWriter struct{}

func (noopWriter) RecordRun(_ context.Context, _ RunRecord) error           { return nil }
func (noopWriter) RecordArtifact(_ context.Context, _ ArtifactRecord) error { return nil }
func (noopWriter) RecordQuality(_ context.Context, _ QualityRecord) error   { return nil }
func (noopWriter) Close() error                                             { return nil }
