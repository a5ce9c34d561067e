package metadata

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
	cfg  CatalogConfig
	log  *slog.Logger
}

// NewPostgresWriter creates a new PostgreSQL catalog writer.
func NewPostgresWriter(ctx context.Context, cfg CatalogConfig) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 2
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	w := &PostgresWriter{
		pool: pool,
		cfg:  cfg,
		log:  slog.With("component", "metadata"),
	}

	if err := w.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	w.log.Info("connected to PostgreSQL catalog", "namespace", cfg.Namespace)
	return w, nil
}

// initSchema creates the _meta_geotime_* tables if they don't exist.
func (w *PostgresWriter) initSchema(ctx context.Context) error {
	if _, err := w.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// RecordRun upserts the run row.
func (w *PostgresWriter) RecordRun(ctx context.Context, rec RunRecord) error {
	query := `
		INSERT INTO _meta_geotime_runs (
			run_id, namespace, marker, mode, status, rows_generated, statements,
			artifacts, error_message, producer_version, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			rows_generated = EXCLUDED.rows_generated,
			statements = EXCLUDED.statements,
			artifacts = EXCLUDED.artifacts,
			error_message = EXCLUDED.error_message,
			finished_at = EXCLUDED.finished_at
	`

	_, err := w.pool.Exec(ctx, query,
		rec.RunID,
		w.cfg.Namespace,
		rec.Marker,
		rec.Mode,
		rec.Status,
		rec.RowsGenerated,
		rec.Statements,
		rec.Artifacts,
		nullable(rec.Error),
		rec.ProducerVersion,
		rec.StartedAt,
		nullableTime(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecordArtifact writes the lineage row for an imported artifact.
func (w *PostgresWriter) RecordArtifact(ctx context.Context, rec ArtifactRecord) error {
	query := `
		INSERT INTO _meta_geotime_artifacts (
			run_id, name, etag, checksum, byte_size, bookmark,
			already_imported, attempts, storage_uri
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, name)
		DO UPDATE SET
			etag = EXCLUDED.etag,
			checksum = EXCLUDED.checksum,
			byte_size = EXCLUDED.byte_size,
			bookmark = EXCLUDED.bookmark,
			already_imported = EXCLUDED.already_imported,
			attempts = EXCLUDED.attempts,
			storage_uri = COALESCE(EXCLUDED.storage_uri, _meta_geotime_artifacts.storage_uri),
			created_at = NOW()
	`

	_, err := w.pool.Exec(ctx, query,
		rec.RunID,
		rec.Name,
		rec.ETag,
		rec.Checksum,
		rec.ByteSize,
		nullable(rec.Bookmark),
		rec.AlreadyImported,
		rec.Attempts,
		nullable(rec.StorageURI),
	)
	if err != nil {
		return fmt.Errorf("record artifact: %w", err)
	}

	w.log.Debug("recorded artifact lineage", "run_id", rec.RunID, "artifact", rec.Name, "bookmark", rec.Bookmark)
	return nil
}

// RecordQuality records a range validation result.
func (w *PostgresWriter) RecordQuality(ctx context.Context, rec QualityRecord) error {
	query := `
		INSERT INTO _meta_geotime_quality (run_id, table_name, rows_checked, violations, passed, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, table_name)
		DO UPDATE SET
			rows_checked = EXCLUDED.rows_checked,
			violations = EXCLUDED.violations,
			passed = EXCLUDED.passed,
			error_message = EXCLUDED.error_message,
			created_at = NOW()
	`

	_, err := w.pool.Exec(ctx, query,
		rec.RunID,
		rec.Table,
		rec.RowsChecked,
		rec.Violations,
		rec.Passed,
		nullable(rec.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("record quality: %w", err)
	}
	return nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
