// Package refresh loads a GeoLite2 City release into the remote store: it
// fetches the archive, turns each source table into upsert artifacts, imports
// them, and finally advances the store's last_updated marker.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-geotime/internal/audit"
	"github.com/withObsrvr/obsrvr-geotime/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-geotime/internal/config"
	"github.com/withObsrvr/obsrvr-geotime/internal/logging"
	"github.com/withObsrvr/obsrvr-geotime/internal/metadata"
	"github.com/withObsrvr/obsrvr-geotime/internal/metrics"
	"github.com/withObsrvr/obsrvr-geotime/internal/source"
	"github.com/withObsrvr/obsrvr-geotime/internal/storage"
	"github.com/withObsrvr/obsrvr-geotime/internal/store"
	"github.com/withObsrvr/obsrvr-geotime/internal/tables"
	"github.com/withObsrvr/obsrvr-geotime/internal/upsert"
)

// ErrMissingTable is returned when the archive lacks a required source table.
var ErrMissingTable = errors.New("source table missing from archive")

// Target is the store a refresh writes to. Querier and Importer may be nil
// in dump-only mode.
type Target struct {
	Name     string // "d1" | "sqlite"
	Querier  store.Querier
	Importer store.Importer
}

// Refresher orchestrates one refresh of the geo tables.
type Refresher struct {
	cfg        config.Config
	src        source.Provider
	target     Target
	meta       *store.Meta
	catalog    metadata.Writer
	audit      audit.Emitter
	archiver   *storage.Archiver
	checkpoint checkpoint.Manager
	clock      clock.Clock
	log        *slog.Logger
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithClock overrides the clock used for run timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Refresher) { r.clock = c }
}

// WithCatalog records lineage in the given catalog writer.
func WithCatalog(w metadata.Writer) Option {
	return func(r *Refresher) { r.catalog = w }
}

// WithAudit replaces the emitter built from the audit config.
func WithAudit(e audit.Emitter) Option {
	return func(r *Refresher) { r.audit = e }
}

// WithArchiver copies committed artifacts into an archive store.
func WithArchiver(a *storage.Archiver) Option {
	return func(r *Refresher) { r.archiver = a }
}

// WithCheckpoint replaces the checkpoint manager built from config.
func WithCheckpoint(m checkpoint.Manager) Option {
	return func(r *Refresher) { r.checkpoint = m }
}

// New creates a Refresher.
func New(cfg config.Config, src source.Provider, target Target, opts ...Option) *Refresher {
	log := slog.With("component", "refresh")

	r := &Refresher{
		cfg:     cfg,
		src:     src,
		target:  target,
		catalog: metadata.NoopWriter(),
		clock:   clock.New(),
		log:     log,
	}
	if target.Querier != nil {
		r.meta = store.NewMeta(target.Querier)
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.checkpoint == nil {
		cpMgr, err := checkpoint.NewManager(checkpoint.Config{
			Enabled: cfg.Checkpoint.Enabled,
			Dir:     cfg.Checkpoint.Dir,
		})
		if err != nil {
			log.Warn("failed to create checkpoint manager", "error", err)
			cpMgr, _ = checkpoint.NewManager(checkpoint.Config{})
		}
		r.checkpoint = cpMgr
	}
	if r.audit == nil {
		r.audit = audit.NewEmitter(cfg.Audit)
	}
	return r
}

func (r *Refresher) mode() string {
	if r.cfg.Refresh.DumpOnly {
		return "dump"
	}
	return "import"
}

// Run performs one refresh. It returns a Result even on failure.
func (r *Refresher) Run(ctx context.Context) (res *Result, err error) {
	if logging.CorrelationID(ctx) == "" {
		ctx = logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())
	}
	mode := r.mode()
	res = &Result{
		RunID:     uuid.NewString(),
		StartedAt: r.clock.Now().UTC(),
		Tables:    make(map[string]*TableStats),
	}
	log := logging.RunLogger(ctx, res.RunID, "", mode)

	defer func() {
		r.finish(ctx, log, res, mode, err)
	}()

	if !r.cfg.Refresh.DumpOnly && (r.meta == nil || r.target.Importer == nil) {
		return res, errors.New("refresh target has no store")
	}

	marker, err := r.src.LastModified(ctx)
	if err != nil {
		return res, fmt.Errorf("source last modified: %w", err)
	}
	res.Marker = marker
	log = logging.RunLogger(ctx, res.RunID, marker, mode)

	if !r.cfg.Refresh.DumpOnly {
		current, err := r.meta.LastUpdated(ctx)
		if err != nil {
			r.storeError()
			return res, fmt.Errorf("read store marker: %w", err)
		}
		if current == marker && !r.cfg.Refresh.Force {
			log.Info("store is up to date", "store_marker", current)
			res.Status = StatusSkipped
			return res, nil
		}
		log.Info("refresh needed", "store_marker", current, "force", r.cfg.Refresh.Force)
	}

	res.Status = StatusRunning
	if err := r.catalog.RecordRun(ctx, buildRunRecord(res, mode, nil)); err != nil {
		r.catalogError(log, "record run start", err)
	}

	workDir := r.cfg.Refresh.WorkDir
	zipPath, reused, err := source.Fetch(ctx, r.src, workDir, marker)
	if err != nil {
		return res, err
	}
	log.Info("source archive ready", "path", zipPath, "reused", reused)

	extractDir := filepath.Join(workDir, artifactBase(marker))
	defer os.RemoveAll(extractDir)
	files, err := source.Extract(zipPath, extractDir, source.DefaultFiles)
	if err != nil {
		return res, err
	}

	if err := r.generate(ctx, log, res, files); err != nil {
		return res, err
	}

	if r.cfg.Refresh.DumpOnly {
		res.Status = StatusDumped
		log.Info("dump complete", "artifacts", len(res.Artifacts), "rows", res.Rows())
		return res, nil
	}

	if err := r.importAll(ctx, log, res); err != nil {
		return res, err
	}

	// Commit point: once the marker moves, the next run is a no-op.
	if err := r.meta.SetLastUpdated(ctx, marker); err != nil {
		r.storeError()
		return res, fmt.Errorf("commit marker: %w", err)
	}
	res.Status = StatusCommitted
	log.Info("refresh committed", "artifacts", len(res.Artifacts), "rows", res.Rows())

	if err := r.checkpoint.Clear(ctx); err != nil {
		log.Warn("failed to clear checkpoint", "error", err)
	}
	r.publish(ctx, log, res)
	return res, nil
}

// generate streams every source table through the mapper and upsert
// generator into artifacts, and fills in res.Artifacts.
func (r *Refresher) generate(ctx context.Context, log *slog.Logger, res *Result, files map[string]string) (err error) {
	outDir := filepath.Join(r.cfg.Refresh.WorkDir, "out")
	base := artifactBase(res.Marker)

	w, err := newArtifactWriter(outDir, base, r.cfg.Refresh.SplitFiles, r.cfg.Refresh.DumpOnly, r.cfg.Refresh.Transaction)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			w.Abort()
		}
	}()

	var snap *tables.SnapshotWriter
	if r.cfg.Refresh.DumpOnly && r.cfg.Refresh.Snapshot {
		snap, err = tables.NewSnapshotWriter(tables.SnapshotConfig{
			Dir:          outDir,
			Prefix:       base,
			Compression:  r.cfg.Refresh.SnapshotCompression,
			SourceMarker: res.Marker,
		})
		if err != nil {
			return fmt.Errorf("create snapshot writer: %w", err)
		}
		defer func() {
			if cerr := snap.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close snapshot: %w", cerr)
			}
			if err == nil {
				res.Snapshots = snap.Paths()
			}
		}()
	}

	for _, p := range plans(r.cfg.Refresh.IncludeIPv6) {
		path, ok := files[p.File]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingTable, p.File)
		}

		result, err := r.generateTable(ctx, p, path, res, w, snap)
		if qerr := RecordQualityResult(ctx, r.catalog, res.RunID, result); qerr != nil {
			r.catalogError(log, "record quality", qerr)
		}
		if err != nil {
			return err
		}

		stats := res.Tables[p.Key]
		if result.Violations > 0 {
			log.Warn("range violations",
				"table", p.Key,
				"violations", result.Violations,
				"first", result.Errors[0],
			)
		}
		log.Info("table generated",
			"table", p.Key,
			"rows", stats.Rows,
			"statements", stats.Statements,
		)
	}

	paths, err := w.Close()
	if err != nil {
		return err
	}
	for _, path := range paths {
		digest, err := tables.DigestFile(path)
		if err != nil {
			return fmt.Errorf("digest artifact: %w", err)
		}
		res.Artifacts = append(res.Artifacts, ArtifactResult{
			Name:   filepath.Base(path),
			Path:   path,
			Digest: digest,
		})
	}
	return nil
}

// generateTable processes one source CSV.
func (r *Refresher) generateTable(ctx context.Context, p tablePlan, path string, res *Result, w *artifactWriter, snap *tables.SnapshotWriter) (ValidationResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stats := &TableStats{Table: p.Table}
	res.Tables[p.Key] = stats
	v := newTableValidator(p.Key, r.cfg.Refresh.StrictRanges)
	opts := upsert.Options{MaxRowsPerStatement: r.cfg.Refresh.MaxRowsPerStatement}
	chunkSize := r.cfg.Refresh.ChunkSize
	if chunkSize <= 0 {
		chunkSize = source.DefaultChunkSize
	}

	batches, errs := source.StreamCSV(ctx, path, chunkSize, r.cfg.Refresh.ChunkCount)
	for b := range batches {
		var (
			stmts []string
			rows  int
			err   error
		)
		switch p.Kind {
		case networkKind:
			recs := make([]tables.NetworkRecord, 0, len(b.Rows))
			for i, row := range b.Rows {
				rec, err := tables.MapNetwork(row)
				if err != nil {
					return v.Result(), fmt.Errorf("%s row %d: %w", p.File, b.Index*chunkSize+i+1, err)
				}
				if err := v.CheckNetwork(rec); err != nil {
					return v.Result(), err
				}
				recs = append(recs, rec)
			}
			if len(recs) == 0 {
				continue
			}
			rows = len(recs)
			stmts, err = upsert.Statements(tables.NetworkTable, recs, opts)
			if err == nil && snap != nil {
				err = snap.WriteNetworks(recs)
			}
		case locationKind:
			recs := make([]tables.LocationRecord, 0, len(b.Rows))
			for _, row := range b.Rows {
				rec, merr := tables.MapLocation(row)
				if err := v.CheckLocation(merr); err != nil {
					return v.Result(), err
				}
				if merr != nil {
					continue
				}
				recs = append(recs, rec)
			}
			if len(recs) == 0 {
				continue
			}
			rows = len(recs)
			stmts, err = upsert.Statements(tables.LocationTable, recs, opts)
			if err == nil && snap != nil {
				err = snap.WriteLocations(recs)
			}
		}
		if err != nil {
			return v.Result(), fmt.Errorf("%s batch %d: %w", p.File, b.Index, err)
		}

		if err := w.WriteBatch(p.Key, b.Index, stmts); err != nil {
			return v.Result(), err
		}
		stats.Rows += int64(rows)
		stats.Statements += int64(len(stmts))
		if m := metrics.Get(); m != nil {
			m.AddRowsGenerated(metrics.Labels{Table: p.Key}, float64(rows))
			m.AddStatementsGenerated(metrics.Labels{Table: p.Key}, float64(len(stmts)))
		}
	}
	if err := <-errs; err != nil {
		return v.Result(), fmt.Errorf("read %s: %w", p.File, err)
	}

	stats.Violations = v.Result().Violations
	return v.Result(), nil
}

// importAll hands each artifact to the store importer in order, skipping
// artifacts the checkpoint already has for this marker.
func (r *Refresher) importAll(ctx context.Context, log *slog.Logger, res *Result) error {
	cp, err := r.checkpoint.Load(ctx)
	if err != nil && !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	switch {
	case cp == nil:
		cp = &checkpoint.Checkpoint{Marker: res.Marker, RunID: res.RunID}
	case cp.Marker != res.Marker:
		log.Info("checkpoint is for another release, starting fresh", "checkpoint_marker", cp.Marker)
		cp = &checkpoint.Checkpoint{Marker: res.Marker, RunID: res.RunID}
	case len(cp.Imported) > 0:
		log.Info("resuming from checkpoint", "imported", len(cp.Imported), "checkpoint_run_id", cp.RunID)
	}

	for i := range res.Artifacts {
		a := &res.Artifacts[i]
		if cp.Has(a.Name, a.Digest.MD5) {
			a.Resumed = true
			r.countArtifact("resumed")
			log.Info("artifact already imported by an earlier run", "artifact", a.Name)
			continue
		}

		receipt, err := r.target.Importer.Import(ctx, a.Path)
		if err != nil {
			r.countArtifact("failed")
			return fmt.Errorf("import %s: %w", a.Name, err)
		}
		a.Bookmark = receipt.Bookmark
		a.AlreadyImported = receipt.AlreadyImported
		a.Attempts = receipt.Attempts
		if a.AlreadyImported {
			r.countArtifact("already_imported")
		} else {
			r.countArtifact("imported")
		}

		cp.Record(checkpoint.Artifact{
			Name:       a.Name,
			ETag:       a.Digest.MD5,
			Bookmark:   a.Bookmark,
			ImportedAt: r.clock.Now().UTC(),
		})
		if err := r.checkpoint.Save(ctx, cp); err != nil {
			log.Warn("failed to save checkpoint", "error", err)
		}
		log.Debug("artifact imported",
			"artifact", a.Name,
			"etag", a.Digest.MD5,
			"bookmark", a.Bookmark,
			"already_imported", a.AlreadyImported,
			"attempts", a.Attempts,
		)
	}
	return nil
}

// publish archives the artifacts, records lineage and emits the audit
// event. Failures here are logged; the refresh is already committed.
func (r *Refresher) publish(ctx context.Context, log *slog.Logger, res *Result) {
	var manifest *storage.Manifest
	if r.archiver != nil {
		m, err := r.archiver.Archive(ctx, storage.ArchiveRef{Marker: res.Marker}, res.RunID, archiveArtifacts(res), archiveTables(res))
		if err != nil {
			log.Warn("failed to archive artifacts", "error", err)
		}
		manifest = m
	}

	for _, a := range res.Artifacts {
		if err := r.catalog.RecordArtifact(ctx, buildArtifactRecord(res.RunID, a, manifest)); err != nil {
			r.catalogError(log, "record artifact", err)
		}
	}

	if err := r.audit.EmitRefresh(ctx, buildAuditEvent(res, r.target.Name, manifest)); err != nil {
		log.Warn("failed to emit audit event", "error", err)
	}
}

// finish records the run outcome in metrics, the catalog and the summary
// sidecar.
func (r *Refresher) finish(ctx context.Context, log *slog.Logger, res *Result, mode string, runErr error) {
	res.FinishedAt = r.clock.Now().UTC()
	if runErr != nil {
		res.Status = StatusFailed
		log.Error("refresh failed", "error", runErr)
	}

	if m := metrics.Get(); m != nil {
		m.IncRefreshRuns(metrics.Labels{Outcome: res.Status})
		m.ObserveRefreshDuration(res.FinishedAt.Sub(res.StartedAt).Seconds())
		if res.Status == StatusCommitted {
			m.SetLastRefresh(float64(res.FinishedAt.Unix()))
		}
	}

	if res.Status == StatusSkipped {
		return
	}
	// Recorded even when ctx was cancelled.
	if err := r.catalog.RecordRun(context.WithoutCancel(ctx), buildRunRecord(res, mode, runErr)); err != nil {
		r.catalogError(log, "record run", err)
	}

	if len(res.Artifacts) > 0 {
		path := filepath.Join(r.cfg.Refresh.WorkDir, "out", artifactBase(res.Marker)+".summary.json")
		if err := buildSummary(res, mode).WriteJSON(path); err != nil {
			log.Warn("failed to write summary", "error", err)
		}
	}
}

func (r *Refresher) countArtifact(outcome string) {
	if m := metrics.Get(); m != nil {
		m.IncArtifacts(metrics.Labels{Outcome: outcome})
	}
}

func (r *Refresher) storeError() {
	if m := metrics.Get(); m != nil {
		m.IncStorageErrors(metrics.Labels{Backend: r.target.Name})
	}
}

func (r *Refresher) catalogError(log *slog.Logger, op string, err error) {
	if m := metrics.Get(); m != nil {
		m.IncMetadataErrors()
	}
	log.Warn("failed to "+op, "error", err)
}
