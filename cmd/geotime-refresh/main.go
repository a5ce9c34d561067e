package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/obsrvr-geotime/internal/audit"
	"github.com/withObsrvr/obsrvr-geotime/internal/config"
	"github.com/withObsrvr/obsrvr-geotime/internal/d1"
	"github.com/withObsrvr/obsrvr-geotime/internal/importer"
	"github.com/withObsrvr/obsrvr-geotime/internal/logging"
	"github.com/withObsrvr/obsrvr-geotime/internal/metadata"
	"github.com/withObsrvr/obsrvr-geotime/internal/metrics"
	"github.com/withObsrvr/obsrvr-geotime/internal/refresh"
	"github.com/withObsrvr/obsrvr-geotime/internal/source"
	"github.com/withObsrvr/obsrvr-geotime/internal/storage"
	"github.com/withObsrvr/obsrvr-geotime/internal/store"
	"github.com/withObsrvr/obsrvr-geotime/internal/watcher"
)

func main() {
	cfg := config.MustLoad()

	sync := logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	defer sync()
	log.Printf("[main] geotime refresh %s (%s)", refresh.Version, refresh.GitSHA)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		if ctx.Err() != nil {
			log.Printf("[main] shutdown complete")
			return
		}
		slog.Error("refresh failed", "error", err)
		sync()
		os.Exit(1)
	}
	log.Println("[main] geotime refresh stopped cleanly")
}

func run(ctx context.Context, cfg config.Config) error {
	metrics.Init("geotime")

	src, err := source.New(ctx, source.Config{
		Kind:              cfg.Source.Kind,
		MaxMindURL:        cfg.Source.MaxMindURL,
		MaxMindAccountID:  cfg.Source.MaxMindAccountID,
		MaxMindLicenseKey: cfg.Source.MaxMindLicenseKey,
		BucketURL:         cfg.Source.BucketURL,
		BucketKey:         cfg.Source.BucketKey,
		Path:              cfg.Source.Path,
	})
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	defer src.Close()

	target, closeTarget, err := openTarget(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTarget()

	catalog, err := metadata.NewWriter(ctx, metadata.CatalogConfig{
		PostgresDSN: cfg.Catalog.PostgresDSN,
		Namespace:   cfg.Catalog.Namespace,
	})
	if err != nil {
		slog.Warn("catalog unavailable, lineage disabled", "error", err)
		catalog = metadata.NoopWriter()
	}
	defer catalog.Close()

	emitter := audit.NewEmitter(cfg.Audit)
	defer emitter.Close()

	opts := []refresh.Option{refresh.WithCatalog(catalog), refresh.WithAudit(emitter)}
	if cfg.Archive.Backend != "" {
		archiveStore, err := storage.NewArchiveStore(ctx, storage.StorageConfig{
			Backend:     cfg.Archive.Backend,
			LocalDir:    cfg.Archive.LocalDir,
			GCSBucket:   cfg.Archive.GCSBucket,
			S3Bucket:    cfg.Archive.S3Bucket,
			S3Endpoint:  cfg.Archive.S3Endpoint,
			S3Region:    cfg.Archive.S3Region,
			BucketURL:   cfg.Archive.BucketURL,
			Prefix:      cfg.Archive.Prefix,
			Compression: cfg.Archive.Compression,
		})
		if err != nil {
			return fmt.Errorf("create archive store: %w", err)
		}
		defer archiveStore.Close()

		archiver, err := storage.NewArchiver(archiveStore, cfg.Archive.Compression, storage.ProducerInfo{
			Name:    refresh.ProducerName,
			Version: refresh.Version,
		})
		if err != nil {
			return err
		}
		opts = append(opts, refresh.WithArchiver(archiver))
	}

	r := refresh.New(cfg, src, target, opts...)
	w := watcher.New(cfg.Refresh.Interval, func(ctx context.Context) error {
		_, err := r.Run(ctx)
		return err
	}, nil)

	if cfg.Metrics.Address == "" {
		return w.Run(ctx)
	}

	// The metrics server lives as long as the watcher.
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("metrics server listening", "address", cfg.Metrics.Address)
		return metrics.Serve(gctx, cfg.Metrics.Address)
	})
	g.Go(func() error {
		defer stop()
		return w.Run(gctx)
	})
	return g.Wait()
}

// openTarget opens the configured store backend. Dump-only runs against d1
// never contact it.
func openTarget(ctx context.Context, cfg config.Config) (refresh.Target, func(), error) {
	switch cfg.Store.Backend {
	case "sqlite":
		s, err := store.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return refresh.Target{}, nil, err
		}
		return refresh.Target{Name: "sqlite", Querier: s, Importer: s}, func() { s.Close() }, nil
	case "d1":
		if cfg.Refresh.DumpOnly {
			return refresh.Target{Name: "d1"}, func() {}, nil
		}
		client, err := d1.New(d1.Config{
			AccountID:           cfg.Store.D1.AccountID,
			DatabaseID:          cfg.Store.D1.DatabaseID,
			APIToken:            cfg.Store.D1.APIToken,
			BaseURL:             cfg.Store.D1.BaseURL,
			Timeout:             cfg.Store.D1.Timeout,
			TransientSignatures: cfg.Store.D1.TransientSignatures,
		})
		if err != nil {
			return refresh.Target{}, nil, err
		}
		transport := importer.New(client, d1.NewUploader(cfg.Import.UploadBufferSize, cfg.Import.UploadTimeout), importer.Config{
			MaxAttempts:         cfg.Import.MaxAttempts,
			BackoffUnit:         cfg.Import.BackoffUnit,
			PollInterval:        cfg.Import.PollInterval,
			TransientSignatures: cfg.Store.D1.TransientSignatures,
		})
		return refresh.Target{Name: "d1", Querier: client, Importer: transport}, func() {}, nil
	default:
		return refresh.Target{}, nil, errors.New("unknown store backend: " + cfg.Store.Backend)
	}
}
