package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/multierr"

	"github.com/withObsrvr/obsrvr-geotime/internal/metrics"
	"github.com/withObsrvr/obsrvr-geotime/internal/tables"
)

// Artifact is one generated SQL file to archive.
type Artifact struct {
	Path string
	ETag string
}

// Archiver copies a refresh's artifacts into an ArchiveStore and publishes
// the manifest once every artifact is stored.
type Archiver struct {
	store       ArchiveStore
	compression string
	producer    ProducerInfo
	log         *slog.Logger
}

// NewArchiver creates an archiver. compression is "none", "" or "zstd".
func NewArchiver(store ArchiveStore, compression string, producer ProducerInfo) (*Archiver, error) {
	switch compression {
	case "", "none", "zstd":
	default:
		return nil, fmt.Errorf("unknown archive compression: %s", compression)
	}
	return &Archiver{
		store:       store,
		compression: compression,
		producer:    producer,
		log:         slog.With("component", "archive"),
	}, nil
}

// Archive stores artifacts under ref and then writes the manifest. A
// version that already has a manifest is left untouched.
func (a *Archiver) Archive(ctx context.Context, ref ArchiveRef, runID string, artifacts []Artifact, tbls map[string]TableInfo) (*Manifest, error) {
	exists, err := a.store.Exists(ctx, ref)
	if err != nil {
		return nil, a.fail(fmt.Errorf("check archive: %w", err))
	}
	if exists {
		a.log.Info("archive already present", "marker", ref.Marker)
		return nil, nil
	}

	manifest := &Manifest{
		Marker:    ref.Marker,
		RunID:     runID,
		Artifacts: make(map[string]ArtifactInfo, len(artifacts)),
		Tables:    tbls,
		Producer:  a.producer,
		CreatedAt: time.Now().UTC(),
	}

	for _, art := range artifacts {
		info, err := a.archiveOne(ctx, ref, art)
		if err != nil {
			return nil, a.fail(err)
		}
		manifest.Artifacts[filepath.Base(art.Path)] = info
	}

	if err := a.store.WriteManifest(ctx, ref, manifest); err != nil {
		return nil, a.fail(fmt.Errorf("write manifest: %w", err))
	}

	a.log.Info("artifacts archived",
		"marker", ref.Marker,
		"artifacts", len(artifacts),
	)
	return manifest, nil
}

func (a *Archiver) archiveOne(ctx context.Context, ref ArchiveRef, art Artifact) (ArtifactInfo, error) {
	digest, err := tables.DigestFile(art.Path)
	if err != nil {
		return ArtifactInfo{}, fmt.Errorf("digest %s: %w", art.Path, err)
	}

	f, err := os.Open(art.Path)
	if err != nil {
		return ArtifactInfo{}, fmt.Errorf("open %s: %w", art.Path, err)
	}
	defer f.Close()

	name := filepath.Base(art.Path)
	var r io.Reader = f
	if a.compression == "zstd" {
		name += ".zst"
		pr := compressed(f)
		defer pr.Close()
		r = pr
	}

	key, stored, err := a.store.WriteArtifact(ctx, ref, name, r)
	if err != nil {
		return ArtifactInfo{}, fmt.Errorf("archive %s: %w", art.Path, err)
	}

	etag := art.ETag
	if etag == "" {
		etag = digest.MD5
	}
	info := ArtifactInfo{
		File:       key,
		URI:        a.store.URI(key),
		Checksum:   digest.SHA256,
		ETag:       etag,
		ByteSize:   digest.Size,
		StoredSize: stored,
	}
	if a.compression == "zstd" {
		info.Compression = "zstd"
	}
	return info, nil
}

// compressed returns a reader producing the zstd encoding of r. Closing
// the reader stops the encoder.
func compressed(r io.Reader) *io.PipeReader {
	pr, pw := io.Pipe()
	go func() {
		enc, err := zstd.NewWriter(pw, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		_, err = io.Copy(enc, r)
		err = multierr.Append(err, enc.Close())
		pw.CloseWithError(err)
	}()
	return pr
}

func (a *Archiver) fail(err error) error {
	if m := metrics.Get(); m != nil {
		m.IncStorageErrors(metrics.Labels{Backend: "archive"})
	}
	return err
}
