// Package storage archives the SQL artifacts of each committed refresh,
// together with a manifest, in a local directory or an object bucket.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/withObsrvr/obsrvr-geotime/internal/util"
)

// ArchiveRef identifies one archived dataset version.
type ArchiveRef struct {
	Marker string // source Last-Modified marker
}

// Dir returns the directory for this dataset version.
func (r ArchiveRef) Dir(prefix string) string {
	return fmt.Sprintf("%sgeoip2/%s", prefix, util.Slug(r.Marker))
}

// ArtifactPath returns the storage path of a named artifact.
func (r ArchiveRef) ArtifactPath(prefix, name string) string {
	return r.Dir(prefix) + "/" + name
}

// ManifestPath returns the storage path of the version's manifest.
func (r ArchiveRef) ManifestPath(prefix string) string {
	return r.Dir(prefix) + "/_manifest.json"
}

// Manifest describes an archived refresh. It is written last, so its
// presence means every listed artifact is in place.
type Manifest struct {
	Marker    string                  `json:"marker"`
	RunID     string                  `json:"run_id"`
	Artifacts map[string]ArtifactInfo `json:"artifacts"`
	Tables    map[string]TableInfo    `json:"tables"`
	Producer  ProducerInfo            `json:"producer"`
	CreatedAt time.Time               `json:"created_at"`
}

// ArtifactInfo describes one archived artifact.
type ArtifactInfo struct {
	File        string `json:"file"`
	URI         string `json:"uri"`
	Checksum    string `json:"checksum"` // sha256 of the uncompressed artifact
	ETag        string `json:"etag"`     // md5 used as the import idempotency key
	ByteSize    int64  `json:"byte_size"`
	StoredSize  int64  `json:"stored_size"`
	Compression string `json:"compression,omitempty"`
}

// TableInfo summarizes what a refresh generated for one table.
type TableInfo struct {
	Rows       int64 `json:"rows"`
	Statements int64 `json:"statements"`
	Violations int64 `json:"range_violations,omitempty"`
}

// ProducerInfo describes the software that produced the archive.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MarshalJSON returns the manifest as indented JSON bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// ArchiveStore abstracts writing artifacts and manifests to storage.
type ArchiveStore interface {
	// WriteArtifact streams r to the artifact's path and returns the stored key.
	WriteArtifact(ctx context.Context, ref ArchiveRef, name string, r io.Reader) (key string, n int64, err error)

	// WriteManifest writes the manifest for ref.
	WriteManifest(ctx context.Context, ref ArchiveRef, manifest *Manifest) error

	// Exists reports whether ref has a manifest.
	Exists(ctx context.Context, ref ArchiveRef) (bool, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, for buckets: the bucket URL scheme plus key.
	URI(key string) string

	Close() error
}

// StorageConfig configures the archive backend.
type StorageConfig struct {
	Backend string // "local" | "gcs" | "s3" | "url"

	// Local filesystem
	LocalDir string

	// GCS
	GCSBucket string

	// S3 (also works for B2, R2, MinIO)
	S3Bucket   string
	S3Endpoint string
	S3Region   string

	// Any gocloud.dev bucket URL (file://, mem://, gs://, s3://)
	BucketURL string

	// Common
	Prefix      string // path prefix within bucket or local dir
	Compression string // "none" | "zstd"
}

// NewArchiveStore creates a storage backend based on configuration.
func NewArchiveStore(ctx context.Context, cfg StorageConfig) (ArchiveStore, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("GCSBucket required for gcs backend")
		}
		return OpenBucketStore(ctx, "gs://"+cfg.GCSBucket, cfg.Prefix)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3Bucket required for s3 backend")
		}
		return OpenBucketStore(ctx, S3URL(cfg.S3Bucket, cfg.S3Endpoint, cfg.S3Region), cfg.Prefix)
	case "url":
		if cfg.BucketURL == "" {
			return nil, fmt.Errorf("BucketURL required for url backend")
		}
		return OpenBucketStore(ctx, cfg.BucketURL, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// S3URL builds a gocloud.dev URL for an S3-compatible bucket.
// endpoint can be empty for AWS S3, or a custom URL for B2/R2/MinIO.
func S3URL(bucketName, endpoint, region string) string {
	bucketURL := "s3://" + bucketName

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL += "?" + params.Encode()
	}
	return bucketURL
}
