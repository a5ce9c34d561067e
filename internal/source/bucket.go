package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// Bucket reads a mirrored copy of the archive from object storage.
//
// URL formats follow gocloud.dev:
//
//	gs://bucket-name
//	s3://bucket-name?region=us-east-1
//	s3://bucket-name?endpoint=https://<account>.r2.cloudflarestorage.com&region=auto
//	file:///var/mirror
type Bucket struct {
	bucket *blob.Bucket
	key    string
	log    *slog.Logger
}

// OpenBucket opens the bucket at bucketURL and serves the object at key.
func OpenBucket(ctx context.Context, bucketURL, key string) (*Bucket, error) {
	if bucketURL == "" || key == "" {
		return nil, fmt.Errorf("bucket url and key are required")
	}
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return NewBucket(b, key), nil
}

// NewBucket wraps an already opened bucket. The Bucket takes ownership.
func NewBucket(b *blob.Bucket, key string) *Bucket {
	return &Bucket{
		bucket: b,
		key:    key,
		log:    slog.With("component", "source", "provider", "bucket"),
	}
}

func (s *Bucket) Name() string { return "bucket" }

// LastModified returns the object's modification time in HTTP date format,
// or its ETag when the driver reports no time.
func (s *Bucket) LastModified(ctx context.Context) (string, error) {
	attrs, err := s.bucket.Attributes(ctx, s.key)
	if err != nil {
		return "", &FetchError{Provider: s.Name(), Op: "attributes", Err: err}
	}
	if !attrs.ModTime.IsZero() {
		return attrs.ModTime.UTC().Format(http.TimeFormat), nil
	}
	if attrs.ETag != "" {
		return attrs.ETag, nil
	}
	return "", &FetchError{Provider: s.Name(), Op: "attributes", Err: fmt.Errorf("object %s has no version marker", s.key)}
}

// Download copies the object to dst.
func (s *Bucket) Download(ctx context.Context, dst string) error {
	r, err := s.bucket.NewReader(ctx, s.key, nil)
	if err != nil {
		return &FetchError{Provider: s.Name(), Op: "download", Err: err}
	}
	defer r.Close()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	n, err := f.ReadFrom(r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &FetchError{Provider: s.Name(), Op: "download", Err: err}
	}
	s.log.Info("archive downloaded", "key", s.key, "bytes", n)
	return nil
}

func (s *Bucket) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
