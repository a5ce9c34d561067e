package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// BucketStore writes archives to any gocloud.dev bucket.
type BucketStore struct {
	bucket *blob.Bucket
	scheme string
	host   string
	prefix string
}

// OpenBucketStore opens the bucket at bucketURL.
func OpenBucketStore(ctx context.Context, bucketURL, prefix string) (*BucketStore, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("parse bucket url %s: %w", bucketURL, err)
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	s := NewBucketStore(bucket, prefix)
	s.scheme, s.host = u.Scheme, u.Host
	return s, nil
}

// NewBucketStore wraps an already opened bucket. The store takes ownership.
func NewBucketStore(bucket *blob.Bucket, prefix string) *BucketStore {
	return &BucketStore{bucket: bucket, scheme: "mem", prefix: prefix}
}

// WriteArtifact streams r into the artifact object. Objects only become
// visible when the writer closes successfully.
func (s *BucketStore) WriteArtifact(ctx context.Context, ref ArchiveRef, name string, r io.Reader) (string, int64, error) {
	key := ref.ArtifactPath(s.prefix, name)
	n, err := s.write(ctx, key, r, "application/sql")
	if err != nil {
		return "", n, err
	}
	return key, n, nil
}

// WriteManifest writes the manifest object.
func (s *BucketStore) WriteManifest(ctx context.Context, ref ArchiveRef, manifest *Manifest) error {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	key := ref.ManifestPath(s.prefix)
	if err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("write manifest to %s: %w", key, err)
	}
	return nil
}

// Exists checks if an archive manifest already exists.
func (s *BucketStore) Exists(ctx context.Context, ref ArchiveRef) (bool, error) {
	return s.bucket.Exists(ctx, ref.ManifestPath(s.prefix))
}

// URI returns the canonical URI for the given key.
func (s *BucketStore) URI(key string) string {
	return fmt.Sprintf("%s://%s/%s", s.scheme, s.host, key)
}

// Close releases the bucket connection.
func (s *BucketStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

func (s *BucketStore) write(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	// Cancelling the writer's context before Close discards the object.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return 0, fmt.Errorf("create writer for %s: %w", key, err)
	}

	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		w.Close()
		return n, fmt.Errorf("write data to %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("close writer for %s: %w", key, err)
	}
	return n, nil
}
