package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/withObsrvr/obsrvr-geotime/internal/util"
)

// LocalStore writes archives to the local filesystem.
type LocalStore struct {
	baseDir string
	prefix  string
}

// NewLocalStore creates a new local filesystem store.
func NewLocalStore(baseDir, prefix string) (*LocalStore, error) {
	if err := util.EnsureDir(baseDir); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}
	return &LocalStore{
		baseDir: baseDir,
		prefix:  prefix,
	}, nil
}

// WriteArtifact writes the artifact atomically using temp file + rename.
func (s *LocalStore) WriteArtifact(ctx context.Context, ref ArchiveRef, name string, r io.Reader) (string, int64, error) {
	key := ref.ArtifactPath(s.prefix, name)
	n, err := util.WriteFileAtomic(s.path(key), r)
	if err != nil {
		return "", n, err
	}
	return key, n, nil
}

// WriteManifest writes a manifest file to the local filesystem.
func (s *LocalStore) WriteManifest(ctx context.Context, ref ArchiveRef, manifest *Manifest) error {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if _, err := util.WriteFileAtomic(s.path(ref.ManifestPath(s.prefix)), strings.NewReader(string(data))); err != nil {
		return err
	}
	return nil
}

// Exists checks if an archive manifest already exists.
func (s *LocalStore) Exists(ctx context.Context, ref ArchiveRef) (bool, error) {
	return util.Exists(s.path(ref.ManifestPath(s.prefix)))
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	return "file://" + s.path(key)
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}

