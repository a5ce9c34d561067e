package source

import (
	"context"
	"fmt"
	"net/http"
	"os"
)

// Local serves an archive that already sits on the local filesystem.
type Local struct {
	path string
}

// NewLocal creates a local provider for the archive at path.
func NewLocal(path string) (*Local, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("invalid local path %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("local path %s is a directory", path)
	}
	return &Local{path: path}, nil
}

func (s *Local) Name() string { return "local" }

// LastModified returns the file's mtime in HTTP date format.
func (s *Local) LastModified(ctx context.Context) (string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return "", &FetchError{Provider: s.Name(), Op: "stat", Err: err}
	}
	return info.ModTime().UTC().Format(http.TimeFormat), nil
}

// Download copies the archive to dst.
func (s *Local) Download(ctx context.Context, dst string) error {
	in, err := os.Open(s.path)
	if err != nil {
		return &FetchError{Provider: s.Name(), Op: "open", Err: err}
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	_, err = out.ReadFrom(in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &FetchError{Provider: s.Name(), Op: "copy", Err: err}
	}
	return nil
}

func (s *Local) Close() error { return nil }
