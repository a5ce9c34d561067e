// Package source fetches the GeoLite2 City CSV archive and streams its
// tables as header-keyed rows.
package source

import (
	"context"
	"errors"
	"fmt"
)

// Provider publishes the dataset archive.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// LastModified returns the dataset's current version marker.
	LastModified(ctx context.Context) (string, error)
	// Download writes the archive to dst.
	Download(ctx context.Context, dst string) error
	Close() error
}

// Config selects and configures a Provider.
type Config struct {
	Kind string // "maxmind" | "bucket" | "local"

	MaxMindURL        string
	MaxMindAccountID  string
	MaxMindLicenseKey string

	BucketURL string
	BucketKey string

	Path string
}

var (
	ErrInvalidProvider = errors.New("invalid source provider")
	// ErrFetch is matched by every FetchError.
	ErrFetch = errors.New("source fetch failed")
)

// FetchError reports a failure talking to the dataset provider.
type FetchError struct {
	Provider string
	Op       string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Provider, e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// New constructs a provider based on the configured kind.
func New(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Kind {
	case "maxmind", "":
		return NewMaxMind(MaxMindConfig{
			URL:        cfg.MaxMindURL,
			AccountID:  cfg.MaxMindAccountID,
			LicenseKey: cfg.MaxMindLicenseKey,
		})
	case "bucket":
		return OpenBucket(ctx, cfg.BucketURL, cfg.BucketKey)
	case "local":
		return NewLocal(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProvider, cfg.Kind)
	}
}
