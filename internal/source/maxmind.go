package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// DefaultMaxMindURL is the GeoLite2 City CSV permalink.
const DefaultMaxMindURL = "https://download.maxmind.com/geoip/databases/GeoLite2-City-CSV/download?suffix=zip"

// MaxMindConfig holds the download endpoint and account credentials.
type MaxMindConfig struct {
	URL        string
	AccountID  string
	LicenseKey string
	Timeout    time.Duration
}

// MaxMind downloads the dataset from MaxMind's permalink endpoint.
type MaxMind struct {
	url        string
	accountID  string
	licenseKey string
	client     *http.Client
	log        *slog.Logger
}

// NewMaxMind creates a MaxMind provider. Credentials are required.
func NewMaxMind(cfg MaxMindConfig) (*MaxMind, error) {
	if cfg.AccountID == "" || cfg.LicenseKey == "" {
		return nil, errors.New("maxmind account id and license key are required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultMaxMindURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &MaxMind{
		url:        cfg.URL,
		accountID:  cfg.AccountID,
		licenseKey: cfg.LicenseKey,
		client:     &http.Client{Timeout: cfg.Timeout},
		log:        slog.With("component", "source", "provider", "maxmind"),
	}, nil
}

func (m *MaxMind) Name() string { return "maxmind" }

// LastModified issues a HEAD request and returns the Last-Modified header.
func (m *MaxMind) LastModified(ctx context.Context) (string, error) {
	resp, err := m.do(ctx, http.MethodHead)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	marker := resp.Header.Get("Last-Modified")
	if marker == "" {
		return "", &FetchError{Provider: m.Name(), Op: "head", Err: errors.New("no Last-Modified header")}
	}
	return marker, nil
}

// Download streams the archive body to dst.
func (m *MaxMind) Download(ctx context.Context, dst string) error {
	resp, err := m.do(ctx, http.MethodGet)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	n, err := f.ReadFrom(resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &FetchError{Provider: m.Name(), Op: "download", Err: err}
	}
	m.log.Info("archive downloaded", "bytes", n, "path", dst)
	return nil
}

func (m *MaxMind) Close() error { return nil }

func (m *MaxMind) do(ctx context.Context, method string) (*http.Response, error) {
	op := "download"
	if method == http.MethodHead {
		op = "head"
	}

	req, err := http.NewRequestWithContext(ctx, method, m.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(m.accountID, m.licenseKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &FetchError{Provider: m.Name(), Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &FetchError{Provider: m.Name(), Op: op, Status: resp.StatusCode}
	}
	return resp, nil
}
