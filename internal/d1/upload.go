package d1

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/withObsrvr/obsrvr-geotime/internal/store"
)

// DefaultUploadBufferSize is the read buffer for streamed uploads.
const DefaultUploadBufferSize = 16 << 20

// Uploader PUTs artifacts to presigned URLs.
type Uploader struct {
	http    *http.Client
	bufSize int
	log     *slog.Logger
}

// NewUploader returns an uploader; zero values pick defaults.
func NewUploader(bufSize int, timeout time.Duration) *Uploader {
	if bufSize <= 0 {
		bufSize = DefaultUploadBufferSize
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Uploader{
		http:    &http.Client{Timeout: timeout},
		bufSize: bufSize,
		log:     slog.With("component", "uploader"),
	}
}

// Upload streams the file at path to url and returns the ETag header the
// storage endpoint reported, without quotes.
func (u *Uploader) Upload(ctx context.Context, url, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bufio.NewReaderSize(f, u.bufSize))
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/sql")

	start := time.Now()
	resp, err := u.http.Do(req)
	if err != nil {
		return "", &store.Error{Op: "artifact upload", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return "", &store.Error{Op: "artifact upload", Code: resp.StatusCode, Message: msg}
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	u.log.Info("artifact uploaded", "bytes", info.Size(), "duration", time.Since(start), "etag", etag)
	return etag, nil
}
