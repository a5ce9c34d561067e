// Package importer ships SQL artifacts into the remote store through the
// hash, init, upload, ingest and poll protocol.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/withObsrvr/obsrvr-geotime/internal/metrics"
	"github.com/withObsrvr/obsrvr-geotime/internal/store"
	"github.com/withObsrvr/obsrvr-geotime/internal/tables"
)

// NotImportingMessage is the store's benign poll answer once ingestion has
// already finished.
const NotImportingMessage = "Not currently importing anything."

// State is a step of one import attempt.
type State int

const (
	StateHashing State = iota
	StateInitiating
	StateAlreadyImported
	StateUploading
	StateIngesting
	StatePolling
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateHashing:
		return "HASHING"
	case StateInitiating:
		return "INITIATING"
	case StateAlreadyImported:
		return "ALREADY_IMPORTED"
	case StateUploading:
		return "UPLOADING"
	case StateIngesting:
		return "INGESTING"
	case StatePolling:
		return "POLLING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Uploader streams an artifact to a presigned URL and returns the checksum
// header reported by the storage endpoint.
type Uploader interface {
	Upload(ctx context.Context, url, path string) (string, error)
}

// Config controls retry and polling.
type Config struct {
	MaxAttempts         int           // whole-sequence attempts, default 5
	BackoffUnit         time.Duration // delay before retry n is n*BackoffUnit, default 2s
	PollInterval        time.Duration // default 1s
	TransientSignatures []string      // nil uses store.DefaultTransientSignatures
}

// DefaultConfig returns the production retry and poll settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		BackoffUnit:  2 * time.Second,
		PollInterval: time.Second,
	}
}

// Transport implements store.Importer over a BulkImporter.
type Transport struct {
	store    store.BulkImporter
	uploader Uploader
	cfg      Config
	clock    clock.Clock
	log      *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithClock replaces the wall clock used for backoff and poll waits.
func WithClock(c clock.Clock) Option {
	return func(t *Transport) { t.clock = c }
}

// New builds a transport. Zero config fields take DefaultConfig values.
func New(bi store.BulkImporter, up Uploader, cfg Config, opts ...Option) *Transport {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = def.BackoffUnit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}

	t := &Transport{
		store:    bi,
		uploader: up,
		cfg:      cfg,
		clock:    clock.New(),
		log:      slog.With("component", "importer"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// session carries one attempt through the states.
type session struct {
	path      string
	etag      string
	size      int64
	uploadURL string
	filename  string
	bookmark  string
	already   bool
	state     State
}

// Import runs the whole sequence, retrying it from HASHING only when the
// failure carries a transient store signature.
func (t *Transport) Import(ctx context.Context, path string) (*store.ImportReceipt, error) {
	start := t.clock.Now()
	log := t.log.With("artifact", filepath.Base(path))

	for attempt := 1; ; attempt++ {
		s, err := t.run(ctx, path)
		if err == nil {
			if m := metrics.Get(); m != nil {
				m.ObserveImportDuration(t.clock.Since(start).Seconds())
			}
			log.Info("artifact import complete",
				"etag", s.etag, "bookmark", s.bookmark, "already_imported", s.already, "attempts", attempt)
			return &store.ImportReceipt{
				Path:            path,
				ETag:            s.etag,
				Bookmark:        s.bookmark,
				AlreadyImported: s.already,
				Attempts:        attempt,
			}, nil
		}

		if !store.IsTransient(err) || attempt >= t.cfg.MaxAttempts {
			return nil, fmt.Errorf("import %s (attempt %d/%d): %w", filepath.Base(path), attempt, t.cfg.MaxAttempts, err)
		}

		delay := time.Duration(attempt) * t.cfg.BackoffUnit
		log.Warn("transient store failure, retrying", "attempt", attempt, "delay", delay, "error", err)
		if m := metrics.Get(); m != nil {
			m.IncRetryAttempts(metrics.Labels{Operation: "import"})
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.clock.After(delay):
		}
	}
}

// run drives one attempt from HASHING to DONE.
func (t *Transport) run(ctx context.Context, path string) (*session, error) {
	s := &session{path: path, state: StateHashing}

	for s.state != StateDone {
		var err error
		current := s.state

		switch current {
		case StateHashing:
			err = t.hash(s)
		case StateInitiating:
			err = t.initiate(ctx, s)
		case StateAlreadyImported:
			s.already = true
			s.state = StatePolling
		case StateUploading:
			err = t.upload(ctx, s)
		case StateIngesting:
			err = t.ingest(ctx, s)
		case StatePolling:
			err = t.poll(ctx, s)
		default:
			err = fmt.Errorf("unexpected state %s", current)
		}

		if err != nil {
			s.state = StateFailed
			return s, &StateError{State: current, Err: err}
		}
		t.log.Debug("import state", "from", current, "to", s.state, "etag", s.etag)
	}
	return s, nil
}

func (t *Transport) hash(s *session) error {
	d, err := tables.DigestFile(s.path)
	if err != nil {
		return err
	}
	s.etag, s.size = d.MD5, d.Size
	s.state = StateInitiating
	return nil
}

func (t *Transport) initiate(ctx context.Context, s *session) error {
	res, err := t.store.Init(ctx, s.etag)
	if err != nil {
		return err
	}
	if res.Error != "" {
		return store.Classify("import init", res.Error, 0, t.cfg.TransientSignatures)
	}

	if res.UploadURL == "" {
		if res.AtBookmark == "" {
			return store.Classify("import init", "no upload url or bookmark returned", 0, t.cfg.TransientSignatures)
		}
		s.bookmark = res.AtBookmark
		s.state = StateAlreadyImported
		return nil
	}

	if res.Filename == "" {
		return store.Classify("import init", "no filename returned with upload url", 0, t.cfg.TransientSignatures)
	}
	s.uploadURL, s.filename = res.UploadURL, res.Filename
	s.state = StateUploading
	return nil
}

func (t *Transport) upload(ctx context.Context, s *session) error {
	etag, err := t.uploader.Upload(ctx, s.uploadURL, s.path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(etag, s.etag) {
		return &IntegrityError{Path: s.path, Expected: s.etag, Actual: etag}
	}
	if m := metrics.Get(); m != nil {
		m.AddUploadBytes(float64(s.size))
	}
	s.state = StateIngesting
	return nil
}

func (t *Transport) ingest(ctx context.Context, s *session) error {
	res, err := t.store.Ingest(ctx, s.etag, s.filename)
	if err != nil {
		return err
	}
	if res.Error != "" {
		return store.Classify("import ingest", res.Error, 0, t.cfg.TransientSignatures)
	}
	if res.AtBookmark == "" {
		return store.Classify("import ingest", "no bookmark returned by ingestion", 0, t.cfg.TransientSignatures)
	}
	s.bookmark = res.AtBookmark
	s.state = StatePolling
	return nil
}

func (t *Transport) poll(ctx context.Context, s *session) error {
	for {
		res, err := t.store.Poll(ctx, s.bookmark)
		if err != nil {
			return err
		}
		if res.Success || res.Status == "complete" || res.Error == NotImportingMessage {
			if res.AtBookmark != "" {
				s.bookmark = res.AtBookmark
			}
			s.state = StateDone
			return nil
		}
		if res.Error != "" {
			return store.Classify("import poll", res.Error, 0, t.cfg.TransientSignatures)
		}
		if res.AtBookmark != "" {
			s.bookmark = res.AtBookmark
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.clock.After(t.cfg.PollInterval):
		}
	}
}
