package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-geotime/internal/store"
	"github.com/withObsrvr/obsrvr-geotime/internal/tables"
)

// recordingClock fires After immediately and remembers the requested delays.
type recordingClock struct {
	*clock.Mock
	mu     sync.Mutex
	delays []time.Duration
}

func newRecordingClock() *recordingClock {
	return &recordingClock{Mock: clock.NewMock()}
}

func (c *recordingClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- c.Mock.Now().Add(d)
	return ch
}

// mockStore scripts the bulk import protocol.
type mockStore struct {
	mu          sync.Mutex
	etag        string
	alreadyDone bool
	noFilename  bool    // init hands back an upload url without a filename
	noBookmark  bool    // ingest omits at_bookmark
	initErrs    []error // consumed one per Init call
	polls       []store.ImportStatus
	calls       []string
}

func (m *mockStore) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *mockStore) Init(_ context.Context, etag string) (*store.ImportStatus, error) {
	m.record("init")
	m.etag = etag
	if len(m.initErrs) > 0 {
		err := m.initErrs[0]
		m.initErrs = m.initErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if m.alreadyDone {
		return &store.ImportStatus{Success: true, AtBookmark: "bm-existing"}, nil
	}
	res := &store.ImportStatus{Success: true, UploadURL: "https://upload/slot", Filename: "upload.sql"}
	if m.noFilename {
		res.Filename = ""
	}
	return res, nil
}

func (m *mockStore) Ingest(_ context.Context, etag, filename string) (*store.ImportStatus, error) {
	m.record("ingest")
	if m.noBookmark {
		return &store.ImportStatus{Success: true, Status: "active"}, nil
	}
	return &store.ImportStatus{Success: true, AtBookmark: "bm-ingest", Status: "active"}, nil
}

func (m *mockStore) Poll(_ context.Context, bookmark string) (*store.ImportStatus, error) {
	m.record("poll:" + bookmark)
	if len(m.polls) == 0 {
		return &store.ImportStatus{Success: true, Status: "complete", AtBookmark: bookmark}, nil
	}
	res := m.polls[0]
	m.polls = m.polls[1:]
	return &res, nil
}

type mockUploader struct {
	calls int
	etag  string // empty echoes the real file hash
}

func (u *mockUploader) Upload(_ context.Context, url, path string) (string, error) {
	u.calls++
	if u.etag != "" {
		return u.etag, nil
	}
	d, err := tables.DigestFile(path)
	if err != nil {
		return "", err
	}
	return d.MD5, nil
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geoip2.sql")
	require.NoError(t, os.WriteFile(path, []byte("INSERT INTO t (a) VALUES (1);\n"), 0644))
	return path
}

func TestImportHappyPath(t *testing.T) {
	st := &mockStore{}
	up := &mockUploader{}
	clk := newRecordingClock()
	tr := New(st, up, Config{}, WithClock(clk))

	receipt, err := tr.Import(context.Background(), writeArtifact(t))
	require.NoError(t, err)

	assert.Equal(t, 1, up.calls)
	assert.Equal(t, []string{"init", "ingest", "poll:bm-ingest"}, st.calls)
	assert.False(t, receipt.AlreadyImported)
	assert.Equal(t, 1, receipt.Attempts)
	assert.Equal(t, st.etag, receipt.ETag)
	assert.Empty(t, clk.delays)
}

func TestImportAlreadyImportedSkipsUpload(t *testing.T) {
	st := &mockStore{alreadyDone: true}
	up := &mockUploader{}
	tr := New(st, up, Config{}, WithClock(newRecordingClock()))

	receipt, err := tr.Import(context.Background(), writeArtifact(t))
	require.NoError(t, err)

	assert.Equal(t, 0, up.calls)
	assert.Equal(t, []string{"init", "poll:bm-existing"}, st.calls)
	assert.True(t, receipt.AlreadyImported)
}

func TestImportRetriesTransientFailures(t *testing.T) {
	transient := store.Classify("import init", "D1_RESET_DO", 0, nil)
	st := &mockStore{initErrs: []error{transient, transient, nil}}
	clk := newRecordingClock()
	tr := New(st, &mockUploader{}, Config{}, WithClock(clk))

	receipt, err := tr.Import(context.Background(), writeArtifact(t))
	require.NoError(t, err)

	assert.Equal(t, 3, receipt.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, clk.delays)
}

func TestImportGivesUpAfterMaxAttempts(t *testing.T) {
	transient := store.Classify("import init", "D1_RESET_DO", 0, nil)
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = transient
	}
	st := &mockStore{initErrs: errs}
	clk := newRecordingClock()
	tr := New(st, &mockUploader{}, Config{}, WithClock(clk))

	_, err := tr.Import(context.Background(), writeArtifact(t))
	require.Error(t, err)
	assert.True(t, store.IsTransient(err))
	assert.Len(t, st.calls, 5)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second}, clk.delays)
}

func TestImportDoesNotRetryFatalErrors(t *testing.T) {
	fatal := store.Classify("import init", "SQLITE_ERROR: no such table", 0, nil)
	st := &mockStore{initErrs: []error{fatal}}
	clk := newRecordingClock()
	tr := New(st, &mockUploader{}, Config{}, WithClock(clk))

	_, err := tr.Import(context.Background(), writeArtifact(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStore))
	assert.Len(t, st.calls, 1)
	assert.Empty(t, clk.delays)

	var se *StateError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StateInitiating, se.State)
}

func TestImportIntegrityMismatchIsFatal(t *testing.T) {
	st := &mockStore{}
	up := &mockUploader{etag: "00000000000000000000000000000000"}
	clk := newRecordingClock()
	tr := New(st, up, Config{}, WithClock(clk))

	_, err := tr.Import(context.Background(), writeArtifact(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIntegrity))
	assert.Equal(t, 1, up.calls)
	assert.Equal(t, []string{"init"}, st.calls)
	assert.Empty(t, clk.delays)
}

func TestPollTreatsNotImportingAsDone(t *testing.T) {
	st := &mockStore{polls: []store.ImportStatus{
		{Status: "active", AtBookmark: "bm-2"},
		{Error: NotImportingMessage},
	}}
	clk := newRecordingClock()
	tr := New(st, &mockUploader{}, Config{}, WithClock(clk))

	receipt, err := tr.Import(context.Background(), writeArtifact(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"init", "ingest", "poll:bm-ingest", "poll:bm-2"}, st.calls)
	assert.Equal(t, []time.Duration{time.Second}, clk.delays)
	assert.Equal(t, "bm-2", receipt.Bookmark)
}

func TestPollErrorWithTransientSignatureRetriesWholeSequence(t *testing.T) {
	st := &mockStore{polls: []store.ImportStatus{
		{Error: "Durable Object reset because its code was updated."},
	}}
	clk := newRecordingClock()
	tr := New(st, &mockUploader{}, Config{}, WithClock(clk))

	receipt, err := tr.Import(context.Background(), writeArtifact(t))
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.Attempts)
	assert.Equal(t, []string{"init", "ingest", "poll:bm-ingest", "init", "ingest", "poll:bm-ingest"}, st.calls)
	assert.Equal(t, []time.Duration{2 * time.Second}, clk.delays)
}

func TestPollFatalError(t *testing.T) {
	st := &mockStore{polls: []store.ImportStatus{{Error: "near \"VALUES\": syntax error"}}}
	tr := New(st, &mockUploader{}, Config{}, WithClock(newRecordingClock()))

	_, err := tr.Import(context.Background(), writeArtifact(t))
	require.Error(t, err)
	assert.False(t, store.IsTransient(err))

	var se *StateError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StatePolling, se.State)
}

func TestIngestWithoutBookmarkFails(t *testing.T) {
	st := &mockStore{noBookmark: true}
	tr := New(st, &mockUploader{}, Config{}, WithClock(newRecordingClock()))

	_, err := tr.Import(context.Background(), writeArtifact(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStore))
	assert.Contains(t, err.Error(), "no bookmark")
	assert.Equal(t, []string{"init", "ingest"}, st.calls, "must not poll without a bookmark")

	var se *StateError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StateIngesting, se.State)
}

func TestInitWithoutFilenameFails(t *testing.T) {
	st := &mockStore{noFilename: true}
	up := &mockUploader{}
	tr := New(st, up, Config{}, WithClock(newRecordingClock()))

	_, err := tr.Import(context.Background(), writeArtifact(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStore))
	assert.Zero(t, up.calls)
	assert.Equal(t, []string{"init"}, st.calls)

	var se *StateError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StateInitiating, se.State)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ALREADY_IMPORTED", StateAlreadyImported.String())
	assert.Equal(t, "FAILED", StateFailed.String())
}
