package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
)

const lastModified = "Tue, 07 Oct 2025 14:09:35 GMT"

// fakeProvider serves fixed content and counts downloads.
type fakeProvider struct {
	content   string
	marker    string
	downloads int
	fail      error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) LastModified(ctx context.Context) (string, error) { return p.marker, nil }

func (p *fakeProvider) Download(ctx context.Context, dst string) error {
	p.downloads++
	if p.fail != nil {
		return p.fail
	}
	return os.WriteFile(dst, []byte(p.content), 0644)
}

func (p *fakeProvider) Close() error { return nil }

func TestMaxMindProvider(t *testing.T) {
	var heads, gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "1234" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Last-Modified", lastModified)
		if r.Method == http.MethodHead {
			atomic.AddInt32(&heads, 1)
			return
		}
		atomic.AddInt32(&gets, 1)
		w.Write([]byte("zip-bytes"))
	}))
	defer srv.Close()

	p, err := NewMaxMind(MaxMindConfig{URL: srv.URL, AccountID: "1234", LicenseKey: "secret"})
	require.NoError(t, err)

	marker, err := p.LastModified(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lastModified, marker)

	dst := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, p.Download(context.Background(), dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "zip-bytes", string(data))

	assert.EqualValues(t, 1, atomic.LoadInt32(&heads))
	assert.EqualValues(t, 1, atomic.LoadInt32(&gets))
}

func TestMaxMindProviderUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := NewMaxMind(MaxMindConfig{URL: srv.URL, AccountID: "1", LicenseKey: "bad"})
	require.NoError(t, err)

	_, err = p.LastModified(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetch))

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusUnauthorized, fe.Status)
	assert.Equal(t, "head", fe.Op)
}

func TestMaxMindRequiresCredentials(t *testing.T) {
	_, err := NewMaxMind(MaxMindConfig{})
	assert.Error(t, err)
}

func TestBucketProvider(t *testing.T) {
	ctx := context.Background()
	b := memblob.OpenBucket(nil)
	require.NoError(t, b.WriteAll(ctx, "mirror/GeoLite2-City.zip", []byte("mirrored"), nil))

	p := NewBucket(b, "mirror/GeoLite2-City.zip")
	defer p.Close()

	marker, err := p.LastModified(ctx)
	require.NoError(t, err)
	_, err = time.Parse(http.TimeFormat, marker)
	assert.NoError(t, err, "marker %q should be an HTTP date", marker)

	dst := filepath.Join(t.TempDir(), "out.zip")
	require.NoError(t, p.Download(ctx, dst))
	data, _ := os.ReadFile(dst)
	assert.Equal(t, "mirrored", string(data))

	missing := NewBucket(memblob.OpenBucket(nil), "absent.zip")
	_, err = missing.LastModified(ctx)
	assert.True(t, errors.Is(err, ErrFetch))
}

func TestLocalProvider(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.zip")
	require.NoError(t, os.WriteFile(src, []byte("local"), 0644))
	mtime := time.Date(2025, 10, 7, 14, 9, 35, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	p, err := NewLocal(src)
	require.NoError(t, err)

	marker, err := p.LastModified(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lastModified, marker)

	dst := filepath.Join(dir, "dst.zip")
	require.NoError(t, p.Download(context.Background(), dst))
	data, _ := os.ReadFile(dst)
	assert.Equal(t, "local", string(data))

	_, err = NewLocal(dir)
	assert.Error(t, err)
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New(context.Background(), Config{Kind: "ftp"})
	assert.True(t, errors.Is(err, ErrInvalidProvider))
}

func TestFetchReusesCachedArchive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := &fakeProvider{content: "v1", marker: "m1"}

	path, reused, err := Fetch(ctx, p, dir, "m1")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, filepath.Join(dir, ArchiveName), path)

	path, reused, err = Fetch(ctx, p, dir, "m1")
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, 1, p.downloads)

	marker, err := os.ReadFile(path + ".marker")
	require.NoError(t, err)
	assert.Equal(t, "m1", strings.TrimSpace(string(marker)))
}

func TestFetchRedownloadsOnNewMarker(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := &fakeProvider{content: "v1"}

	_, _, err := Fetch(ctx, p, dir, "m1")
	require.NoError(t, err)

	p.content = "v2"
	path, reused, err := Fetch(ctx, p, dir, "m2")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, 2, p.downloads)

	data, _ := os.ReadFile(path)
	assert.Equal(t, "v2", string(data))
}

func TestFetchReusesArchiveWithoutMarkerFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ArchiveName), []byte("manual"), 0644))

	p := &fakeProvider{}
	_, reused, err := Fetch(context.Background(), p, dir, "m1")
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Zero(t, p.downloads)
}

func TestFetchFailureLeavesNoArchive(t *testing.T) {
	dir := t.TempDir()
	p := &fakeProvider{fail: &FetchError{Provider: "fake", Op: "download", Status: 503}}

	_, _, err := Fetch(context.Background(), p, dir, "m1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetch))

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestExtractFlattensAndFilters(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, ArchiveName)
	root := "GeoLite2-City-CSV_20251007/"
	files := map[string]string{}
	files[root+BlocksIPv4File] = "network\n"
	files[root+LocationsFile] = "geoname_id\n"
	files[root+"GeoLite2-City-Locations-de.csv"] = "skip\n"
	files[root+"LICENSE.txt"] = "license\n"
	writeZip(t, zipPath, files)

	out, err := Extract(zipPath, filepath.Join(dir, "csv"), DefaultFiles)
	require.NoError(t, err)

	assert.Len(t, out, 3)
	assert.Equal(t, filepath.Join(dir, "csv", BlocksIPv4File), out[BlocksIPv4File])
	_, ok := out["GeoLite2-City-Locations-de.csv"]
	assert.False(t, ok)

	data, err := os.ReadFile(out[LocationsFile])
	require.NoError(t, err)
	assert.Equal(t, "geoname_id\n", string(data))
}

func TestExtractBadArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0644))
	_, err := Extract(path, t.TempDir(), DefaultFiles)
	assert.Error(t, err)
}

// stream drains StreamCSV and returns its batches and terminal error.
func stream(t *testing.T, path string, chunkSize, chunkCount int) ([]Batch, error) {
	t.Helper()
	batches, errs := StreamCSV(context.Background(), path, chunkSize, chunkCount)
	var out []Batch
	for b := range batches {
		out = append(out, b)
	}
	return out, <-errs
}

func writeCSV(t *testing.T, rows int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("\ufeffnetwork,geoname_id,postal_code\n")
	for i := 0; i < rows; i++ {
		b.WriteString("1.0.0.0/24,2077456,\"a, b\"\n")
	}
	path := filepath.Join(t.TempDir(), "blocks.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func TestStreamCSVBatches(t *testing.T) {
	path := writeCSV(t, 25)

	batches, err := stream(t, path, 10, 0)
	require.NoError(t, err)
	require.Len(t, batches, 3)

	assert.Len(t, batches[0].Rows, 10)
	assert.Len(t, batches[1].Rows, 10)
	assert.Len(t, batches[2].Rows, 5)
	for i, b := range batches {
		assert.Equal(t, i, b.Index)
	}

	row := batches[0].Rows[0]
	assert.Equal(t, "1.0.0.0/24", row["network"], "BOM must be stripped from the first header")
	assert.Equal(t, "a, b", row["postal_code"])
}

func TestStreamCSVChunkCount(t *testing.T) {
	path := writeCSV(t, 25)

	batches, err := stream(t, path, 10, 2)
	require.NoError(t, err)
	assert.Len(t, batches, 2)
}

func TestStreamCSVExactMultiple(t *testing.T) {
	path := writeCSV(t, 20)

	batches, err := stream(t, path, 10, 0)
	require.NoError(t, err)
	assert.Len(t, batches, 2)
}

func TestStreamCSVErrors(t *testing.T) {
	_, err := stream(t, filepath.Join(t.TempDir(), "none.csv"), 10, 0)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "ragged.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n3\n"), 0644))
	_, err = stream(t, path, 10, 0)
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	_, err = stream(t, empty, 10, 0)
	assert.Error(t, err)
}

func TestStreamCSVCancelled(t *testing.T) {
	path := writeCSV(t, 100)
	ctx, cancel := context.WithCancel(context.Background())

	batches, errs := StreamCSV(ctx, path, 1, 0)
	<-batches
	cancel()
	for range batches {
	}
	err := <-errs
	assert.True(t, errors.Is(err, context.Canceled))
}
