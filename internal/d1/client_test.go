package d1

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-geotime/internal/store"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{AccountID: "acct", DatabaseID: "db", APIToken: "token", BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{AccountID: "a", DatabaseID: "d"})
	assert.Error(t, err)
	_, err = New(Config{APIToken: "t"})
	assert.Error(t, err)
}

func TestQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/acct/d1/database/db/query", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		var req queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "SELECT time_zone FROM t WHERE id = ?", req.SQL)
		assert.Equal(t, []any{"abc"}, req.Params)

		io.WriteString(w, `{"success":true,"errors":[],"result":[{"success":true,"results":[{"time_zone":"Europe/Amsterdam","n":7}]}]}`)
	})

	rows, err := c.Query(context.Background(), "SELECT time_zone FROM t WHERE id = ?", "abc")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	tz, ok := rows[0].String("time_zone")
	assert.True(t, ok)
	assert.Equal(t, "Europe/Amsterdam", tz)
	n, ok := rows[0].Int64("n")
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)
}

func TestQueryRejectsBinaryParams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.Query(context.Background(), "SELECT 1 WHERE ? = 1", []byte{1})
	assert.Error(t, err)
}

func TestErrorEnvelopeIsClassified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"success":false,"errors":[{"code":7500,"message":"D1_RESET_DO: Durable Object reset"}],"result":null}`)
	})

	_, err := c.Query(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.True(t, store.IsTransient(err))

	var se *store.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 7500, se.Code)
	assert.Equal(t, "d1 query", se.Op)
}

func TestNonJSONErrorIsFatal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream exploded")
	})

	err := c.Exec(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStore))
	assert.False(t, store.IsTransient(err))
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestImportActions(t *testing.T) {
	var actions []importRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/acct/d1/database/db/import", r.URL.Path)
		var req importRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		actions = append(actions, req)

		switch req.Action {
		case "init":
			io.WriteString(w, `{"success":true,"result":{"success":true,"upload_url":"https://r2/upload","filename":"f.sql"}}`)
		case "ingest":
			io.WriteString(w, `{"success":true,"result":{"success":true,"at_bookmark":"bm-1","status":"active"}}`)
		case "poll":
			io.WriteString(w, `{"success":true,"result":{"success":true,"at_bookmark":"bm-2","status":"complete"}}`)
		}
	})

	ctx := context.Background()
	slot, err := c.Init(ctx, "etag1")
	require.NoError(t, err)
	assert.Equal(t, "https://r2/upload", slot.UploadURL)

	ingest, err := c.Ingest(ctx, "etag1", slot.Filename)
	require.NoError(t, err)
	assert.Equal(t, "bm-1", ingest.AtBookmark)

	poll, err := c.Poll(ctx, ingest.AtBookmark)
	require.NoError(t, err)
	assert.Equal(t, "complete", poll.Status)

	require.Len(t, actions, 3)
	assert.Equal(t, importRequest{Action: "init", ETag: "etag1"}, actions[0])
	assert.Equal(t, importRequest{Action: "ingest", ETag: "etag1", Filename: "f.sql"}, actions[1])
	assert.Equal(t, importRequest{Action: "poll", CurrentBookmark: "bm-1"}, actions[2])
}

func TestUploadReturnsETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, int64(11), r.ContentLength)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "INSERT 1;\n\n", string(body))
		w.Header().Set("ETag", `"abc123"`)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "a.sql")
	require.NoError(t, os.WriteFile(path, []byte("INSERT 1;\n\n"), 0644))

	etag, err := NewUploader(4, 0).Upload(context.Background(), srv.URL, path)
	require.NoError(t, err)
	assert.Equal(t, "abc123", etag)
}

func TestUploadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "signature expired")
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "a.sql")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err := NewUploader(0, 0).Upload(context.Background(), srv.URL, path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "signature expired"))
	assert.False(t, store.IsTransient(err))
}
