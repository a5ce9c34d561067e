// Package store defines the remote analytical store contracts used by the
// refresh pipeline and the resolver, the store error taxonomy, and a local
// SQLite backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Querier runs parameterized SQL against a store.
type Querier interface {
	Query(ctx context.Context, sql string, params ...any) ([]Row, error)
	Exec(ctx context.Context, sql string, params ...any) error
}

// ImportStatus is the store's answer to one phase of the bulk import protocol.
type ImportStatus struct {
	Success    bool     `json:"success"`
	UploadURL  string   `json:"upload_url,omitempty"`
	Filename   string   `json:"filename,omitempty"`
	AtBookmark string   `json:"at_bookmark,omitempty"`
	Status     string   `json:"status,omitempty"`
	Error      string   `json:"error,omitempty"`
	Messages   []string `json:"messages,omitempty"`
}

// BulkImporter is the three-phase import protocol keyed by content hash.
type BulkImporter interface {
	Init(ctx context.Context, etag string) (*ImportStatus, error)
	Ingest(ctx context.Context, etag, filename string) (*ImportStatus, error)
	Poll(ctx context.Context, bookmark string) (*ImportStatus, error)
}

// ImportReceipt describes a completed artifact import.
type ImportReceipt struct {
	Path            string
	ETag            string
	Bookmark        string
	AlreadyImported bool
	Attempts        int
}

// Importer imports one SQL artifact file.
type Importer interface {
	Import(ctx context.Context, path string) (*ImportReceipt, error)
}

// Row is a result row keyed by column name.
type Row map[string]any

// String returns the column as text; false when NULL or missing.
func (r Row) String(col string) (string, bool) {
	switch v := r[col].(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case []byte:
		return string(v), true
	case json.Number:
		return v.String(), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return fmt.Sprint(v), true
	}
}

// Int64 returns the column as an integer; false when NULL or not numeric.
func (r Row) Int64(col string) (int64, bool) {
	switch v := r[col].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Float64 returns the column as a float; false when NULL or not numeric.
func (r Row) Float64(col string) (float64, bool) {
	switch v := r[col].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Bool accepts 1/0 integers and "1"/"0"/"true"/"false" text.
func (r Row) Bool(col string) (bool, bool) {
	switch v := r[col].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(v) {
		case "1", "true":
			return true, true
		case "0", "false":
			return false, true
		}
		return false, false
	}
	if n, ok := r.Int64(col); ok {
		return n != 0, true
	}
	return false, false
}

var (
	// ErrStore matches every store-reported failure.
	ErrStore = errors.New("store error")

	// ErrTransient matches store failures with a known transient signature.
	ErrTransient = errors.New("transient store error")
)

// DefaultTransientSignatures identify the store's durable-object reset
// condition, the only failure retried.
var DefaultTransientSignatures = []string{
	"D1_RESET_DO",
	"reset because its code was updated",
}

// Error is a failure reported by the store.
type Error struct {
	Op        string
	Code      int
	Message   string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code %d)", e.Op, msg, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches ErrStore always and ErrTransient when the error is transient.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrStore:
		return true
	case ErrTransient:
		return e.Transient
	}
	return false
}

// Classify builds an Error, marking it transient when message contains one
// of signatures (DefaultTransientSignatures when nil).
func Classify(op, message string, code int, signatures []string) *Error {
	if signatures == nil {
		signatures = DefaultTransientSignatures
	}
	e := &Error{Op: op, Code: code, Message: message}
	for _, sig := range signatures {
		if sig != "" && strings.Contains(message, sig) {
			e.Transient = true
			break
		}
	}
	return e
}

// IsTransient reports whether err carries a transient store signature.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
