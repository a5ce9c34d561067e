package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/withObsrvr/obsrvr-geotime/internal/tables"
	_ "modernc.org/sqlite"
)

const importsDDL = `CREATE TABLE IF NOT EXISTS geotime_imports (
    etag TEXT PRIMARY KEY,
    filename TEXT NOT NULL,
    statements INTEGER NOT NULL,
    imported_at TEXT NOT NULL
)`

// SQLite is a local store backend. It executes artifacts directly and
// remembers imported etags so identical content is imported once.
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for an ephemeral store.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, log: slog.With("component", "sqlite-store", "path", path)}
	if path != ":memory:" {
		if err := s.Exec(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := Migrate(ctx, s); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Exec(ctx, importsDDL); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Query implements Querier.
func (s *SQLite) Query(ctx context.Context, query string, params ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, &Error{Op: "sqlite query", Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &Error{Op: "sqlite columns", Err: err}
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &Error{Op: "sqlite scan", Err: err}
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "sqlite rows", Err: err}
	}
	return out, nil
}

// Exec implements Querier.
func (s *SQLite) Exec(ctx context.Context, query string, params ...any) error {
	if _, err := s.db.ExecContext(ctx, query, params...); err != nil {
		return &Error{Op: "sqlite exec", Err: err}
	}
	return nil
}

// Import implements Importer. The artifact runs in one transaction; its own
// BEGIN/COMMIT and PRAGMA lines are skipped.
func (s *SQLite) Import(ctx context.Context, path string) (*ImportReceipt, error) {
	digest, err := tables.DigestFile(path)
	if err != nil {
		return nil, err
	}
	receipt := &ImportReceipt{Path: path, ETag: digest.MD5, Attempts: 1}

	rows, err := s.Query(ctx, "SELECT filename FROM geotime_imports WHERE etag = ?", digest.MD5)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		s.log.Info("artifact already imported", "etag", digest.MD5, "artifact", filepath.Base(path))
		receipt.AlreadyImported = true
		return receipt, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &Error{Op: "sqlite begin", Err: err}
	}
	defer tx.Rollback()

	count := 0
	err = EachStatement(f, func(stmt string) error {
		if isSessionControl(stmt) {
			return nil
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &Error{Op: "sqlite import", Message: fmt.Sprintf("statement %d: %v", count+1, err), Err: err}
		}
		count++
		return nil
	})
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO geotime_imports (etag, filename, statements, imported_at) VALUES (?, ?, ?, ?)",
		digest.MD5, filepath.Base(path), count, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, &Error{Op: "sqlite import", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &Error{Op: "sqlite commit", Err: err}
	}

	s.log.Info("artifact imported", "etag", digest.MD5, "statements", count, "bytes", digest.Size)
	receipt.Bookmark = digest.MD5
	return receipt, nil
}

// Close releases the database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return errors.New("sqlite store already closed")
	}
	err := s.db.Close()
	s.db = nil
	return err
}
