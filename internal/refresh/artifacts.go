package refresh

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/withObsrvr/obsrvr-geotime/internal/util"
)

// dumpPrologue speeds up loading a dump-only artifact into a local sqlite3 shell.
const dumpPrologue = "PRAGMA synchronous = OFF;\n"

const artifactBufferSize = 1 << 20

// artifactWriter writes generated statements either into one cumulative
// file or into one file per batch. Files are written under a temporary
// name and renamed when complete, so a crash never leaves a truncated
// artifact behind under its final name.
type artifactWriter struct {
	dir         string
	base        string // geoip2-<marker slug>
	split       bool
	prologue    bool
	transaction bool

	cur   *os.File
	buf   *bufio.Writer
	name  string
	paths []string
}

func newArtifactWriter(dir, base string, split, dumpOnly, transaction bool) (*artifactWriter, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create artifact dir %s: %w", dir, err)
	}
	return &artifactWriter{
		dir:         dir,
		base:        base,
		split:       split,
		prologue:    dumpOnly,
		transaction: transaction,
	}, nil
}

// WriteBatch appends the statements generated for one batch of a table.
func (w *artifactWriter) WriteBatch(table string, batch int, stmts []string) error {
	if len(stmts) == 0 {
		return nil
	}

	if w.split {
		if err := w.open(fmt.Sprintf("%s-%s-%d.sql", w.base, table, batch)); err != nil {
			return err
		}
	} else if w.cur == nil {
		if err := w.open(w.base + ".sql"); err != nil {
			return err
		}
	}

	for _, s := range stmts {
		if _, err := w.buf.WriteString(s); err != nil {
			return fmt.Errorf("write %s: %w", w.name, err)
		}
		if err := w.buf.WriteByte('\n'); err != nil {
			return fmt.Errorf("write %s: %w", w.name, err)
		}
	}

	if w.split {
		return w.finish()
	}
	return nil
}

// Close finishes the current artifact and returns every artifact path in
// the order written.
func (w *artifactWriter) Close() ([]string, error) {
	if err := w.finish(); err != nil {
		return nil, err
	}
	return w.paths, nil
}

// Abort removes the artifact being written.
func (w *artifactWriter) Abort() {
	if w.cur == nil {
		return
	}
	tmp := w.cur.Name()
	w.cur.Close()
	os.Remove(tmp)
	w.cur, w.buf = nil, nil
}

func (w *artifactWriter) open(name string) error {
	f, err := os.CreateTemp(w.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create artifact %s: %w", name, err)
	}
	w.cur = f
	w.buf = bufio.NewWriterSize(f, artifactBufferSize)
	w.name = name

	if w.prologue {
		if _, err := w.buf.WriteString(dumpPrologue); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	if w.transaction {
		if _, err := w.buf.WriteString("BEGIN TRANSACTION;\n"); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func (w *artifactWriter) finish() error {
	if w.cur == nil {
		return nil
	}
	f, tmp := w.cur, w.cur.Name()
	w.cur = nil

	var err error
	if w.transaction {
		_, err = w.buf.WriteString("COMMIT;\n")
	}
	err = multierr.Combine(err, w.buf.Flush(), f.Sync(), f.Close())
	w.buf = nil
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finish artifact %s: %w", w.name, err)
	}

	final := filepath.Join(w.dir, w.name)
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename artifact %s: %w", w.name, err)
	}
	w.paths = append(w.paths, final)
	return nil
}
