// Package upsert renders batches of records as idempotent bulk upsert
// statements in the SQLite dialect.
//
// Each statement inserts at most MaxRowsPerStatement tuples and carries a
// WHERE guard on the DO UPDATE clause so rows whose values did not change are
// not rewritten. Output is a pure function of the input order.
package upsert

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultMaxRowsPerStatement keeps statements under the store's size limit.
const DefaultMaxRowsPerStatement = 250

var (
	// ErrEmptyBatch is returned when there are no rows to render.
	ErrEmptyBatch = errors.New("empty batch")

	// ErrColumnCount is returned when a row does not match its table's columns.
	ErrColumnCount = errors.New("row column count mismatch")

	// ErrInvalidTable is returned for malformed table definitions.
	ErrInvalidTable = errors.New("invalid table definition")
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Table describes the target of an upsert.
type Table struct {
	Name        string
	Columns     []string
	ConflictKey []string
}

// Validate checks identifiers and that the conflict key is a column subset.
func (t Table) Validate() error {
	if !identifier.MatchString(t.Name) {
		return fmt.Errorf("%w: table name %q", ErrInvalidTable, t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("%w: %s has no columns", ErrInvalidTable, t.Name)
	}
	if len(t.ConflictKey) == 0 {
		return fmt.Errorf("%w: %s has no conflict key", ErrInvalidTable, t.Name)
	}

	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if !identifier.MatchString(c) {
			return fmt.Errorf("%w: column name %q", ErrInvalidTable, c)
		}
		if seen[c] {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidTable, c)
		}
		seen[c] = true
	}
	for _, k := range t.ConflictKey {
		if !seen[k] {
			return fmt.Errorf("%w: conflict key %q is not a column of %s", ErrInvalidTable, k, t.Name)
		}
	}
	return nil
}

// updateColumns returns the non-key columns in declaration order.
func (t Table) updateColumns() []string {
	key := make(map[string]bool, len(t.ConflictKey))
	for _, k := range t.ConflictKey {
		key[k] = true
	}
	var out []string
	for _, c := range t.Columns {
		if !key[c] {
			out = append(out, c)
		}
	}
	return out
}

// Row is a record that can be rendered in its table's column order.
type Row interface {
	Values() []any
}

// Options controls statement generation.
type Options struct {
	// MaxRowsPerStatement defaults to DefaultMaxRowsPerStatement.
	MaxRowsPerStatement int

	// Transaction wraps the whole batch in BEGIN TRANSACTION / COMMIT.
	Transaction bool
}

func (o Options) maxRows() int {
	if o.MaxRowsPerStatement <= 0 {
		return DefaultMaxRowsPerStatement
	}
	return o.MaxRowsPerStatement
}

// Statements renders rows into ceil(len(rows)/MaxRowsPerStatement) statements.
// Transaction is ignored here; see Generate.
func Statements[R Row](t Table, rows []R, opts Options) ([]string, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", t.Name, ErrEmptyBatch)
	}

	head := fmt.Sprintf("INSERT INTO %s (%s)\nVALUES\n", t.Name, strings.Join(t.Columns, ", "))
	tail := conflictClause(t)

	limit := opts.maxRows()
	stmts := make([]string, 0, (len(rows)+limit-1)/limit)
	for start := 0; start < len(rows); start += limit {
		end := start + limit
		if end > len(rows) {
			end = len(rows)
		}

		var b strings.Builder
		b.WriteString(head)
		for i, row := range rows[start:end] {
			tuple, err := renderTuple(t, row)
			if err != nil {
				return nil, fmt.Errorf("%s row %d: %w", t.Name, start+i, err)
			}
			if i > 0 {
				b.WriteString(",\n")
			}
			b.WriteString(tuple)
		}
		b.WriteString("\n")
		b.WriteString(tail)
		stmts = append(stmts, b.String())
	}
	return stmts, nil
}

// Generate renders rows as one SQL text, optionally inside a transaction.
func Generate[R Row](t Table, rows []R, opts Options) (string, error) {
	stmts, err := Statements(t, rows, opts)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if opts.Transaction {
		b.WriteString("BEGIN TRANSACTION;\n")
	}
	for _, s := range stmts {
		b.WriteString(s)
		b.WriteString("\n")
	}
	if opts.Transaction {
		b.WriteString("COMMIT;\n")
	}
	return b.String(), nil
}

func renderTuple(t Table, row Row) (string, error) {
	values := row.Values()
	if len(values) != len(t.Columns) {
		return "", fmt.Errorf("%w: have %d values, want %d", ErrColumnCount, len(values), len(t.Columns))
	}

	parts := make([]string, len(values))
	for i, v := range values {
		lit, err := Literal(v)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", t.Columns[i], err)
		}
		parts[i] = lit
	}
	return "(" + strings.Join(parts, ", ") + ")", nil
}

func conflictClause(t Table) string {
	key := strings.Join(t.ConflictKey, ", ")
	cols := t.updateColumns()
	if len(cols) == 0 {
		return fmt.Sprintf("ON CONFLICT(%s) DO NOTHING;", key)
	}

	sets := make([]string, len(cols))
	guards := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s=excluded.%s", c, c)
		guards[i] = fmt.Sprintf("%s IS NOT excluded.%s", c, c)
	}
	return fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET %s\nWHERE %s;",
		key, strings.Join(sets, ", "), strings.Join(guards, " OR "))
}
