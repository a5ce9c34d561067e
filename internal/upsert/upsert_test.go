package upsert

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRow struct {
	id    int64
	name  *string
	blob  []byte
	flag  *bool
	score *float64
}

func (r testRow) Values() []any {
	return []any{r.id, r.name, r.blob, r.flag, r.score}
}

var testTable = Table{
	Name:        "things",
	Columns:     []string{"id", "name", "blob", "flag", "score"},
	ConflictKey: []string{"id"},
}

func ptr[T any](v T) *T { return &v }

func makeRows(n int) []testRow {
	rows := make([]testRow, n)
	for i := range rows {
		rows[i] = testRow{id: int64(i), name: ptr(fmt.Sprintf("row-%d", i)), blob: []byte{byte(i)}}
	}
	return rows
}

// countTuples counts value tuples, which are rendered one per line.
func countTuples(stmt string) int {
	n := 0
	for _, line := range strings.Split(stmt, "\n") {
		if strings.HasPrefix(line, "(") {
			n++
		}
	}
	return n
}

// balanced checks parentheses outside of quoted string literals.
func balanced(stmt string) bool {
	depth := 0
	inQuote := false
	for _, r := range stmt {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case inQuote:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0 && !inQuote
}

func TestStatementsSplitsBatches(t *testing.T) {
	tests := []struct {
		rows, limit int
		want        []int
	}{
		{1, 250, []int{1}},
		{250, 250, []int{250}},
		{251, 250, []int{250, 1}},
		{10, 3, []int{3, 3, 3, 1}},
		{600, 0, []int{250, 250, 100}},
	}

	for _, tt := range tests {
		stmts, err := Statements(testTable, makeRows(tt.rows), Options{MaxRowsPerStatement: tt.limit})
		require.NoError(t, err)
		require.Len(t, stmts, len(tt.want), "rows=%d limit=%d", tt.rows, tt.limit)
		for i, stmt := range stmts {
			assert.Equal(t, tt.want[i], countTuples(stmt), "statement %d", i)
			assert.True(t, balanced(stmt), "unbalanced statement %d", i)
			assert.Equal(t, 1, strings.Count(stmt, "VALUES"), "statement %d", i)
			assert.True(t, strings.HasSuffix(stmt, ";"))
		}
	}
}

func TestStatementShape(t *testing.T) {
	rows := []testRow{{id: 7, name: ptr("seven"), blob: []byte{0xde, 0xad}, flag: ptr(true), score: ptr(1.5)}}
	stmts, err := Statements(testTable, rows, Options{})
	require.NoError(t, err)
	require.Len(t, stmts, 1)

	want := "INSERT INTO things (id, name, blob, flag, score)\n" +
		"VALUES\n" +
		"(7, 'seven', X'DEAD', 1, 1.5)\n" +
		"ON CONFLICT(id) DO UPDATE SET name=excluded.name, blob=excluded.blob, flag=excluded.flag, score=excluded.score\n" +
		"WHERE name IS NOT excluded.name OR blob IS NOT excluded.blob OR flag IS NOT excluded.flag OR score IS NOT excluded.score;"
	assert.Equal(t, want, stmts[0])
}

func TestAbsentValuesRenderNull(t *testing.T) {
	rows := []testRow{{id: 1, name: ptr("")}}
	stmts, err := Statements(testTable, rows, Options{})
	require.NoError(t, err)
	assert.Contains(t, stmts[0], "(1, NULL, NULL, NULL, NULL)")
}

func TestQuotesAreDoubled(t *testing.T) {
	rows := []testRow{{id: 1, name: ptr("Sant'Agata de' Goti")}}
	stmts, err := Statements(testTable, rows, Options{})
	require.NoError(t, err)
	assert.Contains(t, stmts[0], "'Sant''Agata de'' Goti'")
	assert.True(t, balanced(stmts[0]))
}

func TestGenerateIsDeterministic(t *testing.T) {
	rows := makeRows(777)
	a, err := Generate(testTable, rows, Options{MaxRowsPerStatement: 100})
	require.NoError(t, err)
	b, err := Generate(testTable, rows, Options{MaxRowsPerStatement: 100})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerateTransaction(t *testing.T) {
	out, err := Generate(testTable, makeRows(3), Options{Transaction: true, MaxRowsPerStatement: 2})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "BEGIN TRANSACTION;\n"))
	assert.True(t, strings.HasSuffix(out, "COMMIT;\n"))
	assert.Equal(t, 2, strings.Count(out, "INSERT INTO"))

	plain, err := Generate(testTable, makeRows(3), Options{MaxRowsPerStatement: 2})
	require.NoError(t, err)
	assert.NotContains(t, plain, "BEGIN")
}

func TestAllKeyColumnsDoNothing(t *testing.T) {
	table := Table{Name: "pairs", Columns: []string{"a"}, ConflictKey: []string{"a"}}
	stmts, err := Statements(table, []keyRow{{1}}, Options{})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(stmts[0], "ON CONFLICT(a) DO NOTHING;"))
}

type keyRow struct{ a int64 }

func (r keyRow) Values() []any { return []any{r.a} }

func TestStatementsErrors(t *testing.T) {
	_, err := Statements(testTable, []testRow{}, Options{})
	assert.True(t, errors.Is(err, ErrEmptyBatch))

	bad := Table{Name: "things; DROP TABLE x", Columns: []string{"id"}, ConflictKey: []string{"id"}}
	_, err = Statements(bad, makeRows(1), Options{})
	assert.True(t, errors.Is(err, ErrInvalidTable))

	missingKey := Table{Name: "things", Columns: []string{"id"}, ConflictKey: []string{"other"}}
	_, err = Statements(missingKey, []keyRow{{1}}, Options{})
	assert.True(t, errors.Is(err, ErrInvalidTable))

	narrow := Table{Name: "things", Columns: []string{"id", "name"}, ConflictKey: []string{"id"}}
	_, err = Statements(narrow, makeRows(1), Options{})
	assert.True(t, errors.Is(err, ErrColumnCount))
}

func TestLiteral(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{"", "NULL"},
		{(*string)(nil), "NULL"},
		{"it's", "'it''s'"},
		{[]byte(nil), "NULL"},
		{[]byte{0x00, 0x0a}, "X'000A'"},
		{true, "1"},
		{ptr(false), "0"},
		{(*bool)(nil), "NULL"},
		{int64(-42), "-42"},
		{(*int64)(nil), "NULL"},
		{uint32(7), "7"},
		{52.3759, "52.3759"},
		{ptr(-0.5), "-0.5"},
	}
	for _, tt := range tests {
		got, err := Literal(tt.in)
		require.NoError(t, err, "Literal(%#v)", tt.in)
		assert.Equal(t, tt.want, got, "Literal(%#v)", tt.in)
	}

	_, err := Literal(struct{}{})
	assert.True(t, errors.Is(err, ErrUnsupportedValue))
}
