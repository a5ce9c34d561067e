package refresh

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-geotime/internal/iprange"
	"github.com/withObsrvr/obsrvr-geotime/internal/tables"
)

func TestArtifactWriterCumulativeTransaction(t *testing.T) {
	dir := t.TempDir()
	w, err := newArtifactWriter(dir, "geoip2-x", false, false, true)
	require.NoError(t, err)

	require.NoError(t, w.WriteBatch("ipv4", 0, []string{"INSERT 1;"}))
	require.NoError(t, w.WriteBatch("locations", 0, []string{"INSERT 2;", "INSERT 3;"}))
	paths, err := w.Close()
	require.NoError(t, err)

	require.Equal(t, []string{filepath.Join(dir, "geoip2-x.sql")}, paths)
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "BEGIN TRANSACTION;\nINSERT 1;\nINSERT 2;\nINSERT 3;\nCOMMIT;\n", string(data))
}

func TestArtifactWriterSkipsEmptyBatches(t *testing.T) {
	w, err := newArtifactWriter(t.TempDir(), "geoip2-x", true, true, false)
	require.NoError(t, err)

	require.NoError(t, w.WriteBatch("ipv4", 0, nil))
	paths, err := w.Close()
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestArtifactWriterAbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	w, err := newArtifactWriter(dir, "geoip2-x", false, true, false)
	require.NoError(t, err)

	require.NoError(t, w.WriteBatch("ipv4", 0, []string{"INSERT 1;"}))
	w.Abort()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTableValidator(t *testing.T) {
	rec := func(s string) tables.NetworkRecord {
		r, err := iprange.Parse(s)
		require.NoError(t, err)
		return tables.NetworkRecord{Network: r}
	}

	v := newTableValidator("ipv4", false)
	assert.NoError(t, v.CheckNetwork(rec("1.0.0.0/24")))
	assert.NoError(t, v.CheckNetwork(rec("1.0.1.0/24")))
	assert.NoError(t, v.CheckNetwork(rec("1.0.1.128/25")))
	res := v.Result()
	assert.False(t, res.Passed)
	assert.EqualValues(t, 3, res.RowCount)
	assert.EqualValues(t, 1, res.Violations)
	assert.Len(t, res.Errors, 1)

	strict := newTableValidator("ipv4", true)
	assert.NoError(t, strict.CheckNetwork(rec("1.0.0.0/23")))
	assert.ErrorIs(t, strict.CheckNetwork(rec("1.0.1.0/24")), ErrRangeViolation)

	loc := newTableValidator("locations", false)
	assert.NoError(t, loc.CheckLocation(nil))
	assert.NoError(t, loc.CheckLocation(tables.ErrMissingKey))
	assert.EqualValues(t, 1, loc.Result().Violations)
}
