package annotations

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `seriesuid,coordX,coordY,coordZ,diameter_mm
007,-10,20,30,5.5
12,1.5,2.5,3.5,4
7,99,99,99,1
`

func TestReadCSVLookup(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	row, err := table.Lookup("7")
	require.NoError(t, err)
	assert.Equal(t, [3]float64{-10, 20, 30}, row.XYZ, "first row for the id wins")
	assert.Equal(t, 5.5, row.Diameter)

	row, err = table.Lookup("012")
	require.NoError(t, err)
	assert.Equal(t, [3]float64{1.5, 2.5, 3.5}, row.XYZ)

	_, err = table.Lookup("3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadCSVMissingColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("seriesuid,coordX,coordY\n1,2,3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coordZ")
}

func TestReadCSVBadNumber(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("seriesuid,coordX,coordY,coordZ\n1,2,abc,3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestSQLiteImportAndLookup(t *testing.T) {
	csvTable, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "annotations.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Import(ctx, csvTable))

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	row, err := db.Lookup("007")
	require.NoError(t, err)
	assert.Equal(t, [3]float64{-10, 20, 30}, row.XYZ)

	_, err = db.Lookup("404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenByExtension(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "annotations.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(sampleCSV), 0644))

	table, closer, err := Open(csvPath)
	require.NoError(t, err)
	defer closer.Close()
	_, ok := table.(*CSVTable)
	assert.True(t, ok)

	dbTable, dbCloser, err := Open(filepath.Join(dir, "annotations.sqlite"))
	require.NoError(t, err)
	defer dbCloser.Close()
	_, ok = dbTable.(*SQLiteTable)
	assert.True(t, ok)
}
