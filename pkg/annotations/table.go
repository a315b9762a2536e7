// Package annotations looks up world-space tamper targets keyed by scan identifier.
//
// Tables follow the LUNA16 annotations layout
//
//	seriesuid,coordX,coordY,coordZ,diameter_mm
//
// and therefore store coordinates in (x, y, z) order. Callers reverse them to the
// pipeline's (z, y, x) order.
package annotations

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNotFound is returned when no row matches an identifier.
var ErrNotFound = errors.New("annotations: no row for identifier")

// Row is one annotation.
type Row struct {
	ID       string
	XYZ      [3]float64
	Diameter float64
}

// Table looks up the first annotation stored for a scan identifier.
type Table interface {
	Lookup(id string) (Row, error)
}

// NormalizeID canonicalizes numeric identifiers so "007" and "7" match.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if n, err := strconv.Atoi(id); err == nil {
		return strconv.Itoa(n)
	}
	return id
}

// CSVTable is an in-memory table read from a CSV file.
type CSVTable struct {
	rows  []Row
	first map[string]int
}

// LoadCSV reads a table from a CSV file with a header row.
func LoadCSV(path string) (*CSVTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV reads a table from CSV data with a header row. Columns are located by name
// (seriesuid, coordX, coordY, coordZ, optional diameter_mm).
func ReadCSV(r io.Reader) (*CSVTable, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("annotations: reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	idx := func(name string) (int, error) {
		i, ok := cols[name]
		if !ok {
			return 0, fmt.Errorf("annotations: missing column %q", name)
		}
		return i, nil
	}
	var colID int
	var colXYZ [3]int
	if colID, err = idx("seriesuid"); err != nil {
		return nil, err
	}
	for i, name := range []string{"coordX", "coordY", "coordZ"} {
		if colXYZ[i], err = idx(name); err != nil {
			return nil, err
		}
	}
	colDiam, hasDiam := cols["diameter_mm"]

	t := &CSVTable{first: make(map[string]int)}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("annotations: line %d: %w", line, err)
		}
		row := Row{ID: NormalizeID(rec[colID])}
		for i, c := range colXYZ {
			if row.XYZ[i], err = strconv.ParseFloat(strings.TrimSpace(rec[c]), 64); err != nil {
				return nil, fmt.Errorf("annotations: line %d: %w", line, err)
			}
		}
		if hasDiam {
			if row.Diameter, err = strconv.ParseFloat(strings.TrimSpace(rec[colDiam]), 64); err != nil {
				return nil, fmt.Errorf("annotations: line %d: %w", line, err)
			}
		}
		if _, seen := t.first[row.ID]; !seen {
			t.first[row.ID] = len(t.rows)
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// Lookup returns the first row stored for id.
func (t *CSVTable) Lookup(id string) (Row, error) {
	i, ok := t.first[NormalizeID(id)]
	if !ok {
		return Row{}, fmt.Errorf("%w %q", ErrNotFound, id)
	}
	return t.rows[i], nil
}

// Rows returns every row in file order.
func (t *CSVTable) Rows() []Row {
	return t.rows
}

// Open opens a table by file extension: .db, .sqlite and .sqlite3 open a SQLite
// store, anything else is read as CSV.
func Open(path string) (Table, io.Closer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		t, err := OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return t, t, nil
	}
	t, err := LoadCSV(path)
	if err != nil {
		return nil, nil, err
	}
	return t, nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
