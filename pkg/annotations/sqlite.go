package annotations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS annotations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	seriesuid   TEXT NOT NULL,
	coord_x     REAL NOT NULL,
	coord_y     REAL NOT NULL,
	coord_z     REAL NOT NULL,
	diameter_mm REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS annotations_seriesuid ON annotations(seriesuid);
`

// SQLiteTable is an annotation table persisted in a SQLite database.
type SQLiteTable struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) an annotation database at path.
// Use ":memory:" for a private in-memory table.
func OpenSQLite(path string) (*SQLiteTable, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("annotations: open %s: %w", path, err)
	}
	// a single connection keeps ":memory:" databases alive and shared
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("annotations: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("annotations: create schema: %w", err)
	}
	return &SQLiteTable{db: db}, nil
}

// Close releases the database.
func (t *SQLiteTable) Close() error {
	return t.db.Close()
}

// Insert appends rows in one transaction, preserving their order.
func (t *SQLiteTable) Insert(ctx context.Context, rows []Row) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO annotations (seriesuid, coord_x, coord_y, coord_z, diameter_mm) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, NormalizeID(r.ID), r.XYZ[0], r.XYZ[1], r.XYZ[2], r.Diameter); err != nil {
			tx.Rollback()
			return fmt.Errorf("annotations: insert %q: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Import copies every row of a CSV table into the database.
func (t *SQLiteTable) Import(ctx context.Context, src *CSVTable) error {
	return t.Insert(ctx, src.Rows())
}

// Lookup returns the first row inserted for id.
func (t *SQLiteTable) Lookup(id string) (Row, error) {
	row := Row{ID: NormalizeID(id)}
	err := t.db.QueryRow(
		`SELECT coord_x, coord_y, coord_z, diameter_mm FROM annotations WHERE seriesuid = ? ORDER BY id LIMIT 1`,
		row.ID,
	).Scan(&row.XYZ[0], &row.XYZ[1], &row.XYZ[2], &row.Diameter)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, fmt.Errorf("%w %q", ErrNotFound, id)
	}
	if err != nil {
		return Row{}, fmt.Errorf("annotations: lookup %q: %w", id, err)
	}
	return row, nil
}

// Count returns the number of stored rows.
func (t *SQLiteTable) Count(ctx context.Context) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM annotations`).Scan(&n)
	return n, err
}
