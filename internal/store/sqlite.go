package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/i474232898/warnlevel-sync/internal/warnlevel"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS region (
	gkz       TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	warnstufe TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS region_staging (
	gkz       TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	warnstufe TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_meta (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	dataset_as_of TEXT,
	fetched_at    TEXT
);
`

// SQLiteBackend persists the snapshot in an SQLite database.
//
// Schema:
//
//	region(gkz, name, warnstufe)          the committed record set
//	region_staging(gkz, name, warnstufe)  scratch space used during Save
//	snapshot_meta(dataset_as_of, fetched_at)
type SQLiteBackend struct {
	db *sql.DB
}

var _ Backend = (*SQLiteBackend)(nil)

// OpenSQLite opens (creating if needed) the database at path, applies WAL and
// busy_timeout pragmas and the schema.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection: commits are serialized by the store anyway, and an
	// in-memory database only exists on the connection that created it.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: exec schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// Load reads the committed snapshot. It returns nil when no snapshot was
// ever saved.
func (b *SQLiteBackend) Load(ctx context.Context) (*warnlevel.Snapshot, error) {
	var asOf, fetchedAt sql.NullString
	err := b.db.QueryRowContext(ctx,
		`SELECT dataset_as_of, fetched_at FROM snapshot_meta WHERE id = 1`,
	).Scan(&asOf, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read meta: %w", err)
	}

	snap := &warnlevel.Snapshot{}
	if snap.DatasetAsOf, err = parseTime(asOf); err != nil {
		return nil, fmt.Errorf("sqlite: dataset_as_of: %w", err)
	}
	if snap.FetchedAt, err = parseTime(fetchedAt); err != nil {
		return nil, fmt.Errorf("sqlite: fetched_at: %w", err)
	}

	rows, err := b.db.QueryContext(ctx, `SELECT gkz, name, warnstufe FROM region ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read regions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r warnlevel.Record
		var level string
		if err := rows.Scan(&r.Key, &r.Name, &level); err != nil {
			return nil, fmt.Errorf("sqlite: scan region: %w", err)
		}
		r.Level = warnlevel.Level(level)
		snap.Records = append(snap.Records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: read regions: %w", err)
	}

	return snap, nil
}

// Save stages snap into region_staging and swaps it into region within one
// transaction. Any failure rolls back to the previous snapshot.
func (b *SQLiteBackend) Save(ctx context.Context, snap *warnlevel.Snapshot) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM region_staging`); err != nil {
		return fmt.Errorf("sqlite: clear staging: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO region_staging (gkz, name, warnstufe) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare staging insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range snap.Records {
		if _, err := stmt.ExecContext(ctx, r.Key, r.Name, string(r.Level)); err != nil {
			return fmt.Errorf("sqlite: stage region %s: %w", r.Key, err)
		}
	}

	swap := []string{
		`DELETE FROM region`,
		`INSERT INTO region (gkz, name, warnstufe) SELECT gkz, name, warnstufe FROM region_staging ORDER BY rowid`,
		`DELETE FROM region_staging`,
	}
	for _, q := range swap {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite: swap: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot_meta (id, dataset_as_of, fetched_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET dataset_as_of = excluded.dataset_as_of, fetched_at = excluded.fetched_at`,
		formatTime(snap.DatasetAsOf), formatTime(snap.FetchedAt),
	); err != nil {
		return fmt.Errorf("sqlite: write meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s.String)
}
