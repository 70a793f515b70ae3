package merge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE segments (
		filename   TEXT NOT NULL,
		segment_id TEXT NOT NULL,
		start      REAL NOT NULL,
		"end"      REAL NOT NULL,
		duration   REAL NOT NULL
	);
	CREATE INDEX idx_segments_filename ON segments(filename);
	CREATE TABLE processed_files (filename TEXT PRIMARY KEY);
	CREATE TABLE warning_files (filename TEXT PRIMARY KEY);
	CREATE TABLE error_files (line TEXT NOT NULL);
`

// WriteSQLite replaces the database at path with ds.
func WriteSQLite(ctx context.Context, path string, ds Dataset) (err error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing database: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { err = errors.Join(err, db.Close()) }()

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	seg, err := tx.PrepareContext(ctx, `INSERT INTO segments (filename, segment_id, start, "end", duration) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare segments: %w", err)
	}
	defer func() { _ = seg.Close() }()
	for _, r := range ds.Segments {
		if _, err := seg.ExecContext(ctx, r.Filename, r.SegmentID, r.Start, r.End, r.Duration); err != nil {
			return fmt.Errorf("insert segment %s: %w", r.SegmentID, err)
		}
	}

	lists := []struct {
		stmt  string
		lines []string
	}{
		{`INSERT INTO processed_files (filename) VALUES (?)`, ds.Processed},
		{`INSERT INTO warning_files (filename) VALUES (?)`, ds.Warnings},
		{`INSERT INTO error_files (line) VALUES (?)`, ds.Errors},
	}
	for _, l := range lists {
		for _, v := range l.lines {
			if _, err := tx.ExecContext(ctx, l.stmt, v); err != nil {
				return fmt.Errorf("insert %q: %w", v, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
