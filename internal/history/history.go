// Package history persists finalized runs to a sqlite database so the
// download log survives restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tubeload/internal/task"
)

// Record is one row of download history.
type Record struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Mode        string    `json:"mode"`
	Kind        string    `json:"kind"`
	Phase       string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Destination string    `json:"destination"`
	OutputFile  string    `json:"output_file,omitempty"`
	Seconds     float64   `json:"seconds"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Store wraps the sqlite handle. A single writer (the worker pool) and the
// read-only API share it; the driver serializes access.
type Store struct {
	db *sql.DB
}

// Open creates or opens history.db under dataDir and bootstraps the schema.
func Open(dataDir string) (*Store, error) {
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "history.db"))
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	// WAL keeps status reads from blocking behind worker writes.
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`)

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		title TEXT,
		mode TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		destination TEXT,
		output_file TEXT,
		seconds REAL,
		finished_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one finalized run. Implements task.Recorder.
func (s *Store) Record(ctx context.Context, rec task.RunRecord) error {
	query := `INSERT INTO runs
		(id, url, title, mode, kind, status, error, destination, output_file, seconds, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.URL, rec.Title, rec.Mode, rec.Kind, rec.Phase, rec.Error,
		rec.Destination, rec.OutputFile, rec.Seconds, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, url, title, mode, kind, status, error, destination, output_file, seconds, finished_at
		FROM runs ORDER BY finished_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var rec Record
		var title, errMsg, dest, output sql.NullString
		if err := rows.Scan(&rec.ID, &rec.URL, &title, &rec.Mode, &rec.Kind,
			&rec.Phase, &errMsg, &dest, &output, &rec.Seconds, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Title = title.String
		rec.Error = errMsg.String
		rec.Destination = dest.String
		rec.OutputFile = output.String
		records = append(records, rec)
	}
	return records, rows.Err()
}
