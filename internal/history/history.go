// Package history records finished runs in a SQLite database.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

// Status is the outcome of a run
type Status string

const (
	StatusComplete     Status = "complete"
	StatusEmpty        Status = "empty"
	StatusExportFailed Status = "export_failed"
	StatusFailed       Status = "failed"
	StatusStopped      Status = "stopped"
)

// Entry is one finished run
type Entry struct {
	RunID      string    `json:"run_id"`
	ExamID     string    `json:"exam_id"`
	Format     string    `json:"format"`
	Status     Status    `json:"status"`
	Count      int       `json:"count"`
	FilePath   string    `json:"file_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Store persists entries
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores an entry, replacing one with the same run id
func (s *Store) Add(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`insert or replace into runs
			(run_id, exam_id, format, status, count, file_path, error, started_at, finished_at)
			values (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.ExamID, e.Format, string(e.Status), e.Count, e.FilePath, e.Error,
		e.StartedAt.UnixMilli(), e.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store run %s: %w", e.RunID, err)
	}
	return nil
}

// Latest returns up to limit entries, most recently finished first
func (s *Store) Latest(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`select run_id, exam_id, format, status, count, file_path, error, started_at, finished_at
			from runs order by finished_at desc, rowid desc limit ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e                   Entry
			status              string
			started, finishedAt int64
		)
		if err := rows.Scan(&e.RunID, &e.ExamID, &e.Format, &status, &e.Count, &e.FilePath, &e.Error, &started, &finishedAt); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		e.StartedAt = time.UnixMilli(started).UTC()
		e.FinishedAt = time.UnixMilli(finishedAt).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
