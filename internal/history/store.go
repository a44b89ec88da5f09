package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusSucceeded   = "succeeded"
	StatusPartial     = "partial"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// Run summarizes one render invocation.
type Run struct {
	RunID         string
	BookTitle     string
	CacheRoot     string
	Status        string
	TotalChapters int
	Rendered      int
	Cached        int
	Failed        int
	Skipped       int
	OutputPath    string
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration returns the wall-clock length of the run.
func (r Run) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists run summaries and synthesis pace measurements in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the history database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun inserts or replaces the summary for run.RunID.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.RunID) == "" {
		return errors.New("record run: run id is required")
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.FinishedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO render_runs (
            run_id, book_title, cache_root, status, total_chapters,
            rendered, cached, failed, skipped, output_path, error_message,
            started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		nullableString(run.BookTitle),
		run.CacheRoot,
		run.Status,
		run.TotalChapters,
		run.Rendered,
		run.Cached,
		run.Failed,
		run.Skipped,
		nullableString(run.OutputPath),
		nullableString(run.Error),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, book_title, cache_root, status, total_chapters,
            rendered, cached, failed, skipped, output_path, error_message,
            started_at, finished_at
        FROM render_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			title      sql.NullString
			output     sql.NullString
			errMessage sql.NullString
			startedRaw string
			finishRaw  string
		)
		if err := rows.Scan(
			&run.RunID,
			&title,
			&run.CacheRoot,
			&run.Status,
			&run.TotalChapters,
			&run.Rendered,
			&run.Cached,
			&run.Failed,
			&run.Skipped,
			&output,
			&errMessage,
			&startedRaw,
			&finishRaw,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.BookTitle = title.String
		run.OutputPath = output.String
		run.Error = errMessage.String
		run.StartedAt = parseTime(startedRaw)
		run.FinishedAt = parseTime(finishRaw)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	return time.Time{}
}
