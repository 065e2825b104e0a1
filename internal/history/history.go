// Package history persists translation jobs to a local SQLite database so a
// restarted CLI can list past work and reattach to a job that is still
// running server-side.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opentranslator/client/internal/poller"
)

var ErrJobNotFound = errors.New("job not found in history")

// Store is a local SQLite-backed job history
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the history database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// SQLite allows one writer at a time; the CLI is single-process so a
	// single connection avoids lock contention entirely.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health probes
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		process_id      TEXT PRIMARY KEY,
		file_name       TEXT NOT NULL,
		source_lang     TEXT NOT NULL,
		target_lang     TEXT NOT NULL,
		direction       TEXT NOT NULL DEFAULT 'ltr',
		status          TEXT NOT NULL,
		progress        INTEGER NOT NULL DEFAULT 0,
		current_page    INTEGER NOT NULL DEFAULT 0,
		total_pages     INTEGER NOT NULL DEFAULT 0,
		error           TEXT NOT NULL DEFAULT '',
		submitted_at    TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_submitted_at ON jobs(submitted_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to run history migrations: %w", err)
	}
	return nil
}

// Record is a persisted job row. Translated text is deliberately not stored,
// results can always be re-fetched by process ID while the job is retained
// server-side.
type Record struct {
	ProcessID   string
	FileName    string
	SourceLang  string
	TargetLang  string
	Direction   string
	Status      string
	Progress    int
	CurrentPage int
	TotalPages  int
	Error       string
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// FromJob converts a live poller job to a history record
func FromJob(job poller.Job) Record {
	return Record{
		ProcessID:   job.ProcessID,
		FileName:    job.FileName,
		SourceLang:  job.SourceLang,
		TargetLang:  job.TargetLang,
		Direction:   job.Direction,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentPage: job.CurrentPage,
		TotalPages:  job.TotalPages,
		Error:       job.Error,
		SubmittedAt: job.SubmittedAt,
		UpdatedAt:   time.Now(),
	}
}

// Save upserts a record by process ID
func (s *Store) Save(ctx context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	query := `
		INSERT INTO jobs (process_id, file_name, source_lang, target_lang, direction,
			status, progress, current_page, total_pages, error, submitted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(process_id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			current_page = excluded.current_page,
			total_pages = excluded.total_pages,
			direction = excluded.direction,
			error = excluded.error,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ProcessID, rec.FileName, rec.SourceLang, rec.TargetLang, rec.Direction,
		rec.Status, rec.Progress, rec.CurrentPage, rec.TotalPages, rec.Error,
		rec.SubmittedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// Get retrieves a record by process ID
func (s *Store) Get(ctx context.Context, processID string) (Record, error) {
	query := `
		SELECT process_id, file_name, source_lang, target_lang, direction,
			status, progress, current_page, total_pages, error, submitted_at, updated_at
		FROM jobs
		WHERE process_id = ?
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, processID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrJobNotFound
		}
		return Record{}, fmt.Errorf("failed to get job: %w", err)
	}
	return rec, nil
}

// ListRecent returns up to limit records, newest first
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT process_id, file_name, source_lang, target_lang, direction,
			status, progress, current_page, total_pages, error, submitted_at, updated_at
		FROM jobs
		ORDER BY submitted_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LatestActive returns the most recently submitted job that is not terminal,
// for reattaching after a restart. ErrJobNotFound when nothing is active.
func (s *Store) LatestActive(ctx context.Context) (Record, error) {
	query := `
		SELECT process_id, file_name, source_lang, target_lang, direction,
			status, progress, current_page, total_pages, error, submitted_at, updated_at
		FROM jobs
		WHERE status IN ('pending', 'in_progress', 'unknown')
		ORDER BY submitted_at DESC
		LIMIT 1
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrJobNotFound
		}
		return Record{}, fmt.Errorf("failed to find active job: %w", err)
	}
	return rec, nil
}

// Delete removes a record; deleting a missing record returns ErrJobNotFound
func (s *Store) Delete(ctx context.Context, processID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE process_id = ?`, processID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// PruneTerminal removes terminal jobs older than age
func (s *Store) PruneTerminal(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		AND updated_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune jobs: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ProcessID, &rec.FileName, &rec.SourceLang, &rec.TargetLang, &rec.Direction,
		&rec.Status, &rec.Progress, &rec.CurrentPage, &rec.TotalPages, &rec.Error,
		&rec.SubmittedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
