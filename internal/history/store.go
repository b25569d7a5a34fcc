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

	"subbatch/internal/batch"
)

// Run is one recorded batch run.
type Run struct {
	ID          int64
	StartedAt   time.Time
	FinishedAt  time.Time
	Concurrency int
	Total       int
	Completed   int
	Failed      int
	Cancelled   int
}

// JobRecord is one job row inside a recorded run.
type JobRecord struct {
	RunID        int64
	JobID        string
	SourcePath   string
	Status       batch.Status
	Percent      int
	OutputRef    string
	ErrorMessage string
	Warning      string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Store manages the run ledger backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
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

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the ledger database location.
func (s *Store) Path() string {
	return s.path
}

// RecordRun appends one finished batch and its jobs in a single transaction
// and returns the run id.
func (s *Store) RecordRun(ctx context.Context, startedAt, finishedAt time.Time, concurrency int, snap batch.Snapshot) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin run tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO runs (started_at, finished_at, concurrency, total, completed, failed, cancelled)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		startedAt.UTC().Format(time.RFC3339Nano),
		finishedAt.UTC().Format(time.RFC3339Nano),
		concurrency,
		snap.Stats.Total,
		snap.Stats.Completed,
		snap.Stats.Failed,
		snap.Stats.Cancelled,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	for _, job := range snap.Jobs {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO run_jobs (run_id, job_id, source_path, status, progress_percent,
                output_ref, error_message, warning, started_at, completed_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID,
			job.ID,
			job.Source.Path,
			string(job.Status),
			job.ProgressPercent,
			nullableString(job.OutputRef),
			nullableString(job.ErrorMessage),
			nullableString(job.Warning),
			nullableTime(job.StartedAt),
			nullableTime(job.CompletedAt),
		)
		if err != nil {
			return 0, fmt.Errorf("insert run job %q: %w", job.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit run: %w", err)
	}
	return runID, nil
}

// Runs returns the most recent runs, newest first. A non-positive limit
// returns all runs.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, started_at, finished_at, concurrency, total, completed, failed, cancelled
        FROM runs ORDER BY id DESC`
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run         Run
			startedRaw  string
			finishedRaw string
		)
		if err := rows.Scan(&run.ID, &startedRaw, &finishedRaw, &run.Concurrency,
			&run.Total, &run.Completed, &run.Failed, &run.Cancelled); err != nil {
			return nil, err
		}
		if started, err := parseTimeString(startedRaw); err == nil {
			run.StartedAt = started
		}
		if finished, err := parseTimeString(finishedRaw); err == nil {
			run.FinishedAt = finished
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunJobs returns the job rows of one run in insertion order.
func (s *Store) RunJobs(ctx context.Context, runID int64) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT run_id, job_id, source_path, status, progress_percent,
            output_ref, error_message, warning, started_at, completed_at
         FROM run_jobs WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run jobs: %w", err)
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		var (
			rec          JobRecord
			statusStr    string
			outputRef    sql.NullString
			errorMessage sql.NullString
			warning      sql.NullString
			startedRaw   sql.NullString
			completedRaw sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &rec.JobID, &rec.SourcePath, &statusStr, &rec.Percent,
			&outputRef, &errorMessage, &warning, &startedRaw, &completedRaw); err != nil {
			return nil, err
		}
		rec.Status = batch.Status(statusStr)
		rec.OutputRef = outputRef.String
		rec.ErrorMessage = errorMessage.String
		rec.Warning = warning.String
		if startedRaw.Valid {
			if started, err := parseTimeString(startedRaw.String); err == nil {
				rec.StartedAt = &started
			}
		}
		if completedRaw.Valid {
			if completed, err := parseTimeString(completedRaw.String); err == nil {
				rec.CompletedAt = &completed
			}
		}
		jobs = append(jobs, rec)
	}
	return jobs, rows.Err()
}

// Clear removes every recorded run.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM run_jobs`); err != nil {
		return 0, fmt.Errorf("clear run jobs: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs`)
	if err != nil {
		return 0, fmt.Errorf("clear runs: %w", err)
	}
	return res.RowsAffected()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}
