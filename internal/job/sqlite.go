package job

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	// timeLayout is fixed width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"

	jobColumns = "id, type, status, payload, result, error_message, attempts, max_attempts, created_at, updated_at, started_at, completed_at, next_attempt_at"
)

// Compile-time check that SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

// SQLiteRepository persists jobs in a SQLite database so job history and
// unfinished work survive restarts.
type SQLiteRepository struct {
	db   *sql.DB
	path string
}

// OpenSQLite initializes or connects to the job database at path.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
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

	repo := &SQLiteRepository{db: db, path: path}
	if err := repo.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Path returns the database file path.
func (r *SQLiteRepository) Path() string {
	return r.path
}

// Close closes the underlying database connection.
func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteRepository) initSchema(ctx context.Context) error {
	var tableExists int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return r.createSchema(ctx)
	}

	var version int
	if err := r.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, r.path)
	}
	return nil
}

func (r *SQLiteRepository) createSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Save inserts or updates the job.
func (r *SQLiteRepository) Save(ctx context.Context, job *Job) error {
	j := job.Clone()
	return retryOnBusy(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `
INSERT INTO jobs (`+jobColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    type = excluded.type,
    status = excluded.status,
    payload = excluded.payload,
    result = excluded.result,
    error_message = excluded.error_message,
    attempts = excluded.attempts,
    max_attempts = excluded.max_attempts,
    updated_at = excluded.updated_at,
    started_at = excluded.started_at,
    completed_at = excluded.completed_at,
    next_attempt_at = excluded.next_attempt_at`,
			j.ID,
			string(j.Type),
			string(j.Status),
			nullableBytes(j.Payload),
			nullableBytes(j.Result),
			j.Error,
			j.Attempts,
			j.MaxAttempts,
			formatTime(j.CreatedAt),
			formatTime(j.UpdatedAt),
			nullableTime(j.StartedAt),
			nullableTime(j.CompletedAt),
			nullableTime(j.NextAttemptAt),
		)
		if err != nil {
			return fmt.Errorf("save job %s: %w", j.ID, err)
		}
		return nil
	})
}

// FindByID retrieves a job by its ID.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return job, nil
}

// List returns jobs newest first.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs ORDER BY created_at DESC, id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Delete removes a job.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = r.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// DeleteFinishedBefore removes terminal jobs completed before t.
func (r *SQLiteRepository) DeleteFinishedBefore(ctx context.Context, t time.Time) (int, error) {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = r.db.ExecContext(ctx,
			"DELETE FROM jobs WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?",
			string(StatusCompleted), string(StatusFailed), formatTime(t))
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id, typ, status        string
		payload, result        []byte
		errorMessage           sql.NullString
		attempts, maxAttempts  int
		createdRaw, updatedRaw string
		startedRaw             sql.NullString
		completedRaw           sql.NullString
		nextRaw                sql.NullString
	)
	if err := scanner.Scan(
		&id, &typ, &status, &payload, &result, &errorMessage,
		&attempts, &maxAttempts, &createdRaw, &updatedRaw,
		&startedRaw, &completedRaw, &nextRaw,
	); err != nil {
		return nil, err
	}
	return &Job{
		ID:            id,
		Type:          Type(typ),
		Status:        Status(status),
		Payload:       payload,
		Result:        result,
		Error:         errorMessage.String,
		Attempts:      attempts,
		MaxAttempts:   maxAttempts,
		CreatedAt:     parseTime(createdRaw),
		UpdatedAt:     parseTime(updatedRaw),
		StartedAt:     parseTime(startedRaw.String),
		CompletedAt:   parseTime(completedRaw.String),
		NextAttemptAt: parseTime(nextRaw.String),
	}, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
