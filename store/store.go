// Package store persists scan jobs in SQLite. Jobs are created pending,
// transition exactly once to complete or error, and carry the full scan
// result as JSON. The same table answers the public-tier recency query.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	requester TEXT NOT NULL,
	batch_id TEXT NOT NULL DEFAULT '',
	target_url TEXT NOT NULL,
	conformance_level TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	error_code TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	result TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_jobs_requester ON jobs(requester, kind, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_batch ON jobs(batch_id);
`

// Store is the sqlite-backed job store. The zero value is not usable;
// construct with New and inject where needed.
type Store struct {
	conn *connManager
}

// New creates a store. No connection is opened until the first operation.
func New(cfg config.StoreConfig) *Store {
	return &Store{conn: newConnManager(cfg)}
}

// Close releases the database handle. Idempotent.
func (s *Store) Close() error {
	return s.conn.close()
}

// Create persists a new job in pending state. The job's timestamps are
// assigned by the database.
func (s *Store) Create(ctx context.Context, job *models.Job) error {
	db, err := s.conn.get(ctx)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO jobs (id, kind, requester, batch_id, target_url, conformance_level, status)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query,
		job.ID,
		job.Kind,
		job.Requester,
		job.BatchID,
		job.TargetURL,
		string(job.Level),
		string(models.StatusPending),
	)
	if err != nil {
		return models.NewScanError(models.ErrCodeStore, "create job failed", err)
	}
	return nil
}

// UpdateResult marks a pending job complete and stores its result. A job
// reaches a terminal state exactly once: updating a missing or already
// terminal job is an error.
func (s *Store) UpdateResult(ctx context.Context, id string, result *models.ScanResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return models.NewScanError(models.ErrCodeStore, "serialize result failed", err)
	}

	query := `
	UPDATE jobs SET status = ?, result = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ? AND status = ?
	`
	return s.terminalUpdate(ctx, id, query,
		string(models.StatusComplete), string(resultJSON), id, string(models.StatusPending))
}

// UpdateError marks a pending job failed with a code and a human-readable
// message. Same single-transition rule as UpdateResult.
func (s *Store) UpdateError(ctx context.Context, id, code, message string) error {
	query := `
	UPDATE jobs SET status = ?, error_code = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ? AND status = ?
	`
	return s.terminalUpdate(ctx, id, query,
		string(models.StatusError), code, message, id, string(models.StatusPending))
}

func (s *Store) terminalUpdate(ctx context.Context, id, query string, args ...any) error {
	db, err := s.conn.get(ctx)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return models.NewScanError(models.ErrCodeStore, "update job failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.NewScanError(models.ErrCodeStore, "update job failed", err)
	}
	if n == 0 {
		return models.NewScanError(models.ErrCodeStore,
			fmt.Sprintf("job %s not found or already terminal", id), nil)
	}
	return nil
}

// FindByID returns the job, or (nil, nil) when no job has that id.
func (s *Store) FindByID(ctx context.Context, id string) (*models.Job, error) {
	db, err := s.conn.get(ctx)
	if err != nil {
		return nil, err
	}

	query := `
	SELECT id, kind, requester, batch_id, target_url, conformance_level,
	       status, error_code, error_message, result, created_at, updated_at
	FROM jobs WHERE id = ?
	`
	job, err := scanJob(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewScanError(models.ErrCodeStore, "find job failed", err)
	}
	return job, nil
}

// FindRecentByRequester returns the creation time of the requester's most
// recent job of the given kind inside the window, and whether one exists.
// The public tier uses a 24h window to space out repeat scans.
func (s *Store) FindRecentByRequester(ctx context.Context, requester, kind string, window time.Duration) (time.Time, bool, error) {
	db, err := s.conn.get(ctx)
	if err != nil {
		return time.Time{}, false, err
	}

	query := `
	SELECT created_at FROM jobs
	WHERE requester = ? AND kind = ? AND created_at > datetime('now', ?)
	ORDER BY created_at DESC
	LIMIT 1
	`
	modifier := fmt.Sprintf("-%d seconds", int(window.Seconds()))

	var createdAt string
	err = db.QueryRowContext(ctx, query, requester, kind, modifier).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, models.NewScanError(models.ErrCodeStore, "recency query failed", err)
	}
	return parseTimestamp(createdAt), true, nil
}

// FindByBatch returns all jobs created under one batch in submission
// order, without their result payloads.
func (s *Store) FindByBatch(ctx context.Context, batchID string) ([]*models.Job, error) {
	db, err := s.conn.get(ctx)
	if err != nil {
		return nil, err
	}

	query := `
	SELECT id, kind, requester, batch_id, target_url, conformance_level,
	       status, error_code, error_message, NULL, created_at, updated_at
	FROM jobs
	WHERE batch_id = ?
	ORDER BY created_at ASC, rowid ASC
	`
	rows, err := db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, models.NewScanError(models.ErrCodeStore, "batch query failed", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, models.NewScanError(models.ErrCodeStore, "batch query failed", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewScanError(models.ErrCodeStore, "batch query failed", err)
	}
	return jobs, nil
}

// ListRecent returns up to limit jobs, newest first, without their result
// payloads. Results carry base64 screenshots and belong to FindByID.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*models.Job, error) {
	db, err := s.conn.get(ctx)
	if err != nil {
		return nil, err
	}

	query := `
	SELECT id, kind, requester, batch_id, target_url, conformance_level,
	       status, error_code, error_message, NULL, created_at, updated_at
	FROM jobs
	ORDER BY created_at DESC, rowid DESC
	LIMIT ?
	`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, models.NewScanError(models.ErrCodeStore, "list jobs failed", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, models.NewScanError(models.ErrCodeStore, "list jobs failed", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewScanError(models.ErrCodeStore, "list jobs failed", err)
	}
	return jobs, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job        models.Job
		level      string
		status     string
		resultJSON sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.Requester,
		&job.BatchID,
		&job.TargetURL,
		&level,
		&status,
		&job.ErrorCode,
		&job.Error,
		&resultJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Level = models.ConformanceLevel(level)
	job.Status = models.JobStatus(status)
	job.CreatedAt = parseTimestamp(createdAt)
	job.UpdatedAt = parseTimestamp(updatedAt)

	if resultJSON.Valid && resultJSON.String != "" {
		var result models.ScanResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("parse stored result: %w", err)
		}
		job.Result = &result
	}
	return &job, nil
}

// timestampFormats lists the layouts SQLite may hand back depending on
// how a value was written. More specific layouts come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999",
}

// parseTimestamp tries each known layout and returns zero time when none
// matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
