package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const jobColumns = `id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

// Job types.
const (
	JobIndexDocument = "index_document"
)

// EnqueueJob adds a job to the queue. Missing IDs are generated and
// MaxAttempts defaults to 3.
func (s *Store) EnqueueJob(ctx context.Context, job Job) (Job, error) {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	if job.PayloadJSON == "" {
		job.PayloadJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, job.MaxAttempts, formatTime(job.RunAfter), formatTime(now), formatTime(now),
	)
	if err != nil {
		return Job{}, fmt.Errorf("enqueueing job: %w", err)
	}
	job.Status = "pending"
	job.CreatedAt, job.UpdatedAt = now, now
	return job, nil
}

// ClaimNextJob moves the oldest runnable job of the given types to running
// and returns it. It returns nil when nothing is runnable.
func (s *Store) ClaimNextJob(ctx context.Context, types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	args := []any{formatTime(now)}
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (`+placeholders(len(types))+`)
		ORDER BY run_after, created_at
		LIMIT 1`, args...))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, formatTime(now), j.ID)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	if err := affected(res); err != nil {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.UpdatedAt = now.Truncate(time.Second)
	return &j, nil
}

// CompleteJob marks a job done.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return affected(res)
}

// FailJob records a failed attempt. The job is retried with exponential
// backoff (2^attempts seconds) until max_attempts is reached, then marked
// failed.
func (s *Store) FailJob(ctx context.Context, id string, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRowContext(ctx, `SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++
	status, runAfter := "pending", now.Add(time.Duration(1<<attempts)*time.Second)
	if attempts >= maxAttempts {
		status, runAfter = "failed", now
	}
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
		status, attempts, errMsg, formatTime(runAfter), formatTime(now), id); err != nil {
		return err
	}
	return tx.Commit()
}

// GetJob loads a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

func scanJob(row *sql.Row) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err := row.Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts, &runAfter, &createdAt, &updatedAt, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String
	if j.RunAfter, err = parseTime(runAfter); err != nil {
		return Job{}, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}
