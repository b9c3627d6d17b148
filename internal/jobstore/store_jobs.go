package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateJob inserts a new job in the processing state.
func (s *Store) CreateJob(ctx context.Context, id string) (*Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("job id is required")
	}
	now := time.Now().UTC()
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (id, status, item_count, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
		id, StatusProcessing, formatTime(now), formatTime(now),
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return &Job{ID: id, Status: StatusProcessing, CreatedAt: now, UpdatedAt: now}, nil
}

// GetJob fetches a job by id, returning ErrNotFound when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs filtered by status (or all jobs when none is given),
// newest first.
func (s *Store) ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

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

// FailJob moves a processing job to failed with a reason.
func (s *Store) FailJob(ctx context.Context, id, message string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return finishJob(ctx, tx, id, StatusFailed, message)
	})
}

// CompleteJob marks every pending item done and moves the job to completed.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE items SET state = ?, updated_at = ? WHERE job_id = ? AND state = ?`,
			ItemDone, formatTime(time.Now()), id, ItemPending,
		); err != nil {
			return fmt.Errorf("sweep pending items: %w", err)
		}
		return finishJob(ctx, tx, id, StatusCompleted, "")
	})
}

func finishJob(ctx context.Context, tx *sql.Tx, id string, status Status, message string) error {
	now := formatTime(time.Now())
	var completedAt any
	if status == StatusCompleted {
		completedAt = now
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ?, completed_at = ?
         WHERE id = ? AND status = ?`,
		status, nullableString(message), now, completedAt, id, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", ErrTerminal, id, current)
}
