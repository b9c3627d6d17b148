// Package pgstore implements jobstore.Repository on PostgreSQL using a pgx
// connection pool.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"imgbatch/internal/jobstore"
)

//go:embed schema.sql
var schemaSQL string

const (
	jobColumns  = "id, status, COALESCE(error_message, ''), item_count, created_at, updated_at, completed_at"
	itemColumns = "job_id, position, name, input_urls, output_urls, failures, state, updated_at"
)

// Store persists jobs in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ jobstore.Repository = (*Store)(nil)

// Open connects to dsn, verifies connectivity and creates the schema if
// needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "imgbatch"

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(dialCtx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// CreateJob inserts a new job in the processing state.
func (s *Store) CreateJob(ctx context.Context, id string) (*jobstore.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("job id is required")
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, status) VALUES ($1, $2) RETURNING `+jobColumns,
		id, jobstore.StatusProcessing)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by id, returning jobstore.ErrNotFound when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*jobstore.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, jobstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs filtered by status, newest first.
func (s *Store) ListJobs(ctx context.Context, statuses ...jobstore.Status) ([]*jobstore.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, status := range statuses {
			names[i] = string(status)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, names)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*jobstore.Job
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
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return finishJob(ctx, tx, id, jobstore.StatusFailed, message)
	})
}

// CompleteJob marks every pending item done and moves the job to completed.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE items SET state = $1, updated_at = now() WHERE job_id = $2 AND state = $3`,
			jobstore.ItemDone, id, jobstore.ItemPending,
		); err != nil {
			return fmt.Errorf("sweep pending items: %w", err)
		}
		return finishJob(ctx, tx, id, jobstore.StatusCompleted, "")
	})
}

func finishJob(ctx context.Context, tx pgx.Tx, id string, status jobstore.Status, message string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE jobs
         SET status = $1, error_message = NULLIF($2, ''), updated_at = now(),
             completed_at = CASE WHEN $1 = 'completed' THEN now() ELSE NULL END
         WHERE id = $3 AND status = $4`,
		string(status), message, id, string(jobstore.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobstore.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", jobstore.ErrTerminal, id, current)
}

// InsertItems persists the pending items of a job and records its item count.
func (s *Store) InsertItems(ctx context.Context, jobID string, items []jobstore.Item) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, item := range items {
			inputs, err := json.Marshal(nonNil(item.InputURLs))
			if err != nil {
				return fmt.Errorf("encode input urls: %w", err)
			}
			batch.Queue(
				`INSERT INTO items (job_id, position, name, input_urls, state) VALUES ($1, $2, $3, $4::jsonb, $5)`,
				jobID, item.Position, item.Name, string(inputs), string(jobstore.ItemPending),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert items: %w", err)
		}
		tag, err := tx.Exec(ctx, `UPDATE jobs SET item_count = $1, updated_at = now() WHERE id = $2`, len(items), jobID)
		if err != nil {
			return fmt.Errorf("update item count: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return jobstore.ErrNotFound
		}
		return nil
	})
}

// CompleteItem stores the outputs and failures of an item and marks it done.
func (s *Store) CompleteItem(ctx context.Context, item *jobstore.Item) error {
	outputs, err := json.Marshal(nonNil(item.OutputURLs))
	if err != nil {
		return fmt.Errorf("encode output urls: %w", err)
	}
	failures := item.Failures
	if failures == nil {
		failures = []jobstore.Failure{}
	}
	failureJSON, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("encode failures: %w", err)
	}
	var updated time.Time
	err = s.pool.QueryRow(ctx,
		`UPDATE items SET output_urls = $1::jsonb, failures = $2::jsonb, state = $3, updated_at = now()
         WHERE job_id = $4 AND position = $5
         RETURNING updated_at`,
		string(outputs), string(failureJSON), string(jobstore.ItemDone), item.JobID, item.Position,
	).Scan(&updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobstore.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	item.State = jobstore.ItemDone
	item.UpdatedAt = updated
	return nil
}

// ListItems returns the items of a job in manifest order.
func (s *Store) ListItems(ctx context.Context, jobID string) ([]jobstore.Item, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE job_id = $1 ORDER BY position`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []jobstore.Item
	for rows.Next() {
		var (
			item                      jobstore.Item
			inputs, outputs, failures []byte
			state                     string
		)
		if err := rows.Scan(&item.JobID, &item.Position, &item.Name, &inputs, &outputs, &failures, &state, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.State = jobstore.ItemState(state)
		if err := json.Unmarshal(inputs, &item.InputURLs); err != nil {
			return nil, fmt.Errorf("decode input urls: %w", err)
		}
		if err := json.Unmarshal(outputs, &item.OutputURLs); err != nil {
			return nil, fmt.Errorf("decode output urls: %w", err)
		}
		if err := json.Unmarshal(failures, &item.Failures); err != nil {
			return nil, fmt.Errorf("decode failures: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanJob(row pgx.Row) (*jobstore.Job, error) {
	var (
		job    jobstore.Job
		status string
	)
	if err := row.Scan(&job.ID, &status, &job.ErrorMessage, &job.ItemCount, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt); err != nil {
		return nil, err
	}
	job.Status = jobstore.Status(status)
	return &job, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
