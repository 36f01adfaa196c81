package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/tablegen/internal/models"
)

// JobRepository stores jobs and their rows in postgres.
type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	request, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	query := `
		INSERT INTO tablegen_jobs (id, status, request, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.db.Exec(ctx, query, job.ID, job.Status, request, job.CreatedAt); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	query := `
		SELECT id, status, request, row_count, error_count, rows, error,
		       created_at, started_at, completed_at
		FROM tablegen_jobs
		WHERE id = $1`

	job, err := scanJob(r.db.QueryRow(ctx, query, id), true)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// List returns job summaries, newest first. limit <= 0 means 100.
func (r *JobRepository) List(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, status, request, row_count, error_count, error,
		       created_at, started_at, completed_at
		FROM tablegen_jobs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return jobs, nil
}

func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		return r.UpdateWithTx(ctx, tx, job)
	})
}

// UpdateWithTx writes the job's status, counters and rows inside tx so
// callers can add outbox events to the same transaction.
func (r *JobRepository) UpdateWithTx(ctx context.Context, tx pgx.Tx, job *models.Job) error {
	var rowsJSON []byte
	if job.Rows != nil {
		var err error
		if rowsJSON, err = json.Marshal(job.Rows); err != nil {
			return fmt.Errorf("failed to encode rows: %w", err)
		}
	}

	query := `
		UPDATE tablegen_jobs
		SET status = $1, row_count = $2, error_count = $3, rows = $4, error = $5,
		    started_at = $6, completed_at = $7
		WHERE id = $8`

	tag, err := tx.Exec(ctx, query,
		job.Status, job.RowCount, job.ErrorCount, rowsJSON, job.Error,
		job.StartedAt, job.CompletedAt, job.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", models.ErrJobNotFound, job.ID)
	}
	return nil
}

func scanJob(row pgx.Row, withRows bool) (*models.Job, error) {
	var (
		job      models.Job
		request  []byte
		rowsJSON []byte
	)

	dest := []any{&job.ID, &job.Status, &request, &job.RowCount, &job.ErrorCount}
	if withRows {
		dest = append(dest, &rowsJSON)
	}
	dest = append(dest, &job.Error, &job.CreatedAt, &job.StartedAt, &job.CompletedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(request, &job.Request); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if len(rowsJSON) > 0 {
		if err := json.Unmarshal(rowsJSON, &job.Rows); err != nil {
			return nil, fmt.Errorf("failed to decode rows: %w", err)
		}
	}
	return &job, nil
}
