package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/repo"
)

// jobRunRepository implements repo.JobRunRepository
type jobRunRepository struct {
	store *Store
}

// Insert appends a job run record
func (r *jobRunRepository) Insert(ctx context.Context, run *domain.JobRun) error {
	_, err := r.store.db.Exec(ctx, `
		INSERT INTO job_runs
			(id, job_type, start_time, end_time, duration_ms, success, processed, successful, failed, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, string(run.JobType), run.StartTime, run.EndTime, run.Duration.Milliseconds(),
		run.Success, run.Processed, run.Successful, run.Failed, run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job run: %w", err)
	}
	return nil
}

func scanJobRun(row pgx.Row) (*domain.JobRun, error) {
	var run domain.JobRun
	var jobType string
	var durationMs int64
	err := row.Scan(
		&run.ID, &jobType, &run.StartTime, &run.EndTime, &durationMs,
		&run.Success, &run.Processed, &run.Successful, &run.Failed, &run.Error,
	)
	if err != nil {
		return nil, err
	}
	run.JobType = domain.JobType(jobType)
	run.Duration = time.Duration(durationMs) * time.Millisecond
	return &run, nil
}

// ListRecent returns the most recent runs, newest first
func (r *jobRunRepository) ListRecent(ctx context.Context, jobType domain.JobType, limit int) ([]*domain.JobRun, error) {
	query := `
		SELECT id, job_type, start_time, end_time, duration_ms, success, processed, successful, failed, error
		FROM job_runs`
	args := []any{limit}
	if jobType != "" {
		query += ` WHERE job_type = $2`
		args = append(args, string(jobType))
	}
	query += ` ORDER BY start_time DESC LIMIT $1`

	rows, err := r.store.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.JobRun
	for rows.Next() {
		run, err := scanJobRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LastSuccess returns the most recent successful run for a job type
func (r *jobRunRepository) LastSuccess(ctx context.Context, jobType domain.JobType) (*domain.JobRun, error) {
	row := r.store.db.QueryRow(ctx, `
		SELECT id, job_type, start_time, end_time, duration_ms, success, processed, successful, failed, error
		FROM job_runs
		WHERE job_type = $1 AND success = true
		ORDER BY start_time DESC
		LIMIT 1`, string(jobType))
	run, err := scanJobRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last successful run: %w", err)
	}
	return run, nil
}

// CountSince counts runs started after the cutoff, per success flag
func (r *jobRunRepository) CountSince(ctx context.Context, since time.Time, success bool) (int64, error) {
	var count int64
	err := r.store.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM job_runs
		WHERE start_time >= $1 AND success = $2`, since, success).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count job runs: %w", err)
	}
	return count, nil
}
