package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
)

const jobColumns = `id, batch_id, provider_job_id, custom_id, target_url, row_index,
       status, error_message, writeback_data, redirect_custom_id, companion,
       created_at, completed_at`

type JobRepository struct {
	db     *sql.DB
	logger logger.Logger
}

func NewJobRepository(db *sql.DB, log logger.Logger) *JobRepository {
	return &JobRepository{
		db:     db,
		logger: log,
	}
}

// CreateJobs bulk-inserts the fan-out job set for a batch, all pending.
// Called exactly once per batch, before any callback can reference the
// custom ids being minted here.
func (r *JobRepository) CreateJobs(ctx context.Context, batchID int64, specs []models.JobSpec) ([]models.Job, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("failed to rollback job insert", logger.Error(rbErr))
			}
		}
	}()

	query := `
		INSERT INTO tracking_jobs (batch_id, custom_id, target_url, row_index, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		RETURNING id
	`

	now := time.Now()
	jobs := make([]models.Job, 0, len(specs))
	for _, spec := range specs {
		job := models.Job{
			BatchID:   batchID,
			CustomID:  spec.CustomID,
			TargetURL: spec.TargetURL,
			Index:     spec.Index,
			Status:    models.JobPending,
			CreatedAt: now,
		}
		if err = tx.QueryRowContext(ctx, query,
			batchID, spec.CustomID, spec.TargetURL, spec.Index, now,
		).Scan(&job.ID); err != nil {
			err = fmt.Errorf("insert job %s: %w", spec.CustomID, err)
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		err = fmt.Errorf("commit job insert: %w", commitErr)
		return nil, err
	}

	return jobs, nil
}

// CreateCompanion inserts the secondary job spawned by a redirect. It shares
// the source job's batch and row index but is excluded from direct
// aggregation via the companion flag.
func (r *JobRepository) CreateCompanion(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO tracking_jobs (
			batch_id, custom_id, target_url, row_index, status, companion, created_at
		) VALUES ($1, $2, $3, $4, 'pending', TRUE, $5)
		RETURNING id
	`
	job.Status = models.JobPending
	job.Companion = true
	job.CreatedAt = time.Now()

	err := r.db.QueryRowContext(ctx, query,
		job.BatchID, job.CustomID, job.TargetURL, job.Index, job.CreatedAt,
	).Scan(&job.ID)
	if err != nil {
		return fmt.Errorf("insert companion job: %w", err)
	}
	return nil
}

func (r *JobRepository) FindByCustomID(ctx context.Context, customID string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM tracking_jobs WHERE custom_id = $1`
	return r.queryOne(ctx, query, customID)
}

func (r *JobRepository) FindByProviderJobID(ctx context.Context, providerJobID string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM tracking_jobs WHERE provider_job_id = $1`
	return r.queryOne(ctx, query, providerJobID)
}

func (r *JobRepository) queryOne(ctx context.Context, query string, args ...any) (*models.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

// ExistsByCustomID reports whether a custom id has already been minted,
// used for idempotent re-dispatch of a batch.
func (r *JobRepository) ExistsByCustomID(ctx context.Context, customID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM tracking_jobs WHERE custom_id = $1)`
	if err := r.db.QueryRowContext(ctx, query, customID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check custom id: %w", err)
	}
	return exists, nil
}

// SetProviderJobID records the id the scrape provider assigned on publish.
func (r *JobRepository) SetProviderJobID(ctx context.Context, jobID int64, providerJobID string) error {
	query := `UPDATE tracking_jobs SET provider_job_id = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, jobID, providerJobID)
	if err != nil {
		return fmt.Errorf("set provider job id: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %d: %w", jobID, ErrNotFound)
	}
	return nil
}

// ListByBatch returns the full job set of a batch ordered by row index.
// The reducer recomputes aggregates from this snapshot on every change.
func (r *JobRepository) ListByBatch(ctx context.Context, batchID int64) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM tracking_jobs WHERE batch_id = $1 ORDER BY row_index, id`

	rows, err := r.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]models.Job, 0)
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, *job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate jobs: %w", rowsErr)
	}
	return jobs, nil
}

// MarkTerminal moves a pending job to a terminal status and stamps
// completed_at. The status guard in the WHERE clause makes duplicate
// callback delivery a no-op: the second writer sees zero rows affected and
// reports false, so batch aggregates are never double-counted.
func (r *JobRepository) MarkTerminal(
	ctx context.Context,
	jobID int64,
	status models.JobStatus,
	errorMessage string,
	writebackPayload string,
) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("mark terminal: %q is not a terminal status", status)
	}

	query := `
		UPDATE tracking_jobs
		SET status = $2,
		    error_message = $3,
		    writeback_data = $4,
		    completed_at = COALESCE(completed_at, $5)
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.ExecContext(ctx, query,
		jobID, string(status), errorMessage, writebackPayload, time.Now())
	if err != nil {
		return false, fmt.Errorf("mark job terminal: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetRedirect stores the companion custom id on a redirected job. Computed
// once at redirect time; the reducer only ever reads the stored value.
func (r *JobRepository) SetRedirect(ctx context.Context, jobID int64, redirectCustomID string) error {
	query := `UPDATE tracking_jobs SET redirect_custom_id = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, jobID, redirectCustomID)
	if err != nil {
		return fmt.Errorf("set redirect custom id: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %d: %w", jobID, ErrNotFound)
	}
	return nil
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var providerJobID sql.NullString
	var status string

	err := row.Scan(
		&job.ID,
		&job.BatchID,
		&providerJobID,
		&job.CustomID,
		&job.TargetURL,
		&job.Index,
		&status,
		&job.ErrorMessage,
		&job.WritebackPayload,
		&job.RedirectCustomID,
		&job.Companion,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ProviderJobID = providerJobID.String
	job.Status = models.JobStatus(status)
	return &job, nil
}
