package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/pipeline"
)

const batchColumns = `id, batch_uuid, task_name, file_path, task_id,
       total_jobs, completed_jobs, failed_jobs, status,
       created_at, updated_at, completed_at,
       writeback_triggered, writeback_completed_at`

type BatchRepository struct {
	db     *sql.DB
	logger logger.Logger
}

func NewBatchRepository(db *sql.DB, log logger.Logger) *BatchRepository {
	return &BatchRepository{
		db:     db,
		logger: log,
	}
}

func (r *BatchRepository) Create(ctx context.Context, batch *models.Batch) error {
	if batch.BatchUUID == uuid.Nil {
		batch.BatchUUID = uuid.New()
	}
	now := time.Now()
	batch.CreatedAt = now
	batch.UpdatedAt = now
	if batch.Status == "" {
		batch.Status = models.BatchPending
	}

	query := `
		INSERT INTO tracking_batches (
			batch_uuid, task_name, file_path, task_id,
			total_jobs, completed_jobs, failed_jobs, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		batch.BatchUUID,
		batch.Kind.String(),
		batch.FilePath,
		batch.TaskID,
		batch.TotalJobs,
		batch.CompletedJobs,
		batch.FailedJobs,
		string(batch.Status),
		batch.CreatedAt,
		batch.UpdatedAt,
	).Scan(&batch.ID)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	return nil
}

// GetByToken looks a batch up by its UUID, accepting either the full token
// or the 8-character short form used in custom ids.
func (r *BatchRepository) GetByToken(ctx context.Context, token string) (*models.Batch, error) {
	if parsed, err := uuid.Parse(token); err == nil {
		return r.GetByUUID(ctx, parsed)
	}
	if len(token) == 8 {
		query := `SELECT ` + batchColumns + `
			FROM tracking_batches
			WHERE batch_uuid::text LIKE $1
			ORDER BY created_at DESC
			LIMIT 1`
		return r.queryOne(ctx, query, token+"%")
	}
	return nil, fmt.Errorf("batch %q: %w", token, ErrNotFound)
}

func (r *BatchRepository) GetByUUID(ctx context.Context, batchUUID uuid.UUID) (*models.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM tracking_batches WHERE batch_uuid = $1`
	return r.queryOne(ctx, query, batchUUID)
}

func (r *BatchRepository) GetByID(ctx context.Context, id int64) (*models.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM tracking_batches WHERE id = $1`
	return r.queryOne(ctx, query, id)
}

// GetLatestByFilePath returns the newest batch created from a given
// spreadsheet path; a file re-saved in Nextcloud spawns a new batch each time.
func (r *BatchRepository) GetLatestByFilePath(ctx context.Context, filePath string) (*models.Batch, error) {
	query := `SELECT ` + batchColumns + `
		FROM tracking_batches
		WHERE file_path = $1
		ORDER BY created_at DESC
		LIMIT 1`
	return r.queryOne(ctx, query, filePath)
}

func (r *BatchRepository) queryOne(ctx context.Context, query string, args ...any) (*models.Batch, error) {
	batch, err := scanBatch(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query batch: %w", err)
	}
	return batch, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Kind   pipeline.Kind      // zero value = all pipelines
	Status models.BatchStatus // zero value = all statuses
	Since  time.Time          // zero value = no time bound
}

func (r *BatchRepository) List(ctx context.Context, filter ListFilter) ([]models.Batch, error) {
	var clauses []string
	var args []any
	pos := 1

	if filter.Kind != "" {
		clauses = append(clauses, fmt.Sprintf("task_name = $%d", pos))
		args = append(args, filter.Kind.String())
		pos++
	}
	if filter.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = $%d", pos))
		args = append(args, string(filter.Status))
		pos++
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", pos))
		args = append(args, filter.Since)
	}

	query := `SELECT ` + batchColumns + ` FROM tracking_batches`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	return scanBatchRows(rows)
}

// ListStalePending returns batches still pending or processing that were
// created before the cutoff. A stuck entry here is the operator-visible
// symptom of an upstream callback failure.
func (r *BatchRepository) ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Batch, error) {
	query := `SELECT ` + batchColumns + `
		FROM tracking_batches
		WHERE status IN ('pending', 'processing') AND created_at < $1
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale batches: %w", err)
	}
	defer rows.Close()

	return scanBatchRows(rows)
}

// SetTotalJobs records the declared job count once fan-out finishes. Only
// the batch creator calls this.
func (r *BatchRepository) SetTotalJobs(ctx context.Context, batchID int64, total int) error {
	query := `UPDATE tracking_batches SET total_jobs = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, batchID, total, time.Now())
	if err != nil {
		return fmt.Errorf("set total jobs: %w", err)
	}
	return requireRow(result)
}

// UpdateAggregate persists a reducer outcome. completed_at is written only
// when currently NULL, so the first terminal transition wins regardless of
// racing reducer runs.
func (r *BatchRepository) UpdateAggregate(
	ctx context.Context,
	batchID int64,
	completed, failed int,
	status models.BatchStatus,
	completedAt *time.Time,
) error {
	query := `
		UPDATE tracking_batches
		SET completed_jobs = $2,
		    failed_jobs = $3,
		    status = $4,
		    completed_at = COALESCE(completed_at, $5),
		    updated_at = $6
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		batchID, completed, failed, string(status), completedAt, time.Now())
	if err != nil {
		return fmt.Errorf("update batch aggregate: %w", err)
	}
	return requireRow(result)
}

// MarkWritebackTriggered sets the one-time flag that stops duplicate
// terminal transitions from rescheduling the final writeback.
func (r *BatchRepository) MarkWritebackTriggered(ctx context.Context, batchID int64) error {
	query := `UPDATE tracking_batches SET writeback_triggered = TRUE, updated_at = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, batchID, time.Now())
	if err != nil {
		return fmt.Errorf("mark writeback triggered: %w", err)
	}
	return requireRow(result)
}

// SetWritebackCompletedAt records when the final writeback landed.
func (r *BatchRepository) SetWritebackCompletedAt(ctx context.Context, batchID int64, at time.Time) error {
	query := `UPDATE tracking_batches SET writeback_completed_at = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, batchID, at, time.Now())
	if err != nil {
		return fmt.Errorf("set writeback completed: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("batch: %w", ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*models.Batch, error) {
	var batch models.Batch
	var taskName string
	var status string

	err := row.Scan(
		&batch.ID,
		&batch.BatchUUID,
		&taskName,
		&batch.FilePath,
		&batch.TaskID,
		&batch.TotalJobs,
		&batch.CompletedJobs,
		&batch.FailedJobs,
		&status,
		&batch.CreatedAt,
		&batch.UpdatedAt,
		&batch.CompletedAt,
		&batch.WritebackTriggered,
		&batch.WritebackCompletedAt,
	)
	if err != nil {
		return nil, err
	}

	batch.Kind = pipeline.Kind(taskName)
	batch.Status = models.BatchStatus(status)
	return &batch, nil
}

func scanBatchRows(rows *sql.Rows) ([]models.Batch, error) {
	batches := make([]models.Batch, 0)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, *batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}
