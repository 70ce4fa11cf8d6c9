package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
)

type AuditRepository struct {
	db     *sql.DB
	logger logger.Logger
}

func NewAuditRepository(db *sql.DB, log logger.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: log,
	}
}

// Record appends an immutable audit entry. Audit writes must never fail the
// operation being audited; callers log and continue on error.
func (r *AuditRepository) Record(ctx context.Context, entry *models.AuditEntry) error {
	entry.CreatedAt = time.Now()

	query := `
		INSERT INTO audit_logs (
			operation_type, task_id, file_path, message, details,
			success, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		string(entry.OperationType),
		entry.TaskID,
		entry.FilePath,
		entry.Message,
		entry.Details,
		entry.Success,
		entry.ErrorMessage,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AuditFilter narrows List results.
type AuditFilter struct {
	Operation models.AuditOperation
	Success   *bool
	Since     time.Time
}

func (r *AuditRepository) List(ctx context.Context, filter AuditFilter) ([]models.AuditEntry, error) {
	var clauses []string
	var args []any
	pos := 1

	if filter.Operation != "" {
		clauses = append(clauses, fmt.Sprintf("operation_type = $%d", pos))
		args = append(args, string(filter.Operation))
		pos++
	}
	if filter.Success != nil {
		clauses = append(clauses, fmt.Sprintf("success = $%d", pos))
		args = append(args, *filter.Success)
		pos++
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", pos))
		args = append(args, filter.Since)
	}

	query := `
		SELECT id, operation_type, task_id, file_path, message, details,
		       success, error_message, created_at
		FROM audit_logs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]models.AuditEntry, 0)
	for rows.Next() {
		var entry models.AuditEntry
		var op string
		if scanErr := rows.Scan(
			&entry.ID,
			&op,
			&entry.TaskID,
			&entry.FilePath,
			&entry.Message,
			&entry.Details,
			&entry.Success,
			&entry.ErrorMessage,
			&entry.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("scan audit entry: %w", scanErr)
		}
		entry.OperationType = models.AuditOperation(op)
		entries = append(entries, entry)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", rowsErr)
	}
	return entries, nil
}
