package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
)

const orderColumns = `id, order_number, tracking_number, latest_delivery_status,
       shipped_at, last_info_updated_at,
       is_locked, locked_at, locked_by_worker, created_at, updated_at`

// LockRepository is the lease-based mutual-exclusion primitive over
// purchase-order records. Background workers acquire one record at a time;
// a lease older than the timeout counts as free.
type LockRepository struct {
	db     *sql.DB
	lease  time.Duration
	logger logger.Logger
}

func NewLockRepository(db *sql.DB, lease time.Duration, log logger.Logger) *LockRepository {
	return &LockRepository{
		db:     db,
		lease:  lease,
		logger: log,
	}
}

// LockFilter selects which purchase orders a worker is interested in.
// Conditions are combined with OR, mirroring the worker queries that look
// for any record still missing a given piece of tracking data.
type LockFilter struct {
	TrackingNumberEmpty  bool
	ShippedAtEmpty       bool
	DeliveryStatusEquals string
	// NotUpdatedWithin skips records refreshed recently, preventing
	// duplicate publishes for the same order.
	NotUpdatedWithin time.Duration
}

func (f LockFilter) clauses() (string, []any, int) {
	var ors []string
	var args []any
	pos := 1

	if f.TrackingNumberEmpty {
		ors = append(ors, "(tracking_number IS NULL OR tracking_number = '')")
	}
	if f.ShippedAtEmpty {
		ors = append(ors, "shipped_at IS NULL")
	}
	if f.DeliveryStatusEquals != "" {
		ors = append(ors, fmt.Sprintf("latest_delivery_status = $%d", pos))
		args = append(args, f.DeliveryStatusEquals)
		pos++
	}

	where := ""
	if len(ors) > 0 {
		where = "(" + strings.Join(ors, " OR ") + ")"
	}

	if f.NotUpdatedWithin > 0 {
		cond := fmt.Sprintf("(last_info_updated_at IS NULL OR last_info_updated_at < $%d)", pos)
		args = append(args, time.Now().Add(-f.NotUpdatedWithin))
		pos++
		if where == "" {
			where = cond
		} else {
			where += " AND " + cond
		}
	}

	return where, args, pos
}

// Acquire atomically selects and locks one matching record, oldest first.
// FOR UPDATE SKIP LOCKED keeps concurrent callers off the same row, so two
// workers can never both leave the transaction believing they hold it.
// Returns nil when nothing matches; that is a normal outcome.
func (r *LockRepository) Acquire(
	ctx context.Context,
	workerName string,
	filter LockFilter,
) (order *models.PurchaseOrder, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("failed to rollback lock acquire", logger.Error(rbErr))
			}
		}
	}()

	where, args, pos := filter.clauses()
	free := fmt.Sprintf("(is_locked = FALSE OR locked_at < $%d)", pos)
	args = append(args, time.Now().Add(-r.lease))

	query := `SELECT ` + orderColumns + ` FROM purchase_orders WHERE ` + free
	if where != "" {
		query += " AND " + where
	}
	query += `
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	order, scanErr := scanOrder(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(scanErr, sql.ErrNoRows) {
		err = tx.Commit()
		return nil, err
	}
	if scanErr != nil {
		err = fmt.Errorf("select order for lock: %w", scanErr)
		return nil, err
	}

	now := time.Now()
	update := `
		UPDATE purchase_orders
		SET is_locked = TRUE, locked_at = $2, locked_by_worker = $3, updated_at = $2
		WHERE id = $1
	`
	if _, err = tx.ExecContext(ctx, update, order.ID, now, workerName); err != nil {
		err = fmt.Errorf("lock order %d: %w", order.ID, err)
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("commit lock acquire: %w", err)
		return nil, err
	}

	order.IsLocked = true
	order.LockedAt = &now
	order.LockedByWorker = workerName

	r.logger.Info("Acquired record lock",
		logger.String("worker", workerName),
		logger.Int64("order_id", order.ID),
		logger.String("order_number", order.OrderNumber),
	)
	return order, nil
}

// Release clears the lock only if workerName still holds it. A false return
// means the lease expired and another worker reclaimed the record; the
// caller must not treat its own writes as protected past that point.
func (r *LockRepository) Release(ctx context.Context, orderID int64, workerName string) (bool, error) {
	query := `
		UPDATE purchase_orders
		SET is_locked = FALSE, locked_at = NULL, locked_by_worker = '', updated_at = $3
		WHERE id = $1 AND locked_by_worker = $2
	`
	result, err := r.db.ExecContext(ctx, query, orderID, workerName, time.Now())
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		r.logger.Warn("Lock not held by releasing worker",
			logger.String("worker", workerName),
			logger.Int64("order_id", orderID),
		)
		return false, nil
	}
	return true, nil
}

// SweepExpired bulk-clears leases past the timeout. Acquire already treats
// them as free; this keeps stale holder names from accumulating.
func (r *LockRepository) SweepExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE purchase_orders
		SET is_locked = FALSE, locked_at = NULL, locked_by_worker = '', updated_at = $2
		WHERE is_locked = TRUE AND locked_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, time.Now().Add(-r.lease), time.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired locks: %w", err)
	}

	cleared, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	if cleared > 0 {
		r.logger.Info("Cleared expired record locks", logger.Int64("count", cleared))
	}
	return cleared, nil
}

func scanOrder(row rowScanner) (*models.PurchaseOrder, error) {
	var order models.PurchaseOrder
	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.TrackingNumber,
		&order.LatestDeliveryStatus,
		&order.ShippedAt,
		&order.LastInfoUpdatedAt,
		&order.IsLocked,
		&order.LockedAt,
		&order.LockedByWorker,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &order, nil
}
