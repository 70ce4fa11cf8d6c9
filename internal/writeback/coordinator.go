// Package writeback writes finished batch results into their source
// spreadsheets over WebDAV.
package writeback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/config"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/retry"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/webdav"
)

// resultColumn is the spreadsheet column that receives writeback payloads.
const resultColumn = "C"

// BatchStore is the batch surface the coordinator needs.
type BatchStore interface {
	GetByUUID(ctx context.Context, batchUUID uuid.UUID) (*models.Batch, error)
	SetWritebackCompletedAt(ctx context.Context, batchID int64, at time.Time) error
}

// JobStore lists a batch's jobs.
type JobStore interface {
	ListByBatch(ctx context.Context, batchID int64) ([]models.Job, error)
}

// AuditStore records every writeback attempt outcome.
type AuditStore interface {
	Record(ctx context.Context, entry *models.AuditEntry) error
}

// FileStore is the remote document surface, satisfied by the WebDAV client.
type FileStore interface {
	Download(ctx context.Context, filePath string) ([]byte, error)
	Upload(ctx context.Context, filePath string, content []byte) error
}

// Result summarizes one writeback run.
type Result struct {
	Status    string `json:"status"`
	TotalJobs int    `json:"total_jobs"`
	Written   int    `json:"written"`
}

const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusNoData  = "no_data"
)

// Coordinator downloads a batch's source spreadsheet, writes every finished
// result into it, and uploads it back. Whole-document replace: the last run
// always carries every payload accumulated so far, so a lost intermediate
// run costs nothing.
type Coordinator struct {
	batches BatchStore
	jobs    JobStore
	audit   AuditStore
	files   FileStore
	cfg     config.TrackingConfig
	log     logger.Logger
}

func NewCoordinator(
	batches BatchStore,
	jobs JobStore,
	audit AuditStore,
	files FileStore,
	cfg config.TrackingConfig,
	log logger.Logger,
) *Coordinator {
	return &Coordinator{
		batches: batches,
		jobs:    jobs,
		audit:   audit,
		files:   files,
		cfg:     cfg,
		log:     log,
	}
}

// WritebackBatch runs one writeback pass for a batch. Locked documents are
// retried with doubling delays; any other error fails the run immediately.
// Only final runs stamp writeback_completed_at.
func (c *Coordinator) WritebackBatch(ctx context.Context, batchUUID uuid.UUID, final bool) (*Result, error) {
	batch, err := c.batches.GetByUUID(ctx, batchUUID)
	if err != nil {
		return nil, fmt.Errorf("writeback: %w", err)
	}

	if !batch.HasDocument() {
		c.log.Warn("writeback skipped, batch has no source document",
			logger.String("batch", batch.ShortID()))
		c.recordAttempt(ctx, batch, true, "skipped: no source document", models.Details{"final": final})
		return &Result{Status: StatusSkipped}, nil
	}

	jobs, err := c.jobs.ListByBatch(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("writeback: %w", err)
	}

	payloads := collectPayloads(jobs)
	if len(payloads) == 0 {
		c.log.Info("writeback skipped, no finished results yet",
			logger.String("batch", batch.ShortID()))
		return &Result{Status: StatusNoData, TotalJobs: len(jobs)}, nil
	}

	written := 0
	attempt := 0
	err = retry.Do(ctx, retry.Config{
		MaxAttempts: c.cfg.MaxRetries + 1,
		BaseDelay:   c.cfg.RetryBaseDelay,
		IsRetryable: func(err error) bool { return errors.Is(err, webdav.ErrLocked) },
	}, func() error {
		attempt++
		n, err := c.writeOnce(ctx, batch.FilePath, payloads)
		if err != nil {
			c.log.Warn("writeback attempt failed",
				logger.String("batch", batch.ShortID()),
				logger.Int("attempt", attempt),
				logger.Error(err))
			return err
		}
		written = n
		return nil
	})
	if err != nil {
		c.recordAttempt(ctx, batch, false, err.Error(), models.Details{
			"final":    final,
			"attempts": attempt,
		})
		return nil, fmt.Errorf("writeback batch %s: %w", batch.ShortID(), err)
	}

	c.log.Info("writeback complete",
		logger.String("batch", batch.ShortID()),
		logger.Int("written", written),
		logger.Int("attempts", attempt),
		logger.Bool("final", final))
	c.recordAttempt(ctx, batch, true, "writeback complete", models.Details{
		"final":    final,
		"written":  written,
		"attempts": attempt,
	})

	if final {
		if err := c.batches.SetWritebackCompletedAt(ctx, batch.ID, time.Now()); err != nil {
			c.log.Error("stamp writeback completion",
				logger.String("batch", batch.ShortID()), logger.Error(err))
		}
	}

	return &Result{Status: StatusSuccess, TotalJobs: len(jobs), Written: written}, nil
}

// collectPayloads maps spreadsheet row index to payload for every completed
// job that produced one. Companions carry their source row's index, so a
// redirected row receives the companion's result.
func collectPayloads(jobs []models.Job) map[int]string {
	payloads := make(map[int]string)
	for i := range jobs {
		if jobs[i].Status != models.JobCompleted || jobs[i].WritebackPayload == "" {
			continue
		}
		payloads[jobs[i].Index] = jobs[i].WritebackPayload
	}
	return payloads
}

// writeOnce performs a single download-modify-upload cycle.
func (c *Coordinator) writeOnce(ctx context.Context, filePath string, payloads map[int]string) (int, error) {
	content, err := c.files.Download(ctx, filePath)
	if err != nil {
		return 0, err
	}

	workbook, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return 0, fmt.Errorf("open workbook: %w", err)
	}
	defer workbook.Close()

	sheet := workbook.GetSheetName(0)
	if sheet == "" {
		return 0, fmt.Errorf("workbook %s has no sheets", filePath)
	}

	written := 0
	for index, payload := range payloads {
		// Row 1 is the header; data rows start at 2.
		cell := fmt.Sprintf("%s%d", resultColumn, index+2)
		if err := workbook.SetCellValue(sheet, cell, payload); err != nil {
			return 0, fmt.Errorf("set cell %s: %w", cell, err)
		}
		written++
	}

	var buf bytes.Buffer
	if err := workbook.Write(&buf); err != nil {
		return 0, fmt.Errorf("serialize workbook: %w", err)
	}
	if err := c.files.Upload(ctx, filePath, buf.Bytes()); err != nil {
		return 0, err
	}
	return written, nil
}

func (c *Coordinator) recordAttempt(ctx context.Context, batch *models.Batch, success bool, message string, details models.Details) {
	entry := &models.AuditEntry{
		OperationType: models.OpExcelWriteback,
		TaskID:        batch.BatchUUID.String(),
		FilePath:      batch.FilePath,
		Message:       message,
		Details:       details,
		Success:       success,
	}
	if !success {
		entry.ErrorMessage = message
	}
	if err := c.audit.Record(ctx, entry); err != nil {
		c.log.Error("record writeback audit entry", logger.Error(err))
	}
}
