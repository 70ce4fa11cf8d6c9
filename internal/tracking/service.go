package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/config"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/pipeline"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/repository"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/scheduler"
)

// BatchStore is the batch persistence surface the service needs.
type BatchStore interface {
	Create(ctx context.Context, batch *models.Batch) error
	GetByToken(ctx context.Context, token string) (*models.Batch, error)
	GetByUUID(ctx context.Context, batchUUID uuid.UUID) (*models.Batch, error)
	GetByID(ctx context.Context, id int64) (*models.Batch, error)
	GetLatestByFilePath(ctx context.Context, filePath string) (*models.Batch, error)
	List(ctx context.Context, filter repository.ListFilter) ([]models.Batch, error)
	ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Batch, error)
	SetTotalJobs(ctx context.Context, batchID int64, total int) error
	UpdateAggregate(ctx context.Context, batchID int64, completed, failed int, status models.BatchStatus, completedAt *time.Time) error
	MarkWritebackTriggered(ctx context.Context, batchID int64) error
}

// JobStore is the job persistence surface the service needs.
type JobStore interface {
	CreateJobs(ctx context.Context, batchID int64, specs []models.JobSpec) ([]models.Job, error)
	CreateCompanion(ctx context.Context, job *models.Job) error
	FindByCustomID(ctx context.Context, customID string) (*models.Job, error)
	FindByProviderJobID(ctx context.Context, providerJobID string) (*models.Job, error)
	ExistsByCustomID(ctx context.Context, customID string) (bool, error)
	SetProviderJobID(ctx context.Context, jobID int64, providerJobID string) error
	ListByBatch(ctx context.Context, batchID int64) ([]models.Job, error)
	MarkTerminal(ctx context.Context, jobID int64, status models.JobStatus, errorMessage, writebackPayload string) (bool, error)
	SetRedirect(ctx context.Context, jobID int64, redirectCustomID string) error
}

// AuditStore records coordination decisions for later inspection.
type AuditStore interface {
	Record(ctx context.Context, entry *models.AuditEntry) error
}

// EventPublisher announces batch lifecycle changes. Implementations must not
// block the caller on broker trouble.
type EventPublisher interface {
	BatchProgressed(ctx context.Context, batch *models.Batch)
	BatchCompleted(ctx context.Context, batch *models.Batch)
}

// Service owns the batch lifecycle: creation, terminal job transitions,
// aggregate recomputation, and writeback scheduling.
type Service struct {
	batches   BatchStore
	jobs      JobStore
	audit     AuditStore
	scheduler scheduler.Scheduler
	events    EventPublisher
	cfg       config.TrackingConfig
	log       logger.Logger
}

// NewService wires the coordination core. events may be nil.
func NewService(
	batches BatchStore,
	jobs JobStore,
	audit AuditStore,
	sched scheduler.Scheduler,
	events EventPublisher,
	cfg config.TrackingConfig,
	log logger.Logger,
) *Service {
	return &Service{
		batches:   batches,
		jobs:      jobs,
		audit:     audit,
		scheduler: sched,
		events:    events,
		cfg:       cfg,
		log:       log,
	}
}

// CreateBatch registers a new batch for a pipeline kind. filePath may be
// empty for pipelines that track without a source workbook.
func (s *Service) CreateBatch(ctx context.Context, kind pipeline.Kind, filePath string) (*models.Batch, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("create batch: unknown pipeline kind %q", kind)
	}
	batch := &models.Batch{
		Kind:     kind,
		FilePath: filePath,
		Status:   models.BatchPending,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	s.log.Info("batch created",
		logger.String("batch", batch.ShortID()),
		logger.String("kind", kind.String()),
		logger.String("file_path", filePath))
	return batch, nil
}

// MarkCompleted records a successful scrape result for a job and recomputes
// the batch aggregate. Repeated calls for the same job are absorbed by the
// conditional terminal update and never re-run the reducer.
func (s *Service) MarkCompleted(ctx context.Context, job *models.Job, payload string) error {
	return s.markTerminal(ctx, job, models.JobCompleted, "", payload)
}

// MarkFailed records a failed scrape result for a job and recomputes the
// batch aggregate.
func (s *Service) MarkFailed(ctx context.Context, job *models.Job, errMsg string) error {
	return s.markTerminal(ctx, job, models.JobFailed, errMsg, "")
}

func (s *Service) markTerminal(ctx context.Context, job *models.Job, status models.JobStatus, errMsg, payload string) error {
	applied, err := s.jobs.MarkTerminal(ctx, job.ID, status, errMsg, payload)
	if err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}
	if !applied {
		s.log.Debug("duplicate terminal transition ignored",
			logger.String("custom_id", job.CustomID),
			logger.String("status", string(status)))
		return nil
	}
	return s.updateProgress(ctx, job.BatchID)
}

// updateProgress reloads the batch job set, reduces it, persists the new
// aggregate, and schedules writebacks for milestone crossings and for final
// completion.
func (s *Service) updateProgress(ctx context.Context, batchID int64) error {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	jobs, err := s.jobs.ListByBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}

	snap := Snapshot{
		TotalJobs:      batch.TotalJobs,
		PrevCompleted:  batch.CompletedJobs,
		PrevStatus:     batch.Status,
		HasCompletedAt: batch.CompletedAt != nil,
	}
	for i := range jobs {
		snap.Jobs = append(snap.Jobs, JobState{
			CustomID:         jobs[i].CustomID,
			Status:           jobs[i].Status,
			RedirectCustomID: jobs[i].RedirectCustomID,
			Companion:        jobs[i].Companion,
		})
	}

	out := Reduce(snap, s.cfg.MilestoneSize)

	var completedAt *time.Time
	if out.JustCompleted {
		now := time.Now()
		completedAt = &now
	}
	if err := s.batches.UpdateAggregate(ctx, batch.ID, out.Completed, out.Failed, out.Status, completedAt); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}

	batch.CompletedJobs = out.Completed
	batch.FailedJobs = out.Failed
	batch.Status = out.Status

	s.log.Info("batch progress",
		logger.String("batch", batch.ShortID()),
		logger.Int("completed", out.Completed),
		logger.Int("failed", out.Failed),
		logger.Int("total", batch.TotalJobs),
		logger.String("status", string(out.Status)))
	if s.events != nil {
		s.events.BatchProgressed(ctx, batch)
	}

	if out.CrossedMilestone && !out.JustCompleted {
		s.scheduleWriteback(ctx, batch, false, out.Completed)
	}
	if out.JustCompleted {
		if !batch.WritebackTriggered {
			s.scheduleWriteback(ctx, batch, true, out.Completed)
			if err := s.batches.MarkWritebackTriggered(ctx, batch.ID); err != nil {
				s.log.Error("mark writeback triggered",
					logger.String("batch", batch.ShortID()), logger.Error(err))
			}
		}
		if s.events != nil {
			s.events.BatchCompleted(ctx, batch)
		}
	}
	return nil
}

// scheduleWriteback enqueues a delayed writeback task, or records a skip when
// the batch has no source workbook to write into.
func (s *Service) scheduleWriteback(ctx context.Context, batch *models.Batch, final bool, completed int) {
	if !batch.HasDocument() {
		s.log.Warn("writeback skipped, batch has no source document",
			logger.String("batch", batch.ShortID()),
			logger.Bool("final", final))
		s.recordAudit(ctx, batch, models.OpWritebackSkipped, true, "batch has no source document", models.Details{
			"final": final,
		})
		return
	}
	if err := s.scheduler.ScheduleWriteback(ctx, batch.BatchUUID, final, s.cfg.WritebackDelay); err != nil {
		s.log.Error("schedule writeback",
			logger.String("batch", batch.ShortID()),
			logger.Bool("final", final),
			logger.Error(err))
		return
	}
	s.log.Info("writeback scheduled",
		logger.String("batch", batch.ShortID()),
		logger.Bool("final", final),
		logger.Int("completed", completed),
		logger.Duration("delay", s.cfg.WritebackDelay))
	s.recordAudit(ctx, batch, models.OpMilestoneTrigger, true, "writeback scheduled", models.Details{
		"final":     final,
		"completed": completed,
	})
}

func (s *Service) recordAudit(ctx context.Context, batch *models.Batch, op models.AuditOperation, success bool, message string, details models.Details) {
	entry := &models.AuditEntry{
		OperationType: op,
		TaskID:        batch.BatchUUID.String(),
		FilePath:      batch.FilePath,
		Message:       message,
		Details:       details,
		Success:       success,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Error("record audit entry", logger.String("operation", string(op)), logger.Error(err))
	}
}

// GetBatch resolves a batch by full UUID or 8-character short token.
func (s *Service) GetBatch(ctx context.Context, token string) (*models.Batch, error) {
	return s.batches.GetByToken(ctx, token)
}

// ListBatches returns batches matching the filter, newest first.
func (s *Service) ListBatches(ctx context.Context, filter repository.ListFilter) ([]models.Batch, error) {
	return s.batches.List(ctx, filter)
}

// ListStaleBatches returns non-terminal batches created before the cutoff.
func (s *Service) ListStaleBatches(ctx context.Context, olderThan time.Duration) ([]models.Batch, error) {
	return s.batches.ListStalePending(ctx, time.Now().Add(-olderThan))
}

// Summarize builds the progress projection for a batch, including the custom
// ids still pending and those that failed.
func (s *Service) Summarize(ctx context.Context, token string) (*models.BatchSummary, error) {
	batch, err := s.batches.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	jobs, err := s.jobs.ListByBatch(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("summarize batch: %w", err)
	}

	summary := &models.BatchSummary{
		BatchUUID:            batch.BatchUUID.String(),
		BatchShort:           batch.ShortID(),
		TaskName:             batch.Kind.String(),
		FilePath:             batch.FilePath,
		Status:               string(batch.Status),
		TotalJobs:            batch.TotalJobs,
		CompletedJobs:        batch.CompletedJobs,
		FailedJobs:           batch.FailedJobs,
		PendingJobs:          batch.PendingJobs(),
		CompletionPercentage: batch.CompletionPercentage(),
		IsCompleted:          batch.Status.Terminal(),
		PendingCustomIDs:     []string{},
		FailedCustomIDs:      []string{},
	}
	byCustomID := make(map[string]models.JobStatus, len(jobs))
	for i := range jobs {
		byCustomID[jobs[i].CustomID] = jobs[i].Status
	}
	for i := range jobs {
		if jobs[i].Companion {
			continue
		}
		switch {
		case jobs[i].Status == models.JobRedirected:
			// A redirected job stays pending until its companion completes.
			if byCustomID[jobs[i].RedirectCustomID] != models.JobCompleted {
				summary.PendingCustomIDs = append(summary.PendingCustomIDs, jobs[i].CustomID)
			}
		case !jobs[i].Status.Terminal():
			summary.PendingCustomIDs = append(summary.PendingCustomIDs, jobs[i].CustomID)
		case jobs[i].Status == models.JobFailed:
			summary.FailedCustomIDs = append(summary.FailedCustomIDs, jobs[i].CustomID)
		}
	}
	if batch.CompletedAt != nil {
		summary.DurationSeconds = batch.CompletedAt.Sub(batch.CreatedAt).Seconds()
	} else {
		summary.DurationSeconds = time.Since(batch.CreatedAt).Seconds()
	}
	return summary, nil
}
