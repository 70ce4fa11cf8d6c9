package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/pipeline"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/repository"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/scheduler"
)

// ErrBatchInFlight is returned when a dispatch targets a file that already
// has a non-terminal batch.
var ErrBatchInFlight = errors.New("batch already in flight for file")

// Seed is one job to fan out: the URL to scrape and the zero-based data-row
// index it came from. Indices need not be contiguous; rows the importer
// rejected keep their gap so results land on the right sheet rows.
type Seed struct {
	TargetURL string
	Index     int
}

// Dispatch creates a batch for the given pipeline and fans one scrape job
// out per seed. Publishing is staggered on the queue so the provider is not
// hit with the whole batch at once.
//
// A file with a batch still in flight cannot be dispatched again; re-running
// a finished file starts a fresh batch with fresh custom ids.
func (s *Service) Dispatch(ctx context.Context, kind pipeline.Kind, filePath string, seeds []Seed) (*models.Batch, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("dispatch %s: no jobs to fan out", kind)
	}

	if filePath != "" {
		prev, err := s.batches.GetLatestByFilePath(ctx, filePath)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("dispatch %s: %w", kind, err)
		}
		if prev != nil && !prev.Status.Terminal() {
			return nil, fmt.Errorf("dispatch %s: %s: %w", kind, prev.ShortID(), ErrBatchInFlight)
		}
	}

	batch, err := s.CreateBatch(ctx, kind, filePath)
	if err != nil {
		return nil, err
	}

	specs := make([]models.JobSpec, 0, len(seeds))
	for _, seed := range seeds {
		specs = append(specs, models.JobSpec{
			TargetURL: seed.TargetURL,
			Index:     seed.Index,
			CustomID:  kind.CustomID(batch.ShortID(), seed.Index),
		})
	}

	jobs, err := s.jobs.CreateJobs(ctx, batch.ID, specs)
	if err != nil {
		return nil, fmt.Errorf("dispatch %s: %w", kind, err)
	}
	if err := s.batches.SetTotalJobs(ctx, batch.ID, len(jobs)); err != nil {
		return nil, fmt.Errorf("dispatch %s: %w", kind, err)
	}
	batch.TotalJobs = len(jobs)

	for i := range jobs {
		payload := scheduler.PublishPayload{
			TaskName:  kind.String(),
			BatchUUID: batch.BatchUUID.String(),
			CustomID:  jobs[i].CustomID,
			TargetURL: jobs[i].TargetURL,
			Index:     jobs[i].Index,
		}
		delay := time.Duration(i) * s.cfg.PublishStagger
		if err := s.scheduler.SchedulePublish(ctx, payload, delay); err != nil {
			s.log.Error("schedule publish",
				logger.String("custom_id", jobs[i].CustomID),
				logger.Error(err))
		}
	}

	s.log.Info("batch dispatched",
		logger.String("batch", batch.ShortID()),
		logger.String("kind", kind.String()),
		logger.Int("jobs", len(jobs)))
	s.recordAudit(ctx, batch, models.OpBatchDispatched, true, "batch dispatched", models.Details{
		"kind": kind.String(),
		"jobs": len(jobs),
	})
	return batch, nil
}

// Publish sends one queued scrape job to the provider and stores the job id
// the provider assigned. Runs on the worker as the publish task handler.
func (s *Service) Publish(ctx context.Context, provider Provider, payload scheduler.PublishPayload) error {
	job, err := s.jobs.FindByCustomID(ctx, payload.CustomID)
	if err != nil {
		return fmt.Errorf("publish %s: %w", payload.CustomID, err)
	}
	if job.Status.Terminal() {
		s.log.Debug("publish skipped, job already terminal",
			logger.String("custom_id", job.CustomID),
			logger.String("status", string(job.Status)))
		return nil
	}

	providerJobID, err := provider.Submit(ctx, ScrapeRequest{
		TaskName:  payload.TaskName,
		CustomID:  payload.CustomID,
		TargetURL: payload.TargetURL,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", payload.CustomID, err)
	}
	if providerJobID != "" {
		if err := s.jobs.SetProviderJobID(ctx, job.ID, providerJobID); err != nil {
			return fmt.Errorf("publish %s: %w", payload.CustomID, err)
		}
	}
	s.log.Info("job published",
		logger.String("custom_id", payload.CustomID),
		logger.String("provider_job_id", providerJobID))
	return nil
}
