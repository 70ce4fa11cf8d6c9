package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/extract"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/pipeline"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/repository"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/scheduler"
)

// CallbackStatus is the outcome the scrape provider reports for one job.
type CallbackStatus string

const (
	CallbackCompleted  CallbackStatus = "completed"
	CallbackFailed     CallbackStatus = "failed"
	CallbackRedirected CallbackStatus = "redirected"
)

// Callback is one provider webhook delivery. Jobs are resolved by CustomID
// first, falling back to ProviderJobID for providers that drop the custom id
// on some notifications.
type Callback struct {
	CustomID      string         `json:"custom_id"`
	ProviderJobID string         `json:"job_id"`
	Status        CallbackStatus `json:"status"`

	// Fields is the extracted result, already reduced to writeback fields.
	Fields []string `json:"fields,omitempty"`
	// Rows is the raw scraped status table, newest row last. Used when the
	// provider did not pre-extract fields.
	Rows [][]string `json:"rows,omitempty"`
	// HTML is the raw tracking page, parsed here as a last resort.
	HTML string `json:"html,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	// RedirectURL is the carrier handoff target for redirected results.
	RedirectURL string `json:"redirect_url,omitempty"`
}

// ErrUnresolvedCallback is returned when neither id in a callback matches a job.
var ErrUnresolvedCallback = errors.New("callback matches no job")

// HandleCallback applies one provider result to its job and drives the batch
// aggregate forward. Safe under duplicate and out-of-order delivery.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) error {
	job, err := s.resolveJob(ctx, cb)
	if err != nil {
		return err
	}

	if cb.ProviderJobID != "" && job.ProviderJobID == "" {
		if err := s.jobs.SetProviderJobID(ctx, job.ID, cb.ProviderJobID); err != nil {
			s.log.Error("store provider job id",
				logger.String("custom_id", job.CustomID), logger.Error(err))
		}
	}

	switch cb.Status {
	case CallbackCompleted:
		payload, err := s.renderPayload(cb)
		if err != nil {
			return s.MarkFailed(ctx, job, err.Error())
		}
		return s.MarkCompleted(ctx, job, payload)
	case CallbackFailed:
		msg := cb.ErrorMessage
		if msg == "" {
			msg = "provider reported failure"
		}
		return s.MarkFailed(ctx, job, msg)
	case CallbackRedirected:
		return s.handleRedirect(ctx, job, cb.RedirectURL)
	default:
		return fmt.Errorf("callback %s: unknown status %q", cb.CustomID, cb.Status)
	}
}

func (s *Service) resolveJob(ctx context.Context, cb Callback) (*models.Job, error) {
	if cb.CustomID != "" {
		job, err := s.jobs.FindByCustomID(ctx, cb.CustomID)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("resolve callback: %w", err)
		}
	}
	if cb.ProviderJobID != "" {
		job, err := s.jobs.FindByProviderJobID(ctx, cb.ProviderJobID)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("resolve callback: %w", err)
		}
	}
	return nil, fmt.Errorf("custom_id=%q job_id=%q: %w",
		cb.CustomID, cb.ProviderJobID, ErrUnresolvedCallback)
}

// renderPayload reduces whatever result shape the provider sent to the
// delimited writeback string.
func (s *Service) renderPayload(cb Callback) (string, error) {
	if len(cb.Fields) > 0 {
		return extract.Join(cb.Fields), nil
	}
	if len(cb.Rows) > 0 {
		fields := extract.LatestRow(cb.Rows)
		if len(fields) == 0 {
			return "", errors.New("result rows contain no data")
		}
		return extract.Join(fields), nil
	}
	if cb.HTML != "" {
		fields, err := extract.ParseYamatoPage(strings.NewReader(cb.HTML))
		if err != nil {
			return "", fmt.Errorf("parse tracking page: %w", err)
		}
		return extract.Join(fields), nil
	}
	return "", errors.New("callback carries no result data")
}

// handleRedirect marks the source job redirected and spawns a Japan Post
// companion job that tracks the handed-off parcel. The companion's custom id
// is computed once here and stored on the source job; progress accounting
// reads only the stored value.
func (s *Service) handleRedirect(ctx context.Context, job *models.Job, redirectURL string) error {
	if job.Companion {
		return fmt.Errorf("redirect %s: companion jobs cannot redirect again", job.CustomID)
	}

	batch, err := s.batches.GetByID(ctx, job.BatchID)
	if err != nil {
		return fmt.Errorf("redirect %s: %w", job.CustomID, err)
	}

	companionID := pipeline.CompanionCustomID(batch.Kind, job.CustomID)

	exists, err := s.jobs.ExistsByCustomID(ctx, companionID)
	if err != nil {
		return fmt.Errorf("redirect %s: %w", job.CustomID, err)
	}
	if !exists {
		companion := &models.Job{
			BatchID:   job.BatchID,
			CustomID:  companionID,
			TargetURL: redirectURL,
			Index:     job.Index,
			Status:    models.JobPending,
			Companion: true,
		}
		if err := s.jobs.CreateCompanion(ctx, companion); err != nil {
			return fmt.Errorf("redirect %s: %w", job.CustomID, err)
		}
		if err := s.scheduler.SchedulePublish(ctx, scheduler.PublishPayload{
			TaskName:  pipeline.RedirectJapanPost.String(),
			BatchUUID: batch.BatchUUID.String(),
			CustomID:  companionID,
			TargetURL: redirectURL,
			Index:     job.Index,
		}, 0); err != nil {
			s.log.Error("schedule companion publish",
				logger.String("custom_id", companionID), logger.Error(err))
		}
	}

	if err := s.jobs.SetRedirect(ctx, job.ID, companionID); err != nil {
		return fmt.Errorf("redirect %s: %w", job.CustomID, err)
	}

	s.log.Info("job redirected",
		logger.String("custom_id", job.CustomID),
		logger.String("companion", companionID),
		logger.String("redirect_url", redirectURL))

	return s.markTerminal(ctx, job, models.JobRedirected, "", "")
}
