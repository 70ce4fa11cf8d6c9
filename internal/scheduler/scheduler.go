// Package scheduler defers work onto the Redis-backed task queue. The
// completion reducer schedules writebacks through it instead of calling the
// coordinator inline, so a slow or failing document write can never block a
// job-completion callback.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/config"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
)

// Task type names on the queue.
const (
	TypeWriteback = "tracking:writeback"
	TypePublish   = "tracking:publish"
)

// WritebackPayload asks the worker to run one writeback pass for a batch.
type WritebackPayload struct {
	BatchUUID string `json:"batch_uuid"`
	// Final marks a run triggered by batch completion rather than a
	// milestone; only final runs stamp writeback_completed_at.
	Final bool `json:"final"`
}

// PublishPayload asks the worker to publish one scrape job to the provider.
type PublishPayload struct {
	TaskName  string `json:"task_name"`
	BatchUUID string `json:"batch_uuid"`
	CustomID  string `json:"custom_id"`
	TargetURL string `json:"target_url"`
	Index     int    `json:"index"`
}

// Scheduler is the queueing surface the tracking core depends on.
type Scheduler interface {
	ScheduleWriteback(ctx context.Context, batchUUID uuid.UUID, final bool, delay time.Duration) error
	SchedulePublish(ctx context.Context, payload PublishPayload, delay time.Duration) error
}

// AsynqScheduler enqueues tasks on Redis via asynq.
type AsynqScheduler struct {
	client *asynq.Client
	logger logger.Logger
}

// RedisOpt builds the asynq connection options from service config.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewAsynqScheduler(cfg config.RedisConfig, log logger.Logger) *AsynqScheduler {
	return &AsynqScheduler{
		client: asynq.NewClient(RedisOpt(cfg)),
		logger: log,
	}
}

func (s *AsynqScheduler) ScheduleWriteback(
	ctx context.Context,
	batchUUID uuid.UUID,
	final bool,
	delay time.Duration,
) error {
	payload, err := json.Marshal(WritebackPayload{
		BatchUUID: batchUUID.String(),
		Final:     final,
	})
	if err != nil {
		return fmt.Errorf("marshal writeback payload: %w", err)
	}

	task := asynq.NewTask(TypeWriteback, payload)
	info, err := s.client.EnqueueContext(ctx, task, asynq.ProcessIn(delay))
	if err != nil {
		return fmt.Errorf("enqueue writeback: %w", err)
	}

	s.logger.Info("Scheduled writeback",
		logger.String("batch_uuid", batchUUID.String()),
		logger.Bool("final", final),
		logger.Duration("delay", delay),
		logger.String("queue_task_id", info.ID),
	)
	return nil
}

func (s *AsynqScheduler) SchedulePublish(
	ctx context.Context,
	payload PublishPayload,
	delay time.Duration,
) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal publish payload: %w", err)
	}

	task := asynq.NewTask(TypePublish, data)
	if _, err := s.client.EnqueueContext(ctx, task, asynq.ProcessIn(delay)); err != nil {
		return fmt.Errorf("enqueue publish: %w", err)
	}
	return nil
}

func (s *AsynqScheduler) Close() error {
	return s.client.Close()
}
