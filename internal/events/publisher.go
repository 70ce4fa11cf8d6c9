// Package events publishes batch lifecycle events to Redis Streams so
// downstream consumers (dashboards, notifiers) can follow tracking progress.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
)

// StreamName is the Redis stream batch events are appended to.
const StreamName = "tracking:batch-events"

// asyncPublishTimeout is the context timeout for async publish operations.
const asyncPublishTimeout = 5 * time.Second

// EventType classifies a batch lifecycle event.
type EventType string

const (
	EventBatchProgressed EventType = "batch.progressed"
	EventBatchCompleted  EventType = "batch.completed"
)

// BatchEvent is one batch lifecycle notification.
type BatchEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	EventType EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`

	BatchUUID string `json:"batch_uuid"`
	TaskName  string `json:"task_name"`
	Status    string `json:"status"`
	Total     int    `json:"total_jobs"`
	Completed int    `json:"completed_jobs"`
	Failed    int    `json:"failed_jobs"`
}

// Publisher publishes batch events to Redis Streams. A nil Publisher is a
// valid no-op, so callers need no guard when events are disabled.
type Publisher struct {
	client *redis.Client
	log    logger.Logger
}

// NewPublisher creates a new event publisher. Returns nil if client is nil.
func NewPublisher(client *redis.Client, log logger.Logger) *Publisher {
	if client == nil {
		return nil
	}
	return &Publisher{
		client: client,
		log:    log,
	}
}

// Publish sends an event to the Redis stream.
func (p *Publisher) Publish(ctx context.Context, event BatchEvent) error {
	if p == nil || p.client == nil {
		return nil
	}

	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	result := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName,
		Values: map[string]any{
			"event": string(payload),
		},
	})

	if publishErr := result.Err(); publishErr != nil {
		if p.log != nil {
			p.log.Error("Failed to publish event",
				logger.String("event_type", string(event.EventType)),
				logger.String("batch_uuid", event.BatchUUID),
				logger.Error(publishErr),
			)
		}
		return fmt.Errorf("publish to stream: %w", publishErr)
	}

	if p.log != nil {
		p.log.Debug("Published batch event",
			logger.String("event_type", string(event.EventType)),
			logger.String("batch_uuid", event.BatchUUID),
			logger.String("stream_id", result.Val()),
		)
	}

	return nil
}

// BatchProgressed publishes a progress event without blocking the caller.
func (p *Publisher) BatchProgressed(_ context.Context, batch *models.Batch) {
	p.publishAsync(fromBatch(EventBatchProgressed, batch))
}

// BatchCompleted publishes a completion event without blocking the caller.
func (p *Publisher) BatchCompleted(_ context.Context, batch *models.Batch) {
	p.publishAsync(fromBatch(EventBatchCompleted, batch))
}

func fromBatch(eventType EventType, batch *models.Batch) BatchEvent {
	return BatchEvent{
		EventType: eventType,
		BatchUUID: batch.BatchUUID.String(),
		TaskName:  batch.Kind.String(),
		Status:    string(batch.Status),
		Total:     batch.TotalJobs,
		Completed: batch.CompletedJobs,
		Failed:    batch.FailedJobs,
	}
}

// publishAsync publishes an event asynchronously. Errors are logged, never
// returned: batch progress must not stall on broker trouble.
func (p *Publisher) publishAsync(event BatchEvent) {
	if p == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncPublishTimeout)
		defer cancel()

		if err := p.Publish(ctx, event); err != nil && p.log != nil {
			p.log.Error("Async publish failed",
				logger.String("event_type", string(event.EventType)),
				logger.String("batch_uuid", event.BatchUUID),
				logger.Error(err),
			)
		}
	}()
}
