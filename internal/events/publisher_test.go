// Package events_test provides tests for the events package.
package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/events"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/pipeline"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/testhelpers"
)

func TestNewPublisher_RequiresClient(t *testing.T) {
	pub := events.NewPublisher(nil, testhelpers.NewTestLogger())
	if pub != nil {
		t.Error("expected nil publisher when client is nil")
	}
}

func TestPublisher_NilIsNoOp(t *testing.T) {
	var pub *events.Publisher

	if err := pub.Publish(context.Background(), events.BatchEvent{}); err != nil {
		t.Errorf("nil publisher Publish() error = %v, want nil", err)
	}

	batch := &models.Batch{
		BatchUUID: uuid.New(),
		Kind:      pipeline.OfficialRedirectYamato,
		Status:    models.BatchProcessing,
	}

	// Must not panic.
	pub.BatchProgressed(context.Background(), batch)
	pub.BatchCompleted(context.Background(), batch)
}

func TestBatchEvent_JSONShape(t *testing.T) {
	batchUUID := uuid.New()
	event := events.BatchEvent{
		EventID:   uuid.New(),
		EventType: events.EventBatchProgressed,
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		BatchUUID: batchUUID.String(),
		TaskName:  pipeline.OfficialRedirectYamato.String(),
		Status:    string(models.BatchProcessing),
		Total:     25,
		Completed: 10,
		Failed:    1,
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}

	want := map[string]any{
		"event_type":     "batch.progressed",
		"batch_uuid":     batchUUID.String(),
		"task_name":      pipeline.OfficialRedirectYamato.String(),
		"status":         "processing",
		"total_jobs":     float64(25),
		"completed_jobs": float64(10),
		"failed_jobs":    float64(1),
	}
	for key, wantVal := range want {
		if got, ok := fields[key]; !ok {
			t.Errorf("event JSON missing key %q", key)
		} else if got != wantVal {
			t.Errorf("event JSON %q = %v, want %v", key, got, wantVal)
		}
	}
}

func TestEventTypes(t *testing.T) {
	if events.EventBatchProgressed != "batch.progressed" {
		t.Errorf("EventBatchProgressed = %q", events.EventBatchProgressed)
	}
	if events.EventBatchCompleted != "batch.completed" {
		t.Errorf("EventBatchCompleted = %q", events.EventBatchCompleted)
	}
	if events.StreamName != "tracking:batch-events" {
		t.Errorf("StreamName = %q", events.StreamName)
	}
}
