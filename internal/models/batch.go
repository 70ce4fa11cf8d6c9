package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/pipeline"
)

// BatchStatus is the aggregate completion state of a tracking batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"    // no job has reached a terminal state yet
	BatchProcessing BatchStatus = "processing" // some jobs terminal, not all
	BatchCompleted  BatchStatus = "completed"  // all jobs terminal, zero failures
	BatchPartial    BatchStatus = "partial"    // all jobs terminal, at least one failure
)

// Terminal reports whether the status can no longer change.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchPartial
}

// Batch groups the scrape jobs fanned out from one source file (or one
// ad-hoc query run) and tracks their aggregate completion.
type Batch struct {
	ID        int64         `json:"id" db:"id"`
	BatchUUID uuid.UUID     `json:"batch_uuid" db:"batch_uuid"`
	Kind      pipeline.Kind `json:"task_name" db:"task_name"`

	// FilePath is the WebDAV path of the originating spreadsheet. Empty for
	// batches that write results straight to the database.
	FilePath string `json:"file_path" db:"file_path"`
	TaskID   string `json:"task_id,omitempty" db:"task_id"`

	TotalJobs     int `json:"total_jobs" db:"total_jobs"`
	CompletedJobs int `json:"completed_jobs" db:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs" db:"failed_jobs"`

	Status BatchStatus `json:"status" db:"status"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	WritebackTriggered   bool       `json:"writeback_triggered" db:"writeback_triggered"`
	WritebackCompletedAt *time.Time `json:"writeback_completed_at,omitempty" db:"writeback_completed_at"`
}

// ShortID is the first 8 hex characters of the batch UUID, used in custom ids.
func (b *Batch) ShortID() string {
	return b.BatchUUID.String()[:8]
}

// PendingJobs is the number of jobs that have not reached a terminal state.
func (b *Batch) PendingJobs() int {
	return b.TotalJobs - b.CompletedJobs - b.FailedJobs
}

// CompletionPercentage is completed/total as a percentage, 0 for empty batches.
func (b *Batch) CompletionPercentage() float64 {
	if b.TotalJobs == 0 {
		return 0
	}
	return float64(b.CompletedJobs) / float64(b.TotalJobs) * 100
}

// HasDocument reports whether batch results are written back to a spreadsheet.
func (b *Batch) HasDocument() bool {
	return b.FilePath != ""
}

// BatchSummary is the dashboard projection of a batch.
type BatchSummary struct {
	BatchUUID            string   `json:"batch_uuid"`
	BatchShort           string   `json:"batch_short"`
	TaskName             string   `json:"task_name"`
	FilePath             string   `json:"file_path"`
	Status               string   `json:"status"`
	TotalJobs            int      `json:"total_jobs"`
	CompletedJobs        int      `json:"completed_jobs"`
	FailedJobs           int      `json:"failed_jobs"`
	PendingJobs          int      `json:"pending_jobs"`
	CompletionPercentage float64  `json:"completion_percentage"`
	IsCompleted          bool     `json:"is_completed"`
	DurationSeconds      float64  `json:"duration_seconds"`
	PendingCustomIDs     []string `json:"pending_custom_ids"`
	FailedCustomIDs      []string `json:"failed_custom_ids"`
}
