package models

import "time"

// JobStatus is the lifecycle state of a single scrape job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobRedirected JobStatus = "redirected" // outcome tracked by a companion job
)

// Terminal reports whether the job can no longer transition.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobRedirected
}

// Job is one scrape task belonging to exactly one Batch.
type Job struct {
	ID      int64 `json:"id" db:"id"`
	BatchID int64 `json:"batch_id" db:"batch_id"`

	// ProviderJobID is the id assigned by the scrape provider, when it
	// returned one. Unique when present.
	ProviderJobID string `json:"job_id,omitempty" db:"provider_job_id"`

	// CustomID is the idempotency key handed to the provider, formatted
	// {prefix}-{batch-short}-{index:04d}. Callbacks resolve jobs by it.
	CustomID string `json:"custom_id" db:"custom_id"`

	TargetURL string `json:"target_url" db:"target_url"`

	// Index is the zero-based position of this job's row in the source
	// spreadsheet, used to map results back to the sheet.
	Index int `json:"index" db:"row_index"`

	Status       JobStatus `json:"status" db:"status"`
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`

	// WritebackPayload is the pre-rendered result string (fields joined with
	// the writeback delimiter) destined for the source spreadsheet.
	WritebackPayload string `json:"writeback_data,omitempty" db:"writeback_data"`

	// RedirectCustomID names the companion job that tracks this job's real
	// outcome once it has been redirected. Set at redirect time.
	RedirectCustomID string `json:"redirect_custom_id,omitempty" db:"redirect_custom_id"`

	// Companion marks jobs spawned by a redirect. Companions contribute to
	// batch progress only through their redirected source job.
	Companion bool `json:"companion" db:"companion"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// JobSpec describes one job to create during batch fan-out.
type JobSpec struct {
	TargetURL string
	Index     int
	CustomID  string
}
