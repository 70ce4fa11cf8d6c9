package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// AuditOperation classifies an audit log entry.
type AuditOperation string

const (
	OpExcelWriteback    AuditOperation = "excel_writeback"
	OpWritebackSkipped  AuditOperation = "writeback_skipped"
	OpMilestoneTrigger  AuditOperation = "milestone_trigger"
	OpBatchDispatched   AuditOperation = "batch_dispatched"
	OpTrackingTriggered AuditOperation = "tracking_triggered"
	OpTrackingCompleted AuditOperation = "tracking_completed"
	OpLockSweep         AuditOperation = "lock_sweep"
)

// AuditEntry is an immutable record of one coordination decision or
// external-document write attempt.
type AuditEntry struct {
	ID            int64          `json:"id" db:"id"`
	OperationType AuditOperation `json:"operation_type" db:"operation_type"`
	TaskID        string         `json:"task_id,omitempty" db:"task_id"`
	FilePath      string         `json:"file_path,omitempty" db:"file_path"`
	Message       string         `json:"message" db:"message"`
	Details       Details        `json:"details" db:"details"`
	Success       bool           `json:"success" db:"success"`
	ErrorMessage  string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// Details is a JSONB column holding structured context for an audit entry.
type Details map[string]any

var ErrNotJSONB = errors.New("audit details: value is not []byte")

func (d Details) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

func (d *Details) Scan(value any) error {
	if value == nil {
		*d = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return ErrNotJSONB
	}
	return json.Unmarshal(bytes, d)
}
