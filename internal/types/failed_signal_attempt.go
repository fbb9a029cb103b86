package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	FailedSignalStatusPending    = "pending"
	FailedSignalStatusRecovered  = "recovered"
	FailedSignalStatusMovedToDLQ = "moved_to_dlq"
)

// FailedSignalAttempt is retry bookkeeping for a signal that failed pipeline
// processing. One row per signal; attempt_count and next_retry_at advance on
// each retry until the row goes terminal (recovered or moved_to_dlq).
type FailedSignalAttempt struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SignalID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_failed_signal_signal" json:"signal_id"`
	SourceRef    string     `gorm:"column:source_ref" json:"source_ref,omitempty"`
	RunID        string     `gorm:"column:run_id" json:"run_id,omitempty"`
	ErrorType    string     `gorm:"column:error_type;not null;index" json:"error_type"`
	ErrorMessage string     `gorm:"column:error_message" json:"error_message,omitempty"`
	Status       string     `gorm:"column:status;not null;default:'pending';index" json:"status"`
	AttemptCount int        `gorm:"column:attempt_count;not null;default:0" json:"attempt_count"`
	MaxRetries   int        `gorm:"column:max_retries;not null;default:5" json:"max_retries"`
	FailedAt     time.Time  `gorm:"column:failed_at;not null" json:"failed_at"`
	NextRetryAt  *time.Time `gorm:"column:next_retry_at;index" json:"next_retry_at,omitempty"`
}

func (FailedSignalAttempt) TableName() string { return "failed_signal_attempts" }
