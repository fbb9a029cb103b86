package types

import (
	"time"

	"github.com/google/uuid"
)

// DeadLetterEntry is the terminal, operator-reviewable artifact for a signal
// that exhausted its retry budget. Entries are never auto-retried.
type DeadLetterEntry struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SignalID          uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_dead_letter_signal" json:"signal_id"`
	SourceRef         string    `gorm:"column:source_ref" json:"source_ref,omitempty"`
	RunID             string    `gorm:"column:run_id" json:"run_id,omitempty"`
	Attempts          int       `gorm:"column:attempts;not null" json:"attempts"`
	FinalErrorType    string    `gorm:"column:final_error_type;not null;index" json:"final_error_type"`
	FinalErrorMessage string    `gorm:"column:final_error_message" json:"final_error_message,omitempty"`
	FailedAt          time.Time `gorm:"column:failed_at;not null" json:"failed_at"`
	MovedToDLQAt      time.Time `gorm:"column:moved_to_dlq_at;not null" json:"moved_to_dlq_at"`
	Reviewed          bool      `gorm:"column:reviewed;not null;default:false;index" json:"reviewed"`
}

func (DeadLetterEntry) TableName() string { return "dead_letter_queue" }
