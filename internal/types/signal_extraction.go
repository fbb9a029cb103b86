package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SignalExtraction holds the structured entities/relationships derived from a
// signal. Exactly one row per signal; re-running the pipeline replaces it.
type SignalExtraction struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SignalID   uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_signal_extraction_signal" json:"signal_id"`
	Signal     *Signal        `gorm:"constraint:OnDelete:CASCADE;foreignKey:SignalID;references:ID" json:"signal,omitempty"`
	Extraction datatypes.JSON `gorm:"type:jsonb;column:extraction;not null" json:"extraction"`
	Source     string         `gorm:"column:source" json:"source,omitempty"`
	Model      string         `gorm:"column:model" json:"model,omitempty"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
}

func (SignalExtraction) TableName() string { return "signal_extractions" }
