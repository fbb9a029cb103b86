package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Signal is one immutable unit of ingested raw text plus provenance metadata.
// Rows are append-only; nothing in the pipeline mutates a signal after insert.
type Signal struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Source    string    `gorm:"column:source;not null;index" json:"source"`
	SourceRef string    `gorm:"column:source_ref;index" json:"source_ref,omitempty"`
	// AgentID attributes AI spend for this signal to a budgeted agent.
	AgentID           *uuid.UUID     `gorm:"type:uuid;column:agent_id;index" json:"agent_id,omitempty"`
	SignalType        string         `gorm:"column:signal_type;not null;default:'message'" json:"signal_type"`
	Content           string         `gorm:"column:content;not null" json:"content"`
	NormalizedContent string         `gorm:"column:normalized_content" json:"normalized_content,omitempty"`
	Severity          string         `gorm:"column:severity;default:'info'" json:"severity"`
	Confidence        float64        `gorm:"column:confidence;default:0" json:"confidence"`
	Metadata          datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`
	CreatedAt         time.Time      `gorm:"not null" json:"created_at"`
}

func (Signal) TableName() string { return "signals" }
