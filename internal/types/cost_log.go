package types

import (
	"time"

	"github.com/google/uuid"
)

// CostLog is one billed AI operation (LLM call, embedding call). Created
// synchronously in memory by the cost governor and persisted asynchronously
// in batches; never mutated after creation.
type CostLog struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CorrelationID  string     `gorm:"column:correlation_id;not null;index" json:"correlation_id"`
	SignalID       *uuid.UUID `gorm:"type:uuid;index" json:"signal_id,omitempty"`
	AgentID        *uuid.UUID `gorm:"type:uuid;index" json:"agent_id,omitempty"`
	Operation      string     `gorm:"column:operation;not null" json:"operation"`
	Provider       string     `gorm:"column:provider;not null" json:"provider"`
	Model          string     `gorm:"column:model;not null" json:"model"`
	TokensInput    int        `gorm:"column:tokens_input;not null;default:0" json:"tokens_input"`
	TokensOutput   int        `gorm:"column:tokens_output;not null;default:0" json:"tokens_output"`
	CostUSD        float64    `gorm:"column:cost_usd;not null;default:0" json:"cost_usd"`
	ResponseTimeMs int        `gorm:"column:response_time_ms;not null;default:0" json:"response_time_ms"`
	CreatedAt      time.Time  `gorm:"not null;index" json:"created_at"`
}

func (CostLog) TableName() string { return "cost_log" }
