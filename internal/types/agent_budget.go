package types

import (
	"time"

	"github.com/google/uuid"
)

// AgentBudget is the durable spend limit and pause state for one agent.
// Current spend is aggregated from cost_log; it is not denormalized here.
type AgentBudget struct {
	AgentID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"agent_id"`
	MonthlyLimitUSD float64   `gorm:"column:monthly_limit_usd;not null;default:0" json:"monthly_limit_usd"`
	Paused          bool      `gorm:"column:paused;not null;default:false" json:"paused"`
	PeriodStart     time.Time `gorm:"column:period_start;not null" json:"period_start"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (AgentBudget) TableName() string { return "agent_budgets" }

// BudgetStatus is a point-in-time spend-vs-limit snapshot for an agent.
// Computed on demand, cached briefly, never persisted.
type BudgetStatus struct {
	Allowed        bool      `json:"allowed"`
	Remaining      float64   `json:"remaining"`
	Limit          float64   `json:"limit"`
	CurrentCost    float64   `json:"current_cost"`
	UtilizationPct float64   `json:"utilization_pct"`
	PeriodStart    time.Time `json:"period_start,omitempty"`
	Degraded       bool      `json:"degraded,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}
