package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/types"
)

type AgentBudgetRepo interface {
	Get(ctx context.Context, tx *gorm.DB, agentID uuid.UUID) (*types.AgentBudget, error)
	Upsert(ctx context.Context, tx *gorm.DB, budget *types.AgentBudget) error
	SetPaused(ctx context.Context, tx *gorm.DB, agentID uuid.UUID, paused bool) error
	UpdateLimit(ctx context.Context, tx *gorm.DB, agentID uuid.UUID, limitUSD float64) error
	// ResetPeriod moves the aggregation anchor to now, zeroing the agent's
	// visible monthly spend.
	ResetPeriod(ctx context.Context, tx *gorm.DB, agentID uuid.UUID) error
}

type agentBudgetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAgentBudgetRepo(db *gorm.DB, baseLog *logger.Logger) AgentBudgetRepo {
	return &agentBudgetRepo{db: db, log: baseLog.With("repo", "AgentBudgetRepo")}
}

func (r *agentBudgetRepo) Get(ctx context.Context, tx *gorm.DB, agentID uuid.UUID) (*types.AgentBudget, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.AgentBudget
	if err := transaction.WithContext(ctx).
		Where("agent_id = ?", agentID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *agentBudgetRepo) Upsert(ctx context.Context, tx *gorm.DB, budget *types.AgentBudget) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if budget == nil {
		return nil
	}
	if budget.PeriodStart.IsZero() {
		budget.PeriodStart = startOfMonth(time.Now().UTC())
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "agent_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"monthly_limit_usd", "paused", "period_start", "updated_at",
			}),
		}).
		Create(budget).Error
}

func (r *agentBudgetRepo) SetPaused(ctx context.Context, tx *gorm.DB, agentID uuid.UUID, paused bool) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.AgentBudget{}).
		Where("agent_id = ?", agentID).
		Update("paused", paused).Error
}

func (r *agentBudgetRepo) UpdateLimit(ctx context.Context, tx *gorm.DB, agentID uuid.UUID, limitUSD float64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.AgentBudget{}).
		Where("agent_id = ?", agentID).
		Update("monthly_limit_usd", limitUSD).Error
}

func (r *agentBudgetRepo) ResetPeriod(ctx context.Context, tx *gorm.DB, agentID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.AgentBudget{}).
		Where("agent_id = ?", agentID).
		Update("period_start", time.Now().UTC()).Error
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
