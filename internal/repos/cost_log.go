package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/types"
)

type CostLogRepo interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, records []*types.CostLog) error
	// SumForAgentSince aggregates spend for one agent from a period anchor.
	SumForAgentSince(ctx context.Context, tx *gorm.DB, agentID uuid.UUID, since time.Time) (float64, error)
	Count(ctx context.Context, tx *gorm.DB) (int64, error)
}

type costLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCostLogRepo(db *gorm.DB, baseLog *logger.Logger) CostLogRepo {
	return &costLogRepo{db: db, log: baseLog.With("repo", "CostLogRepo")}
}

func (r *costLogRepo) CreateBatch(ctx context.Context, tx *gorm.DB, records []*types.CostLog) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
	}
	return transaction.WithContext(ctx).Create(&records).Error
}

func (r *costLogRepo) SumForAgentSince(ctx context.Context, tx *gorm.DB, agentID uuid.UUID, since time.Time) (float64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var total float64
	if err := transaction.WithContext(ctx).
		Model(&types.CostLog{}).
		Select("COALESCE(SUM(cost_usd), 0)").
		Where("agent_id = ?", agentID).
		Where("created_at >= ?", since).
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *costLogRepo) Count(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.CostLog{}).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
