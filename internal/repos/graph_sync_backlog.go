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

// BacklogStats is the operational snapshot for dashboards: pending/processed
// totals plus pending counts grouped by operation kind.
type BacklogStats struct {
	Pending     int64            `json:"pending"`
	Processed   int64            `json:"processed"`
	ByOperation map[string]int64 `json:"by_operation"`
}

type GraphSyncBacklogRepo interface {
	Enqueue(ctx context.Context, tx *gorm.DB, item *types.GraphSyncBacklogItem) error
	// ClaimPending selects pending rows FOR UPDATE SKIP LOCKED inside the
	// caller's transaction so concurrent drains never double-process a row.
	ClaimPending(ctx context.Context, tx *gorm.DB, limit int) ([]*types.GraphSyncBacklogItem, error)
	MarkProcessed(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error
	Stats(ctx context.Context, tx *gorm.DB) (*BacklogStats, error)
	CountPending(ctx context.Context, tx *gorm.DB) (int64, error)
}

type graphSyncBacklogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGraphSyncBacklogRepo(db *gorm.DB, baseLog *logger.Logger) GraphSyncBacklogRepo {
	return &graphSyncBacklogRepo{db: db, log: baseLog.With("repo", "GraphSyncBacklogRepo")}
}

func (r *graphSyncBacklogRepo) Enqueue(ctx context.Context, tx *gorm.DB, item *types.GraphSyncBacklogItem) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if item == nil {
		return nil
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = types.BacklogStatusPending
	}
	return transaction.WithContext(ctx).Create(item).Error
}

func (r *graphSyncBacklogRepo) ClaimPending(ctx context.Context, tx *gorm.DB, limit int) ([]*types.GraphSyncBacklogItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	var out []*types.GraphSyncBacklogItem
	if err := transaction.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", types.BacklogStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *graphSyncBacklogRepo) MarkProcessed(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return transaction.WithContext(ctx).
		Model(&types.GraphSyncBacklogItem{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":       types.BacklogStatusProcessed,
			"processed_at": now,
		}).Error
}

func (r *graphSyncBacklogRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.GraphSyncBacklogItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  errMsg,
		}).Error
}

func (r *graphSyncBacklogRepo) Stats(ctx context.Context, tx *gorm.DB) (*BacklogStats, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	stats := &BacklogStats{ByOperation: map[string]int64{}}
	if err := transaction.WithContext(ctx).
		Model(&types.GraphSyncBacklogItem{}).
		Where("status = ?", types.BacklogStatusPending).
		Count(&stats.Pending).Error; err != nil {
		return nil, err
	}
	if err := transaction.WithContext(ctx).
		Model(&types.GraphSyncBacklogItem{}).
		Where("status = ?", types.BacklogStatusProcessed).
		Count(&stats.Processed).Error; err != nil {
		return nil, err
	}
	type opCount struct {
		Operation string
		N         int64
	}
	var rows []opCount
	if err := transaction.WithContext(ctx).
		Model(&types.GraphSyncBacklogItem{}).
		Select("operation, COUNT(*) AS n").
		Where("status = ?", types.BacklogStatusPending).
		Group("operation").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByOperation[row.Operation] = row.N
	}
	return stats, nil
}

func (r *graphSyncBacklogRepo) CountPending(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.GraphSyncBacklogItem{}).
		Where("status = ?", types.BacklogStatusPending).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
