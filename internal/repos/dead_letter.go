package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/types"
)

// DeadLetterStats groups quarantined signals by final error type for
// operational dashboards.
type DeadLetterStats struct {
	Total       int64            `json:"total"`
	Unreviewed  int64            `json:"unreviewed"`
	ByErrorType map[string]int64 `json:"by_error_type"`
}

type DeadLetterRepo interface {
	Create(ctx context.Context, tx *gorm.DB, entry *types.DeadLetterEntry) error
	List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.DeadLetterEntry, error)
	ExistsForSignal(ctx context.Context, tx *gorm.DB, signalID uuid.UUID) (bool, error)
	MarkReviewed(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	Stats(ctx context.Context, tx *gorm.DB) (*DeadLetterStats, error)
}

type deadLetterRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeadLetterRepo(db *gorm.DB, baseLog *logger.Logger) DeadLetterRepo {
	return &deadLetterRepo{db: db, log: baseLog.With("repo", "DeadLetterRepo")}
}

func (r *deadLetterRepo) Create(ctx context.Context, tx *gorm.DB, entry *types.DeadLetterEntry) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if entry == nil {
		return nil
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	// A signal can only be quarantined once; racing schedulers are benign.
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry).Error
}

func (r *deadLetterRepo) List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.DeadLetterEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	var out []*types.DeadLetterEntry
	if err := transaction.WithContext(ctx).
		Order("moved_to_dlq_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *deadLetterRepo) ExistsForSignal(ctx context.Context, tx *gorm.DB, signalID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.DeadLetterEntry{}).
		Where("signal_id = ?", signalID).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *deadLetterRepo) MarkReviewed(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.DeadLetterEntry{}).
		Where("id = ?", id).
		Update("reviewed", true).Error
}

func (r *deadLetterRepo) Stats(ctx context.Context, tx *gorm.DB) (*DeadLetterStats, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	stats := &DeadLetterStats{ByErrorType: map[string]int64{}}
	if err := transaction.WithContext(ctx).
		Model(&types.DeadLetterEntry{}).
		Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := transaction.WithContext(ctx).
		Model(&types.DeadLetterEntry{}).
		Where("reviewed = ?", false).
		Count(&stats.Unreviewed).Error; err != nil {
		return nil, err
	}
	type typeCount struct {
		FinalErrorType string
		N              int64
	}
	var rows []typeCount
	if err := transaction.WithContext(ctx).
		Model(&types.DeadLetterEntry{}).
		Select("final_error_type, COUNT(*) AS n").
		Group("final_error_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByErrorType[row.FinalErrorType] = row.N
	}
	return stats, nil
}
