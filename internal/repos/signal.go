package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/types"
)

type SignalRepo interface {
	// Insert is idempotent: a conflict on id is a no-op, not an error.
	Insert(ctx context.Context, tx *gorm.DB, signals []*types.Signal) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Signal, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Signal, error)
	Count(ctx context.Context, tx *gorm.DB) (int64, error)
}

type signalRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSignalRepo(db *gorm.DB, baseLog *logger.Logger) SignalRepo {
	return &signalRepo{db: db, log: baseLog.With("repo", "SignalRepo")}
}

func (r *signalRepo) Insert(ctx context.Context, tx *gorm.DB, signals []*types.Signal) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(signals) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&signals).Error
}

func (r *signalRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Signal, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.Signal
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *signalRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Signal, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Signal
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *signalRepo) Count(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.Signal{}).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
