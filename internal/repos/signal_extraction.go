package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/types"
)

type SignalExtractionRepo interface {
	// Upsert replaces any existing extraction for the same signal, keeping
	// the pipeline idempotent on retry.
	Upsert(ctx context.Context, tx *gorm.DB, extraction *types.SignalExtraction) error
	GetBySignalID(ctx context.Context, tx *gorm.DB, signalID uuid.UUID) (*types.SignalExtraction, error)
	Count(ctx context.Context, tx *gorm.DB) (int64, error)
}

type signalExtractionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSignalExtractionRepo(db *gorm.DB, baseLog *logger.Logger) SignalExtractionRepo {
	return &signalExtractionRepo{db: db, log: baseLog.With("repo", "SignalExtractionRepo")}
}

func (r *signalExtractionRepo) Upsert(ctx context.Context, tx *gorm.DB, extraction *types.SignalExtraction) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if extraction == nil {
		return nil
	}
	if extraction.ID == uuid.Nil {
		extraction.ID = uuid.New()
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "signal_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"extraction", "source", "model", "created_at",
			}),
		}).
		Create(extraction).Error
}

func (r *signalExtractionRepo) GetBySignalID(ctx context.Context, tx *gorm.DB, signalID uuid.UUID) (*types.SignalExtraction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.SignalExtraction
	if err := transaction.WithContext(ctx).
		Where("signal_id = ?", signalID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *signalExtractionRepo) Count(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.SignalExtraction{}).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
