package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/types"
)

type SignalEmbeddingRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, embedding *types.SignalEmbedding) error
	GetBySignalID(ctx context.Context, tx *gorm.DB, signalID uuid.UUID) (*types.SignalEmbedding, error)
}

type signalEmbeddingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSignalEmbeddingRepo(db *gorm.DB, baseLog *logger.Logger) SignalEmbeddingRepo {
	return &signalEmbeddingRepo{db: db, log: baseLog.With("repo", "SignalEmbeddingRepo")}
}

func (r *signalEmbeddingRepo) Upsert(ctx context.Context, tx *gorm.DB, embedding *types.SignalEmbedding) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if embedding == nil {
		return nil
	}
	if embedding.ID == uuid.Nil {
		embedding.ID = uuid.New()
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "signal_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"vector", "model", "dims", "created_at",
			}),
		}).
		Create(embedding).Error
}

func (r *signalEmbeddingRepo) GetBySignalID(ctx context.Context, tx *gorm.DB, signalID uuid.UUID) (*types.SignalEmbedding, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.SignalEmbedding
	if err := transaction.WithContext(ctx).
		Where("signal_id = ?", signalID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}
