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

type FailedSignalRepo interface {
	// RecordFailure creates the attempt row on first failure or bumps
	// attempt_count and reschedules on subsequent failures.
	RecordFailure(ctx context.Context, tx *gorm.DB, attempt *types.FailedSignalAttempt) error
	GetBySignalID(ctx context.Context, tx *gorm.DB, signalID uuid.UUID) (*types.FailedSignalAttempt, error)
	// ListDue returns pending attempts whose backoff window has elapsed and
	// which still have retry budget.
	ListDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*types.FailedSignalAttempt, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	CountByStatus(ctx context.Context, tx *gorm.DB, status string) (int64, error)
}

type failedSignalRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFailedSignalRepo(db *gorm.DB, baseLog *logger.Logger) FailedSignalRepo {
	return &failedSignalRepo{db: db, log: baseLog.With("repo", "FailedSignalRepo")}
}

func (r *failedSignalRepo) RecordFailure(ctx context.Context, tx *gorm.DB, attempt *types.FailedSignalAttempt) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if attempt == nil {
		return nil
	}
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.Status == "" {
		attempt.Status = types.FailedSignalStatusPending
	}
	if attempt.AttemptCount <= 0 {
		attempt.AttemptCount = 1
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "signal_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"attempt_count": gorm.Expr("attempt_count + 1"),
				"error_type":    attempt.ErrorType,
				"error_message": attempt.ErrorMessage,
				"status":        types.FailedSignalStatusPending,
				"failed_at":     attempt.FailedAt,
				"next_retry_at": attempt.NextRetryAt,
			}),
		}).
		Create(attempt).Error
}

func (r *failedSignalRepo) GetBySignalID(ctx context.Context, tx *gorm.DB, signalID uuid.UUID) (*types.FailedSignalAttempt, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.FailedSignalAttempt
	if err := transaction.WithContext(ctx).
		Where("signal_id = ?", signalID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *failedSignalRepo) ListDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*types.FailedSignalAttempt, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	var out []*types.FailedSignalAttempt
	if err := transaction.WithContext(ctx).
		Where("status = ?", types.FailedSignalStatusPending).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", now).
		Where("attempt_count < max_retries").
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *failedSignalRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.FailedSignalAttempt{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *failedSignalRepo) CountByStatus(ctx context.Context, tx *gorm.DB, status string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.FailedSignalAttempt{}).
		Where("status = ?", status).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
