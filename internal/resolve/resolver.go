package resolve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/beaconkb/beacon-backend/internal/pipeline"
	"github.com/beaconkb/beacon-backend/internal/platform/apperr"
	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/types"
)

// Resolver binds mentions to stable entity rows in postgres. Identity is
// (entity_type, normalized mention): the same customer named in two signals
// resolves to the same uuid, which is what makes graph merges converge.
type Resolver struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResolver(db *gorm.DB, baseLog *logger.Logger) *Resolver {
	return &Resolver{db: db, log: baseLog.With("service", "EntityResolver")}
}

func (r *Resolver) Resolve(ctx context.Context, tx *gorm.DB, req pipeline.ResolveRequest) (*types.ResolvedEntity, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	mention := strings.TrimSpace(req.Mention)
	if mention == "" || req.EntityType == "" {
		return nil, fmt.Errorf("%w: empty mention or entity type", apperr.ErrInvalidArgument)
	}
	normalized := NormalizeName(mention)

	now := time.Now().UTC()
	entity := &types.Entity{
		ID:             uuid.New(),
		EntityType:     req.EntityType,
		Name:           mention,
		NormalizedName: normalized,
		MentionCount:   1,
		FirstSeenAt:    now,
		LastSeenAt:     now,
	}
	// Upsert keeps the insert race-free across concurrent pipeline workers;
	// the follow-up read returns whichever row won.
	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "entity_type"}, {Name: "normalized_name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"mention_count": gorm.Expr("mention_count + 1"),
				"last_seen_at":  now,
			}),
		}).
		Create(entity).Error; err != nil {
		return nil, fmt.Errorf("upsert entity: %w", err)
	}

	var row types.Entity
	if err := transaction.WithContext(ctx).
		Where("entity_type = ? AND normalized_name = ?", req.EntityType, normalized).
		First(&row).Error; err != nil {
		return nil, fmt.Errorf("read back entity: %w", err)
	}
	return &types.ResolvedEntity{
		EntityID:   row.ID,
		EntityType: row.EntityType,
		Mention:    mention,
	}, nil
}

// NormalizeName folds a mention into its identity key form.
func NormalizeName(mention string) string {
	return strings.Join(strings.Fields(strings.ToLower(mention)), " ")
}
