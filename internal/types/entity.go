package types

import (
	"time"

	"github.com/google/uuid"
)

// Entity is the stable identity a textual mention resolves to. Identity is
// keyed by (entity_type, normalized_name); Name keeps the best display form
// seen so far.
type Entity struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EntityType     string    `gorm:"column:entity_type;not null;uniqueIndex:idx_entities_type_name" json:"entity_type"`
	Name           string    `gorm:"column:name;not null" json:"name"`
	NormalizedName string    `gorm:"column:normalized_name;not null;uniqueIndex:idx_entities_type_name" json:"normalized_name"`
	MentionCount   int64     `gorm:"column:mention_count;not null;default:0" json:"mention_count"`
	FirstSeenAt    time.Time `gorm:"column:first_seen_at;not null" json:"first_seen_at"`
	LastSeenAt     time.Time `gorm:"column:last_seen_at;not null" json:"last_seen_at"`
}

func (Entity) TableName() string { return "entities" }
