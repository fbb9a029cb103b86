package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SignalEmbedding stores the embedding vector generated for a signal's
// normalized content. One row per signal, replaced on re-embedding.
type SignalEmbedding struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SignalID  uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_signal_embedding_signal" json:"signal_id"`
	Vector    datatypes.JSON `gorm:"type:jsonb;column:vector;not null" json:"vector"`
	Model     string         `gorm:"column:model;not null" json:"model"`
	Dims      int            `gorm:"column:dims;not null;default:0" json:"dims"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
}

func (SignalEmbedding) TableName() string { return "signal_embeddings" }
