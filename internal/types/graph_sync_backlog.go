package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	BacklogStatusPending   = "pending"
	BacklogStatusProcessed = "processed"

	BacklogOpUpsertEntity       = "upsert_entity"
	BacklogOpUpsertRelationship = "upsert_relationship"
)

// GraphSyncBacklogItem is a graph-store operation that could not be applied
// synchronously. Drained with FOR UPDATE SKIP LOCKED so concurrent drain
// passes never double-process a row.
type GraphSyncBacklogItem struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Operation   string         `gorm:"column:operation;not null;index" json:"operation"`
	Payload     datatypes.JSON `gorm:"type:jsonb;column:payload;not null" json:"payload"`
	Status      string         `gorm:"column:status;not null;default:'pending';index" json:"status"`
	RetryCount  int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	LastError   string         `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	ProcessedAt *time.Time     `gorm:"column:processed_at" json:"processed_at,omitempty"`
}

func (GraphSyncBacklogItem) TableName() string { return "graph_sync_backlog" }
