package pipeline

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beaconkb/beacon-backend/internal/types"
)

// Extractor turns raw signal text into structured entities/relationships.
// ExtractBatch must return one result per input, in order; implementations
// that cannot batch may loop internally.
type Extractor interface {
	Extract(ctx context.Context, content string) (*types.ExtractionResult, error)
	ExtractBatch(ctx context.Context, contents []string) ([]*types.ExtractionResult, error)
}

// ResolveRequest carries one mention to the entity resolver.
type ResolveRequest struct {
	Mention    string
	EntityType string
	SignalID   uuid.UUID
	SignalText string
}

// EntityResolver binds mentions to stable entity identifiers. It accepts the
// pipeline's transactional connection so resolution commits or rolls back
// atomically with the signal insert. The resolver owns its own persistence.
type EntityResolver interface {
	Resolve(ctx context.Context, tx *gorm.DB, req ResolveRequest) (*types.ResolvedEntity, error)
}

// Embedder produces an embedding vector for signal content.
type Embedder interface {
	Embed(ctx context.Context, text string) (vector []float32, model string, err error)
}

// SearchIndexer pushes a processed signal into the lexical/semantic index.
type SearchIndexer interface {
	Index(ctx context.Context, signal *types.Signal, extraction *types.ExtractionResult) error
}
