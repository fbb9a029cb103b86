package graph

import (
	"context"
	"errors"

	"github.com/beaconkb/beacon-backend/internal/types"
)

// StoreCounts is the coarse node/edge census used by the consistency check.
type StoreCounts struct {
	Signals       int64 `json:"signals"`
	Entities      int64 `json:"entities"`
	Relationships int64 `json:"relationships"`
}

// Store is the narrow graph-store surface the engine depends on. The neo4j
// implementation lives in neo4j.go; tests substitute stubs.
type Store interface {
	UpsertEntities(ctx context.Context, entities []types.GraphEntity) error
	UpsertRelationships(ctx context.Context, rels []types.GraphRelationship) error
	Counts(ctx context.Context) (StoreCounts, error)
}

// ErrStoreUnavailable is returned by the placeholder store used when no graph
// database is configured.
var ErrStoreUnavailable = errors.New("graph store unavailable")

type unavailableStore struct{}

// NewUnavailableStore returns a store whose every call fails, so the engine
// diverts all graph writes into the durable backlog. It lets the pipeline run
// degraded when the graph database is down or unconfigured.
func NewUnavailableStore() Store { return unavailableStore{} }

func (unavailableStore) UpsertEntities(context.Context, []types.GraphEntity) error {
	return ErrStoreUnavailable
}

func (unavailableStore) UpsertRelationships(context.Context, []types.GraphRelationship) error {
	return ErrStoreUnavailable
}

func (unavailableStore) Counts(context.Context) (StoreCounts, error) {
	return StoreCounts{}, ErrStoreUnavailable
}
