package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beaconkb/beacon-backend/internal/observability"
	"github.com/beaconkb/beacon-backend/internal/platform/apperr"
	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/repos"
	"github.com/beaconkb/beacon-backend/internal/types"
)

const unknownRelWarnInterval = time.Minute

// Engine applies entity/relationship upserts to the graph store. A failed
// upsert is diverted into the durable backlog instead of failing the caller;
// ProcessBacklog drains it later with at-least-once semantics.
type Engine struct {
	db      *gorm.DB
	store   Store
	backlog repos.GraphSyncBacklogRepo
	signals repos.SignalRepo
	log     *logger.Logger
	timeout time.Duration

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

func NewEngine(db *gorm.DB, store Store, backlog repos.GraphSyncBacklogRepo, signals repos.SignalRepo, baseLog *logger.Logger, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{
		db:       db,
		store:    store,
		backlog:  backlog,
		signals:  signals,
		log:      baseLog.With("service", "GraphSyncEngine"),
		timeout:  timeout,
		lastWarn: map[string]time.Time{},
	}
}

// SyncEntities upserts entity nodes. On any store failure (timeout included)
// the payload is enqueued to the backlog; the error return is reserved for
// the case where the backlog insert itself failed, which is data loss.
func (e *Engine) SyncEntities(ctx context.Context, entities []types.GraphEntity) error {
	if len(entities) == 0 {
		return nil
	}
	err := e.callWithTimeout(ctx, func(ctx context.Context) error {
		return e.store.UpsertEntities(ctx, entities)
	})
	if err == nil {
		return nil
	}
	e.log.Warn("entity sync failed, enqueueing backlog",
		"count", len(entities), "error", err)
	return e.enqueue(ctx, types.BacklogOpUpsertEntity, entities, err)
}

// SyncRelationships canonicalizes and upserts relationship edges. Unknown
// relationship types are dropped with a rate-limited warning; they must never
// block ingestion.
func (e *Engine) SyncRelationships(ctx context.Context, rels []types.GraphRelationship) error {
	canonical := e.Canonicalize(rels)
	if len(canonical) == 0 {
		return nil
	}
	err := e.callWithTimeout(ctx, func(ctx context.Context) error {
		return e.store.UpsertRelationships(ctx, canonical)
	})
	if err == nil {
		return nil
	}
	e.log.Warn("relationship sync failed, enqueueing backlog",
		"count", len(canonical), "error", err)
	return e.enqueue(ctx, types.BacklogOpUpsertRelationship, canonical, err)
}

// Canonicalize folds noisy relationship types onto the allowed vocabulary,
// drops unknown types and self-references, and deduplicates on
// (from, relationship, to).
func (e *Engine) Canonicalize(rels []types.GraphRelationship) []types.GraphRelationship {
	out := make([]types.GraphRelationship, 0, len(rels))
	seen := map[string]bool{}
	for _, r := range rels {
		canon, ok := CanonicalRelationship(r.Relationship)
		if !ok {
			e.warnUnknownRelationship(r.Relationship)
			observability.RelationshipsDropped.WithLabelValues("unknown_type").Inc()
			continue
		}
		if r.FromID == r.ToID {
			observability.RelationshipsDropped.WithLabelValues("self_reference").Inc()
			continue
		}
		key := r.FromID.String() + "|" + canon + "|" + r.ToID.String()
		if seen[key] {
			observability.RelationshipsDropped.WithLabelValues("duplicate").Inc()
			continue
		}
		seen[key] = true
		r.Relationship = canon
		out = append(out, r)
	}
	return out
}

// ProcessBacklog drains up to limit pending backlog rows. Rows are claimed
// FOR UPDATE SKIP LOCKED so concurrent drains never double-apply; a failed
// row keeps status pending with retry_count bumped and is picked up on the
// next pass. Backoff between passes is the caller's concern.
func (e *Engine) ProcessBacklog(ctx context.Context, limit int) (processed, failed int, err error) {
	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items, cerr := e.backlog.ClaimPending(ctx, tx, limit)
		if cerr != nil {
			return cerr
		}
		var done []uuid.UUID
		for _, item := range items {
			if aerr := e.applyBacklogItem(ctx, item); aerr != nil {
				failed++
				observability.BacklogDrained.WithLabelValues("failed").Inc()
				if merr := e.backlog.MarkFailed(ctx, tx, item.ID, aerr.Error()); merr != nil {
					return merr
				}
				continue
			}
			processed++
			observability.BacklogDrained.WithLabelValues("processed").Inc()
			done = append(done, item.ID)
		}
		return e.backlog.MarkProcessed(ctx, tx, done)
	})
	if txErr != nil {
		return processed, failed, txErr
	}
	if depth, derr := e.backlog.CountPending(ctx, nil); derr == nil {
		observability.BacklogDepth.Set(float64(depth))
	}
	return processed, failed, nil
}

// ConsistencyReport is a coarse health signal, not a reconciliation plan.
type ConsistencyReport struct {
	RelationalSignals int64       `json:"relational_signals"`
	Graph             StoreCounts `json:"graph"`
	SignalDrift       int64       `json:"signal_drift"`
	Consistent        bool        `json:"consistent"`
}

// RunConsistencyCheck compares row/node counts between the two stores.
// Divergence raises an operational alert log line; nothing is auto-repaired.
func (e *Engine) RunConsistencyCheck(ctx context.Context) (*ConsistencyReport, error) {
	rel, err := e.signals.Count(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("relational count: %w", err)
	}
	var graphCounts StoreCounts
	err = e.callWithTimeout(ctx, func(ctx context.Context) error {
		var cerr error
		graphCounts, cerr = e.store.Counts(ctx)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("graph count: %w", err)
	}
	drift := rel - graphCounts.Signals
	if drift < 0 {
		drift = -drift
	}
	report := &ConsistencyReport{
		RelationalSignals: rel,
		Graph:             graphCounts,
		SignalDrift:       drift,
		Consistent:        drift == 0,
	}
	observability.ConsistencyDrift.Set(float64(drift))
	if !report.Consistent {
		e.log.Error("graph store diverged from relational store",
			"relational_signals", rel,
			"graph_signals", graphCounts.Signals,
			"drift", drift)
	}
	return report, nil
}

func (e *Engine) applyBacklogItem(ctx context.Context, item *types.GraphSyncBacklogItem) error {
	switch item.Operation {
	case types.BacklogOpUpsertEntity:
		var entities []types.GraphEntity
		if err := json.Unmarshal(item.Payload, &entities); err != nil {
			return fmt.Errorf("malformed entity payload: %w", err)
		}
		return e.callWithTimeout(ctx, func(ctx context.Context) error {
			return e.store.UpsertEntities(ctx, entities)
		})
	case types.BacklogOpUpsertRelationship:
		var rels []types.GraphRelationship
		if err := json.Unmarshal(item.Payload, &rels); err != nil {
			return fmt.Errorf("malformed relationship payload: %w", err)
		}
		return e.callWithTimeout(ctx, func(ctx context.Context) error {
			return e.store.UpsertRelationships(ctx, rels)
		})
	default:
		return fmt.Errorf("unknown backlog operation %q", item.Operation)
	}
}

func (e *Engine) enqueue(ctx context.Context, operation string, payload any, cause error) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal backlog payload: %w", err)
	}
	item := &types.GraphSyncBacklogItem{
		Operation: operation,
		Payload:   raw,
		Status:    types.BacklogStatusPending,
		LastError: cause.Error(),
	}
	if err := e.backlog.Enqueue(ctx, nil, item); err != nil {
		e.log.Error("backlog enqueue failed, graph operation lost",
			"operation", operation, "error", err)
		return fmt.Errorf("backlog enqueue: %w", err)
	}
	observability.BacklogEnqueued.WithLabelValues(operation).Inc()
	return nil
}

// callWithTimeout races fn against the engine timeout. A fired timeout is
// treated identically to any other store failure by the callers.
func (e *Engine) callWithTimeout(parent context.Context, fn func(ctx context.Context) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("graph store call: %w", apperr.ErrTimeout)
	case err := <-done:
		return err
	}
}

func (e *Engine) warnUnknownRelationship(raw string) {
	e.warnMu.Lock()
	defer e.warnMu.Unlock()
	key := normalizeRelKey(raw)
	if last, ok := e.lastWarn[key]; ok && time.Since(last) < unknownRelWarnInterval {
		return
	}
	e.lastWarn[key] = time.Now()
	e.log.Warn("dropping unknown relationship type", "relationship", raw)
}
