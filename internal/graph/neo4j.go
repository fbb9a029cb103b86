package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/platform/neo4jdb"
	"github.com/beaconkb/beacon-backend/internal/types"
)

type neo4jStore struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

// NewNeo4jStore wraps the driver client behind the Store interface. Schema
// helpers are created lazily on first write (best-effort; may fail for
// restricted users).
func NewNeo4jStore(client *neo4jdb.Client, log *logger.Logger) Store {
	return &neo4jStore{client: client, log: log.With("service", "Neo4jGraphStore")}
}

func (s *neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
}

func (s *neo4jStore) ensureSchema(ctx context.Context, session neo4j.SessionWithContext) {
	for _, stmt := range []string{
		`CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		`CREATE CONSTRAINT signal_id_unique IF NOT EXISTS FOR (s:Signal) REQUIRE s.id IS UNIQUE`,
		`CREATE INDEX entity_type_idx IF NOT EXISTS FOR (e:Entity) ON (e.entity_type)`,
	} {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			if s.log != nil {
				s.log.Warn("neo4j schema init failed (continuing)", "error", err)
			}
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

func (s *neo4jStore) UpsertEntities(ctx context.Context, entities []types.GraphEntity) error {
	if s == nil || s.client == nil || s.client.Driver == nil {
		return fmt.Errorf("neo4j store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	nodes := make([]map[string]any, 0, len(entities))
	mentions := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		if e.ID == uuid.Nil || e.EntityType == "" {
			continue
		}
		nodes = append(nodes, map[string]any{
			"id":          e.ID.String(),
			"entity_type": e.EntityType,
			"name":        e.Name,
			"synced_at":   now,
		})
		if e.SignalID != uuid.Nil {
			mentions = append(mentions, map[string]any{
				"entity_id": e.ID.String(),
				"signal_id": e.SignalID.String(),
				"source":    e.Source,
				"synced_at": now,
			})
		}
	}
	if len(nodes) == 0 {
		return nil
	}

	session := s.session(ctx)
	defer session.Close(ctx)
	s.ensureSchema(ctx, session)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (e:Entity {id: n.id})
SET e += n
`, map[string]any{"nodes": nodes})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(mentions) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $mentions AS m
MERGE (s:Signal {id: m.signal_id})
SET s.source = m.source, s.synced_at = m.synced_at
WITH s, m
MATCH (e:Entity {id: m.entity_id})
MERGE (s)-[r:MENTIONS]->(e)
SET r.synced_at = m.synced_at
`, map[string]any{"mentions": mentions})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (s *neo4jStore) UpsertRelationships(ctx context.Context, rels []types.GraphRelationship) error {
	if s == nil || s.client == nil || s.client.Driver == nil {
		return fmt.Errorf("neo4j store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	rows := make([]map[string]any, 0, len(rels))
	for _, r := range rels {
		if r.FromID == uuid.Nil || r.ToID == uuid.Nil || r.Relationship == "" {
			continue
		}
		rows = append(rows, map[string]any{
			"from_id":   r.FromID.String(),
			"to_id":     r.ToID.String(),
			"rel_type":  r.Relationship,
			"signal_id": r.SignalID.String(),
			"synced_at": now,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	// Merge keyed on (from, rel_type, to): replays are idempotent.
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $rels AS r
MATCH (a:Entity {id: r.from_id})
MATCH (b:Entity {id: r.to_id})
MERGE (a)-[e:SIGNAL_REL {rel_type: r.rel_type}]->(b)
SET e.signal_id = r.signal_id,
    e.synced_at = r.synced_at
`, map[string]any{"rels": rows})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

func (s *neo4jStore) Counts(ctx context.Context) (StoreCounts, error) {
	var out StoreCounts
	if s == nil || s.client == nil || s.client.Driver == nil {
		return out, fmt.Errorf("neo4j store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
CALL { MATCH (s:Signal) RETURN count(s) AS signals }
CALL { MATCH (e:Entity) RETURN count(e) AS entities }
CALL { MATCH ()-[r:SIGNAL_REL]->() RETURN count(r) AS relationships }
RETURN signals, entities, relationships
`, nil)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		counts := StoreCounts{}
		if v, ok := rec.Get("signals"); ok {
			counts.Signals, _ = v.(int64)
		}
		if v, ok := rec.Get("entities"); ok {
			counts.Entities, _ = v.(int64)
		}
		if v, ok := rec.Get("relationships"); ok {
			counts.Relationships, _ = v.(int64)
		}
		return counts, nil
	})
	if err != nil {
		return out, err
	}
	out, _ = result.(StoreCounts)
	return out, nil
}
