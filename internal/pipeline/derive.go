package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beaconkb/beacon-backend/internal/graph"
	"github.com/beaconkb/beacon-backend/internal/observability"
	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/types"
)

const (
	EntityTypeCustomer    = "customer"
	EntityTypeFeature     = "feature"
	EntityTypeIssue       = "issue"
	EntityTypeTheme       = "theme"
	EntityTypeStakeholder = "stakeholder"
)

// Deriver resolves extracted mentions to stable entity identifiers and emits
// the deduplicated, self-reference-filtered relationship set for one signal.
type Deriver struct {
	resolver EntityResolver
	log      *logger.Logger
}

func NewDeriver(resolver EntityResolver, baseLog *logger.Logger) *Deriver {
	return &Deriver{resolver: resolver, log: baseLog.With("service", "RelationshipDeriver")}
}

// Derive runs against the pipeline's transactional connection: a resolver
// failure propagates and rolls the whole signal back.
func (d *Deriver) Derive(ctx context.Context, tx *gorm.DB, signal *types.Signal, extraction *types.ExtractionResult) ([]types.GraphEntity, []types.GraphRelationship, error) {
	if extraction == nil {
		return nil, nil, nil
	}

	resolved := map[string]*types.ResolvedEntity{}
	var entities []types.GraphEntity

	resolve := func(mentions []string, entityType string) error {
		for _, mention := range mentions {
			mention = strings.TrimSpace(mention)
			if mention == "" {
				continue
			}
			key := strings.ToLower(mention)
			if _, ok := resolved[key]; ok {
				continue
			}
			re, err := d.resolver.Resolve(ctx, tx, ResolveRequest{
				Mention:    mention,
				EntityType: entityType,
				SignalID:   signal.ID,
				SignalText: signal.NormalizedContent,
			})
			if err != nil {
				return fmt.Errorf("resolve %s %q: %w", entityType, mention, err)
			}
			if re == nil || re.EntityID == uuid.Nil {
				continue
			}
			resolved[key] = re
			entities = append(entities, types.GraphEntity{
				ID:         re.EntityID,
				EntityType: re.EntityType,
				Name:       mention,
				SignalID:   signal.ID,
				Source:     signal.Source,
			})
		}
		return nil
	}

	buckets := []struct {
		mentions   []string
		entityType string
	}{
		{extraction.Entities.Customers, EntityTypeCustomer},
		{extraction.Entities.Features, EntityTypeFeature},
		{extraction.Entities.Issues, EntityTypeIssue},
		{extraction.Entities.Themes, EntityTypeTheme},
		{extraction.Entities.Stakeholders, EntityTypeStakeholder},
	}
	for _, b := range buckets {
		if err := resolve(b.mentions, b.entityType); err != nil {
			return nil, nil, err
		}
	}

	rels := d.deriveRelationships(signal, extraction.Relationships, resolved)
	return entities, rels, nil
}

func (d *Deriver) deriveRelationships(signal *types.Signal, triples []types.RelationshipTriple, resolved map[string]*types.ResolvedEntity) []types.GraphRelationship {
	var out []types.GraphRelationship
	seen := map[string]bool{}
	for _, t := range triples {
		from, okFrom := resolved[strings.ToLower(strings.TrimSpace(t.From))]
		to, okTo := resolved[strings.ToLower(strings.TrimSpace(t.To))]
		if !okFrom || !okTo {
			observability.RelationshipsDropped.WithLabelValues("unresolved_endpoint").Inc()
			continue
		}
		canon, ok := graph.CanonicalRelationship(t.Type)
		if !ok {
			observability.RelationshipsDropped.WithLabelValues("unknown_type").Inc()
			continue
		}
		if from.EntityID == to.EntityID {
			observability.RelationshipsDropped.WithLabelValues("self_reference").Inc()
			continue
		}
		key := from.EntityID.String() + "|" + canon + "|" + to.EntityID.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, types.GraphRelationship{
			FromID:       from.EntityID,
			FromType:     from.EntityType,
			ToID:         to.EntityID,
			ToType:       to.EntityType,
			Relationship: canon,
			SignalID:     signal.ID,
		})
	}
	return out
}
