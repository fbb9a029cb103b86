package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/types"
)

// mapResolver hands out one stable id per normalized mention.
type mapResolver struct {
	mu    sync.Mutex
	ids   map[string]uuid.UUID
	err   error
	calls int
}

func (r *mapResolver) Resolve(ctx context.Context, tx *gorm.DB, req ResolveRequest) (*types.ResolvedEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if r.ids == nil {
		r.ids = map[string]uuid.UUID{}
	}
	key := strings.ToLower(req.Mention)
	id, ok := r.ids[key]
	if !ok {
		id = uuid.New()
		r.ids[key] = id
	}
	return &types.ResolvedEntity{
		EntityID:   id,
		EntityType: req.EntityType,
		Mention:    req.Mention,
	}, nil
}

func testSignal() *types.Signal {
	return &types.Signal{
		ID:                uuid.New(),
		Source:            "zendesk",
		Content:           "Acme Corp reports checkout fails",
		NormalizedContent: "Acme Corp reports checkout fails",
	}
}

func TestDeriveResolvesAllBuckets(t *testing.T) {
	resolver := &mapResolver{}
	d := NewDeriver(resolver, logger.NewNop())

	extraction := &types.ExtractionResult{
		Entities: types.ExtractedEntities{
			Customers: []string{"Acme Corp"},
			Features:  []string{"Checkout"},
			Issues:    []string{"Payment failure"},
			Themes:    []string{"Reliability"},
		},
	}
	entities, rels, err := d.Derive(context.Background(), nil, testSignal(), extraction)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(entities) != 4 {
		t.Fatalf("entities: want=4 got=%d", len(entities))
	}
	if len(rels) != 0 {
		t.Fatalf("no triples given, rels: want=0 got=%d", len(rels))
	}
	typesSeen := map[string]bool{}
	for _, e := range entities {
		typesSeen[e.EntityType] = true
	}
	for _, want := range []string{EntityTypeCustomer, EntityTypeFeature, EntityTypeIssue, EntityTypeTheme} {
		if !typesSeen[want] {
			t.Fatalf("missing entity type %q in %v", want, typesSeen)
		}
	}
}

func TestDeriveEmitsResolvedRelationships(t *testing.T) {
	resolver := &mapResolver{}
	d := NewDeriver(resolver, logger.NewNop())

	extraction := &types.ExtractionResult{
		Entities: types.ExtractedEntities{
			Customers: []string{"Acme Corp"},
			Features:  []string{"Checkout"},
		},
		Relationships: []types.RelationshipTriple{
			{From: "Acme Corp", To: "Checkout", Type: "USES"},
			{From: "acme corp", To: "checkout", Type: "using"}, // duplicate after folding
		},
	}
	_, rels, err := d.Derive(context.Background(), nil, testSignal(), extraction)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("rels: want=1 got=%d", len(rels))
	}
	if rels[0].Relationship != "USES" {
		t.Fatalf("relationship: want=USES got=%q", rels[0].Relationship)
	}
	if rels[0].FromType != EntityTypeCustomer || rels[0].ToType != EntityTypeFeature {
		t.Fatalf("endpoint types: %+v", rels[0])
	}
}

func TestDeriveDropsBadTriples(t *testing.T) {
	resolver := &mapResolver{}
	d := NewDeriver(resolver, logger.NewNop())

	extraction := &types.ExtractionResult{
		Entities: types.ExtractedEntities{
			Customers: []string{"Acme Corp"},
			Features:  []string{"Checkout"},
		},
		Relationships: []types.RelationshipTriple{
			{From: "Acme Corp", To: "Ghost Entity", Type: "USES"},    // unresolved endpoint
			{From: "Acme Corp", To: "Checkout", Type: "FLIES_WITH"},  // unknown type
			{From: "Acme Corp", To: "Acme Corp", Type: "RELATES_TO"}, // self reference
		},
	}
	_, rels, err := d.Derive(context.Background(), nil, testSignal(), extraction)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(rels) != 0 {
		t.Fatalf("all triples should drop, got %d", len(rels))
	}
}

func TestDeriveResolverFailurePropagates(t *testing.T) {
	resolver := &mapResolver{err: errors.New("resolver store down")}
	d := NewDeriver(resolver, logger.NewNop())

	extraction := &types.ExtractionResult{
		Entities: types.ExtractedEntities{Customers: []string{"Acme Corp"}},
	}
	_, _, err := d.Derive(context.Background(), nil, testSignal(), extraction)
	if err == nil {
		t.Fatalf("resolver failure must propagate to roll the transaction back")
	}
}

func TestDeriveDeduplicatesMentionsAcrossBuckets(t *testing.T) {
	resolver := &mapResolver{}
	d := NewDeriver(resolver, logger.NewNop())

	extraction := &types.ExtractionResult{
		Entities: types.ExtractedEntities{
			Customers: []string{"Acme Corp", "acme corp", "  Acme Corp  "},
		},
	}
	entities, _, err := d.Derive(context.Background(), nil, testSignal(), extraction)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("entities: want=1 got=%d", len(entities))
	}
	if resolver.calls != 1 {
		t.Fatalf("resolver calls: want=1 got=%d", resolver.calls)
	}
}

func TestDeriveNilExtraction(t *testing.T) {
	d := NewDeriver(&mapResolver{}, logger.NewNop())
	entities, rels, err := d.Derive(context.Background(), nil, testSignal(), nil)
	if err != nil || entities != nil || rels != nil {
		t.Fatalf("nil extraction: got entities=%v rels=%v err=%v", entities, rels, err)
	}
}
