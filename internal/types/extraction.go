package types

import "github.com/google/uuid"

// ExtractedEntities groups the entity mentions pulled out of one signal,
// bucketed by kind. Mentions are raw text until the resolver binds them to
// stable identifiers.
type ExtractedEntities struct {
	Customers    []string `json:"customers,omitempty"`
	Features     []string `json:"features,omitempty"`
	Issues       []string `json:"issues,omitempty"`
	Themes       []string `json:"themes,omitempty"`
	Stakeholders []string `json:"stakeholders,omitempty"`
}

// RelationshipTriple is an explicit (from, type, to) relationship as emitted
// by extraction. The type vocabulary is free text and noisy at this point.
type RelationshipTriple struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// ExtractionResult is the full structured output of the extraction
// collaborator for one signal.
type ExtractionResult struct {
	Entities      ExtractedEntities    `json:"entities"`
	Relationships []RelationshipTriple `json:"relationships,omitempty"`
	Model         string               `json:"model,omitempty"`
}

// ResolvedEntity binds a textual mention to a stable entity identifier.
type ResolvedEntity struct {
	EntityID   uuid.UUID `json:"entity_id"`
	EntityType string    `json:"entity_type"`
	Mention    string    `json:"mention"`
}

// GraphEntity is the node shape upserted into the graph store.
type GraphEntity struct {
	ID         uuid.UUID `json:"id"`
	EntityType string    `json:"entity_type"`
	Name       string    `json:"name"`
	SignalID   uuid.UUID `json:"signal_id"`
	Source     string    `json:"source,omitempty"`
}

// GraphRelationship is a directed, typed edge between two resolved entities.
// Relationship holds the canonical type; upserts into the graph store are
// idempotent merges keyed by (from, relationship, to).
type GraphRelationship struct {
	FromID       uuid.UUID `json:"from_id"`
	FromType     string    `json:"from_type"`
	ToID         uuid.UUID `json:"to_id"`
	ToType       string    `json:"to_type"`
	Relationship string    `json:"relationship"`
	SignalID     uuid.UUID `json:"signal_id"`
}
