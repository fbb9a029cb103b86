package graph

import "strings"

// Canonical relationship vocabulary. Anything outside this set is either
// folded in via canonicalAliases or dropped.
const (
	RelRelatesTo      = "RELATES_TO"
	RelUses           = "USES"
	RelHasIssue       = "HAS_ISSUE"
	RelDependsOn      = "DEPENDS_ON"
	RelMentions       = "MENTIONS"
	RelAssociatedWith = "ASSOCIATED_WITH"
	RelRequestedBy    = "REQUESTED_BY"
	RelAssignedTo     = "ASSIGNED_TO"
	RelImpacts        = "IMPACTS"
)

var allowedRelationships = map[string]bool{
	RelRelatesTo:      true,
	RelUses:           true,
	RelHasIssue:       true,
	RelDependsOn:      true,
	RelMentions:       true,
	RelAssociatedWith: true,
	RelRequestedBy:    true,
	RelAssignedTo:     true,
	RelImpacts:        true,
}

// canonicalAliases folds the noisy vocabulary observed in extraction output
// onto the allowed set. Keys are normalized (upper snake) before lookup.
var canonicalAliases = map[string]string{
	"CAUSES":          RelRelatesTo,
	"CAUSED_BY":       RelRelatesTo,
	"RELATED_TO":      RelRelatesTo,
	"RELATES":         RelRelatesTo,
	"CONNECTED_TO":    RelRelatesTo,
	"REFERS_TO":       RelRelatesTo,
	"LINKED_TO":       RelRelatesTo,
	"CORRELATES_WITH": RelRelatesTo,

	"USING":           RelUses,
	"USED_BY":         RelUses,
	"INTEGRATES":      RelUses,
	"INTEGRATES_WITH": RelUses,
	"RUNS_ON":         RelUses,
	"BUILT_ON":        RelUses,

	"HAS_PROBLEM":   RelHasIssue,
	"HAS_BUG":       RelHasIssue,
	"EXPERIENCING":  RelHasIssue,
	"REPORTS_ISSUE": RelHasIssue,
	"AFFECTED_BY":   RelHasIssue,
	"BROKEN":        RelHasIssue,
	"NOT_WORKING":   RelHasIssue,
	"NOT_LOADING":   RelHasIssue,

	"DEPENDS":      RelDependsOn,
	"REQUIRES":     RelDependsOn,
	"NEEDS":        RelDependsOn,
	"BLOCKED_BY":   RelDependsOn,
	"PREREQUISITE": RelDependsOn,

	"MENTIONED_IN": RelMentions,
	"MENTIONED_BY": RelMentions,
	"DISCUSSES":    RelMentions,
	"REFERENCES":   RelMentions,

	"ASSOCIATED":   RelAssociatedWith,
	"PART_OF":      RelAssociatedWith,
	"BELONGS_TO":   RelAssociatedWith,
	"MEMBER_OF":    RelAssociatedWith,
	"GROUPED_WITH": RelAssociatedWith,

	"REQUESTED":       RelRequestedBy,
	"REQUESTS":        RelRequestedBy,
	"ASKED_FOR_BY":    RelRequestedBy,
	"WANTS":           RelRequestedBy,
	"FEATURE_REQUEST": RelRequestedBy,

	"ASSIGNED":    RelAssignedTo,
	"OWNED_BY":    RelAssignedTo,
	"OWNS":        RelAssignedTo,
	"RESPONSIBLE": RelAssignedTo,

	"AFFECTS":     RelImpacts,
	"IMPACTED_BY": RelImpacts,
	"DEGRADES":    RelImpacts,
	"BREAKS":      RelImpacts,
	"BLOCKS":      RelImpacts,
}

// CanonicalRelationship normalizes a raw relationship label and maps it onto
// the allowed vocabulary. ok is false when the label is unknown; unknown
// relationships are dropped by the caller rather than surfaced as errors.
func CanonicalRelationship(raw string) (string, bool) {
	key := normalizeRelKey(raw)
	if key == "" {
		return "", false
	}
	if allowedRelationships[key] {
		return key, true
	}
	if canon, ok := canonicalAliases[key]; ok {
		return canon, true
	}
	return "", false
}

func normalizeRelKey(raw string) string {
	s := strings.TrimSpace(strings.ToUpper(raw))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}
