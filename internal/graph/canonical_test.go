package graph

import "testing"

func TestCanonicalRelationshipDirect(t *testing.T) {
	got, ok := CanonicalRelationship("HAS_ISSUE")
	if !ok {
		t.Fatalf("expected HAS_ISSUE to be canonical")
	}
	if got != RelHasIssue {
		t.Fatalf("canonical: want=%q got=%q", RelHasIssue, got)
	}
}

func TestCanonicalRelationshipAlias(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"CAUSED_BY", RelRelatesTo},
		{"feature request", RelRequestedBy},
		{"blocked by", RelDependsOn},
		{"not-loading", RelHasIssue},
	}
	for _, tc := range cases {
		got, ok := CanonicalRelationship(tc.raw)
		if !ok {
			t.Fatalf("expected alias %q to resolve", tc.raw)
		}
		if got != tc.want {
			t.Fatalf("alias %q: want=%q got=%q", tc.raw, tc.want, got)
		}
	}
}

func TestCanonicalRelationshipCaseAndSeparatorFolding(t *testing.T) {
	for _, raw := range []string{"has issue", "Has-Issue", "HAS__ISSUE", "  has_issue  "} {
		got, ok := CanonicalRelationship(raw)
		if !ok {
			t.Fatalf("expected %q to fold onto the vocabulary", raw)
		}
		if got != RelHasIssue {
			t.Fatalf("%q: want=%q got=%q", raw, RelHasIssue, got)
		}
	}
}

func TestCanonicalRelationshipUnknown(t *testing.T) {
	for _, raw := range []string{"", "SOMETIMES_CRASHES_WHEN", "12345"} {
		if got, ok := CanonicalRelationship(raw); ok {
			t.Fatalf("expected %q to be unknown, resolved to %q", raw, got)
		}
	}
}
