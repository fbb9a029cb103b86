package search

import (
	"reflect"
	"testing"

	"github.com/beaconkb/beacon-backend/internal/types"
)

func TestNormalizeMention(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Acme Corp", "acme corp"},
		{"  SSO   Login  ", "sso login"},
		{"EXPORT", "export"},
		{"   ", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeMention(tc.in); got != tc.want {
			t.Fatalf("normalizeMention(%q): want=%q got=%q", tc.in, tc.want, got)
		}
	}
}

func TestAllMentionsDedupsAcrossBuckets(t *testing.T) {
	extraction := &types.ExtractionResult{
		Entities: types.ExtractedEntities{
			Customers:    []string{"Acme Corp", "acme   corp"},
			Features:     []string{"Export", "SSO"},
			Issues:       []string{"export"}, // collides with the feature after folding
			Themes:       []string{"  "},
			Stakeholders: []string{"Jordan Lee"},
		},
	}

	got := allMentions(extraction)
	want := []string{"acme corp", "export", "sso", "jordan lee"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mentions: want=%v got=%v", want, got)
	}
}

func TestAllMentionsEmptyExtraction(t *testing.T) {
	if got := allMentions(&types.ExtractionResult{}); len(got) != 0 {
		t.Fatalf("want no mentions, got=%v", got)
	}
}
