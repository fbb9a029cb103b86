package events

import (
	"testing"

	"github.com/google/uuid"
)

func TestParseIntakeMessage(t *testing.T) {
	id := uuid.New()
	values := map[string]interface{}{
		"id":          id.String(),
		"source":      "zendesk",
		"source_ref":  "ticket-42",
		"signal_type": "bug_report",
		"content":     "  export hangs at 99%  ",
		"severity":    "high",
		"confidence":  "0.85",
		"metadata":    `{"plan":"enterprise"}`,
	}

	signal, err := parseIntakeMessage(values)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if signal.ID != id {
		t.Fatalf("id: want=%s got=%s", id, signal.ID)
	}
	if signal.Content != "export hangs at 99%" {
		t.Fatalf("content not trimmed: %q", signal.Content)
	}
	if signal.Confidence != 0.85 {
		t.Fatalf("confidence: want=0.85 got=%v", signal.Confidence)
	}
	if string(signal.Metadata) != `{"plan":"enterprise"}` {
		t.Fatalf("metadata: %s", signal.Metadata)
	}
	if signal.CreatedAt.IsZero() {
		t.Fatalf("created_at must be set")
	}
}

func TestParseIntakeMessageAgentAttribution(t *testing.T) {
	agentID := uuid.New()
	signal, err := parseIntakeMessage(map[string]interface{}{
		"source":   "zendesk",
		"content":  "billing page 500s",
		"agent_id": agentID.String(),
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if signal.AgentID == nil || *signal.AgentID != agentID {
		t.Fatalf("agent_id: want=%s got=%v", agentID, signal.AgentID)
	}

	// Absent attribution stays nil rather than zero-valued.
	signal, err = parseIntakeMessage(map[string]interface{}{
		"source":  "zendesk",
		"content": "billing page 500s",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if signal.AgentID != nil {
		t.Fatalf("agent_id must stay nil when absent, got %v", signal.AgentID)
	}
}

func TestParseIntakeMessageGeneratesID(t *testing.T) {
	signal, err := parseIntakeMessage(map[string]interface{}{
		"source":  "slack",
		"content": "customer asking about SSO",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if signal.ID == uuid.Nil {
		t.Fatalf("id must be generated when absent")
	}
}

func TestParseIntakeMessageRejections(t *testing.T) {
	cases := []struct {
		name   string
		values map[string]interface{}
	}{
		{"missing content", map[string]interface{}{"source": "zendesk"}},
		{"missing source", map[string]interface{}{"content": "hello"}},
		{"blank content", map[string]interface{}{"source": "zendesk", "content": "   "}},
		{"bad id", map[string]interface{}{
			"source": "zendesk", "content": "x", "id": "not-a-uuid",
		}},
		{"bad agent id", map[string]interface{}{
			"source": "zendesk", "content": "x", "agent_id": "not-a-uuid",
		}},
		{"bad confidence", map[string]interface{}{
			"source": "zendesk", "content": "x", "confidence": "high",
		}},
		{"bad metadata", map[string]interface{}{
			"source": "zendesk", "content": "x", "metadata": "{broken",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseIntakeMessage(tc.values); err == nil {
				t.Fatalf("want parse error")
			}
		})
	}
}
