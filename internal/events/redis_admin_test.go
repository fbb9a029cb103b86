package events

import (
	"testing"

	"github.com/google/uuid"
)

func TestParseAdminCommand(t *testing.T) {
	agentID := uuid.New()

	cmd, err := parseAdminCommand(map[string]interface{}{
		"op":       AdminOpPauseAgent,
		"agent_id": agentID.String(),
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Op != AdminOpPauseAgent || cmd.AgentID != agentID {
		t.Fatalf("command: %+v", cmd)
	}

	cmd, err = parseAdminCommand(map[string]interface{}{
		"op":        AdminOpUpdateLimit,
		"agent_id":  agentID.String(),
		"limit_usd": "250.50",
	})
	if err != nil {
		t.Fatalf("parse update_limit: %v", err)
	}
	if cmd.LimitUSD != 250.50 {
		t.Fatalf("limit_usd: want=250.50 got=%v", cmd.LimitUSD)
	}
}

func TestParseAdminCommandRejections(t *testing.T) {
	agentID := uuid.New().String()
	cases := []struct {
		name   string
		values map[string]interface{}
	}{
		{"unknown op", map[string]interface{}{"op": "delete_everything", "agent_id": agentID}},
		{"missing op", map[string]interface{}{"agent_id": agentID}},
		{"bad agent id", map[string]interface{}{"op": AdminOpPauseAgent, "agent_id": "nope"}},
		{"missing limit", map[string]interface{}{"op": AdminOpUpdateLimit, "agent_id": agentID}},
		{"bad limit", map[string]interface{}{"op": AdminOpUpdateLimit, "agent_id": agentID, "limit_usd": "lots"}},
		{"negative limit", map[string]interface{}{"op": AdminOpUpdateLimit, "agent_id": agentID, "limit_usd": "-5"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseAdminCommand(tc.values); err == nil {
				t.Fatalf("want parse error")
			}
		})
	}
}
