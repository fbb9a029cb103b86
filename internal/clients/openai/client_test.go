package openai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	goopenai "github.com/sashabaranov/go-openai"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/beaconkb/beacon-backend/internal/cost"
	"github.com/beaconkb/beacon-backend/internal/data/db"
	"github.com/beaconkb/beacon-backend/internal/platform/apperr"
	"github.com/beaconkb/beacon-backend/internal/platform/ctxutil"
	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/repos"
	"github.com/beaconkb/beacon-backend/internal/types"
)

func newTestClient(t *testing.T) (*Client, repos.AgentBudgetRepo) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrateAll(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := logger.NewNop()
	budgets := repos.NewAgentBudgetRepo(gdb, log)
	gov := cost.NewGovernor(cost.Config{
		FlushInterval:            time.Hour,
		BatchSize:                100,
		CacheTTL:                 time.Minute,
		GracePct:                 0.10,
		DefaultMonthlyLimitUSD:   100,
		BreakerFailureThreshold:  3,
		BreakerResetTimeout:      30 * time.Second,
		BreakerHalfOpenSuccesses: 2,
	}, repos.NewCostLogRepo(gdb, log), budgets, log)

	client := &Client{
		api: goopenai.NewClient("test-key"),
		cfg: Config{
			APIKey:          "test-key",
			ExtractionModel: "gpt-4o-mini",
			EmbeddingModel:  "text-embedding-3-small",
		},
		gov: gov,
		log: log,
	}
	return client, budgets
}

func billedCtx(agentID uuid.UUID) context.Context {
	return ctxutil.WithBilling(context.Background(), ctxutil.Billing{
		CorrelationID: "test-run",
		AgentID:       &agentID,
	})
}

func TestExtractDeniedForPausedAgent(t *testing.T) {
	client, budgets := newTestClient(t)
	agentID := uuid.New()
	if err := budgets.Upsert(context.Background(), nil, &types.AgentBudget{
		AgentID:         agentID,
		MonthlyLimitUSD: 100,
		Paused:          true,
	}); err != nil {
		t.Fatalf("seed budget: %v", err)
	}

	_, err := client.Extract(billedCtx(agentID), "customer says export is broken")
	if !errors.Is(err, apperr.ErrOverBudget) {
		t.Fatalf("want ErrOverBudget before any provider call, got %v", err)
	}
}

func TestEmbedDeniedForPausedAgent(t *testing.T) {
	client, budgets := newTestClient(t)
	agentID := uuid.New()
	if err := budgets.Upsert(context.Background(), nil, &types.AgentBudget{
		AgentID:         agentID,
		MonthlyLimitUSD: 100,
		Paused:          true,
	}); err != nil {
		t.Fatalf("seed budget: %v", err)
	}

	_, _, err := client.Embed(billedCtx(agentID), "export broken")
	if !errors.Is(err, apperr.ErrOverBudget) {
		t.Fatalf("want ErrOverBudget before any provider call, got %v", err)
	}
}

func TestCheckBudgetSkipsUnattributedCalls(t *testing.T) {
	client, _ := newTestClient(t)
	if err := client.checkBudget(context.Background()); err != nil {
		t.Fatalf("unattributed calls must not be gated: %v", err)
	}
}

func TestCheckBudgetAllowsAgentWithinLimit(t *testing.T) {
	client, _ := newTestClient(t)
	// No budget row, no spend: the default limit applies and allows.
	if err := client.checkBudget(billedCtx(uuid.New())); err != nil {
		t.Fatalf("agent within limit must pass: %v", err)
	}
}
