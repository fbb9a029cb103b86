package repos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/types"
)

func newSignal() *types.Signal {
	return &types.Signal{
		ID:         uuid.New(),
		Source:     "zendesk",
		SourceRef:  "ticket-1",
		SignalType: "support_ticket",
		Content:    "checkout broken for Acme",
		Severity:   "high",
		CreatedAt:  time.Now().UTC(),
	}
}

func TestSignalInsertIsIdempotent(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewSignalRepo(gdb, logger.NewNop())
	ctx := context.Background()

	signal := newSignal()
	if err := repo.Insert(ctx, nil, []*types.Signal{signal}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Replaying the same id must be a no-op, not an error.
	replay := *signal
	replay.Content = "different content on replay"
	if err := repo.Insert(ctx, nil, []*types.Signal{&replay}); err != nil {
		t.Fatalf("replay insert: %v", err)
	}

	n, err := repo.Count(ctx, nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("count: want=1 got=%d", n)
	}
	got, err := repo.GetByID(ctx, nil, signal.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != signal.Content {
		t.Fatalf("replay must not overwrite: got=%q", got.Content)
	}
}

func TestSignalGetByIDNotFound(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewSignalRepo(gdb, logger.NewNop())

	_, err := repo.GetByID(context.Background(), nil, uuid.New())
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("want ErrRecordNotFound, got %v", err)
	}
}

func TestSignalGetByIDs(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewSignalRepo(gdb, logger.NewNop())
	ctx := context.Background()

	a, b := newSignal(), newSignal()
	if err := repo.Insert(ctx, nil, []*types.Signal{a, b}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := repo.GetByIDs(ctx, nil, []uuid.UUID{a.ID, b.ID, uuid.New()})
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want=2 got=%d", len(got))
	}
}
