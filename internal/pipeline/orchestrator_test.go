package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/beaconkb/beacon-backend/internal/data/db"
	"github.com/beaconkb/beacon-backend/internal/graph"
	"github.com/beaconkb/beacon-backend/internal/platform/apperr"
	"github.com/beaconkb/beacon-backend/internal/platform/ctxutil"
	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/repos"
	"github.com/beaconkb/beacon-backend/internal/types"
)

type stubExtractor struct {
	mu         sync.Mutex
	result     *types.ExtractionResult
	err        error
	block      time.Duration
	calls      int
	batchErr   error
	batchCalls int
}

func (e *stubExtractor) Extract(ctx context.Context, content string) (*types.ExtractionResult, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.block > 0 {
		select {
		case <-time.After(e.block):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	if e.result != nil {
		return e.result, nil
	}
	return &types.ExtractionResult{
		Entities: types.ExtractedEntities{Customers: []string{"Acme Corp"}},
		Model:    "stub",
	}, nil
}

func (e *stubExtractor) ExtractBatch(ctx context.Context, contents []string) ([]*types.ExtractionResult, error) {
	e.mu.Lock()
	e.batchCalls++
	e.mu.Unlock()
	if e.batchErr != nil {
		return nil, e.batchErr
	}
	out := make([]*types.ExtractionResult, len(contents))
	for i := range contents {
		r, err := e.Extract(ctx, contents[i])
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

type stubGraphStore struct {
	mu       sync.Mutex
	entityN  int
	relN     int
	storeErr error
}

func (s *stubGraphStore) UpsertEntities(ctx context.Context, entities []types.GraphEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeErr != nil {
		return s.storeErr
	}
	s.entityN += len(entities)
	return nil
}

func (s *stubGraphStore) UpsertRelationships(ctx context.Context, rels []types.GraphRelationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeErr != nil {
		return s.storeErr
	}
	s.relN += len(rels)
	return nil
}

func (s *stubGraphStore) Counts(ctx context.Context) (graph.StoreCounts, error) {
	return graph.StoreCounts{}, nil
}

type orchestratorFixture struct {
	db      *gorm.DB
	orch    *Orchestrator
	store   *stubGraphStore
	ext     *stubExtractor
	backlog repos.GraphSyncBacklogRepo
	failed  repos.FailedSignalRepo
}

func newFixture(t *testing.T, cfg Config, ext *stubExtractor, store *stubGraphStore) *orchestratorFixture {
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

	signalRepo := repos.NewSignalRepo(gdb, log)
	extractionRepo := repos.NewSignalExtractionRepo(gdb, log)
	embeddingRepo := repos.NewSignalEmbeddingRepo(gdb, log)
	backlogRepo := repos.NewGraphSyncBacklogRepo(gdb, log)
	failedRepo := repos.NewFailedSignalRepo(gdb, log)

	engine := graph.NewEngine(gdb, store, backlogRepo, signalRepo, log, time.Second)
	deriver := NewDeriver(&mapResolver{}, log)
	orch := NewOrchestrator(cfg, gdb, log,
		signalRepo, extractionRepo, embeddingRepo, failedRepo,
		ext, deriver, engine, nil, nil, nil)

	return &orchestratorFixture{
		db:      gdb,
		orch:    orch,
		store:   store,
		ext:     ext,
		backlog: backlogRepo,
		failed:  failedRepo,
	}
}

func fixtureSignal() *types.Signal {
	return &types.Signal{
		ID:         uuid.New(),
		Source:     "zendesk",
		SourceRef:  "ticket-42",
		SignalType: "support_ticket",
		Content:    "Acme Corp says checkout is broken",
		Severity:   "high",
		CreatedAt:  time.Now().UTC(),
	}
}

func TestProcessOnePersistsSignalAndExtraction(t *testing.T) {
	f := newFixture(t, Config{}, &stubExtractor{}, &stubGraphStore{})
	signal := fixtureSignal()

	if err := f.orch.ProcessOne(context.Background(), signal, nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	var signalCount, extractionCount int64
	f.db.Model(&types.Signal{}).Count(&signalCount)
	f.db.Model(&types.SignalExtraction{}).Count(&extractionCount)
	if signalCount != 1 || extractionCount != 1 {
		t.Fatalf("rows: signals=%d extractions=%d", signalCount, extractionCount)
	}
	if f.store.entityN != 1 {
		t.Fatalf("graph entities: want=1 got=%d", f.store.entityN)
	}
}

func TestProcessOneIsIdempotentOnReplay(t *testing.T) {
	f := newFixture(t, Config{}, &stubExtractor{}, &stubGraphStore{})
	signal := fixtureSignal()

	for i := 0; i < 3; i++ {
		if err := f.orch.ProcessOne(context.Background(), signal, nil); err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
	}

	var signalCount, extractionCount int64
	f.db.Model(&types.Signal{}).Count(&signalCount)
	f.db.Model(&types.SignalExtraction{}).Count(&extractionCount)
	if signalCount != 1 {
		t.Fatalf("replays must not duplicate signals: got=%d", signalCount)
	}
	if extractionCount != 1 {
		t.Fatalf("replays must not duplicate extractions: got=%d", extractionCount)
	}
}

func TestProcessOneRollsBackOnResolverFailure(t *testing.T) {
	f := newFixture(t, Config{}, &stubExtractor{}, &stubGraphStore{})
	// Swap in a deriver whose resolver always fails.
	f.orch.deriver = NewDeriver(&mapResolver{err: errors.New("resolver down")}, logger.NewNop())

	if err := f.orch.ProcessOne(context.Background(), fixtureSignal(), nil); err == nil {
		t.Fatalf("expected resolver failure to fail the signal")
	}

	var signalCount, extractionCount int64
	f.db.Model(&types.Signal{}).Count(&signalCount)
	f.db.Model(&types.SignalExtraction{}).Count(&extractionCount)
	if signalCount != 0 || extractionCount != 0 {
		t.Fatalf("transaction must roll back whole: signals=%d extractions=%d",
			signalCount, extractionCount)
	}
}

func TestProcessOneExtractionFailureFailsSignal(t *testing.T) {
	f := newFixture(t, Config{}, &stubExtractor{err: errors.New("provider 500")}, &stubGraphStore{})

	if err := f.orch.ProcessOne(context.Background(), fixtureSignal(), nil); err == nil {
		t.Fatalf("expected extraction failure to fail the signal")
	}
	var signalCount int64
	f.db.Model(&types.Signal{}).Count(&signalCount)
	if signalCount != 0 {
		t.Fatalf("nothing should persist without an extraction: got=%d", signalCount)
	}
}

func TestProcessOneGraphFailureDoesNotFailSignal(t *testing.T) {
	f := newFixture(t, Config{}, &stubExtractor{}, &stubGraphStore{storeErr: errors.New("neo4j down")})
	signal := fixtureSignal()

	if err := f.orch.ProcessOne(context.Background(), signal, nil); err != nil {
		t.Fatalf("graph failure must not fail the signal: %v", err)
	}

	var signalCount int64
	f.db.Model(&types.Signal{}).Count(&signalCount)
	if signalCount != 1 {
		t.Fatalf("signal must stay committed: got=%d", signalCount)
	}
	pending, err := f.backlog.CountPending(context.Background(), nil)
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if pending == 0 {
		t.Fatalf("failed graph sync must land in the backlog")
	}
}

func TestProcessOneTimesOut(t *testing.T) {
	cfg := Config{SignalTimeout: 50 * time.Millisecond}
	f := newFixture(t, cfg, &stubExtractor{block: time.Second}, &stubGraphStore{})

	err := f.orch.ProcessOne(context.Background(), fixtureSignal(), nil)
	if !errors.Is(err, apperr.ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
}

// billingCaptureExtractor records the billing context it was called with.
type billingCaptureExtractor struct {
	stubExtractor
	captured ctxutil.Billing
}

func (e *billingCaptureExtractor) Extract(ctx context.Context, content string) (*types.ExtractionResult, error) {
	e.captured, _ = ctxutil.GetBilling(ctx)
	return e.stubExtractor.Extract(ctx, content)
}

func TestProcessOneAttributesAgentBilling(t *testing.T) {
	f := newFixture(t, Config{}, &stubExtractor{}, &stubGraphStore{})
	capExt := &billingCaptureExtractor{}
	f.orch.extractor = capExt

	agentID := uuid.New()
	signal := fixtureSignal()
	signal.AgentID = &agentID

	if err := f.orch.ProcessOne(context.Background(), signal, nil); err != nil {
		t.Fatalf("process: %v", err)
	}
	got := capExt.captured
	if got.AgentID == nil || *got.AgentID != agentID {
		t.Fatalf("billing agent: want=%s got=%v", agentID, got.AgentID)
	}
	if got.SignalID == nil || *got.SignalID != signal.ID {
		t.Fatalf("billing signal: want=%s got=%v", signal.ID, got.SignalID)
	}
	if got.CorrelationID == "" {
		t.Fatalf("billing correlation id must be set")
	}
}

// sleepExtractor ignores cancellation on purpose, modeling a collaborator
// call that outlives the signal deadline and then returns successfully.
type sleepExtractor struct{ d time.Duration }

func (e *sleepExtractor) Extract(ctx context.Context, content string) (*types.ExtractionResult, error) {
	time.Sleep(e.d)
	return &types.ExtractionResult{Model: "stub"}, nil
}

func (e *sleepExtractor) ExtractBatch(ctx context.Context, contents []string) ([]*types.ExtractionResult, error) {
	out := make([]*types.ExtractionResult, len(contents))
	for i := range contents {
		out[i] = &types.ExtractionResult{Model: "stub"}
	}
	return out, nil
}

type recordingIndexer struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingIndexer) Index(ctx context.Context, signal *types.Signal, extraction *types.ExtractionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func (r *recordingIndexer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestProcessOneTimeoutStopsLaterStages(t *testing.T) {
	cfg := Config{SignalTimeout: 30 * time.Millisecond}
	f := newFixture(t, cfg, &stubExtractor{}, &stubGraphStore{})
	idx := &recordingIndexer{}
	f.orch.indexer = idx
	f.orch.extractor = &sleepExtractor{d: 150 * time.Millisecond}
	signal := fixtureSignal()

	err := f.orch.ProcessOne(context.Background(), signal, nil)
	if !errors.Is(err, apperr.ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}

	// Let the sequence goroutine finish its in-flight extraction call.
	time.Sleep(300 * time.Millisecond)

	if got := idx.count(); got != 0 {
		t.Fatalf("no stage may start after the deadline, indexer ran %d times", got)
	}
	var n int64
	if err := f.db.Model(&types.Signal{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("no stage may persist after the deadline, found %d rows", n)
	}
}

func TestIngestRecordsFailureBookkeeping(t *testing.T) {
	f := newFixture(t, Config{}, &stubExtractor{err: errors.New("provider 500")}, &stubGraphStore{})
	signal := fixtureSignal()

	report := f.orch.Ingest(context.Background(), []*types.Signal{signal})
	if report.Failed != 1 || report.Succeeded != 0 {
		t.Fatalf("report: %+v", report)
	}

	attempt, err := f.failed.GetBySignalID(context.Background(), nil, signal.ID)
	if err != nil {
		t.Fatalf("expected a failure row: %v", err)
	}
	if attempt.AttemptCount != 1 {
		t.Fatalf("attempt_count: want=1 got=%d", attempt.AttemptCount)
	}
	if attempt.Status != types.FailedSignalStatusPending {
		t.Fatalf("status: want=pending got=%q", attempt.Status)
	}
	if attempt.NextRetryAt == nil || !attempt.NextRetryAt.After(time.Now()) {
		t.Fatalf("next_retry_at must be in the future: %v", attempt.NextRetryAt)
	}
}

func TestIngestBatchIsolation(t *testing.T) {
	// Two good signals and one that cannot extract; the bad one must not
	// take the batch down.
	ext := &stubExtractor{batchErr: errors.New("batch endpoint down")}
	f := newFixture(t, Config{BatchExtraction: true, Concurrency: 2}, ext, &stubGraphStore{})

	bad := fixtureSignal()
	bad.Content = ""
	bad.ID = uuid.Nil // invalid, fails validation

	report := f.orch.Ingest(context.Background(), []*types.Signal{fixtureSignal(), bad, fixtureSignal()})
	if report.Total != 3 {
		t.Fatalf("total: want=3 got=%d", report.Total)
	}
	if report.Succeeded != 2 || report.Failed != 1 {
		t.Fatalf("report: %+v", report)
	}
	if ext.batchCalls != 1 {
		t.Fatalf("batch endpoint should be tried once: got=%d", ext.batchCalls)
	}
	if ext.calls != 2 {
		t.Fatalf("fallback should extract the two valid signals: got=%d", ext.calls)
	}
}
