package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/beaconkb/beacon-backend/internal/events"
	"github.com/beaconkb/beacon-backend/internal/graph"
	"github.com/beaconkb/beacon-backend/internal/observability"
	"github.com/beaconkb/beacon-backend/internal/platform/apperr"
	"github.com/beaconkb/beacon-backend/internal/platform/ctxutil"
	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/repos"
	"github.com/beaconkb/beacon-backend/internal/types"
)

// NextAction tells operators what a stage failure means for the data:
// skip_stage is cosmetic degradation, skip_signal means the signal needs a
// retry, enqueue_backlog means the write is parked durably.
const (
	NextSkipStage      = "skip_stage"
	NextSkipSignal     = "skip_signal"
	NextEnqueueBacklog = "enqueue_backlog"
)

// IngestReport summarizes one Ingest invocation.
type IngestReport struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Orchestrator sequences the per-signal pipeline: transactional persistence
// of signal + extraction + resolution, then best-effort graph sync, index,
// embedding, and event publication.
type Orchestrator struct {
	cfg Config
	db  *gorm.DB
	log *logger.Logger

	signals     repos.SignalRepo
	extractions repos.SignalExtractionRepo
	embeddings  repos.SignalEmbeddingRepo
	failed      repos.FailedSignalRepo

	extractor   Extractor
	deriver     *Deriver
	graphEngine *graph.Engine
	embedder    Embedder
	indexer     SearchIndexer
	publisher   events.Publisher
}

func NewOrchestrator(
	cfg Config,
	db *gorm.DB,
	baseLog *logger.Logger,
	signals repos.SignalRepo,
	extractions repos.SignalExtractionRepo,
	embeddings repos.SignalEmbeddingRepo,
	failed repos.FailedSignalRepo,
	extractor Extractor,
	deriver *Deriver,
	graphEngine *graph.Engine,
	embedder Embedder,
	indexer SearchIndexer,
	publisher events.Publisher,
) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Orchestrator{
		cfg:         cfg,
		db:          db,
		log:         baseLog.With("service", "PipelineOrchestrator"),
		signals:     signals,
		extractions: extractions,
		embeddings:  embeddings,
		failed:      failed,
		extractor:   extractor,
		deriver:     deriver,
		graphEngine: graphEngine,
		embedder:    embedder,
		indexer:     indexer,
		publisher:   publisher,
	}
}

// Ingest processes a batch of signals with bounded concurrency. Signals are
// independent: one failure never aborts siblings. Failures are recorded into
// failed_signal_attempts for the retry scheduler.
func (o *Orchestrator) Ingest(ctx context.Context, signals []*types.Signal) *IngestReport {
	report := &IngestReport{Total: len(signals)}
	if len(signals) == 0 {
		return report
	}
	runID := uuid.New().String()
	ctx = ctxutil.WithBilling(ctx, ctxutil.Billing{CorrelationID: runID})

	pre := o.preExtract(ctx, signals)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Concurrency)
	for i := range signals {
		signal := signals[i]
		var preResult *types.ExtractionResult
		if pre != nil {
			preResult = pre[i]
		}
		g.Go(func() error {
			err := o.ProcessOne(ctx, signal, preResult)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				observability.SignalsIngested.WithLabelValues(signal.Source, "failed").Inc()
				o.recordFailure(ctx, signal, runID, err)
			} else {
				report.Succeeded++
				observability.SignalsIngested.WithLabelValues(signal.Source, "succeeded").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()
	o.log.Info("ingest batch finished",
		"run_id", runID,
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed)
	return report
}

// preExtract amortizes extraction latency with one batched collaborator call
// before any transaction opens. Any failure falls back to per-item
// extraction inside ProcessOne.
func (o *Orchestrator) preExtract(ctx context.Context, signals []*types.Signal) []*types.ExtractionResult {
	if !o.cfg.BatchExtraction || o.extractor == nil || len(signals) < 2 {
		return nil
	}
	contents := make([]string, len(signals))
	for i, s := range signals {
		if s.NormalizedContent == "" {
			s.NormalizedContent = NormalizeContent(s.Content)
		}
		contents[i] = s.NormalizedContent
	}
	results, err := o.extractor.ExtractBatch(ctx, contents)
	if err != nil || len(results) != len(signals) {
		o.log.Warn("batch extraction failed, falling back to per-signal calls",
			"count", len(signals), "error", err)
		return nil
	}
	return results
}

// ProcessOne runs the full stage sequence for a single signal, racing it
// against the per-signal timeout. The caller owns failure bookkeeping.
func (o *Orchestrator) ProcessOne(ctx context.Context, signal *types.Signal, pre *types.ExtractionResult) error {
	if signal == nil || signal.ID == uuid.Nil {
		return fmt.Errorf("%w: signal missing id", apperr.ErrInvalidArgument)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	billing, _ := ctxutil.GetBilling(ctx)
	if billing.CorrelationID == "" {
		billing.CorrelationID = uuid.New().String()
	}
	billing.SignalID = &signal.ID
	if signal.AgentID != nil {
		billing.AgentID = signal.AgentID
	}
	ctx = ctxutil.WithBilling(ctx, billing)
	tctx, cancel := context.WithTimeout(ctx, o.cfg.SignalTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- o.runSequence(tctx, signal, pre) }()
	select {
	case <-tctx.Done():
		// The transaction zone observes the cancelled context and rolls
		// back before releasing its connection; nothing else to clean here.
		return fmt.Errorf("signal %s: %w", signal.ID, apperr.ErrTimeout)
	case err := <-done:
		return err
	}
}

func (o *Orchestrator) runSequence(ctx context.Context, signal *types.Signal, pre *types.ExtractionResult) error {
	if signal.NormalizedContent == "" {
		signal.NormalizedContent = NormalizeContent(signal.Content)
	}

	// Extraction runs before the transaction opens to keep hold time short.
	extraction := pre
	if extraction == nil {
		err := o.runStage(ctx, signal, "extract", false, NextSkipSignal, func() error {
			if o.extractor == nil {
				return fmt.Errorf("%w: no extractor configured", apperr.ErrInvalidArgument)
			}
			var eerr error
			extraction, eerr = o.extractor.Extract(ctx, signal.NormalizedContent)
			return eerr
		})
		if err != nil {
			return err
		}
	}
	if extraction == nil {
		return fmt.Errorf("%w: extractor returned no result", apperr.ErrInvalidArgument)
	}

	// Transactional zone: signal insert, extraction upsert, and entity
	// resolution commit or roll back together. The connection is released
	// at commit, before any cross-store call.
	var entities []types.GraphEntity
	var rels []types.GraphRelationship
	txErr := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := o.runStage(ctx, signal, "insert_signal", false, NextSkipSignal, func() error {
			return o.signals.Insert(ctx, tx, []*types.Signal{signal})
		}); err != nil {
			return err
		}
		if err := o.runStage(ctx, signal, "store_extraction", false, NextSkipSignal, func() error {
			raw, merr := json.Marshal(extraction)
			if merr != nil {
				return fmt.Errorf("%w: marshal extraction: %v", apperr.ErrInvalidArgument, merr)
			}
			return o.extractions.Upsert(ctx, tx, &types.SignalExtraction{
				SignalID:   signal.ID,
				Extraction: raw,
				Source:     signal.Source,
				Model:      extraction.Model,
				CreatedAt:  time.Now().UTC(),
			})
		}); err != nil {
			return err
		}
		return o.runStage(ctx, signal, "resolve_entities", false, NextSkipSignal, func() error {
			var derr error
			entities, rels, derr = o.deriver.Derive(ctx, tx, signal, extraction)
			return derr
		})
	})
	if txErr != nil {
		return txErr
	}

	// Post-commit zone: every stage is individually allow-failure. The
	// committed write is never rolled back from here.
	_ = o.runStage(ctx, signal, "graph_sync", true, NextEnqueueBacklog, func() error {
		if err := o.graphEngine.SyncEntities(ctx, entities); err != nil {
			return err
		}
		return o.graphEngine.SyncRelationships(ctx, rels)
	})

	_ = o.runStage(ctx, signal, "index", true, NextSkipStage, func() error {
		if o.indexer == nil {
			return nil
		}
		return o.indexer.Index(ctx, signal, extraction)
	})

	_ = o.runStage(ctx, signal, "embed", true, NextSkipStage, func() error {
		if o.embedder == nil {
			return nil
		}
		vector, model, eerr := o.embedder.Embed(ctx, signal.NormalizedContent)
		if eerr != nil {
			return eerr
		}
		raw, merr := json.Marshal(vector)
		if merr != nil {
			return merr
		}
		return o.embeddings.Upsert(ctx, nil, &types.SignalEmbedding{
			SignalID:  signal.ID,
			Vector:    raw,
			Model:     model,
			Dims:      len(vector),
			CreatedAt: time.Now().UTC(),
		})
	})

	_ = o.runStage(ctx, signal, "publish_events", true, NextSkipStage, func() error {
		if o.publisher == nil {
			return nil
		}
		for _, topic := range []string{events.TopicSignalIngested, events.TopicPipelineCompleted} {
			if perr := o.publisher.Publish(ctx, events.Event{
				Topic:    topic,
				SignalID: signal.ID,
				Source:   signal.Source,
				Severity: signal.Severity,
			}); perr != nil {
				return perr
			}
		}
		return nil
	})

	return nil
}

// runStage wraps one stage with telemetry and the allow-failure policy. A
// stage whose context is already done never starts: once the per-signal
// timeout fires, the sequence goroutine unwinds without touching any store.
func (o *Orchestrator) runStage(ctx context.Context, signal *types.Signal, name string, allowFailure bool, nextAction string, fn func() error) error {
	if cerr := ctx.Err(); cerr != nil {
		observability.StageOutcomes.WithLabelValues(name, "skipped").Inc()
		observability.StageSkipped.WithLabelValues(name, NextSkipSignal).Inc()
		o.log.Warn("stage not started, signal deadline passed",
			"stage", name, "signal_id", signal.ID, "error", cerr)
		if allowFailure {
			return nil
		}
		return fmt.Errorf("stage %s: %w", name, cerr)
	}
	start := time.Now()
	o.log.Debug("stage start", "stage", name, "signal_id", signal.ID)
	err := fn()
	elapsed := time.Since(start)
	observability.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err == nil {
		observability.StageOutcomes.WithLabelValues(name, "success").Inc()
		o.log.Debug("stage success",
			"stage", name,
			"signal_id", signal.ID,
			"elapsed_ms", elapsed.Milliseconds())
		return nil
	}
	if allowFailure {
		observability.StageOutcomes.WithLabelValues(name, "skipped").Inc()
		observability.StageSkipped.WithLabelValues(name, nextAction).Inc()
		o.log.Warn("stage skipped",
			"stage", name,
			"signal_id", signal.ID,
			"elapsed_ms", elapsed.Milliseconds(),
			"next_action", nextAction,
			"error", err)
		return nil
	}
	observability.StageOutcomes.WithLabelValues(name, "failed").Inc()
	o.log.Error("stage failed",
		"stage", name,
		"signal_id", signal.ID,
		"elapsed_ms", elapsed.Milliseconds(),
		"next_action", nextAction,
		"error", err)
	return fmt.Errorf("stage %s: %w", name, err)
}

func (o *Orchestrator) recordFailure(ctx context.Context, signal *types.Signal, runID string, cause error) {
	errType := apperr.Classify(cause)
	next := time.Now().UTC().Add(RetryDelay(1))
	attempt := &types.FailedSignalAttempt{
		SignalID:     signal.ID,
		SourceRef:    signal.SourceRef,
		RunID:        runID,
		ErrorType:    string(errType),
		ErrorMessage: cause.Error(),
		Status:       types.FailedSignalStatusPending,
		AttemptCount: 1,
		MaxRetries:   o.cfg.MaxRetries,
		FailedAt:     time.Now().UTC(),
		NextRetryAt:  &next,
	}
	if err := o.failed.RecordFailure(ctx, nil, attempt); err != nil {
		o.log.Error("failed to record signal failure",
			"signal_id", signal.ID, "error", err)
	}
}
