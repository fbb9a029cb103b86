package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/beaconkb/beacon-backend/internal/observability"
	"github.com/beaconkb/beacon-backend/internal/pipeline"
	"github.com/beaconkb/beacon-backend/internal/platform/apperr"
	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/repos"
	"github.com/beaconkb/beacon-backend/internal/types"
)

type Config struct {
	BatchSize   int           `envconfig:"RETRY_BATCH_SIZE" default:"25"`
	Concurrency int           `envconfig:"RETRY_CONCURRENCY" default:"4"`
	Interval    time.Duration `envconfig:"RETRY_INTERVAL" default:"1m"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Report is the outcome tally of one retry sweep.
type Report struct {
	Pending    int64 `json:"pending"`
	Retried    int   `json:"retried"`
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	MovedToDLQ int   `json:"moved_to_dlq"`
}

// Processor is the slice of the pipeline the scheduler re-runs signals
// through. *pipeline.Orchestrator satisfies it.
type Processor interface {
	ProcessOne(ctx context.Context, signal *types.Signal, pre *types.ExtractionResult) error
}

// Scheduler periodically re-runs failed signals through the pipeline from
// their persisted raw form, promoting signals that exhaust their retry
// budget to the dead-letter queue.
type Scheduler struct {
	cfg  Config
	db   *gorm.DB
	log  *logger.Logger
	orch Processor

	failed  repos.FailedSignalRepo
	dlq     repos.DeadLetterRepo
	signals repos.SignalRepo
}

func NewScheduler(cfg Config, db *gorm.DB, baseLog *logger.Logger, orch Processor, failed repos.FailedSignalRepo, dlq repos.DeadLetterRepo, signals repos.SignalRepo) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Scheduler{
		cfg:     cfg,
		db:      db,
		log:     baseLog.With("service", "RetryScheduler"),
		orch:    orch,
		failed:  failed,
		dlq:     dlq,
		signals: signals,
	}
}

// Start runs periodic sweeps until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report, err := s.RetryFailedSignals(ctx, s.cfg.BatchSize, s.cfg.Concurrency)
				if err != nil {
					s.log.Warn("retry sweep failed", "error", err)
					continue
				}
				if report.Retried > 0 {
					s.log.Info("retry sweep finished",
						"pending", report.Pending,
						"retried", report.Retried,
						"succeeded", report.Succeeded,
						"failed", report.Failed,
						"moved_to_dlq", report.MovedToDLQ)
				}
			}
		}
	}()
}

// RetryFailedSignals retries due failures with bounded concurrency. Execution
// is settled, not fail-fast: one signal's failure never aborts its siblings.
func (s *Scheduler) RetryFailedSignals(ctx context.Context, batchSize, concurrency int) (*Report, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}
	if concurrency <= 0 {
		concurrency = s.cfg.Concurrency
	}
	report := &Report{}

	pending, err := s.failed.CountByStatus(ctx, nil, types.FailedSignalStatusPending)
	if err != nil {
		return nil, err
	}
	report.Pending = pending

	due, err := s.failed.ListDue(ctx, nil, time.Now().UTC(), batchSize)
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return report, nil
	}
	report.Retried = len(due)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for i := range due {
		attempt := due[i]
		g.Go(func() error {
			outcome := s.retryOne(ctx, attempt)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSucceeded:
				report.Succeeded++
			case outcomeMovedToDLQ:
				report.MovedToDLQ++
				report.Failed++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

type retryOutcome int

const (
	outcomeSucceeded retryOutcome = iota
	outcomeFailed
	outcomeMovedToDLQ
)

func (s *Scheduler) retryOne(ctx context.Context, attempt *types.FailedSignalAttempt) retryOutcome {
	signal, err := s.signals.GetByID(ctx, nil, attempt.SignalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The raw signal is gone; no retry can ever succeed.
			s.log.Error("failed signal has no raw row, quarantining",
				"signal_id", attempt.SignalID, "error", err)
			s.moveToDLQ(ctx, attempt, string(apperr.TypePermanent), "raw signal row missing")
			return outcomeMovedToDLQ
		}
		// The lookup itself failed; the attempt stays in the backoff loop.
		s.log.Warn("raw signal lookup failed",
			"signal_id", attempt.SignalID, "error", err)
		return s.settleFailure(ctx, attempt, fmt.Errorf("load raw signal: %w", err))
	}

	if perr := s.orch.ProcessOne(ctx, signal, nil); perr != nil {
		return s.settleFailure(ctx, attempt, perr)
	}

	observability.RetryOutcomes.WithLabelValues("succeeded").Inc()
	if uerr := s.failed.UpdateFields(ctx, nil, attempt.ID, map[string]interface{}{
		"status": types.FailedSignalStatusRecovered,
	}); uerr != nil {
		s.log.Warn("failed to mark attempt recovered",
			"signal_id", attempt.SignalID, "error", uerr)
	}
	return outcomeSucceeded
}

// settleFailure routes one failed attempt: permanent failures short-circuit
// to the DLQ; transient ones ride the curve until the retry budget runs out.
func (s *Scheduler) settleFailure(ctx context.Context, attempt *types.FailedSignalAttempt, cause error) retryOutcome {
	errType := apperr.Classify(cause)
	newCount := attempt.AttemptCount + 1

	if !apperr.Retryable(errType) || newCount >= attempt.MaxRetries {
		s.moveToDLQ(ctx, attempt, string(errType), cause.Error())
		observability.RetryOutcomes.WithLabelValues("moved_to_dlq").Inc()
		return outcomeMovedToDLQ
	}

	next := time.Now().UTC().Add(pipeline.RetryDelay(newCount))
	if uerr := s.failed.UpdateFields(ctx, nil, attempt.ID, map[string]interface{}{
		"attempt_count": newCount,
		"error_type":    string(errType),
		"error_message": cause.Error(),
		"next_retry_at": next,
	}); uerr != nil {
		s.log.Warn("failed to reschedule attempt",
			"signal_id", attempt.SignalID, "error", uerr)
	}
	observability.RetryOutcomes.WithLabelValues("failed").Inc()
	return outcomeFailed
}

func (s *Scheduler) moveToDLQ(ctx context.Context, attempt *types.FailedSignalAttempt, errType, errMsg string) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if cerr := s.dlq.Create(ctx, tx, &types.DeadLetterEntry{
			SignalID:          attempt.SignalID,
			SourceRef:         attempt.SourceRef,
			RunID:             attempt.RunID,
			Attempts:          attempt.AttemptCount + 1,
			FinalErrorType:    errType,
			FinalErrorMessage: errMsg,
			FailedAt:          attempt.FailedAt,
			MovedToDLQAt:      time.Now().UTC(),
		}); cerr != nil {
			return cerr
		}
		return s.failed.UpdateFields(ctx, tx, attempt.ID, map[string]interface{}{
			"status":        types.FailedSignalStatusMovedToDLQ,
			"attempt_count": attempt.AttemptCount + 1,
			"error_type":    errType,
			"error_message": errMsg,
		})
	})
	if err != nil {
		s.log.Error("failed to quarantine signal",
			"signal_id", attempt.SignalID, "error", err)
	}
}
