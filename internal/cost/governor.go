package cost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beaconkb/beacon-backend/internal/observability"
	"github.com/beaconkb/beacon-backend/internal/platform/apperr"
	"github.com/beaconkb/beacon-backend/internal/platform/logger"
	"github.com/beaconkb/beacon-backend/internal/repos"
	"github.com/beaconkb/beacon-backend/internal/types"
)

// Governor buffers per-operation cost records and flushes them to the store
// in batches, and answers budget checks through a cache -> circuit breaker ->
// store chain. Recording never blocks the hot path on persistence.
type Governor struct {
	cfg     Config
	costs   repos.CostLogRepo
	budgets repos.AgentBudgetRepo
	log     *logger.Logger
	breaker *Breaker

	mu           sync.Mutex
	buffer       []*types.CostLog
	flushing     bool
	flushWait    chan struct{}
	shuttingDown bool

	cacheMu sync.Mutex
	cache   map[uuid.UUID]cachedStatus

	stopTimer chan struct{}
	timerDone chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

type cachedStatus struct {
	status    types.BudgetStatus
	expiresAt time.Time
}

func NewGovernor(cfg Config, costs repos.CostLogRepo, budgets repos.AgentBudgetRepo, baseLog *logger.Logger) *Governor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Governor{
		cfg:       cfg,
		costs:     costs,
		budgets:   budgets,
		log:       baseLog.With("service", "CostGovernor"),
		breaker:   NewBreaker(cfg.BreakerFailureThreshold, cfg.BreakerResetTimeout, cfg.BreakerHalfOpenSuccesses),
		cache:     map[uuid.UUID]cachedStatus{},
		stopTimer: make(chan struct{}),
		timerDone: make(chan struct{}),
	}
}

// Start launches the flush timer. Safe to call once per process.
func (g *Governor) Start(ctx context.Context) {
	g.startOnce.Do(func() {
		go func() {
			defer close(g.timerDone)
			ticker := time.NewTicker(g.cfg.FlushInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-g.stopTimer:
					return
				case <-ticker.C:
					if err := g.Flush(ctx); err != nil {
						g.log.Warn("timed cost flush failed", "error", err)
					}
				}
			}
		}()
	})
}

// RecordCost validates and buffers one cost record. Invalid records are
// rejected synchronously and never buffered. Reaching the batch size kicks
// off an async flush.
func (g *Governor) RecordCost(record *types.CostLog) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	g.mu.Lock()
	if g.shuttingDown {
		g.mu.Unlock()
		return fmt.Errorf("cost governor shutting down")
	}
	g.buffer = append(g.buffer, record)
	size := len(g.buffer)
	g.mu.Unlock()

	observability.CostBufferSize.Set(float64(size))
	observability.CostRecorded.WithLabelValues(record.Provider, record.Operation).Add(record.CostUSD)

	if size >= g.cfg.BatchSize {
		go func() {
			if err := g.Flush(context.Background()); err != nil {
				g.log.Warn("size-triggered cost flush failed", "error", err)
			}
		}()
	}
	return nil
}

// Flush persists the buffered records. Single-flight: a flush in progress is
// never started twice; a concurrent call waits for the in-flight one and then
// flushes whatever accumulated meanwhile. On persistence failure the batch is
// returned to the front of the buffer, unless shutdown is in progress.
func (g *Governor) Flush(ctx context.Context) error {
	g.mu.Lock()
	for g.flushing {
		wait := g.flushWait
		g.mu.Unlock()
		<-wait
		g.mu.Lock()
	}
	if len(g.buffer) == 0 {
		g.mu.Unlock()
		return nil
	}
	batch := g.buffer
	g.buffer = nil
	g.flushing = true
	g.flushWait = make(chan struct{})
	g.mu.Unlock()

	err := g.costs.CreateBatch(ctx, nil, batch)

	g.mu.Lock()
	if err != nil {
		observability.CostFlushes.WithLabelValues("failed").Inc()
		if g.shuttingDown {
			g.log.Error("dropping cost records on shutdown after failed flush",
				"dropped", len(batch), "error", err)
		} else {
			g.buffer = append(batch, g.buffer...)
		}
	} else {
		observability.CostFlushes.WithLabelValues("ok").Inc()
	}
	size := len(g.buffer)
	g.flushing = false
	close(g.flushWait)
	g.mu.Unlock()

	observability.CostBufferSize.Set(float64(size))
	if err != nil {
		return fmt.Errorf("persist cost batch: %w", err)
	}
	return nil
}

// Shutdown stops the timer, waits out any in-flight flush, then flushes
// whatever remains.
func (g *Governor) Shutdown(ctx context.Context) error {
	var err error
	g.stopOnce.Do(func() {
		close(g.stopTimer)
		select {
		case <-g.timerDone:
		case <-ctx.Done():
		}
		g.mu.Lock()
		g.shuttingDown = true
		g.mu.Unlock()
		err = g.Flush(ctx)
	})
	return err
}

// CheckAgentBudget answers a spend-vs-limit query for an agent. On any
// failure in the lookup chain the governor applies the configured degraded
// policy (fail open by default) rather than raising.
func (g *Governor) CheckAgentBudget(ctx context.Context, agentID uuid.UUID) types.BudgetStatus {
	if status, ok := g.cachedBudget(agentID); ok {
		g.countCheck(status)
		return status
	}

	if !g.breaker.Allow() {
		g.log.Warn("budget check degraded: circuit open, cannot verify spend",
			"agent_id", agentID, "policy", g.degradedPolicyName())
		return g.degraded("circuit_open")
	}

	status, err := g.queryBudget(ctx, agentID)
	if err != nil {
		g.breaker.RecordFailure()
		g.log.Warn("budget check degraded: store query failed, cannot verify spend",
			"agent_id", agentID, "policy", g.degradedPolicyName(), "error", err)
		return g.degraded("query_failed")
	}
	g.breaker.RecordSuccess()
	g.storeCache(agentID, status)
	g.countCheck(status)

	if !status.Allowed && !strings.EqualFold(status.Reason, "paused") {
		// Auto-pause so adapters stop routing work to this agent; best
		// effort. Upsert rather than update so the pause also sticks for
		// agents running over the default limit with no budget row yet.
		if perr := g.budgets.Upsert(ctx, nil, &types.AgentBudget{
			AgentID:         agentID,
			MonthlyLimitUSD: status.Limit,
			Paused:          true,
			PeriodStart:     status.PeriodStart,
			UpdatedAt:       time.Now().UTC(),
		}); perr != nil {
			g.log.Warn("auto-pause failed", "agent_id", agentID, "error", perr)
		}
	}
	return status
}

// PauseAgent and its siblings are administrative mutations; each invalidates
// the cached status so the next check observes the change.
func (g *Governor) PauseAgent(ctx context.Context, agentID uuid.UUID) error {
	if err := g.budgets.SetPaused(ctx, nil, agentID, true); err != nil {
		return err
	}
	g.invalidate(agentID)
	return nil
}

func (g *Governor) UnpauseAgent(ctx context.Context, agentID uuid.UUID) error {
	if err := g.budgets.SetPaused(ctx, nil, agentID, false); err != nil {
		return err
	}
	g.invalidate(agentID)
	return nil
}

func (g *Governor) ResetAgentMonthlyCost(ctx context.Context, agentID uuid.UUID) error {
	if err := g.budgets.ResetPeriod(ctx, nil, agentID); err != nil {
		return err
	}
	g.invalidate(agentID)
	return nil
}

func (g *Governor) UpdateAgentBudget(ctx context.Context, agentID uuid.UUID, limitUSD float64) error {
	if limitUSD < 0 {
		return fmt.Errorf("%w: limit must be >= 0", apperr.ErrInvalidArgument)
	}
	if err := g.budgets.Upsert(ctx, nil, &types.AgentBudget{
		AgentID:         agentID,
		MonthlyLimitUSD: limitUSD,
		UpdatedAt:       time.Now().UTC(),
	}); err != nil {
		return err
	}
	g.invalidate(agentID)
	return nil
}

// ForceBreakerOpen is the operator escape hatch for drills and incident
// response; it is logged distinctly from organic opens.
func (g *Governor) ForceBreakerOpen() {
	g.log.Warn("budget circuit breaker FORCED open by operator")
	g.breaker.ForceOpen()
}

func (g *Governor) ForceBreakerClose() {
	g.log.Warn("budget circuit breaker force-closed by operator")
	g.breaker.ForceClose()
}

func (g *Governor) BreakerState() BreakerState { return g.breaker.State() }

// BufferedCount is exposed for tests and the ops snapshot.
func (g *Governor) BufferedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buffer)
}

func (g *Governor) queryBudget(ctx context.Context, agentID uuid.UUID) (types.BudgetStatus, error) {
	limit := g.cfg.DefaultMonthlyLimitUSD
	periodStart := startOfMonth(time.Now().UTC())
	paused := false

	budget, err := g.budgets.Get(ctx, nil, agentID)
	switch {
	case err == nil:
		limit = budget.MonthlyLimitUSD
		paused = budget.Paused
		if !budget.PeriodStart.IsZero() {
			periodStart = budget.PeriodStart
		}
	case isNotFound(err):
		// Unconfigured agents run against the default limit.
	default:
		return types.BudgetStatus{}, err
	}

	spend, err := g.costs.SumForAgentSince(ctx, nil, agentID, periodStart)
	if err != nil {
		return types.BudgetStatus{}, err
	}

	status := types.BudgetStatus{
		Limit:       limit,
		CurrentCost: spend,
		Remaining:   limit - spend,
		PeriodStart: periodStart,
	}
	if limit > 0 {
		status.UtilizationPct = spend / limit * 100
	}
	switch {
	case paused:
		status.Allowed = false
		status.Reason = "paused"
	case limit <= 0:
		status.Allowed = true
	case spend > limit*(1+g.cfg.GracePct):
		status.Allowed = false
		status.Reason = "over_budget"
	default:
		status.Allowed = true
	}
	return status, nil
}

func (g *Governor) degraded(reason string) types.BudgetStatus {
	allowed := !g.cfg.FailClosed
	if allowed {
		observability.BudgetChecks.WithLabelValues("failed_open").Inc()
	} else {
		observability.BudgetChecks.WithLabelValues("failed_closed").Inc()
	}
	return types.BudgetStatus{
		Allowed:  allowed,
		Degraded: true,
		Reason:   reason,
	}
}

func (g *Governor) degradedPolicyName() string {
	if g.cfg.FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}

func (g *Governor) countCheck(status types.BudgetStatus) {
	if status.Allowed {
		observability.BudgetChecks.WithLabelValues("allowed").Inc()
	} else {
		observability.BudgetChecks.WithLabelValues("denied").Inc()
	}
}

func (g *Governor) cachedBudget(agentID uuid.UUID) (types.BudgetStatus, bool) {
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()
	entry, ok := g.cache[agentID]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(g.cache, agentID)
		return types.BudgetStatus{}, false
	}
	return entry.status, true
}

func (g *Governor) storeCache(agentID uuid.UUID, status types.BudgetStatus) {
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()
	g.cache[agentID] = cachedStatus{
		status:    status,
		expiresAt: time.Now().Add(g.cfg.CacheTTL),
	}
}

func (g *Governor) invalidate(agentID uuid.UUID) {
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()
	delete(g.cache, agentID)
}

func validateRecord(record *types.CostLog) error {
	if record == nil {
		return fmt.Errorf("%w: nil cost record", apperr.ErrInvalidArgument)
	}
	if strings.TrimSpace(record.CorrelationID) == "" {
		return fmt.Errorf("%w: missing correlation_id", apperr.ErrInvalidArgument)
	}
	if strings.TrimSpace(record.Operation) == "" {
		return fmt.Errorf("%w: missing operation", apperr.ErrInvalidArgument)
	}
	if strings.TrimSpace(record.Provider) == "" {
		return fmt.Errorf("%w: missing provider", apperr.ErrInvalidArgument)
	}
	if strings.TrimSpace(record.Model) == "" {
		return fmt.Errorf("%w: missing model", apperr.ErrInvalidArgument)
	}
	if record.TokensInput < 0 || record.TokensOutput < 0 {
		return fmt.Errorf("%w: negative token counts", apperr.ErrInvalidArgument)
	}
	if record.CostUSD < 0 {
		return fmt.Errorf("%w: negative cost", apperr.ErrInvalidArgument)
	}
	if record.ResponseTimeMs < 0 {
		return fmt.Errorf("%w: negative response time", apperr.ErrInvalidArgument)
	}
	return nil
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
