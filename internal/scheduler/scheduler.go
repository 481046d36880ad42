// Package scheduler drives the liquidation cycle: refresh the queue, audit
// the forecasts, execute the active plans. One goroutine consumes a bounded
// trigger channel, so cycles never overlap; bursts of triggers collapse into
// at most one debounced follow-up cycle.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/executor"
	"solana-liquidator/internal/forecast"
	"solana-liquidator/internal/observability"
	"solana-liquidator/internal/queue"
	"solana-liquidator/internal/refresh"
)

// Trigger names recorded with each cycle.
const (
	TriggerStartup     = "startup"
	TriggerHeartbeat   = "heartbeat"
	TriggerFollowUp    = "follow_up"
	TriggerMaintenance = "maintenance"
)

// CycleExecutor runs the execution pass of one cycle. An error return is a
// defect the process must die on.
type CycleExecutor interface {
	ExecuteCycle(ctx context.Context, cycleID string, plans []*domain.Plan) (executor.Outcome, error)
}

// Retargeter adjusts the stream watch set to the current queue.
type Retargeter interface {
	Retarget(ctx context.Context, plans []*domain.Plan) error
}

// Config tunes the cycle engine.
type Config struct {
	// HeartbeatInterval schedules cycles even with no inbound events.
	HeartbeatInterval time.Duration
	// DebounceDelay spaces the coalesced follow-up cycle from the burst
	// that requested it.
	DebounceDelay time.Duration
	// TopNLog bounds the audit log to the head of the queue.
	TopNLog int
	// RefreshBatchLimit caps rescores per cycle.
	RefreshBatchLimit int
	// CoarseRefreshInterval forces a full-queue rescore on this cadence.
	// Zero disables it.
	CoarseRefreshInterval time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 15 * time.Second,
		DebounceDelay:     200 * time.Millisecond,
		TopNLog:           5,
		RefreshBatchLimit: 25,
	}
}

// Engine is the cycle controller.
type Engine struct {
	queue      *queue.Queue
	evaluator  *forecast.Evaluator
	rescorer   queue.Rescorer
	executor   CycleExecutor
	index      *refresh.MintIndex
	retargeter Retargeter
	cfg        Config
	logger     *zap.Logger

	// trigger has capacity one: the cycle that is queued. Anything beyond
	// that coalesces into the single debounced follow-up.
	trigger  chan string
	running  atomic.Bool
	followUp atomic.Bool

	dirtyMu sync.Mutex
	dirty   map[string]bool

	lastCoarse time.Time
	now        func() time.Time
}

// Options collects the engine's collaborators.
type Options struct {
	Queue      *queue.Queue
	Evaluator  *forecast.Evaluator
	Rescorer   queue.Rescorer
	Executor   CycleExecutor
	Index      *refresh.MintIndex // optional
	Retargeter Retargeter         // optional
	Config     Config
	Logger     *zap.Logger
}

// New creates a cycle engine.
func New(opts Options) *Engine {
	cfg := opts.Config
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultConfig().DebounceDelay
	}
	if cfg.TopNLog <= 0 {
		cfg.TopNLog = DefaultConfig().TopNLog
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		queue:      opts.Queue,
		evaluator:  opts.Evaluator,
		rescorer:   opts.Rescorer,
		executor:   opts.Executor,
		index:      opts.Index,
		retargeter: opts.Retargeter,
		cfg:        cfg,
		logger:     logger,
		trigger:    make(chan string, 1),
		dirty:      make(map[string]bool),
		now:        time.Now,
	}
}

// SetRetargeter installs the watch-set retargeter. The stream manager is
// built after the engine, so this cannot go through Options.
func (e *Engine) SetRetargeter(r Retargeter) {
	e.retargeter = r
}

// MarkDirty queues obligation keys for rescoring in the next cycle.
func (e *Engine) MarkDirty(keys []string) {
	e.dirtyMu.Lock()
	defer e.dirtyMu.Unlock()
	for _, k := range keys {
		e.dirty[k] = true
	}
}

// Trigger requests a cycle. If one is running or already queued, the request
// folds into a single follow-up cycle scheduled after the debounce delay, so
// a burst of events costs one extra cycle, never a backlog.
func (e *Engine) Trigger(trigger string) {
	select {
	case e.trigger <- trigger:
	default:
		observability.RecordCycleCoalesced()
		if e.followUp.CompareAndSwap(false, true) {
			time.AfterFunc(e.cfg.DebounceDelay, func() {
				e.followUp.Store(false)
				select {
				case e.trigger <- TriggerFollowUp:
				default:
				}
			})
		}
	}
}

// Run consumes triggers until the context ends. The heartbeat fires cycles
// with no inbound events. A cycle error returns immediately: execution
// defects kill the process and the supervisor restarts it.
func (e *Engine) Run(ctx context.Context) error {
	heartbeat := time.NewTicker(e.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	if err := e.RunCycle(ctx, TriggerStartup); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case trigger := <-e.trigger:
			if err := e.RunCycle(ctx, trigger); err != nil {
				return err
			}
		case <-heartbeat.C:
			if err := e.RunCycle(ctx, TriggerHeartbeat); err != nil {
				return err
			}
		}
	}
}

// RunCycle executes one cycle: refresh, audit, execute. Concurrent entry is
// skipped and logged; Run's single consumer never hits that path, it guards
// direct callers (cron maintenance, tooling).
func (e *Engine) RunCycle(ctx context.Context, trigger string) error {
	if !e.running.CompareAndSwap(false, true) {
		observability.RecordCycleSkipped()
		e.logger.Warn("cycle already running, skipped", zap.String("trigger", trigger))
		return nil
	}
	defer e.running.Store(false)

	cycleID := uuid.NewString()
	start := e.now()
	nowMs := start.UnixMilli()
	log := e.logger.With(zap.String("cycle_id", cycleID), zap.String("trigger", trigger))

	// 1. Refresh: rescore the flagged subset, downgrade what expired.
	dirty := e.takeDirty()
	if e.coarseDue(start) {
		for _, p := range e.queue.Plans() {
			dirty[p.Obligation] = true
		}
		e.lastCoarse = start
		log.Info("coarse refresh, all plans marked")
	}
	res, err := e.queue.Refresh(ctx, e.evaluator, e.rescorer, dirty, e.cfg.RefreshBatchLimit, nowMs)
	if err != nil {
		observability.RecordCycle(trigger, "error", e.now().Sub(start).Seconds())
		return fmt.Errorf("refresh queue: %w", err)
	}

	// 2. Audit: classify and log the head of the queue.
	plans := e.queue.Plans()
	e.syncIndex(plans)
	active := e.audit(log, plans, nowMs)

	if e.retargeter != nil {
		// Watch-set drift is not fatal; the stream surfaces its own death.
		if err := e.retargeter.Retarget(ctx, plans); err != nil {
			log.Warn("watch set retarget failed", zap.Error(err))
		}
	}

	// 3. Execute. Errors out of here are defects and kill the process.
	out, err := e.executor.ExecuteCycle(ctx, cycleID, active)
	elapsed := e.now().Sub(start)
	if err != nil {
		observability.RecordCycle(trigger, "error", elapsed.Seconds())
		return fmt.Errorf("execute cycle %s: %w", cycleID, err)
	}

	observability.RecordCycle(trigger, "ok", elapsed.Seconds())
	observability.MarkCycleSuccess(float64(e.now().Unix()))
	log.Info("cycle complete",
		zap.Duration("elapsed", elapsed),
		zap.Int("plans", len(plans)),
		zap.Int("active", len(active)),
		zap.Int("rescored", res.Recomputed),
		zap.Int("rescore_failed", res.Failed),
		zap.Int("downgraded", res.Downgraded),
		zap.Int("attempted", out.Attempted),
		zap.Int("confirmed", out.Confirmed),
		zap.Int("healthy", out.Healthy),
		zap.Int("failed", out.Failed))
	return nil
}

// audit classifies every plan and returns the active ones in queue order.
// The head of the queue is logged entry by entry.
func (e *Engine) audit(log *zap.Logger, plans []*domain.Plan, nowMs int64) []*domain.Plan {
	entries := make([]domain.ForecastEntry, len(plans))
	for i, p := range plans {
		entries[i] = p.Forecast()
	}
	verdicts := e.evaluator.Evaluate(entries, nowMs)

	active := make([]*domain.Plan, 0, len(plans))
	eligible := 0
	for i, p := range plans {
		if p.LiquidationEligible {
			eligible++
			if !verdicts[i].Expired {
				active = append(active, p)
			}
		}
		if i < e.cfg.TopNLog {
			log.Info("audit",
				zap.Int("rank", i+1),
				zap.String("obligation", p.Obligation),
				zap.Bool("eligible", p.LiquidationEligible),
				zap.Bool("expired", verdicts[i].Expired),
				zap.String("reason", verdicts[i].Reason),
				zap.Float64("ev", p.EV),
				zap.String("ttl", p.TTLStr),
				zap.Float64("hazard", p.Hazard))
		}
	}
	observability.SetQueueSize(len(plans), eligible)
	return active
}

// syncIndex patches the mint index to the current queue: changed legs are
// re-linked, departed obligations removed.
func (e *Engine) syncIndex(plans []*domain.Plan) {
	if e.index == nil {
		return
	}
	current := make(map[string]bool, len(plans))
	for _, p := range plans {
		current[p.Obligation] = true
		if !sameStrings(e.index.Mints(p.Obligation), p.Mints()) {
			e.index.Patch(p.Obligation, p.Mints())
		}
	}
	for _, key := range e.index.Keys() {
		if !current[key] {
			e.index.Remove(key)
		}
	}
}

func (e *Engine) takeDirty() map[string]bool {
	e.dirtyMu.Lock()
	defer e.dirtyMu.Unlock()
	dirty := e.dirty
	e.dirty = make(map[string]bool)
	return dirty
}

func (e *Engine) coarseDue(now time.Time) bool {
	if e.cfg.CoarseRefreshInterval <= 0 {
		return false
	}
	return now.Sub(e.lastCoarse) >= e.cfg.CoarseRefreshInterval
}

// sameStrings compares as sets; index.Mints returns sorted, p.Mints does not.
func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if !set[s] {
			return false
		}
	}
	return true
}
