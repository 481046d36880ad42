// Package executor runs the execution pass of one scheduler cycle: for each
// active plan it pulls a presubmit artifact, broadcasts it through the retry
// engine and settles the queue on confirmation. Expected race losses skip the
// plan; build defects abort the cycle.
package executor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"solana-liquidator/internal/broadcast"
	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/lending"
	"solana-liquidator/internal/observability"
	"solana-liquidator/internal/presubmit"
	"solana-liquidator/internal/queue"
	"solana-liquidator/internal/sequencer"
	"solana-liquidator/internal/solana"
	"solana-liquidator/internal/storage"
)

// Config tunes the execution pass.
type Config struct {
	// MaxPlansPerCycle caps liquidation attempts per cycle. Zero means
	// every active plan.
	MaxPlansPerCycle int
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{MaxPlansPerCycle: 4}
}

// Outcome summarizes one execution pass.
type Outcome struct {
	Attempted int // plans that reached the build/broadcast path
	Confirmed int // liquidations confirmed and dropped from the queue
	Healthy   int // race losses, plan retained
	Skipped   int // ineligible or incomplete plans
	Failed    int // transient failures, plan retained
}

// Executor drives presubmit, broadcast and queue settlement for one cycle.
type Executor struct {
	rpc      solana.RPCClient
	cache    *presubmit.Cache
	engine   *broadcast.Engine
	queue    *queue.Queue
	attempts storage.AttemptStore
	cfg      Config
	logger   *zap.Logger
}

// New wires an executor. The attempt store may be nil; history is then
// dropped.
func New(
	rpc solana.RPCClient,
	cache *presubmit.Cache,
	engine *broadcast.Engine,
	q *queue.Queue,
	attempts storage.AttemptStore,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		rpc:      rpc,
		cache:    cache,
		engine:   engine,
		queue:    q,
		attempts: attempts,
		cfg:      cfg,
		logger:   logger,
	}
}

// ExecuteCycle runs the execution pass over the given plans, highest
// priority first. It reads the chain head once, sweeps stale presubmit
// entries against it and then works the plans. The returned error is
// non-nil only for defects that must stop the process.
func (x *Executor) ExecuteCycle(ctx context.Context, cycleID string, plans []*domain.Plan) (Outcome, error) {
	var out Outcome

	head, err := x.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return out, fmt.Errorf("read chain head: %w", err)
	}
	x.cache.Sweep(head.Blockhash)

	for _, plan := range plans {
		if !plan.LiquidationEligible || !plan.Complete() {
			out.Skipped++
			continue
		}
		if x.cfg.MaxPlansPerCycle > 0 && out.Attempted >= x.cfg.MaxPlansPerCycle {
			break
		}
		out.Attempted++

		err := x.executeOne(ctx, cycleID, plan, head.Blockhash)
		switch {
		case err == nil:
			out.Confirmed++
		case errors.Is(err, lending.ErrObligationHealthy):
			out.Healthy++
			x.logger.Info("plan skipped, obligation healthy",
				zap.String("obligation", plan.Obligation))
		case errors.Is(err, sequencer.ErrIncompletePlan):
			out.Skipped++
			x.logger.Warn("plan skipped, incomplete",
				zap.String("obligation", plan.Obligation))
		case isBuildDefect(err):
			return out, fmt.Errorf("build defect for %s: %w", plan.Obligation, err)
		case ctx.Err() != nil:
			return out, ctx.Err()
		default:
			out.Failed++
			x.logger.Warn("execution failed, plan retained",
				zap.String("obligation", plan.Obligation),
				zap.Error(err))
		}
	}

	return out, nil
}

// executeOne takes one plan through presubmit, broadcast and settlement.
func (x *Executor) executeOne(ctx context.Context, cycleID string, plan *domain.Plan, blockhash string) error {
	entry, cached, err := x.cache.GetOrBuild(ctx, plan, blockhash)
	if err != nil {
		return err
	}
	res := entry.Result

	// Partial mode: the main transaction's accounts only exist once the
	// setup transaction lands.
	if res.Mode == sequencer.ModePartial && res.Setup != nil {
		sig, err := x.engine.SendAndConfirm(ctx, res.Setup)
		if err != nil {
			return fmt.Errorf("setup transaction: %w", err)
		}
		x.logger.Info("setup transaction confirmed",
			zap.String("obligation", plan.Obligation),
			zap.String("signature", sig))
	}

	bres, err := x.engine.Broadcast(ctx, cycleID, res)
	x.persistAttempts(ctx, bres)
	if err != nil {
		return err
	}

	x.cache.Invalidate(plan.Obligation)
	if _, err := x.queue.Drop(ctx, plan.Obligation); err != nil {
		return fmt.Errorf("drop liquidated plan: %w", err)
	}
	observability.RecordLiquidationConfirmed()
	x.logger.Info("liquidation confirmed",
		zap.String("obligation", plan.Obligation),
		zap.String("signature", bres.Signature),
		zap.Bool("cached_artifact", cached),
		zap.Int("attempts", len(bres.Attempts)),
		zap.Float64("ev", plan.EV))
	return nil
}

// persistAttempts records the attempt history. History is diagnostic; a
// store outage must not stop the execution pass.
func (x *Executor) persistAttempts(ctx context.Context, res *broadcast.Result) {
	if x.attempts == nil || res == nil || len(res.Attempts) == 0 {
		return
	}
	records := make([]*domain.BroadcastAttempt, len(res.Attempts))
	for i := range res.Attempts {
		records[i] = &res.Attempts[i]
	}
	if err := x.attempts.InsertBulk(ctx, records); err != nil {
		x.logger.Warn("persist broadcast attempts", zap.Error(err))
	}
}

// isBuildDefect reports whether the error is a logic or config bug that must
// stop the process rather than be retried.
func isBuildDefect(err error) bool {
	var ve *sequencer.ValidationError
	var se *presubmit.SizeExhaustedError
	return errors.As(err, &ve) || errors.As(err, &se)
}
