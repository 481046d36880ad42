// Package broadcast submits built liquidation transactions with a bounded,
// classified retry loop. Blockhash failures recompile the same instructions
// against a fresh hash; compute failures rebuild with a bumped budget;
// anything else stops the loop. The full ordered attempt history is returned
// regardless of outcome.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/lending"
	"solana-liquidator/internal/observability"
	"solana-liquidator/internal/sequencer"
	"solana-liquidator/internal/solana"
)

// maxComputeUnitLimit is the runtime's per-transaction compute ceiling.
const maxComputeUnitLimit = 1_400_000

// Builder is the sequencer surface the engine drives between attempts.
type Builder interface {
	// Recompile re-signs the same instruction list against a new blockhash.
	Recompile(res *sequencer.BuildResult, blockhash string) (*solana.SignedTransaction, error)
	// Reprice rebuilds the compute directives with a new budget and
	// recompiles against the given blockhash.
	Reprice(res *sequencer.BuildResult, limit uint32, price uint64, blockhash string) (*sequencer.BuildResult, error)
}

// Config tunes the retry engine.
type Config struct {
	// MaxAttempts bounds the total submissions per broadcast, retries
	// included.
	MaxAttempts int
	// ConfirmTimeout bounds the per-attempt confirmation wait.
	ConfirmTimeout time.Duration
	// ConfirmPollInterval paces getSignatureStatuses polling.
	ConfirmPollInterval time.Duration
	// ComputeBumpFactor multiplies the CU limit after compute-exceeded.
	ComputeBumpFactor float64
	// PriceBumpStep adds to the CU price after priority-too-low,
	// micro-lamports per unit.
	PriceBumpStep uint64
	// SkipPreflight submits without the RPC node's preflight simulation.
	// Leaving preflight on lets the healthy-obligation race loss surface
	// before the transaction costs a fee.
	SkipPreflight bool
}

// DefaultConfig returns the retry engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:         2,
		ConfirmTimeout:      30 * time.Second,
		ConfirmPollInterval: 500 * time.Millisecond,
		ComputeBumpFactor:   1.5,
		PriceBumpStep:       10_000,
	}
}

// Result carries the outcome of one broadcast: the ordered attempt history
// and, on success, the confirmed signature.
type Result struct {
	Confirmed bool
	Signature string
	Attempts  []domain.BroadcastAttempt
}

// Engine submits transactions and applies the per-failure-kind retry policy.
type Engine struct {
	rpc        solana.RPCClient
	builder    Builder
	classifier lending.ResultClassifier
	cfg        Config
	logger     *zap.Logger
}

// New wires a retry engine.
func New(rpc solana.RPCClient, builder Builder, classifier lending.ResultClassifier, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = def.ConfirmTimeout
	}
	if cfg.ConfirmPollInterval <= 0 {
		cfg.ConfirmPollInterval = def.ConfirmPollInterval
	}
	if cfg.ComputeBumpFactor <= 1 {
		cfg.ComputeBumpFactor = def.ComputeBumpFactor
	}
	if cfg.PriceBumpStep == 0 {
		cfg.PriceBumpStep = def.PriceBumpStep
	}
	return &Engine{rpc: rpc, builder: builder, classifier: classifier, cfg: cfg, logger: logger}
}

// Broadcast submits the artifact and retries per the classified policy until
// confirmation, a non-retryable failure, or the attempt bound. The returned
// result is never nil: it carries the ordered attempt history even when the
// final error is non-nil. A healthy obligation surfaces as
// lending.ErrObligationHealthy and is never retried.
func (e *Engine) Broadcast(ctx context.Context, cycleID string, res *sequencer.BuildResult) (*Result, error) {
	result := &Result{}
	current := res
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		rec := domain.BroadcastAttempt{
			AttemptID:   uuid.NewString(),
			CycleID:     cycleID,
			Obligation:  current.Obligation,
			Attempt:     attempt,
			Blockhash:   current.Blockhash,
			CULimit:     current.CULimit,
			CUPrice:     current.CUPrice,
			TxBytes:     current.Tx.Size(),
			SubmittedAt: time.Now().UnixMilli(),
		}
		start := time.Now()

		var failure error
		sig, sendErr := e.rpc.SendTransaction(ctx, current.Tx.Base64(), &solana.SendOpts{
			SkipPreflight: e.cfg.SkipPreflight,
		})
		switch {
		case sendErr != nil && e.healthyPreflight(sendErr):
			rec.DurationMs = time.Since(start).Milliseconds()
			rec.Failure = domain.FailureOther
			rec.Err = sendErr.Error()
			result.Attempts = append(result.Attempts, rec)
			observability.RecordBroadcastAttempt(string(domain.FailureOther), time.Since(start).Seconds())
			e.logger.Info("obligation healthy at preflight",
				zap.String("obligation", current.Obligation),
				zap.Int("attempt", attempt))
			return result, fmt.Errorf("%w: obligation %s", lending.ErrObligationHealthy, current.Obligation)
		case sendErr != nil:
			failure = sendErr
		default:
			rec.Signature = sig
			failure = e.awaitConfirmation(ctx, sig)
		}
		rec.DurationMs = time.Since(start).Milliseconds()

		if failure == nil {
			rec.Confirmed = true
			result.Attempts = append(result.Attempts, rec)
			result.Confirmed = true
			result.Signature = sig
			observability.RecordBroadcastAttempt("confirmed", time.Since(start).Seconds())
			e.logger.Info("broadcast confirmed",
				zap.String("obligation", current.Obligation),
				zap.String("signature", sig),
				zap.Int("attempt", attempt),
				zap.Int64("duration_ms", rec.DurationMs))
			return result, nil
		}

		kind := Classify(failure)
		rec.Failure = kind
		rec.Err = failure.Error()
		result.Attempts = append(result.Attempts, rec)
		observability.RecordBroadcastAttempt(string(kind), time.Since(start).Seconds())
		lastErr = failure

		e.logger.Warn("broadcast attempt failed",
			zap.String("obligation", current.Obligation),
			zap.Int("attempt", attempt),
			zap.String("kind", string(kind)),
			zap.Error(failure))

		if !kind.Retryable() || attempt == e.cfg.MaxAttempts {
			break
		}

		next, err := e.adjust(ctx, current, kind)
		if err != nil {
			return result, fmt.Errorf("prepare retry after %s: %w", kind, err)
		}
		current = next
	}

	return result, fmt.Errorf("broadcast failed (%d attempts): %w", len(result.Attempts), lastErr)
}

// SendAndConfirm submits one auxiliary transaction and waits for confirmed
// commitment. Used for the separate setup transaction in partial mode; the
// classified retry policy does not apply here.
func (e *Engine) SendAndConfirm(ctx context.Context, tx *solana.SignedTransaction) (string, error) {
	sig, err := e.rpc.SendTransaction(ctx, tx.Base64(), &solana.SendOpts{SkipPreflight: e.cfg.SkipPreflight})
	if err != nil {
		return "", err
	}
	if err := e.awaitConfirmation(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// healthyPreflight reports whether the send was rejected because the
// obligation is no longer liquidatable.
func (e *Engine) healthyPreflight(sendErr error) bool {
	var rpcErr *solana.RPCError
	if !errors.As(sendErr, &rpcErr) {
		return false
	}
	sim, ok := rpcErr.SimulationFailure()
	if !ok {
		return false
	}
	return e.classifier.ObligationHealthy(sim.Err, sim.Logs)
}

// awaitConfirmation polls signature status until confirmed commitment, an
// on-chain error, or the configured deadline.
func (e *Engine) awaitConfirmation(ctx context.Context, signature string) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		statuses, err := e.rpc.GetSignatureStatuses(ctx, []string{signature})
		if err != nil {
			return fmt.Errorf("signature status: %w", err)
		}
		if len(statuses) > 0 && statuses[0] != nil {
			st := statuses[0]
			if st.Err != nil {
				return fmt.Errorf("transaction failed on chain: %v", st.Err)
			}
			if st.Confirmed() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation wait: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// adjust maps a retryable failure kind onto the recovery rebuild: blockhash
// kinds recompile the same instructions, budget kinds reprice them. Every
// path picks up a fresh blockhash.
func (e *Engine) adjust(ctx context.Context, res *sequencer.BuildResult, kind domain.FailureKind) (*sequencer.BuildResult, error) {
	hash, err := e.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh blockhash: %w", err)
	}

	switch kind {
	case domain.FailureBlockhashExpired, domain.FailureBlockhashNotFound:
		tx, err := e.builder.Recompile(res, hash.Blockhash)
		if err != nil {
			return nil, err
		}
		next := *res
		next.Tx = tx
		next.Blockhash = hash.Blockhash
		next.LastValidBlockHeight = hash.LastValidBlockHeight
		return &next, nil
	case domain.FailureComputeExceeded:
		return e.builder.Reprice(res, bumpLimit(res.CULimit, e.cfg.ComputeBumpFactor), res.CUPrice, hash.Blockhash)
	case domain.FailurePriorityTooLow:
		return e.builder.Reprice(res, res.CULimit, res.CUPrice+e.cfg.PriceBumpStep, hash.Blockhash)
	}
	return nil, fmt.Errorf("no retry policy for %s", kind)
}

// bumpLimit scales the CU limit, clamped to the runtime ceiling. A zero
// limit (compute directives were dropped) restarts from the ceiling.
func bumpLimit(limit uint32, factor float64) uint32 {
	if limit == 0 {
		return maxComputeUnitLimit
	}
	bumped := uint64(float64(limit) * factor)
	if bumped > maxComputeUnitLimit {
		bumped = maxComputeUnitLimit
	}
	return uint32(bumped)
}
