// Package sequencer assembles liquidation transactions in the protocol's
// mandated instruction order and refuses to hand over anything that fails
// post-compile validation.
package sequencer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/lending"
	"solana-liquidator/internal/solana"
)

// ErrIncompletePlan marks a plan missing the fields a build needs. Expected
// and non-retryable: the plan is skipped for the cycle, not destroyed.
var ErrIncompletePlan = errors.New("plan incomplete")

// Build modes.
const (
	// ModeMain is a single transaction; every token account already exists.
	ModeMain = "main"
	// ModeAtomic folds idempotent token-account setup into the transaction,
	// shifting the flash pair's self-referential index.
	ModeAtomic = "atomic"
	// ModePartial carries the setup group in a separate leading transaction.
	ModePartial = "partial"
)

// Config tunes the builder.
type Config struct {
	// AtomicSetup folds token-account setup into the main transaction.
	// When false, setup ships as a separate leading transaction.
	AtomicSetup bool
	// SwapHaircutBps shaves the simulated collateral delta before sizing
	// the swap input.
	SwapHaircutBps uint64
	// SimulateBuilds runs the finished transaction through simulation
	// before it is handed over. Skipped in partial mode, where the main
	// transaction depends on the setup transaction having landed.
	SimulateBuilds bool
}

// DefaultConfig returns the builder defaults.
func DefaultConfig() Config {
	return Config{
		AtomicSetup:    true,
		SwapHaircutBps: 50,
		SimulateBuilds: true,
	}
}

// BuildOptions select the sequence profile for one build. The zero value is
// the full sequence; the presubmit ladder flips the switches one by one when
// a transaction exceeds the wire-size limit.
type BuildOptions struct {
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64
	// DropComputeBudget omits the compute directives entirely.
	DropComputeBudget bool
	// DropFarmRefresh omits the optional farm refresh even when the
	// collateral reserve carries a farm.
	DropFarmRefresh bool
	// NarrowPreRefresh pre-refreshes only the repay reserve. The post
	// phase always keeps both reserves; the liquidate window depends on it.
	NarrowPreRefresh bool
}

// BuildResult is one ready-to-broadcast artifact plus everything the retry
// engine needs to recompile or re-budget it without rebuilding from scratch.
type BuildResult struct {
	Obligation string
	Mode       string

	Setup *solana.SignedTransaction // partial mode only
	Tx    *solana.SignedTransaction

	// Instructions is the full main-transaction list: compute directives,
	// then the setup group (atomic mode), then the flash-loan body.
	Instructions []solana.Instruction
	ComputeCount int // leading compute-budget directives
	SetupCount   int // setup instructions inside the main transaction

	// FlashRepay re-encodes the closing instruction when the index of the
	// flash borrow shifts (compute directives added or removed).
	FlashRepay lending.FlashRepayParams

	CULimit              uint32
	CUPrice              uint64
	Blockhash            string
	LastValidBlockHeight uint64
	LiquidateIndex       int
	SwapIn               uint64 // sized swap input, 0 when mints match
	UnitsConsumed        uint64 // from the build simulation, 0 if skipped
	HasFarmRefresh       bool
}

// Builder assembles, signs and validates liquidation transactions for one
// liquidator keypair.
type Builder struct {
	rpc        solana.RPCClient
	factory    lending.InstructionFactory
	labeler    lending.Labeler
	classifier lending.ResultClassifier
	signer     *solana.Keypair
	cfg        Config
	logger     *zap.Logger
}

// NewBuilder wires a builder.
func NewBuilder(
	rpc solana.RPCClient,
	factory lending.InstructionFactory,
	labeler lending.Labeler,
	classifier lending.ResultClassifier,
	signer *solana.Keypair,
	cfg Config,
	logger *zap.Logger,
) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SwapHaircutBps >= 10000 {
		cfg.SwapHaircutBps = 9999
	}
	return &Builder{
		rpc:        rpc,
		factory:    factory,
		labeler:    labeler,
		classifier: classifier,
		signer:     signer,
		cfg:        cfg,
		logger:     logger,
	}
}

// Build assembles the canonical sequence for one plan, sizes the swap by
// simulation when the mints differ, compiles, signs and validates. The
// returned transaction has already passed the label-window check.
func (b *Builder) Build(ctx context.Context, plan *domain.Plan, opts BuildOptions) (*BuildResult, error) {
	if !plan.Complete() {
		return nil, fmt.Errorf("%w: obligation %s", ErrIncompletePlan, plan.Obligation)
	}

	liquidator := b.signer.Pubkey()
	repaySource, err := solana.DeriveAssociatedTokenAccount(liquidator, plan.RepayMint)
	if err != nil {
		return nil, fmt.Errorf("derive repay account: %w", err)
	}
	collateralDest, err := solana.DeriveAssociatedTokenAccount(liquidator, plan.CollateralMint)
	if err != nil {
		return nil, fmt.Errorf("derive collateral account: %w", err)
	}

	infos, err := b.rpc.GetMultipleAccounts(ctx, []string{repaySource, collateralDest})
	if err != nil {
		return nil, fmt.Errorf("check token accounts: %w", err)
	}

	setup, err := b.setupGroup(plan, liquidator, infos)
	if err != nil {
		return nil, err
	}

	hash, err := b.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash: %w", err)
	}

	mode := ModeMain
	setupInMain := 0
	if len(setup) > 0 {
		if b.cfg.AtomicSetup {
			mode = ModeAtomic
			setupInMain = len(setup)
		} else {
			mode = ModePartial
		}
	}

	seq, err := b.assemble(plan, opts, liquidator, repaySource, collateralDest, setupInMain)
	if err != nil {
		return nil, err
	}

	// Swap sizing needs the on-chain flow up to and including liquidate.
	// The simulated prefix always folds the setup group in, whatever the
	// mode, so the measured delta reflects a world where the accounts exist.
	needSwap := plan.CollateralMint != plan.RepayMint
	var swapIn uint64
	if needSwap {
		prefix := make([]solana.Instruction, 0, len(seq.compute)+len(setup)+len(seq.body))
		prefix = append(prefix, seq.compute...)
		prefix = append(prefix, setup...)
		prefix = append(prefix, seq.body[:seq.liquidatePos+1]...)

		preBalance := tokenBalanceOrZero(infos[1])
		swapIn, err = b.sizeSwap(ctx, prefix, collateralDest, preBalance, hash.Blockhash)
		if err != nil {
			return nil, err
		}

		swapIx, err := b.factory.Swap(lending.SwapParams{
			InMint:       plan.CollateralMint,
			OutMint:      plan.RepayMint,
			AmountIn:     swapIn,
			MinAmountOut: plan.RepayAmount,
			Source:       collateralDest,
			Destination:  repaySource,
			Authority:    liquidator,
		})
		if err != nil {
			return nil, fmt.Errorf("encode swap: %w", err)
		}
		seq.insertSwap(swapIx)
	}

	// Assemble the main transaction and close the flash pair against the
	// final borrow position.
	borrowIndex := len(seq.compute) + setupInMain
	repayParams := lending.FlashRepayParams{
		Reserve:                plan.RepayReservePubkey,
		Amount:                 plan.RepayAmount,
		Source:                 repaySource,
		Authority:              liquidator,
		BorrowInstructionIndex: uint8(borrowIndex),
	}
	repayIx, err := b.factory.FlashRepay(repayParams)
	if err != nil {
		return nil, fmt.Errorf("encode flash repay: %w", err)
	}

	main := make([]solana.Instruction, 0, len(seq.compute)+setupInMain+len(seq.body)+1)
	main = append(main, seq.compute...)
	if setupInMain > 0 {
		main = append(main, setup...)
	}
	main = append(main, seq.body...)
	main = append(main, repayIx)

	tx, err := b.compileAndSign(main, hash.Blockhash)
	if err != nil {
		return nil, err
	}

	check, err := ValidateSequence(tx.Raw, b.labeler, seq.hasFarm)
	if err != nil {
		return nil, err
	}

	res := &BuildResult{
		Obligation:           plan.Obligation,
		Mode:                 mode,
		Tx:                   tx,
		Instructions:         main,
		ComputeCount:         len(seq.compute),
		SetupCount:           setupInMain,
		FlashRepay:           repayParams,
		CULimit:              effectiveLimit(opts),
		CUPrice:              effectivePrice(opts),
		Blockhash:            hash.Blockhash,
		LastValidBlockHeight: hash.LastValidBlockHeight,
		LiquidateIndex:       check.LiquidateIndex,
		SwapIn:               swapIn,
		HasFarmRefresh:       seq.hasFarm,
	}

	if mode == ModePartial {
		setupTx, err := b.compileAndSign(setup, hash.Blockhash)
		if err != nil {
			return nil, fmt.Errorf("compile setup transaction: %w", err)
		}
		res.Setup = setupTx
	}

	if b.cfg.SimulateBuilds && mode != ModePartial {
		sim, err := b.rpc.SimulateTransaction(ctx, tx.Base64(), &solana.SimulateOpts{})
		if err != nil {
			return nil, fmt.Errorf("simulate build: %w", err)
		}
		if sim.Err != nil {
			if b.classifier.ObligationHealthy(sim.Err, sim.Logs) {
				return nil, fmt.Errorf("%w: obligation %s", lending.ErrObligationHealthy, plan.Obligation)
			}
			return nil, fmt.Errorf("build simulation failed: %v (logs: %v)", sim.Err, tailLogs(sim.Logs))
		}
		res.UnitsConsumed = sim.UnitsConsumed
	}

	b.logger.Debug("sequence built",
		zap.String("obligation", plan.Obligation),
		zap.String("mode", mode),
		zap.Int("instructions", len(main)),
		zap.Int("tx_bytes", tx.Size()),
		zap.Uint64("swap_in", swapIn))
	return res, nil
}

// Recompile re-signs the same instruction list against a new blockhash.
// Used by the retry engine when the blockhash went stale: the sequence is
// unchanged, so validation cannot newly fail, but it runs anyway.
func (b *Builder) Recompile(res *BuildResult, blockhash string) (*solana.SignedTransaction, error) {
	tx, err := b.compileAndSign(res.Instructions, blockhash)
	if err != nil {
		return nil, err
	}
	if _, err := ValidateSequence(tx.Raw, b.labeler, res.HasFarmRefresh); err != nil {
		return nil, err
	}
	return tx, nil
}

// Reprice rebuilds the compute directives with a new budget and recompiles.
// The directive count can change, which shifts the flash borrow's position,
// so the closing flash repay is re-encoded against the new index.
func (b *Builder) Reprice(res *BuildResult, limit uint32, price uint64, blockhash string) (*BuildResult, error) {
	compute := []solana.Instruction(nil)
	if limit > 0 || price > 0 {
		compute = b.factory.ComputeBudget(limit, price)
	}

	borrowIndex := len(compute) + res.SetupCount
	repayParams := res.FlashRepay
	repayParams.BorrowInstructionIndex = uint8(borrowIndex)
	repayIx, err := b.factory.FlashRepay(repayParams)
	if err != nil {
		return nil, fmt.Errorf("re-encode flash repay: %w", err)
	}

	body := res.Instructions[res.ComputeCount:]
	main := make([]solana.Instruction, 0, len(compute)+len(body))
	main = append(main, compute...)
	main = append(main, body[:len(body)-1]...)
	main = append(main, repayIx)

	tx, err := b.compileAndSign(main, blockhash)
	if err != nil {
		return nil, err
	}
	check, err := ValidateSequence(tx.Raw, b.labeler, res.HasFarmRefresh)
	if err != nil {
		return nil, err
	}

	out := *res
	out.Tx = tx
	out.Instructions = main
	out.ComputeCount = len(compute)
	out.FlashRepay = repayParams
	out.CULimit = limit
	out.CUPrice = price
	out.Blockhash = blockhash
	out.LiquidateIndex = check.LiquidateIndex
	return &out, nil
}

// sequence is the assembled flash-loan body before the closing repay.
type sequence struct {
	compute      []solana.Instruction
	body         []solana.Instruction // flash borrow through liquidate (+ swap)
	liquidatePos int                  // index within body
	hasFarm      bool
}

func (s *sequence) insertSwap(ix solana.Instruction) {
	s.body = append(s.body, ix)
}

// assemble builds the canonical order for one plan:
// compute budget, flash borrow, pre-refresh repay, pre-refresh collateral,
// optional farm refresh, obligation refresh, post-refresh repay,
// post-refresh collateral, liquidate. Swap and flash repay are appended by
// the caller once the swap is sized.
func (b *Builder) assemble(plan *domain.Plan, opts BuildOptions, liquidator, repaySource, collateralDest string, setupCount int) (*sequence, error) {
	seq := &sequence{}
	if !opts.DropComputeBudget {
		seq.compute = b.factory.ComputeBudget(opts.ComputeUnitLimit, opts.ComputeUnitPrice)
	}

	borrowIx, err := b.factory.FlashBorrow(lending.FlashBorrowParams{
		Reserve:     plan.RepayReservePubkey,
		Amount:      plan.RepayAmount,
		Destination: repaySource,
		Authority:   liquidator,
	})
	if err != nil {
		return nil, fmt.Errorf("encode flash borrow: %w", err)
	}
	seq.body = append(seq.body, borrowIx)

	preReserves := []string{plan.RepayReservePubkey, plan.CollateralReservePubkey}
	if opts.NarrowPreRefresh {
		preReserves = preReserves[:1]
	}
	for _, r := range preReserves {
		ix, err := b.factory.RefreshReserve(lending.RefreshReserveParams{Reserve: r})
		if err != nil {
			return nil, fmt.Errorf("encode pre-refresh %s: %w", r, err)
		}
		seq.body = append(seq.body, ix)
	}

	if !opts.DropFarmRefresh && b.factory.HasFarm(plan.CollateralReservePubkey) {
		ix, err := b.factory.RefreshFarms(lending.RefreshFarmsParams{
			Obligation: plan.Obligation,
			Reserve:    plan.CollateralReservePubkey,
			Authority:  liquidator,
		})
		if err != nil {
			return nil, fmt.Errorf("encode farm refresh: %w", err)
		}
		seq.body = append(seq.body, ix)
		seq.hasFarm = true
	}

	aux := plan.AuxReserves()
	if len(aux) == 0 {
		// Plans recorded before the obligation legs were persisted still
		// need a non-empty reserve set; the known pair is the floor.
		aux = dedup(plan.RepayReservePubkey, plan.CollateralReservePubkey)
	}
	obligationIx, err := b.factory.RefreshObligation(lending.RefreshObligationParams{
		Obligation:  plan.Obligation,
		AuxReserves: aux,
	})
	if err != nil {
		return nil, fmt.Errorf("encode obligation refresh: %w", err)
	}
	seq.body = append(seq.body, obligationIx)

	for _, r := range []string{plan.RepayReservePubkey, plan.CollateralReservePubkey} {
		ix, err := b.factory.RefreshReserve(lending.RefreshReserveParams{Reserve: r})
		if err != nil {
			return nil, fmt.Errorf("encode post-refresh %s: %w", r, err)
		}
		seq.body = append(seq.body, ix)
	}

	liquidateIx, err := b.factory.Liquidate(lending.LiquidateParams{
		Obligation:        plan.Obligation,
		RepayReserve:      plan.RepayReservePubkey,
		CollateralReserve: plan.CollateralReservePubkey,
		Liquidator:        liquidator,
		RepaySource:       repaySource,
		CollateralDest:    collateralDest,
		Amount:            plan.RepayAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("encode liquidate: %w", err)
	}
	seq.body = append(seq.body, liquidateIx)
	seq.liquidatePos = len(seq.body) - 1
	return seq, nil
}

// setupGroup returns idempotent create instructions for the liquidator token
// accounts that do not exist yet. infos is parallel to
// [repaySource, collateralDest].
func (b *Builder) setupGroup(plan *domain.Plan, liquidator string, infos []*solana.AccountInfo) ([]solana.Instruction, error) {
	mints := []string{plan.RepayMint, plan.CollateralMint}
	var setup []solana.Instruction
	for i, info := range infos {
		if info != nil {
			continue
		}
		if i > 0 && mints[i] == mints[0] {
			continue
		}
		ix, err := b.factory.CreateTokenAccount(lending.CreateTokenAccountParams{
			Payer: liquidator,
			Owner: liquidator,
			Mint:  mints[i],
		})
		if err != nil {
			return nil, fmt.Errorf("encode token account setup: %w", err)
		}
		setup = append(setup, ix)
	}
	return setup, nil
}

func (b *Builder) compileAndSign(instructions []solana.Instruction, blockhash string) (*solana.SignedTransaction, error) {
	msg, err := solana.CompileMessage(b.signer.Pubkey(), blockhash, instructions)
	if err != nil {
		return nil, fmt.Errorf("compile message: %w", err)
	}
	tx, err := solana.SignTransaction(msg, b.signer)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}

func effectiveLimit(opts BuildOptions) uint32 {
	if opts.DropComputeBudget {
		return 0
	}
	return opts.ComputeUnitLimit
}

func effectivePrice(opts BuildOptions) uint64 {
	if opts.DropComputeBudget {
		return 0
	}
	return opts.ComputeUnitPrice
}

func dedup(keys ...string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func tokenBalanceOrZero(info *solana.AccountInfo) uint64 {
	balance, err := solana.TokenBalance(info)
	if err != nil {
		return 0
	}
	return balance
}

func tailLogs(logs []string) []string {
	const keep = 6
	if len(logs) <= keep {
		return logs
	}
	return logs[len(logs)-keep:]
}
