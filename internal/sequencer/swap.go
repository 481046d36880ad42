package sequencer

import (
	"context"
	"fmt"

	"solana-liquidator/internal/lending"
	"solana-liquidator/internal/solana"
)

// sizeSwap runs the sequence up to and including liquidate against current
// state and sizes the swap input from the liquidator's collateral-balance
// delta, shaved by the configured haircut. The flash repay is not part of
// the simulated prefix: it can only balance after the swap, which is what
// is being sized.
func (b *Builder) sizeSwap(ctx context.Context, prefix []solana.Instruction, collateralDest string, preBalance uint64, blockhash string) (uint64, error) {
	tx, err := b.compileAndSign(prefix, blockhash)
	if err != nil {
		return 0, fmt.Errorf("swap sizing: %w", err)
	}

	sim, err := b.rpc.SimulateTransaction(ctx, tx.Base64(), &solana.SimulateOpts{
		Accounts: []string{collateralDest},
	})
	if err != nil {
		return 0, fmt.Errorf("swap sizing: simulate: %w", err)
	}
	if sim.Err != nil {
		if b.classifier.ObligationHealthy(sim.Err, sim.Logs) {
			return 0, fmt.Errorf("%w: refused in swap sizing", lending.ErrObligationHealthy)
		}
		return 0, fmt.Errorf("swap sizing: simulation failed: %v (logs: %v)", sim.Err, tailLogs(sim.Logs))
	}

	if len(sim.Accounts) == 0 || sim.Accounts[0] == nil {
		return 0, fmt.Errorf("swap sizing: simulation returned no state for %s", collateralDest)
	}
	postBalance, err := solana.TokenBalance(sim.Accounts[0])
	if err != nil {
		return 0, fmt.Errorf("swap sizing: read post balance: %w", err)
	}
	if postBalance <= preBalance {
		return 0, fmt.Errorf("swap sizing: no collateral delta (pre %d, post %d)", preBalance, postBalance)
	}

	delta := postBalance - preBalance
	sized := applyHaircut(delta, b.cfg.SwapHaircutBps)
	if sized == 0 {
		return 0, fmt.Errorf("swap sizing: delta %d vanishes under %d bps haircut", delta, b.cfg.SwapHaircutBps)
	}
	return sized, nil
}

// applyHaircut shaves bps basis points off amount without overflowing the
// intermediate product.
func applyHaircut(amount, bps uint64) uint64 {
	if bps == 0 {
		return amount
	}
	if bps >= 10000 {
		return 0
	}
	keep := 10000 - bps
	return (amount/10000)*keep + (amount%10000)*keep/10000
}
