package lending

import "solana-liquidator/internal/solana"

// InstructionFactory encodes protocol actions into byte-exact instructions.
// The sequencer treats every returned instruction as opaque and reasons only
// about ordering through the Labeler.
type InstructionFactory interface {
	// ComputeBudget returns the compute directives for the transaction.
	// A zero limit or price omits the corresponding directive.
	ComputeBudget(limit uint32, price uint64) []solana.Instruction

	FlashBorrow(p FlashBorrowParams) (solana.Instruction, error)
	FlashRepay(p FlashRepayParams) (solana.Instruction, error)
	RefreshReserve(p RefreshReserveParams) (solana.Instruction, error)
	RefreshFarms(p RefreshFarmsParams) (solana.Instruction, error)
	RefreshObligation(p RefreshObligationParams) (solana.Instruction, error)
	Liquidate(p LiquidateParams) (solana.Instruction, error)
	Swap(p SwapParams) (solana.Instruction, error)
	CreateTokenAccount(p CreateTokenAccountParams) (solana.Instruction, error)

	// HasFarm reports whether liquidating against this collateral reserve
	// requires a farm-refresh instruction.
	HasFarm(reserve string) bool
}

// Labeler decodes a compiled instruction back to its semantic label, for
// post-compile sequence validation. Unrecognized instructions map to
// LabelUnknown.
type Labeler interface {
	Label(ix solana.CompiledInstruction) Label
}

// ResultClassifier interprets protocol-level failures out of simulation or
// execution results. Rejection codes shift across protocol upgrades, so the
// mapping is centralized here rather than spread over callers.
type ResultClassifier interface {
	// ObligationHealthy reports whether the failure is the protocol refusing
	// to liquidate a position that is no longer under water.
	ObligationHealthy(txErr interface{}, logs []string) bool
}
