package lending

// FlashBorrowParams sizes an uncollateralized same-transaction borrow from
// the repay-side reserve.
type FlashBorrowParams struct {
	Reserve     string // reserve lent against
	Amount      uint64 // native units of the reserve's liquidity mint
	Destination string // liquidator token account receiving the borrow
	Authority   string // liquidator pubkey, transaction signer
}

// FlashRepayParams returns the flash borrow inside the same transaction.
type FlashRepayParams struct {
	Reserve   string
	Amount    uint64
	Source    string // liquidator token account funding the repayment
	Authority string
	// BorrowInstructionIndex is the transaction-level index of the matching
	// flash-borrow instruction. The protocol verifies the pairing, so the
	// index must account for every instruction ahead of the borrow.
	BorrowInstructionIndex uint8
}

// RefreshReserveParams refreshes one reserve's accrued interest and prices.
type RefreshReserveParams struct {
	Reserve string
}

// RefreshFarmsParams refreshes the farm user state tied to an obligation's
// position in one reserve. Only reserves with a configured farm need it.
type RefreshFarmsParams struct {
	Obligation string
	Reserve    string
	Authority  string // crank payer, the liquidator here
}

// RefreshObligationParams recomputes an obligation's aggregate values.
type RefreshObligationParams struct {
	Obligation string
	// AuxReserves is the deduplicated reserve set backing the obligation:
	// deposits' reserves in order, then borrows' reserves in order. Omitting
	// or emptying it triggers the protocol's invalid-account-input rejection.
	AuxReserves []string
}

// LiquidateParams repays debt and seizes collateral in one instruction.
type LiquidateParams struct {
	Obligation        string
	RepayReserve      string
	CollateralReserve string
	Liquidator        string // signer
	RepaySource       string // liquidator token account the debt is repaid from
	CollateralDest    string // liquidator token account receiving seized liquidity
	Amount            uint64 // debt to repay, native units
	MinAcceptable     uint64 // floor on received liquidity, native units
}

// SwapParams converts seized collateral back into the repay asset so the
// flash loan can be settled. Only used when the two mints differ.
type SwapParams struct {
	InMint       string
	OutMint      string
	AmountIn     uint64
	MinAmountOut uint64
	Source       string // liquidator token account holding InMint
	Destination  string // liquidator token account receiving OutMint
	Authority    string
}

// CreateTokenAccountParams creates the liquidator's associated token account
// for a mint if it does not exist yet. Idempotent.
type CreateTokenAccountParams struct {
	Payer string // fee payer and signer
	Owner string // token account owner
	Mint  string
}
