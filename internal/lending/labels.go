package lending

// Label is the semantic name of one instruction in a liquidation sequence.
// The sequencer orders and validates by label only; the byte encoding behind
// each label belongs to the instruction factory.
type Label string

const (
	LabelComputeBudget      Label = "compute_budget"
	LabelCreateTokenAccount Label = "create_token_account"
	LabelFlashBorrow        Label = "flash_borrow"
	LabelFlashRepay         Label = "flash_repay"
	LabelRefreshReserve     Label = "refresh_reserve"
	LabelRefreshFarms       Label = "refresh_farms"
	LabelRefreshObligation  Label = "refresh_obligation"
	LabelLiquidate          Label = "liquidate"
	LabelSwap               Label = "swap"
	LabelUnknown            Label = "unknown"
)

func (l Label) String() string {
	return string(l)
}
