package klend

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"solana-liquidator/internal/lending"
	"solana-liquidator/internal/solana"
)

// Factory encodes lending-protocol instructions against one market layout.
// Methods are anchor-style: an 8-byte sha256("global:<method>") discriminator
// followed by little-endian arguments.
type Factory struct {
	cfg  *MarketConfig
	disc map[lending.Label][]byte
}

// NewFactory builds a factory over a validated market layout.
func NewFactory(cfg *MarketConfig) *Factory {
	f := &Factory{cfg: cfg, disc: make(map[lending.Label][]byte, 6)}
	for label, method := range map[lending.Label]string{
		lending.LabelRefreshReserve:    "refresh_reserve",
		lending.LabelRefreshFarms:      "refresh_obligation_farms_for_reserve",
		lending.LabelRefreshObligation: "refresh_obligation",
		lending.LabelLiquidate:         "liquidate_obligation_and_redeem_reserve_collateral",
		lending.LabelFlashBorrow:       "flash_borrow_reserve_liquidity",
		lending.LabelFlashRepay:        "flash_repay_reserve_liquidity",
	} {
		f.disc[label] = anchorDiscriminator(method)
	}
	return f
}

// anchorDiscriminator derives the 8-byte method discriminator.
func anchorDiscriminator(method string) []byte {
	sum := sha256.Sum256([]byte("global:" + method))
	return sum[:8]
}

// data assembles discriminator + arguments into a fresh buffer.
func (f *Factory) data(label lending.Label, args ...[]byte) []byte {
	out := make([]byte, 0, 8+24)
	out = append(out, f.disc[label]...)
	for _, a := range args {
		out = append(out, a...)
	}
	return out
}

func u64le(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func (f *Factory) reserve(address string) (*ReserveConfig, error) {
	r, ok := f.cfg.Reserve(address)
	if !ok {
		return nil, fmt.Errorf("%w: %s", lending.ErrUnknownReserve, address)
	}
	return r, nil
}

// optional substitutes the protocol's unset-account placeholder (the program
// id itself) for accounts the layout does not configure.
func (f *Factory) optional(account string) string {
	if account == "" {
		return f.cfg.ProgramID
	}
	return account
}

// ComputeBudget returns the compute directives. Zero values omit directives.
func (f *Factory) ComputeBudget(limit uint32, price uint64) []solana.Instruction {
	var out []solana.Instruction
	if limit > 0 {
		out = append(out, solana.SetComputeUnitLimit(limit))
	}
	if price > 0 {
		out = append(out, solana.SetComputeUnitPrice(price))
	}
	return out
}

// FlashBorrow account layout:
//
//	0  userTransferAuthority (s)
//	1  lendingMarketAuthority
//	2  lendingMarket
//	3  reserve (w)
//	4  reserveLiquidityMint
//	5  reserveSourceLiquidity (w)
//	6  userDestinationLiquidity (w)
//	7  reserveLiquidityFeeReceiver (w)
//	8  referrerTokenState (unset)
//	9  referrerAccount (unset)
//	10 instructions sysvar
//	11 tokenProgram
func (f *Factory) FlashBorrow(p lending.FlashBorrowParams) (solana.Instruction, error) {
	r, err := f.reserve(p.Reserve)
	if err != nil {
		return solana.Instruction{}, err
	}

	return solana.Instruction{
		ProgramID: f.cfg.ProgramID,
		Accounts: []solana.AccountMeta{
			solana.Meta(p.Authority, true, false),
			solana.Meta(f.cfg.MarketAuthority, false, false),
			solana.Meta(f.cfg.Market, false, false),
			solana.Meta(r.Address, false, true),
			solana.Meta(r.Mint, false, false),
			solana.Meta(r.LiquiditySupply, false, true),
			solana.Meta(p.Destination, false, true),
			solana.Meta(r.FeeReceiver, false, true),
			solana.Meta(f.optional(""), false, false),
			solana.Meta(f.optional(""), false, false),
			solana.Meta(solana.SysvarInstructionsID, false, false),
			solana.Meta(solana.TokenProgramID, false, false),
		},
		Data: f.data(lending.LabelFlashBorrow, u64le(p.Amount)),
	}, nil
}

// FlashRepay mirrors FlashBorrow's account layout with the liquidity flow
// reversed. Arguments: amount u64, borrowInstructionIndex u8.
func (f *Factory) FlashRepay(p lending.FlashRepayParams) (solana.Instruction, error) {
	r, err := f.reserve(p.Reserve)
	if err != nil {
		return solana.Instruction{}, err
	}

	return solana.Instruction{
		ProgramID: f.cfg.ProgramID,
		Accounts: []solana.AccountMeta{
			solana.Meta(p.Authority, true, false),
			solana.Meta(f.cfg.MarketAuthority, false, false),
			solana.Meta(f.cfg.Market, false, false),
			solana.Meta(r.Address, false, true),
			solana.Meta(r.Mint, false, false),
			solana.Meta(r.LiquiditySupply, false, true),
			solana.Meta(p.Source, false, true),
			solana.Meta(r.FeeReceiver, false, true),
			solana.Meta(f.optional(""), false, false),
			solana.Meta(f.optional(""), false, false),
			solana.Meta(solana.SysvarInstructionsID, false, false),
			solana.Meta(solana.TokenProgramID, false, false),
		},
		Data: f.data(lending.LabelFlashRepay, u64le(p.Amount), []byte{p.BorrowInstructionIndex}),
	}, nil
}

// RefreshReserve account layout:
//
//	0 reserve (w)
//	1 lendingMarket
//	2 pythOracle (optional)
//	3 switchboardPriceOracle (optional)
//	4 switchboardTwapOracle (optional)
//	5 scopePrices (optional)
func (f *Factory) RefreshReserve(p lending.RefreshReserveParams) (solana.Instruction, error) {
	r, err := f.reserve(p.Reserve)
	if err != nil {
		return solana.Instruction{}, err
	}

	return solana.Instruction{
		ProgramID: f.cfg.ProgramID,
		Accounts: []solana.AccountMeta{
			solana.Meta(r.Address, false, true),
			solana.Meta(f.cfg.Market, false, false),
			solana.Meta(f.optional(r.PythOracle), false, false),
			solana.Meta(f.optional(r.SwitchboardOracle), false, false),
			solana.Meta(f.optional(""), false, false),
			solana.Meta(f.optional(r.ScopePrices), false, false),
		},
		Data: f.data(lending.LabelRefreshReserve),
	}, nil
}

// RefreshFarms refreshes the farm user state for one obligation-reserve
// pair. The user state is the farms program PDA of
// ["user", farmState, obligation].
func (f *Factory) RefreshFarms(p lending.RefreshFarmsParams) (solana.Instruction, error) {
	r, err := f.reserve(p.Reserve)
	if err != nil {
		return solana.Instruction{}, err
	}
	if r.FarmState == "" {
		return solana.Instruction{}, fmt.Errorf("reserve %s has no farm state", p.Reserve)
	}

	userState, err := f.farmUserState(r.FarmState, p.Obligation)
	if err != nil {
		return solana.Instruction{}, err
	}

	return solana.Instruction{
		ProgramID: f.cfg.ProgramID,
		Accounts: []solana.AccountMeta{
			solana.Meta(p.Authority, true, true),
			solana.Meta(p.Obligation, false, true),
			solana.Meta(f.cfg.MarketAuthority, false, false),
			solana.Meta(r.Address, false, true),
			solana.Meta(r.FarmState, false, true),
			solana.Meta(userState, false, true),
			solana.Meta(f.cfg.Market, false, false),
			solana.Meta(f.cfg.FarmsProgramID, false, false),
			solana.Meta(solana.SysvarRentID, false, false),
			solana.Meta(solana.SystemProgramID, false, false),
		},
		Data: f.data(lending.LabelRefreshFarms, []byte{0}),
	}, nil
}

func (f *Factory) farmUserState(farmState, obligation string) (string, error) {
	fs, err := base58.Decode(farmState)
	if err != nil || len(fs) != 32 {
		return "", fmt.Errorf("farm user state: bad farm state %q", farmState)
	}
	obl, err := base58.Decode(obligation)
	if err != nil || len(obl) != 32 {
		return "", fmt.Errorf("farm user state: bad obligation %q", obligation)
	}
	return solana.DeriveProgramAddress([][]byte{[]byte("user"), fs, obl}, f.cfg.FarmsProgramID)
}

// RefreshObligation recomputes the obligation's aggregate values. The
// auxiliary reserve set is appended after the fixed accounts; an empty set
// would be rejected on chain, so it fails the build instead.
func (f *Factory) RefreshObligation(p lending.RefreshObligationParams) (solana.Instruction, error) {
	if len(p.AuxReserves) == 0 {
		return solana.Instruction{}, fmt.Errorf("refresh obligation %s: empty auxiliary reserve set", p.Obligation)
	}

	accounts := []solana.AccountMeta{
		solana.Meta(f.cfg.Market, false, false),
		solana.Meta(p.Obligation, false, true),
	}
	for _, aux := range p.AuxReserves {
		accounts = append(accounts, solana.Meta(aux, false, false))
	}

	return solana.Instruction{
		ProgramID: f.cfg.ProgramID,
		Accounts:  accounts,
		Data:      f.data(lending.LabelRefreshObligation),
	}, nil
}

// Liquidate account layout:
//
//	0  liquidator (s)
//	1  obligation (w)
//	2  lendingMarket
//	3  lendingMarketAuthority
//	4  repayReserve (w)
//	5  repayReserveLiquidityMint
//	6  repayReserveLiquiditySupply (w)
//	7  withdrawReserve (w)
//	8  withdrawReserveLiquidityMint
//	9  withdrawReserveCollateralMint (w)
//	10 withdrawReserveCollateralSupply (w)
//	11 withdrawReserveLiquiditySupply (w)
//	12 withdrawReserveLiquidityFeeReceiver (w)
//	13 userSourceLiquidity (w)
//	14 userDestinationCollateral (w)
//	15 userDestinationLiquidity (w)
//	16 tokenProgram
//	17 instructions sysvar
//
// Arguments: liquidityAmount u64, minAcceptableReceivedLiquidityAmount u64,
// maxAllowedLtvOverridePercent u64 (always 0 here).
func (f *Factory) Liquidate(p lending.LiquidateParams) (solana.Instruction, error) {
	repay, err := f.reserve(p.RepayReserve)
	if err != nil {
		return solana.Instruction{}, err
	}
	withdraw, err := f.reserve(p.CollateralReserve)
	if err != nil {
		return solana.Instruction{}, err
	}

	userCollateral, err := solana.DeriveAssociatedTokenAccount(p.Liquidator, withdraw.CollateralMint)
	if err != nil {
		return solana.Instruction{}, fmt.Errorf("liquidate: %w", err)
	}

	return solana.Instruction{
		ProgramID: f.cfg.ProgramID,
		Accounts: []solana.AccountMeta{
			solana.Meta(p.Liquidator, true, false),
			solana.Meta(p.Obligation, false, true),
			solana.Meta(f.cfg.Market, false, false),
			solana.Meta(f.cfg.MarketAuthority, false, false),
			solana.Meta(repay.Address, false, true),
			solana.Meta(repay.Mint, false, false),
			solana.Meta(repay.LiquiditySupply, false, true),
			solana.Meta(withdraw.Address, false, true),
			solana.Meta(withdraw.Mint, false, false),
			solana.Meta(withdraw.CollateralMint, false, true),
			solana.Meta(withdraw.CollateralSupply, false, true),
			solana.Meta(withdraw.LiquiditySupply, false, true),
			solana.Meta(withdraw.FeeReceiver, false, true),
			solana.Meta(p.RepaySource, false, true),
			solana.Meta(userCollateral, false, true),
			solana.Meta(p.CollateralDest, false, true),
			solana.Meta(solana.TokenProgramID, false, false),
			solana.Meta(solana.SysvarInstructionsID, false, false),
		},
		Data: f.data(lending.LabelLiquidate, u64le(p.Amount), u64le(p.MinAcceptable), u64le(0)),
	}, nil
}

// Swap encodes a token-swap pool trade (tag 1: amountIn u64, minOut u64)
// against the configured route for the mint pair.
func (f *Factory) Swap(p lending.SwapParams) (solana.Instruction, error) {
	if f.cfg.SwapProgramID == "" {
		return solana.Instruction{}, fmt.Errorf("%w: no swap program configured", lending.ErrNoSwapRoute)
	}
	route, ok := f.cfg.Route(p.InMint, p.OutMint)
	if !ok {
		return solana.Instruction{}, fmt.Errorf("%w: %s -> %s", lending.ErrNoSwapRoute, p.InMint, p.OutMint)
	}

	data := make([]byte, 0, 17)
	data = append(data, 1)
	data = append(data, u64le(p.AmountIn)...)
	data = append(data, u64le(p.MinAmountOut)...)

	return solana.Instruction{
		ProgramID: f.cfg.SwapProgramID,
		Accounts: []solana.AccountMeta{
			solana.Meta(route.Pool, false, false),
			solana.Meta(route.PoolAuthority, false, false),
			solana.Meta(p.Authority, true, false),
			solana.Meta(p.Source, false, true),
			solana.Meta(route.PoolSource, false, true),
			solana.Meta(route.PoolDestination, false, true),
			solana.Meta(p.Destination, false, true),
			solana.Meta(route.PoolMint, false, true),
			solana.Meta(route.FeeAccount, false, true),
			solana.Meta(solana.TokenProgramID, false, false),
		},
		Data: data,
	}, nil
}

// CreateTokenAccount encodes the associated-token-program CreateIdempotent
// instruction (discriminator byte 1), a no-op when the account exists.
func (f *Factory) CreateTokenAccount(p lending.CreateTokenAccountParams) (solana.Instruction, error) {
	ata, err := solana.DeriveAssociatedTokenAccount(p.Owner, p.Mint)
	if err != nil {
		return solana.Instruction{}, fmt.Errorf("create token account: %w", err)
	}

	return solana.Instruction{
		ProgramID: solana.AssociatedTokenProgram,
		Accounts: []solana.AccountMeta{
			solana.Meta(p.Payer, true, true),
			solana.Meta(ata, false, true),
			solana.Meta(p.Owner, false, false),
			solana.Meta(p.Mint, false, false),
			solana.Meta(solana.SystemProgramID, false, false),
			solana.Meta(solana.TokenProgramID, false, false),
		},
		Data: []byte{1},
	}, nil
}

// HasFarm reports whether the reserve carries a farm state.
func (f *Factory) HasFarm(reserve string) bool {
	r, ok := f.cfg.Reserve(reserve)
	return ok && r.FarmState != ""
}

// Label decodes a compiled instruction back to its semantic label.
func (f *Factory) Label(ix solana.CompiledInstruction) lending.Label {
	switch ix.ProgramID {
	case solana.ComputeBudgetProgramID:
		return lending.LabelComputeBudget
	case solana.AssociatedTokenProgram:
		return lending.LabelCreateTokenAccount
	case f.cfg.ProgramID:
		if len(ix.Data) >= 8 {
			for label, disc := range f.disc {
				if bytes.Equal(ix.Data[:8], disc) {
					return label
				}
			}
		}
		return lending.LabelUnknown
	}
	if f.cfg.SwapProgramID != "" && ix.ProgramID == f.cfg.SwapProgramID {
		return lending.LabelSwap
	}
	return lending.LabelUnknown
}

// ObligationHealthy matches the protocol's not-liquidatable rejection,
// first by custom error code, then by the program's log line for older
// deployments that renumbered codes.
func (f *Factory) ObligationHealthy(txErr interface{}, logs []string) bool {
	if code, ok := customErrorCode(txErr); ok && code == f.cfg.ObligationHealthyCode {
		return true
	}
	for _, line := range logs {
		if strings.Contains(line, "Obligation is healthy") {
			return true
		}
	}
	return false
}

// customErrorCode digs the custom program error code out of a transaction
// error, which arrives as decoded JSON: {"InstructionError":[i,{"Custom":n}]}.
func customErrorCode(txErr interface{}) (uint32, bool) {
	switch v := txErr.(type) {
	case map[string]interface{}:
		if inner, ok := v["InstructionError"]; ok {
			return customErrorCode(inner)
		}
		if c, ok := v["Custom"]; ok {
			return toUint32(c)
		}
	case []interface{}:
		for _, item := range v {
			if code, ok := customErrorCode(item); ok {
				return code, true
			}
		}
	}
	return 0, false
}

func toUint32(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case float64:
		return uint32(n), true
	case int:
		return uint32(n), true
	case int64:
		return uint32(n), true
	case uint64:
		return uint32(n), true
	}
	return 0, false
}

// Verify interface compliance at compile time.
var (
	_ lending.InstructionFactory = (*Factory)(nil)
	_ lending.Labeler            = (*Factory)(nil)
	_ lending.ResultClassifier   = (*Factory)(nil)
)
