// Package stub provides a deterministic in-memory instruction factory for
// tests. Instructions carry a one-byte tag plus arguments instead of real
// protocol encodings, and account lists are the minimal set the compiler
// needs, so sequences stay small and assertions stay readable.
package stub

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"

	"solana-liquidator/internal/lending"
	"solana-liquidator/internal/solana"
)

// Deterministic fake program ids.
var (
	LendingProgramID = base58.Encode(bytes.Repeat([]byte{0xF1}, 32))
	SwapProgramID    = base58.Encode(bytes.Repeat([]byte{0xF2}, 32))
)

// Instruction tag bytes.
const (
	tagFlashBorrow       = 0x01
	tagFlashRepay        = 0x02
	tagRefreshReserve    = 0x03
	tagRefreshFarms      = 0x04
	tagRefreshObligation = 0x05
	tagLiquidate         = 0x06
)

var tagLabels = map[byte]lending.Label{
	tagFlashBorrow:       lending.LabelFlashBorrow,
	tagFlashRepay:        lending.LabelFlashRepay,
	tagRefreshReserve:    lending.LabelRefreshReserve,
	tagRefreshFarms:      lending.LabelRefreshFarms,
	tagRefreshObligation: lending.LabelRefreshObligation,
	tagLiquidate:         lending.LabelLiquidate,
}

// Factory encodes tagged test instructions and doubles as the labeler and
// result classifier for them.
type Factory struct {
	farms   map[string]bool
	healthy bool
	padding int
	failOn  map[lending.Label]error
}

func NewFactory() *Factory {
	return &Factory{
		farms:  make(map[string]bool),
		failOn: make(map[lending.Label]error),
	}
}

// SetFarm marks a reserve as carrying a farm state.
func (f *Factory) SetFarm(reserve string, has bool) {
	f.farms[reserve] = has
}

// SetHealthy fixes the classifier verdict for every failure.
func (f *Factory) SetHealthy(healthy bool) {
	f.healthy = healthy
}

// SetPadding appends n zero bytes to every encoded instruction, inflating
// transaction size for limit tests without changing semantics.
func (f *Factory) SetPadding(n int) {
	f.padding = n
}

// FailWith makes the encoder for one label return err.
func (f *Factory) FailWith(label lending.Label, err error) {
	f.failOn[label] = err
}

func (f *Factory) encode(tag byte, args ...[]byte) []byte {
	out := []byte{tag}
	for _, a := range args {
		out = append(out, a...)
	}
	if f.padding > 0 {
		out = append(out, make([]byte, f.padding)...)
	}
	return out
}

func u64le(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

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

func (f *Factory) FlashBorrow(p lending.FlashBorrowParams) (solana.Instruction, error) {
	if err := f.failOn[lending.LabelFlashBorrow]; err != nil {
		return solana.Instruction{}, err
	}
	return solana.Instruction{
		ProgramID: LendingProgramID,
		Accounts: []solana.AccountMeta{
			solana.Meta(p.Authority, true, false),
			solana.Meta(p.Reserve, false, true),
			solana.Meta(p.Destination, false, true),
		},
		Data: f.encode(tagFlashBorrow, u64le(p.Amount)),
	}, nil
}

func (f *Factory) FlashRepay(p lending.FlashRepayParams) (solana.Instruction, error) {
	if err := f.failOn[lending.LabelFlashRepay]; err != nil {
		return solana.Instruction{}, err
	}
	return solana.Instruction{
		ProgramID: LendingProgramID,
		Accounts: []solana.AccountMeta{
			solana.Meta(p.Authority, true, false),
			solana.Meta(p.Reserve, false, true),
			solana.Meta(p.Source, false, true),
		},
		Data: f.encode(tagFlashRepay, u64le(p.Amount), []byte{p.BorrowInstructionIndex}),
	}, nil
}

func (f *Factory) RefreshReserve(p lending.RefreshReserveParams) (solana.Instruction, error) {
	if err := f.failOn[lending.LabelRefreshReserve]; err != nil {
		return solana.Instruction{}, err
	}
	return solana.Instruction{
		ProgramID: LendingProgramID,
		Accounts:  []solana.AccountMeta{solana.Meta(p.Reserve, false, true)},
		Data:      f.encode(tagRefreshReserve),
	}, nil
}

func (f *Factory) RefreshFarms(p lending.RefreshFarmsParams) (solana.Instruction, error) {
	if err := f.failOn[lending.LabelRefreshFarms]; err != nil {
		return solana.Instruction{}, err
	}
	if !f.farms[p.Reserve] {
		return solana.Instruction{}, fmt.Errorf("reserve %s has no farm state", p.Reserve)
	}
	return solana.Instruction{
		ProgramID: LendingProgramID,
		Accounts: []solana.AccountMeta{
			solana.Meta(p.Authority, true, true),
			solana.Meta(p.Obligation, false, true),
			solana.Meta(p.Reserve, false, true),
		},
		Data: f.encode(tagRefreshFarms),
	}, nil
}

func (f *Factory) RefreshObligation(p lending.RefreshObligationParams) (solana.Instruction, error) {
	if err := f.failOn[lending.LabelRefreshObligation]; err != nil {
		return solana.Instruction{}, err
	}
	if len(p.AuxReserves) == 0 {
		return solana.Instruction{}, fmt.Errorf("refresh obligation %s: empty auxiliary reserve set", p.Obligation)
	}
	accounts := []solana.AccountMeta{solana.Meta(p.Obligation, false, true)}
	for _, aux := range p.AuxReserves {
		accounts = append(accounts, solana.Meta(aux, false, false))
	}
	return solana.Instruction{
		ProgramID: LendingProgramID,
		Accounts:  accounts,
		Data:      f.encode(tagRefreshObligation, []byte{byte(len(p.AuxReserves))}),
	}, nil
}

func (f *Factory) Liquidate(p lending.LiquidateParams) (solana.Instruction, error) {
	if err := f.failOn[lending.LabelLiquidate]; err != nil {
		return solana.Instruction{}, err
	}
	return solana.Instruction{
		ProgramID: LendingProgramID,
		Accounts: []solana.AccountMeta{
			solana.Meta(p.Liquidator, true, false),
			solana.Meta(p.Obligation, false, true),
			solana.Meta(p.RepayReserve, false, true),
			solana.Meta(p.CollateralReserve, false, true),
			solana.Meta(p.RepaySource, false, true),
			solana.Meta(p.CollateralDest, false, true),
		},
		Data: f.encode(tagLiquidate, u64le(p.Amount), u64le(p.MinAcceptable)),
	}, nil
}

func (f *Factory) Swap(p lending.SwapParams) (solana.Instruction, error) {
	if err := f.failOn[lending.LabelSwap]; err != nil {
		return solana.Instruction{}, err
	}
	return solana.Instruction{
		ProgramID: SwapProgramID,
		Accounts: []solana.AccountMeta{
			solana.Meta(p.Authority, true, false),
			solana.Meta(p.Source, false, true),
			solana.Meta(p.Destination, false, true),
		},
		Data: f.encode(1, u64le(p.AmountIn), u64le(p.MinAmountOut)),
	}, nil
}

func (f *Factory) CreateTokenAccount(p lending.CreateTokenAccountParams) (solana.Instruction, error) {
	if err := f.failOn[lending.LabelCreateTokenAccount]; err != nil {
		return solana.Instruction{}, err
	}
	ata, err := solana.DeriveAssociatedTokenAccount(p.Owner, p.Mint)
	if err != nil {
		return solana.Instruction{}, err
	}
	return solana.Instruction{
		ProgramID: solana.AssociatedTokenProgram,
		Accounts: []solana.AccountMeta{
			solana.Meta(p.Payer, true, true),
			solana.Meta(ata, false, true),
			solana.Meta(p.Owner, false, false),
			solana.Meta(p.Mint, false, false),
		},
		Data: []byte{1},
	}, nil
}

func (f *Factory) HasFarm(reserve string) bool {
	return f.farms[reserve]
}

func (f *Factory) Label(ix solana.CompiledInstruction) lending.Label {
	switch ix.ProgramID {
	case solana.ComputeBudgetProgramID:
		return lending.LabelComputeBudget
	case solana.AssociatedTokenProgram:
		return lending.LabelCreateTokenAccount
	case SwapProgramID:
		return lending.LabelSwap
	case LendingProgramID:
		if len(ix.Data) > 0 {
			if label, ok := tagLabels[ix.Data[0]]; ok {
				return label
			}
		}
	}
	return lending.LabelUnknown
}

func (f *Factory) ObligationHealthy(txErr interface{}, logs []string) bool {
	return f.healthy
}

var (
	_ lending.InstructionFactory = (*Factory)(nil)
	_ lending.Labeler            = (*Factory)(nil)
	_ lending.ResultClassifier   = (*Factory)(nil)
)
