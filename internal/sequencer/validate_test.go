package sequencer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-liquidator/internal/lending"
	lendingstub "solana-liquidator/internal/lending/stub"
	"solana-liquidator/internal/solana"
)

type sequenceFixture struct {
	t       *testing.T
	factory *lendingstub.Factory
	signer  *solana.Keypair
}

func newSequenceFixture(t *testing.T) *sequenceFixture {
	t.Helper()
	signer, err := solana.GenerateKeypair()
	require.NoError(t, err)
	return &sequenceFixture{t: t, factory: lendingstub.NewFactory(), signer: signer}
}

func (f *sequenceFixture) borrow() solana.Instruction {
	ix, err := f.factory.FlashBorrow(lending.FlashBorrowParams{
		Reserve: repayReserve, Amount: 1, Destination: pk(0x40), Authority: f.signer.Pubkey(),
	})
	require.NoError(f.t, err)
	return ix
}

func (f *sequenceFixture) repay() solana.Instruction {
	ix, err := f.factory.FlashRepay(lending.FlashRepayParams{
		Reserve: repayReserve, Amount: 1, Source: pk(0x40), Authority: f.signer.Pubkey(),
	})
	require.NoError(f.t, err)
	return ix
}

func (f *sequenceFixture) refresh(reserve string) solana.Instruction {
	ix, err := f.factory.RefreshReserve(lending.RefreshReserveParams{Reserve: reserve})
	require.NoError(f.t, err)
	return ix
}

func (f *sequenceFixture) farms() solana.Instruction {
	f.factory.SetFarm(collReserve, true)
	ix, err := f.factory.RefreshFarms(lending.RefreshFarmsParams{
		Obligation: pk(0x50), Reserve: collReserve, Authority: f.signer.Pubkey(),
	})
	require.NoError(f.t, err)
	return ix
}

func (f *sequenceFixture) obligation() solana.Instruction {
	ix, err := f.factory.RefreshObligation(lending.RefreshObligationParams{
		Obligation: pk(0x50), AuxReserves: []string{repayReserve, collReserve},
	})
	require.NoError(f.t, err)
	return ix
}

func (f *sequenceFixture) liquidate() solana.Instruction {
	ix, err := f.factory.Liquidate(lending.LiquidateParams{
		Obligation: pk(0x50), RepayReserve: repayReserve, CollateralReserve: collReserve,
		Liquidator: f.signer.Pubkey(), RepaySource: pk(0x40), CollateralDest: pk(0x43),
		Amount: 1,
	})
	require.NoError(f.t, err)
	return ix
}

func (f *sequenceFixture) swap() solana.Instruction {
	ix, err := f.factory.Swap(lending.SwapParams{
		InMint: collMint, OutMint: repayMint, AmountIn: 1, MinAmountOut: 1,
		Source: pk(0x43), Destination: pk(0x40), Authority: f.signer.Pubkey(),
	})
	require.NoError(f.t, err)
	return ix
}

func (f *sequenceFixture) compile(ixs ...solana.Instruction) []byte {
	f.t.Helper()
	msg, err := solana.CompileMessage(f.signer.Pubkey(), pk(0x09), ixs)
	require.NoError(f.t, err)
	tx, err := solana.SignTransaction(msg, f.signer)
	require.NoError(f.t, err)
	return tx.Raw
}

func (f *sequenceFixture) canonical() []solana.Instruction {
	return []solana.Instruction{
		f.borrow(),
		f.refresh(repayReserve), f.refresh(collReserve),
		f.obligation(),
		f.refresh(repayReserve), f.refresh(collReserve),
		f.liquidate(),
		f.repay(),
	}
}

func TestValidateSequenceCanonical(t *testing.T) {
	f := newSequenceFixture(t)

	check, err := ValidateSequence(f.compile(f.canonical()...), f.factory, false)
	require.NoError(t, err)
	assert.Equal(t, 6, check.LiquidateIndex)
	assert.Len(t, check.Labels, 8)
}

func TestValidateSequenceWithFarm(t *testing.T) {
	f := newSequenceFixture(t)
	raw := f.compile(
		f.borrow(),
		f.refresh(repayReserve), f.refresh(collReserve),
		f.farms(),
		f.obligation(),
		f.refresh(repayReserve), f.refresh(collReserve),
		f.liquidate(),
		f.repay(),
	)

	check, err := ValidateSequence(raw, f.factory, true)
	require.NoError(t, err)
	assert.Equal(t, 7, check.LiquidateIndex)
}

func TestValidateSequenceGapBeforeLiquidate(t *testing.T) {
	f := newSequenceFixture(t)
	// A swap wedged between the post-refresh pair and liquidate breaks the
	// contiguity the protocol checks.
	raw := f.compile(
		f.borrow(),
		f.refresh(repayReserve), f.refresh(collReserve),
		f.obligation(),
		f.refresh(repayReserve), f.refresh(collReserve),
		f.swap(),
		f.liquidate(),
		f.repay(),
	)

	_, err := ValidateSequence(raw, f.factory, false)
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Reason, "window mismatch")
	assert.Equal(t, []lending.Label{
		lending.LabelRefreshObligation,
		lending.LabelRefreshReserve,
		lending.LabelRefreshReserve,
	}, ve.Expected)
	assert.Equal(t, []lending.Label{
		lending.LabelRefreshReserve,
		lending.LabelRefreshReserve,
		lending.LabelSwap,
	}, ve.Actual)
	assert.Contains(t, err.Error(), "expected [refresh_obligation refresh_reserve refresh_reserve]")
}

func TestValidateSequenceMissingFarm(t *testing.T) {
	f := newSequenceFixture(t)
	// Built without the farm refresh but validated as if it carried one.
	_, err := ValidateSequence(f.compile(f.canonical()...), f.factory, true)
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, lending.LabelRefreshFarms, ve.Expected[0])
}

func TestValidateSequenceNoLiquidate(t *testing.T) {
	f := newSequenceFixture(t)
	raw := f.compile(f.borrow(), f.refresh(repayReserve), f.repay())

	_, err := ValidateSequence(raw, f.factory, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one liquidate")
}

func TestValidateSequenceDoubleLiquidate(t *testing.T) {
	f := newSequenceFixture(t)
	seq := f.canonical()
	seq = append(seq[:7:7], f.liquidate(), f.repay())

	_, err := ValidateSequence(f.compile(seq...), f.factory, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one liquidate")
}

func TestValidateSequenceNoWindowRoom(t *testing.T) {
	f := newSequenceFixture(t)
	raw := f.compile(f.refresh(repayReserve), f.refresh(collReserve), f.liquidate(), f.repay())

	_, err := ValidateSequence(raw, f.factory, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no room")
}

func TestValidateSequenceRepayNotLast(t *testing.T) {
	f := newSequenceFixture(t)
	seq := f.canonical()
	seq = append(seq, f.refresh(repayReserve))

	_, err := ValidateSequence(f.compile(seq...), f.factory, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flash repay must close")
}

func TestValidateSequenceForeignPrefix(t *testing.T) {
	f := newSequenceFixture(t)
	seq := append([]solana.Instruction{f.refresh(repayReserve)}, f.canonical()...)

	_, err := ValidateSequence(f.compile(seq...), f.factory, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "precedes the flash borrow")
}

func TestValidateSequenceGarbage(t *testing.T) {
	f := newSequenceFixture(t)
	_, err := ValidateSequence([]byte{0x01, 0x02}, f.factory, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}
