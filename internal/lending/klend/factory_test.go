package klend

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-liquidator/internal/lending"
	"solana-liquidator/internal/solana"
)

// pk builds a deterministic valid pubkey from one byte.
func pk(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 32))
}

var (
	repayReserve = ReserveConfig{
		Address:          pk(0x10),
		Mint:             pk(0x11),
		LiquiditySupply:  pk(0x12),
		CollateralMint:   pk(0x13),
		CollateralSupply: pk(0x14),
		FeeReceiver:      pk(0x15),
		FarmState:        pk(0x16),
		PythOracle:       pk(0x17),
	}
	collReserve = ReserveConfig{
		Address:          pk(0x20),
		Mint:             pk(0x21),
		LiquiditySupply:  pk(0x22),
		CollateralMint:   pk(0x23),
		CollateralSupply: pk(0x24),
		FeeReceiver:      pk(0x25),
	}
)

func testFactory(t *testing.T) *Factory {
	t.Helper()
	cfg := &MarketConfig{
		Market:          pk(0xA0),
		MarketAuthority: pk(0xA1),
		SwapProgramID:   pk(0xA2),
		Reserves:        []ReserveConfig{repayReserve, collReserve},
		SwapRoutes: []SwapRoute{{
			InMint:          collReserve.Mint,
			OutMint:         repayReserve.Mint,
			Pool:            pk(0x30),
			PoolAuthority:   pk(0x31),
			PoolSource:      pk(0x32),
			PoolDestination: pk(0x33),
			PoolMint:        pk(0x34),
			FeeAccount:      pk(0x35),
		}},
	}
	cfg.applyDefaults()
	require.NoError(t, cfg.Validate())
	return NewFactory(cfg)
}

func TestAnchorDiscriminators(t *testing.T) {
	f := testFactory(t)

	// sha256("global:<method>")[:8] per method, from the program IDL.
	want := map[lending.Label][]byte{
		lending.LabelRefreshReserve:    {0x02, 0xda, 0x8a, 0xeb, 0x4f, 0xc9, 0x19, 0x66},
		lending.LabelRefreshObligation: {0x21, 0x84, 0x93, 0xe4, 0x97, 0xc0, 0x48, 0x59},
		lending.LabelRefreshFarms:      {0x8c, 0x90, 0xfd, 0x15, 0x0a, 0x4a, 0xf8, 0x03},
		lending.LabelLiquidate:         {0xb1, 0x47, 0x9a, 0xbc, 0xe2, 0x85, 0x4a, 0x37},
		lending.LabelFlashBorrow:       {0x87, 0xe7, 0x34, 0xa7, 0x07, 0x34, 0xd4, 0xc1},
		lending.LabelFlashRepay:        {0xb9, 0x75, 0x00, 0xcb, 0x60, 0xf5, 0xb4, 0xba},
	}
	for label, disc := range want {
		assert.Equal(t, disc, f.disc[label], "discriminator for %s", label)
	}
}

func TestFlashBorrow(t *testing.T) {
	f := testFactory(t)

	ix, err := f.FlashBorrow(lending.FlashBorrowParams{
		Reserve:     repayReserve.Address,
		Amount:      5_000_000,
		Destination: pk(0x40),
		Authority:   pk(0x41),
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultProgramID, ix.ProgramID)
	require.Len(t, ix.Accounts, 12)
	assert.Equal(t, solana.Meta(pk(0x41), true, false), ix.Accounts[0])
	assert.Equal(t, solana.Meta(pk(0xA1), false, false), ix.Accounts[1])
	assert.Equal(t, solana.Meta(repayReserve.Address, false, true), ix.Accounts[3])
	assert.Equal(t, solana.Meta(repayReserve.LiquiditySupply, false, true), ix.Accounts[5])
	assert.Equal(t, solana.Meta(pk(0x40), false, true), ix.Accounts[6])
	assert.Equal(t, solana.Meta(repayReserve.FeeReceiver, false, true), ix.Accounts[7])

	// Unset referrer accounts carry the program id placeholder.
	assert.Equal(t, DefaultProgramID, ix.Accounts[8].Pubkey)
	assert.Equal(t, DefaultProgramID, ix.Accounts[9].Pubkey)
	assert.Equal(t, solana.SysvarInstructionsID, ix.Accounts[10].Pubkey)
	assert.Equal(t, solana.TokenProgramID, ix.Accounts[11].Pubkey)

	require.Len(t, ix.Data, 16)
	assert.Equal(t, uint64(5_000_000), binary.LittleEndian.Uint64(ix.Data[8:]))
}

func TestFlashRepay(t *testing.T) {
	f := testFactory(t)

	ix, err := f.FlashRepay(lending.FlashRepayParams{
		Reserve:                repayReserve.Address,
		Amount:                 5_000_000,
		Source:                 pk(0x40),
		Authority:              pk(0x41),
		BorrowInstructionIndex: 1,
	})
	require.NoError(t, err)

	require.Len(t, ix.Accounts, 12)
	assert.Equal(t, solana.Meta(pk(0x40), false, true), ix.Accounts[6])

	require.Len(t, ix.Data, 17)
	assert.Equal(t, uint64(5_000_000), binary.LittleEndian.Uint64(ix.Data[8:16]))
	assert.Equal(t, byte(1), ix.Data[16])
}

func TestFlashBorrowUnknownReserve(t *testing.T) {
	f := testFactory(t)

	_, err := f.FlashBorrow(lending.FlashBorrowParams{Reserve: pk(0xEE)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, lending.ErrUnknownReserve))
}

func TestRefreshReserve(t *testing.T) {
	f := testFactory(t)

	ix, err := f.RefreshReserve(lending.RefreshReserveParams{Reserve: repayReserve.Address})
	require.NoError(t, err)
	require.Len(t, ix.Accounts, 6)
	assert.Equal(t, solana.Meta(repayReserve.Address, false, true), ix.Accounts[0])
	assert.Equal(t, pk(0xA0), ix.Accounts[1].Pubkey)
	assert.Equal(t, repayReserve.PythOracle, ix.Accounts[2].Pubkey)
	// Unconfigured oracles collapse to the placeholder.
	assert.Equal(t, DefaultProgramID, ix.Accounts[3].Pubkey)
	assert.Equal(t, DefaultProgramID, ix.Accounts[4].Pubkey)
	assert.Equal(t, DefaultProgramID, ix.Accounts[5].Pubkey)
	assert.Len(t, ix.Data, 8)
}

func TestRefreshObligation(t *testing.T) {
	f := testFactory(t)

	ix, err := f.RefreshObligation(lending.RefreshObligationParams{
		Obligation:  pk(0x50),
		AuxReserves: []string{repayReserve.Address, collReserve.Address},
	})
	require.NoError(t, err)
	require.Len(t, ix.Accounts, 4)
	assert.Equal(t, solana.Meta(pk(0xA0), false, false), ix.Accounts[0])
	assert.Equal(t, solana.Meta(pk(0x50), false, true), ix.Accounts[1])
	assert.Equal(t, solana.Meta(repayReserve.Address, false, false), ix.Accounts[2])
	assert.Equal(t, solana.Meta(collReserve.Address, false, false), ix.Accounts[3])
}

func TestRefreshObligationEmptyAux(t *testing.T) {
	f := testFactory(t)

	_, err := f.RefreshObligation(lending.RefreshObligationParams{Obligation: pk(0x50)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty auxiliary reserve set")
}

func TestRefreshFarms(t *testing.T) {
	f := testFactory(t)

	obligation := pk(0x50)
	ix, err := f.RefreshFarms(lending.RefreshFarmsParams{
		Obligation: obligation,
		Reserve:    repayReserve.Address,
		Authority:  pk(0x41),
	})
	require.NoError(t, err)
	require.Len(t, ix.Accounts, 10)

	farmBytes, err := base58.Decode(repayReserve.FarmState)
	require.NoError(t, err)
	oblBytes, err := base58.Decode(obligation)
	require.NoError(t, err)
	wantUserState, err := solana.DeriveProgramAddress(
		[][]byte{[]byte("user"), farmBytes, oblBytes}, DefaultFarmsProgramID)
	require.NoError(t, err)

	assert.Equal(t, solana.Meta(pk(0x41), true, true), ix.Accounts[0])
	assert.Equal(t, solana.Meta(obligation, false, true), ix.Accounts[1])
	assert.Equal(t, repayReserve.FarmState, ix.Accounts[4].Pubkey)
	assert.Equal(t, wantUserState, ix.Accounts[5].Pubkey)
	assert.Equal(t, DefaultFarmsProgramID, ix.Accounts[7].Pubkey)

	require.Len(t, ix.Data, 9)
	assert.Equal(t, byte(0), ix.Data[8])
}

func TestRefreshFarmsNoFarmState(t *testing.T) {
	f := testFactory(t)

	_, err := f.RefreshFarms(lending.RefreshFarmsParams{
		Obligation: pk(0x50),
		Reserve:    collReserve.Address,
		Authority:  pk(0x41),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no farm state")
}

func TestLiquidate(t *testing.T) {
	f := testFactory(t)

	liquidator := pk(0x41)
	ix, err := f.Liquidate(lending.LiquidateParams{
		Obligation:        pk(0x50),
		RepayReserve:      repayReserve.Address,
		CollateralReserve: collReserve.Address,
		Liquidator:        liquidator,
		RepaySource:       pk(0x42),
		CollateralDest:    pk(0x43),
		Amount:            1_000_000,
		MinAcceptable:     990_000,
	})
	require.NoError(t, err)
	require.Len(t, ix.Accounts, 18)

	wantCollateralATA, err := solana.DeriveAssociatedTokenAccount(liquidator, collReserve.CollateralMint)
	require.NoError(t, err)

	assert.Equal(t, solana.Meta(liquidator, true, false), ix.Accounts[0])
	assert.Equal(t, solana.Meta(pk(0x50), false, true), ix.Accounts[1])
	assert.Equal(t, repayReserve.Address, ix.Accounts[4].Pubkey)
	assert.Equal(t, collReserve.Address, ix.Accounts[7].Pubkey)
	assert.Equal(t, collReserve.CollateralMint, ix.Accounts[9].Pubkey)
	assert.Equal(t, solana.Meta(pk(0x42), false, true), ix.Accounts[13])
	assert.Equal(t, solana.Meta(wantCollateralATA, false, true), ix.Accounts[14])
	assert.Equal(t, solana.Meta(pk(0x43), false, true), ix.Accounts[15])

	require.Len(t, ix.Data, 32)
	assert.Equal(t, uint64(1_000_000), binary.LittleEndian.Uint64(ix.Data[8:16]))
	assert.Equal(t, uint64(990_000), binary.LittleEndian.Uint64(ix.Data[16:24]))
	// LTV override stays zero; liquidation runs at protocol thresholds.
	assert.Equal(t, uint64(0), binary.LittleEndian.Uint64(ix.Data[24:32]))
}

func TestSwap(t *testing.T) {
	f := testFactory(t)

	ix, err := f.Swap(lending.SwapParams{
		InMint:       collReserve.Mint,
		OutMint:      repayReserve.Mint,
		AmountIn:     2_500_000,
		MinAmountOut: 2_400_000,
		Source:       pk(0x43),
		Destination:  pk(0x42),
		Authority:    pk(0x41),
	})
	require.NoError(t, err)

	assert.Equal(t, pk(0xA2), ix.ProgramID)
	require.Len(t, ix.Accounts, 10)
	assert.Equal(t, solana.Meta(pk(0x41), true, false), ix.Accounts[2])

	require.Len(t, ix.Data, 17)
	assert.Equal(t, byte(1), ix.Data[0])
	assert.Equal(t, uint64(2_500_000), binary.LittleEndian.Uint64(ix.Data[1:9]))
	assert.Equal(t, uint64(2_400_000), binary.LittleEndian.Uint64(ix.Data[9:17]))
}

func TestSwapNoRoute(t *testing.T) {
	f := testFactory(t)

	_, err := f.Swap(lending.SwapParams{InMint: repayReserve.Mint, OutMint: collReserve.Mint})
	require.Error(t, err)
	assert.True(t, errors.Is(err, lending.ErrNoSwapRoute))
}

func TestSwapNoProgram(t *testing.T) {
	f := testFactory(t)
	f.cfg.SwapProgramID = ""

	_, err := f.Swap(lending.SwapParams{InMint: collReserve.Mint, OutMint: repayReserve.Mint})
	require.Error(t, err)
	assert.True(t, errors.Is(err, lending.ErrNoSwapRoute))
}

func TestCreateTokenAccount(t *testing.T) {
	f := testFactory(t)

	owner := pk(0x41)
	ix, err := f.CreateTokenAccount(lending.CreateTokenAccountParams{
		Payer: owner,
		Owner: owner,
		Mint:  collReserve.Mint,
	})
	require.NoError(t, err)

	wantATA, err := solana.DeriveAssociatedTokenAccount(owner, collReserve.Mint)
	require.NoError(t, err)

	assert.Equal(t, solana.AssociatedTokenProgram, ix.ProgramID)
	require.Len(t, ix.Accounts, 6)
	assert.Equal(t, solana.Meta(owner, true, true), ix.Accounts[0])
	assert.Equal(t, solana.Meta(wantATA, false, true), ix.Accounts[1])
	assert.Equal(t, []byte{1}, ix.Data)
}

func TestHasFarm(t *testing.T) {
	f := testFactory(t)

	assert.True(t, f.HasFarm(repayReserve.Address))
	assert.False(t, f.HasFarm(collReserve.Address))
	assert.False(t, f.HasFarm(pk(0xEE)))
}

func TestLabel(t *testing.T) {
	f := testFactory(t)

	borrow, err := f.FlashBorrow(lending.FlashBorrowParams{
		Reserve: repayReserve.Address, Amount: 1, Destination: pk(0x40), Authority: pk(0x41),
	})
	require.NoError(t, err)

	cases := []struct {
		name string
		ix   solana.CompiledInstruction
		want lending.Label
	}{
		{
			name: "compute budget",
			ix:   solana.CompiledInstruction{ProgramID: solana.ComputeBudgetProgramID, Data: []byte{2, 0, 0, 0, 0}},
			want: lending.LabelComputeBudget,
		},
		{
			name: "token account create",
			ix:   solana.CompiledInstruction{ProgramID: solana.AssociatedTokenProgram, Data: []byte{1}},
			want: lending.LabelCreateTokenAccount,
		},
		{
			name: "flash borrow",
			ix:   solana.CompiledInstruction{ProgramID: borrow.ProgramID, Data: borrow.Data},
			want: lending.LabelFlashBorrow,
		},
		{
			name: "swap",
			ix:   solana.CompiledInstruction{ProgramID: pk(0xA2), Data: []byte{1}},
			want: lending.LabelSwap,
		},
		{
			name: "lending program with bogus data",
			ix:   solana.CompiledInstruction{ProgramID: DefaultProgramID, Data: []byte{9, 9, 9}},
			want: lending.LabelUnknown,
		},
		{
			name: "foreign program",
			ix:   solana.CompiledInstruction{ProgramID: pk(0xEE), Data: []byte{1}},
			want: lending.LabelUnknown,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, f.Label(tc.ix))
		})
	}
}

func TestObligationHealthy(t *testing.T) {
	f := testFactory(t)

	healthyErr := map[string]interface{}{
		"InstructionError": []interface{}{
			float64(9),
			map[string]interface{}{"Custom": float64(6009)},
		},
	}
	assert.True(t, f.ObligationHealthy(healthyErr, nil))

	otherErr := map[string]interface{}{
		"InstructionError": []interface{}{
			float64(9),
			map[string]interface{}{"Custom": float64(6003)},
		},
	}
	assert.False(t, f.ObligationHealthy(otherErr, nil))

	logs := []string{
		"Program KLend2g3cP87fffoy8q1mQqGKjrxjC8boSyAYavgmjD invoke [1]",
		"Program log: Obligation is healthy so cannot be liquidated",
	}
	assert.True(t, f.ObligationHealthy(otherErr, logs))
	assert.True(t, f.ObligationHealthy(nil, logs))

	assert.False(t, f.ObligationHealthy(nil, nil))
	assert.False(t, f.ObligationHealthy("InstructionFailed", []string{"Program log: arithmetic overflow"}))
}

func TestObligationHealthyCodeOverride(t *testing.T) {
	f := testFactory(t)
	f.cfg.ObligationHealthyCode = 7001

	overridden := map[string]interface{}{
		"InstructionError": []interface{}{float64(0), map[string]interface{}{"Custom": float64(7001)}},
	}
	assert.True(t, f.ObligationHealthy(overridden, nil))

	stock := map[string]interface{}{
		"InstructionError": []interface{}{float64(0), map[string]interface{}{"Custom": float64(6009)}},
	}
	assert.False(t, f.ObligationHealthy(stock, nil))
}

// Encoding twice must not let one instruction's arguments bleed into
// another's through a shared discriminator buffer.
func TestDataBuffersIsolated(t *testing.T) {
	f := testFactory(t)

	first, err := f.FlashBorrow(lending.FlashBorrowParams{
		Reserve: repayReserve.Address, Amount: 111, Destination: pk(0x40), Authority: pk(0x41),
	})
	require.NoError(t, err)
	snapshot := append([]byte(nil), first.Data...)

	_, err = f.FlashBorrow(lending.FlashBorrowParams{
		Reserve: repayReserve.Address, Amount: 999_999, Destination: pk(0x40), Authority: pk(0x41),
	})
	require.NoError(t, err)

	assert.Equal(t, snapshot, first.Data)
}
