package refresh

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"solana-liquidator/internal/domain"
)

func indexPlan(obligation, repayMint, collMint string) *domain.Plan {
	return &domain.Plan{
		Obligation:              obligation,
		RepayReservePubkey:      "repayReserve",
		CollateralReservePubkey: "collReserve",
		RepayMint:               repayMint,
		CollateralMint:          collMint,
	}
}

func TestRebuildAndLookup(t *testing.T) {
	ix := NewMintIndex()
	ix.Rebuild([]*domain.Plan{
		indexPlan("obl1", "USDC", "SOL"),
		indexPlan("obl2", "USDC", "JITOSOL"),
		indexPlan("obl3", "USDT", "SOL"),
	})

	assert.Equal(t, []string{"obl1", "obl2"}, ix.Lookup("USDC"))
	assert.Equal(t, []string{"obl1", "obl3"}, ix.Lookup("SOL"))
	assert.Equal(t, []string{"obl2"}, ix.Lookup("JITOSOL"))
	assert.Nil(t, ix.Lookup("BONK"))

	mints, obligations := ix.Size()
	assert.Equal(t, 4, mints)
	assert.Equal(t, 3, obligations)
}

func TestRebuildReplacesOldState(t *testing.T) {
	ix := NewMintIndex()
	ix.Rebuild([]*domain.Plan{indexPlan("obl1", "USDC", "SOL")})
	ix.Rebuild([]*domain.Plan{indexPlan("obl2", "USDT", "SOL")})

	assert.Nil(t, ix.Lookup("USDC"))
	assert.Equal(t, []string{"obl2"}, ix.Lookup("SOL"))
}

func TestPatchMovesLinks(t *testing.T) {
	ix := NewMintIndex()
	ix.Rebuild([]*domain.Plan{
		indexPlan("obl1", "USDC", "SOL"),
		indexPlan("obl2", "USDC", "SOL"),
	})

	// obl1 flips its collateral leg from SOL to JITOSOL.
	ix.Patch("obl1", []string{"USDC", "JITOSOL"})

	assert.Equal(t, []string{"obl2"}, ix.Lookup("SOL"))
	assert.Equal(t, []string{"obl1"}, ix.Lookup("JITOSOL"))
	assert.Equal(t, []string{"obl1", "obl2"}, ix.Lookup("USDC"))
	assert.Equal(t, []string{"JITOSOL", "USDC"}, ix.Mints("obl1"))
}

func TestRemoveDropsObligation(t *testing.T) {
	ix := NewMintIndex()
	ix.Rebuild([]*domain.Plan{indexPlan("obl1", "USDC", "SOL")})
	ix.Remove("obl1")

	assert.Nil(t, ix.Lookup("USDC"))
	assert.Nil(t, ix.Lookup("SOL"))
	mints, obligations := ix.Size()
	assert.Zero(t, mints)
	assert.Zero(t, obligations)
}

func TestSingleMintPlanIndexedOnce(t *testing.T) {
	ix := NewMintIndex()
	ix.Rebuild([]*domain.Plan{indexPlan("obl1", "USDC", "USDC")})

	assert.Equal(t, []string{"obl1"}, ix.Lookup("USDC"))
	assert.Equal(t, []string{"USDC"}, ix.Mints("obl1"))
}
