package klend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const marketFixture = `
market = "7u3HeHxYDLhnCoErrtycNokbQYbWGzLs6JSDqGAv5PfF"
market_authority = "9DrvZvyWh1HuAoZxvYWMvkf2XCzryCpGgHqrMjyDWpmo"
swap_program_id = "SwaPpA9LAaLfeLi3a68M4DjnLqgtticKg6CnyNwgAC8"

[[reserve]]
address = "d4A2prbA2whesmvHaL88BH6Ewn5N4bTSU2Ze8P6Bc4Q"
mint = "So11111111111111111111111111111111111111112"
liquidity_supply = "GafNuUXj9rxGLn4y79dPu6MBSZVFr3QAWy92PHdKcGeX"
collateral_mint = "2UywZrUdyqs5vDchy7fKQJKau2RVyuzBev2XKGPDSiX1"
collateral_supply = "3JfCeDDMaeyTjqtXGBJLLbc7gm9msL5hEG4LpshCjU9Z"
fee_receiver = "3bVqyf58hQHsxbjnqtSL6bRgHp6aPCqgAopt1rHsGkMg"
farm_state = "BGrMLMpWucWVNMHsyu6YnQr9db4WM866yRXrY5A5ZbLy"
pyth_oracle = "H6ARHf6YXhGYeQfUzQNGk6rDNnLBQKrenN712K4AQJEG"

[[reserve]]
address = "G31zKdH2SkDZPhmoQraep5xbTSPyk3VZxAeBdC3nmq5J"
mint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
liquidity_supply = "Bgq7trRgVMeq33yt235zM2onQ4bRDBsY5EWiTetF4qw6"
collateral_mint = "B8V6WVjPxW1UGwVDfxH2d2r8SyT4cqn7dQRK6XneVa7D"
collateral_supply = "9pDEi3yT9ooT1uw1PApQDYK65advJs4Nt65EafZY4jJm"
fee_receiver = "BbDUrk1bVtSixgQsPLBByFW6AeV5gZ83ZwGBRWLyujfi"

[[swap_route]]
in_mint = "So11111111111111111111111111111111111111112"
out_mint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
pool = "EGZ7tiLeH62TPV1gL8WwbXGzEPa9zmcpVnnkPKKnrE2U"
pool_authority = "JU8kmKzDHF9sXWsnoznaFDFezLsE5uomX2JkRMbmsQP"
pool_source = "ANP74VNsHwSrq9uUSjiSNyNWvf6ZPrKTmE4gHoNd13Lg"
pool_destination = "75HgnSvXbWKZBpZHveX68ZzAhDqMzNDS29X6BGLtxMo1"
pool_mint = "8HoQnePLqPj4M7PUDzfw8e3Ymdwgc7NUGz2JHAGczozk"
fee_account = "CS9uLKFP2gJSS8qaUY4LknV1xTcA1hXb5yhlGQy5i2fH"
`

func writeMarket(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMarket(t *testing.T) {
	cfg, err := LoadMarket(writeMarket(t, marketFixture))
	require.NoError(t, err)

	assert.Equal(t, DefaultProgramID, cfg.ProgramID)
	assert.Equal(t, DefaultFarmsProgramID, cfg.FarmsProgramID)
	assert.Equal(t, DefaultObligationHealthyCode, cfg.ObligationHealthyCode)
	assert.Len(t, cfg.Reserves, 2)

	sol, ok := cfg.Reserve("d4A2prbA2whesmvHaL88BH6Ewn5N4bTSU2Ze8P6Bc4Q")
	require.True(t, ok)
	assert.Equal(t, "So11111111111111111111111111111111111111112", sol.Mint)
	assert.Equal(t, "BGrMLMpWucWVNMHsyu6YnQr9db4WM866yRXrY5A5ZbLy", sol.FarmState)

	usdc, ok := cfg.Reserve("G31zKdH2SkDZPhmoQraep5xbTSPyk3VZxAeBdC3nmq5J")
	require.True(t, ok)
	assert.Empty(t, usdc.FarmState)

	_, ok = cfg.Reserve("missing")
	assert.False(t, ok)
}

func TestLoadMarketRoutes(t *testing.T) {
	cfg, err := LoadMarket(writeMarket(t, marketFixture))
	require.NoError(t, err)

	route, ok := cfg.Route("So11111111111111111111111111111111111111112", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	require.True(t, ok)
	assert.Equal(t, "EGZ7tiLeH62TPV1gL8WwbXGzEPa9zmcpVnnkPKKnrE2U", route.Pool)

	// Routes are directed; the reverse pair is not configured.
	_, ok = cfg.Route("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "So11111111111111111111111111111111111111112")
	assert.False(t, ok)
}

func TestLoadMarketOverrides(t *testing.T) {
	body := `
program_id = "CustomK1endProgram111111111111111111111111"
obligation_healthy_code = 6010
market = "m"
market_authority = "a"

[[reserve]]
address = "r"
mint = "m1"
liquidity_supply = "ls"
collateral_mint = "cm"
collateral_supply = "cs"
fee_receiver = "fr"
`
	cfg, err := LoadMarket(writeMarket(t, body))
	require.NoError(t, err)
	assert.Equal(t, "CustomK1endProgram111111111111111111111111", cfg.ProgramID)
	assert.Equal(t, uint32(6010), cfg.ObligationHealthyCode)
}

func TestLoadMarketValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing market",
			body: `market_authority = "a"` + "\n" + `[[reserve]]` + "\n" + `address = "r"`,
			want: "market pubkey required",
		},
		{
			name: "missing authority",
			body: `market = "m"` + "\n" + `[[reserve]]` + "\n" + `address = "r"`,
			want: "market_authority required",
		},
		{
			name: "no reserves",
			body: `market = "m"` + "\n" + `market_authority = "a"`,
			want: "at least one reserve",
		},
		{
			name: "reserve missing collateral",
			body: `market = "m"
market_authority = "a"
[[reserve]]
address = "r"
mint = "m1"
liquidity_supply = "ls"
fee_receiver = "fr"`,
			want: "missing collateral accounts",
		},
		{
			name: "incomplete route",
			body: `market = "m"
market_authority = "a"
[[reserve]]
address = "r"
mint = "m1"
liquidity_supply = "ls"
collateral_mint = "cm"
collateral_supply = "cs"
fee_receiver = "fr"
[[swap_route]]
in_mint = "x"
out_mint = "y"`,
			want: "swap_route 0 incomplete",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadMarket(writeMarket(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMarketMissingFile(t *testing.T) {
	_, err := LoadMarket(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
