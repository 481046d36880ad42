package klend

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Mainnet program addresses.
const (
	DefaultProgramID      = "KLend2g3cP87fffoy8q1mQqGKjrxjC8boSyAYavgmjD"
	DefaultFarmsProgramID = "FarmsPZpWu9i7Kky8tPN37rs2TpmMrAZrC7S7vJa91Hr"
)

// DefaultObligationHealthyCode is the protocol's custom error code for the
// not-liquidatable rejection. Rejection codes shift across protocol
// upgrades; override it in the market file after revalidating.
const DefaultObligationHealthyCode uint32 = 6009

// MarketConfig is the static layout of one lending market: every account an
// instruction build needs, keyed by reserve. Loaded from a TOML market file
// so on-chain account decoding stays out of the engine.
type MarketConfig struct {
	ProgramID       string `toml:"program_id"`
	FarmsProgramID  string `toml:"farms_program_id"`
	SwapProgramID   string `toml:"swap_program_id"`
	Market          string `toml:"market"`
	MarketAuthority string `toml:"market_authority"`

	// ObligationHealthyCode overrides DefaultObligationHealthyCode.
	ObligationHealthyCode uint32 `toml:"obligation_healthy_code"`

	Reserves   []ReserveConfig `toml:"reserve"`
	SwapRoutes []SwapRoute     `toml:"swap_route"`

	byAddress map[string]*ReserveConfig
}

// ReserveConfig carries one reserve's fixed account set.
type ReserveConfig struct {
	Address          string `toml:"address"`
	Mint             string `toml:"mint"`              // liquidity mint
	LiquiditySupply  string `toml:"liquidity_supply"`  // reserve liquidity vault
	CollateralMint   string `toml:"collateral_mint"`   // collateral token mint
	CollateralSupply string `toml:"collateral_supply"` // reserve collateral vault
	FeeReceiver      string `toml:"fee_receiver"`

	// Optional accounts; empty means the instruction carries the protocol's
	// unset-account placeholder instead.
	FarmState         string `toml:"farm_state"`
	PythOracle        string `toml:"pyth_oracle"`
	SwitchboardOracle string `toml:"switchboard_oracle"`
	ScopePrices       string `toml:"scope_prices"`
}

// SwapRoute is one directed pool route for converting seized collateral into
// the repay asset.
type SwapRoute struct {
	InMint          string `toml:"in_mint"`
	OutMint         string `toml:"out_mint"`
	Pool            string `toml:"pool"`
	PoolAuthority   string `toml:"pool_authority"`
	PoolSource      string `toml:"pool_source"`      // pool vault holding InMint
	PoolDestination string `toml:"pool_destination"` // pool vault holding OutMint
	PoolMint        string `toml:"pool_mint"`
	FeeAccount      string `toml:"fee_account"`
}

// LoadMarket reads and validates a market layout file.
func LoadMarket(path string) (*MarketConfig, error) {
	var cfg MarketConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode market file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.index()
	return &cfg, nil
}

func (c *MarketConfig) applyDefaults() {
	if c.ProgramID == "" {
		c.ProgramID = DefaultProgramID
	}
	if c.FarmsProgramID == "" {
		c.FarmsProgramID = DefaultFarmsProgramID
	}
	if c.ObligationHealthyCode == 0 {
		c.ObligationHealthyCode = DefaultObligationHealthyCode
	}
}

func (c *MarketConfig) index() {
	c.byAddress = make(map[string]*ReserveConfig, len(c.Reserves))
	for i := range c.Reserves {
		c.byAddress[c.Reserves[i].Address] = &c.Reserves[i]
	}
}

// OracleByMint maps each liquidity mint to the oracle account that prices
// it, preferring pyth over switchboard over scope. Mints without an oracle
// are left out.
func (c *MarketConfig) OracleByMint() map[string]string {
	out := make(map[string]string, len(c.Reserves))
	for _, r := range c.Reserves {
		oracle := r.PythOracle
		if oracle == "" {
			oracle = r.SwitchboardOracle
		}
		if oracle == "" {
			oracle = r.ScopePrices
		}
		if oracle == "" {
			continue
		}
		if _, ok := out[r.Mint]; !ok {
			out[r.Mint] = oracle
		}
	}
	return out
}

// Validate checks the layout carries everything instruction builds need.
func (c *MarketConfig) Validate() error {
	if c.Market == "" {
		return fmt.Errorf("market config: market pubkey required")
	}
	if c.MarketAuthority == "" {
		return fmt.Errorf("market config: market_authority required")
	}
	if len(c.Reserves) == 0 {
		return fmt.Errorf("market config: at least one reserve required")
	}
	for i, r := range c.Reserves {
		if r.Address == "" || r.Mint == "" || r.LiquiditySupply == "" {
			return fmt.Errorf("market config: reserve %d missing address, mint or liquidity_supply", i)
		}
		if r.CollateralMint == "" || r.CollateralSupply == "" {
			return fmt.Errorf("market config: reserve %s missing collateral accounts", r.Address)
		}
		if r.FeeReceiver == "" {
			return fmt.Errorf("market config: reserve %s missing fee_receiver", r.Address)
		}
	}
	for i, route := range c.SwapRoutes {
		if route.InMint == "" || route.OutMint == "" || route.Pool == "" ||
			route.PoolAuthority == "" || route.PoolSource == "" ||
			route.PoolDestination == "" || route.PoolMint == "" || route.FeeAccount == "" {
			return fmt.Errorf("market config: swap_route %d incomplete", i)
		}
	}
	return nil
}

// Reserve returns the layout entry for a reserve pubkey.
func (c *MarketConfig) Reserve(address string) (*ReserveConfig, bool) {
	if c.byAddress == nil {
		c.index()
	}
	r, ok := c.byAddress[address]
	return r, ok
}

// Route returns the configured route for a directed mint pair.
func (c *MarketConfig) Route(inMint, outMint string) (*SwapRoute, bool) {
	for i := range c.SwapRoutes {
		if c.SwapRoutes[i].InMint == inMint && c.SwapRoutes[i].OutMint == outMint {
			return &c.SwapRoutes[i], true
		}
	}
	return nil, false
}
