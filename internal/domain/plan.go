package domain

import "sort"

// Plan represents a liquidation opportunity for one obligation, keyed by the
// obligation pubkey. Persisted in the queue document (JSON) and in the
// liquidation_plans table in PostgreSQL.
type Plan struct {
	Obligation              string   `json:"obligation"`                  // obligation pubkey, queue key
	Owner                   string   `json:"owner"`                       // obligation owner pubkey
	Market                  string   `json:"market"`                      // lending market pubkey
	RepayReservePubkey      string   `json:"repay_reserve_pubkey"`        // reserve of the debt being repaid
	CollateralReservePubkey string   `json:"collateral_reserve_pubkey"`   // reserve of the collateral being seized
	RepayMint               string   `json:"repay_mint"`                  // mint of the repaid asset
	CollateralMint          string   `json:"collateral_mint"`             // mint of the seized collateral
	RepayAmount             uint64   `json:"repay_amount"`                // flash-borrowed repay size, native units
	DepositReserves         []string `json:"deposit_reserves"`            // reserves backing the deposits, obligation order
	BorrowReserves          []string `json:"borrow_reserves"`             // reserves backing the borrows, obligation order
	HealthRatio             float64  `json:"health_ratio"`                // <1.0 means liquidatable
	Hazard                  float64  `json:"hazard"`                      // scorer hazard estimate
	EV                      float64  `json:"ev"`                          // expected value, USD
	PrevEV                  float64  `json:"prev_ev"`                     // EV at previous recompute
	BorrowValueUSD          float64  `json:"borrow_value_usd"`            // total borrow value, USD
	TTLMin                  *float64 `json:"ttl_min"`                     // forecast minutes to liquidation, nil = unknown
	TTLStr                  string   `json:"ttl_str"`                     // human-readable TTL from the scorer
	PredictedLiquidationAt  *int64   `json:"predicted_liquidation_at_ms"` // Unix ms, nil = no prediction
	ForecastUpdatedAtMs     int64    `json:"forecast_updated_at_ms"`      // when the scorer last ran for this key
	LiquidationEligible     bool     `json:"liquidation_eligible"`        // false once downgraded
	LastRefreshMs           int64    `json:"last_refresh_ms"`             // last event-driven refresh (ms)
	DowngradeReason         string   `json:"downgrade_reason,omitempty"`  // expiry reason, set on downgrade
	CreatedAtMs             int64    `json:"created_at_ms"`               // record creation timestamp (ms)
	UpdatedAtMs             int64    `json:"updated_at_ms"`               // last mutation timestamp (ms)
}

// DowngradedTTLMin is the sentinel TTL assigned to downgraded plans so they
// sort behind every live forecast.
const DowngradedTTLMin = 525600.0

// Complete reports whether the plan carries everything a liquidation build
// needs. Incomplete plans are never persisted.
func (p *Plan) Complete() bool {
	return p.RepayReservePubkey != "" && p.CollateralReservePubkey != "" && p.CollateralMint != ""
}

// Mints returns the plan's asset legs for mint-indexed event routing.
func (p *Plan) Mints() []string {
	if p.RepayMint == "" && p.CollateralMint == "" {
		return nil
	}
	if p.RepayMint == p.CollateralMint || p.CollateralMint == "" {
		return []string{p.RepayMint}
	}
	if p.RepayMint == "" {
		return []string{p.CollateralMint}
	}
	return []string{p.RepayMint, p.CollateralMint}
}

// AuxReserves returns the obligation-refresh auxiliary reserve list:
// deposits' reserves in obligation order, then borrows' reserves in
// obligation order, duplicates skipped.
func (p *Plan) AuxReserves() []string {
	seen := make(map[string]struct{}, len(p.DepositReserves)+len(p.BorrowReserves))
	out := make([]string, 0, len(p.DepositReserves)+len(p.BorrowReserves))
	add := func(reserves []string) {
		for _, r := range reserves {
			if r == "" {
				continue
			}
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	add(p.DepositReserves)
	add(p.BorrowReserves)
	return out
}

// Forecast builds the evaluator input for this plan.
func (p *Plan) Forecast() ForecastEntry {
	return ForecastEntry{
		Key:                    p.Obligation,
		TTLMin:                 p.TTLMin,
		TTLStr:                 p.TTLStr,
		EV:                     p.EV,
		PrevEV:                 p.PrevEV,
		Hazard:                 p.Hazard,
		PredictedLiquidationAt: p.PredictedLiquidationAt,
		ForecastUpdatedAtMs:    p.ForecastUpdatedAtMs,
	}
}

// PlanLess is the queue total order: liquidationEligible desc, EV desc,
// TTL asc (nil sorts last), hazard desc, obligation asc as tiebreak.
func PlanLess(a, b *Plan) bool {
	if a.LiquidationEligible != b.LiquidationEligible {
		return a.LiquidationEligible
	}
	if a.EV != b.EV {
		return a.EV > b.EV
	}
	at, bt := ttlOrInf(a.TTLMin), ttlOrInf(b.TTLMin)
	if at != bt {
		return at < bt
	}
	if a.Hazard != b.Hazard {
		return a.Hazard > b.Hazard
	}
	return a.Obligation < b.Obligation
}

// SortPlans orders plans by PlanLess in place.
func SortPlans(plans []*Plan) {
	sort.SliceStable(plans, func(i, j int) bool { return PlanLess(plans[i], plans[j]) })
}

func ttlOrInf(ttl *float64) float64 {
	if ttl == nil {
		return maxTTL
	}
	return *ttl
}

const maxTTL = 1 << 52
