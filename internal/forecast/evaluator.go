package forecast

import "solana-liquidator/internal/domain"

// Config holds the expiry thresholds.
type Config struct {
	ForecastMaxAgeMs  int64   // forecasts older than this expire regardless of TTL
	TTLUnknownPasses  bool    // treat unknown TTL as alive instead of expired
	TTLGraceMs        int64   // slack after the predicted liquidation time
	EVDropPct         float64 // EV drop (percent of prevEV) that forces a recompute
	RefreshIntervalMs int64   // per-key recompute cadence
}

// DefaultConfig returns the thresholds used when the config file leaves the
// forecast section out.
func DefaultConfig() Config {
	return Config{
		ForecastMaxAgeMs:  10 * 60 * 1000,
		TTLUnknownPasses:  false,
		TTLGraceMs:        60 * 1000,
		EVDropPct:         20,
		RefreshIntervalMs: 30 * 1000,
	}
}

// Verdict is the evaluator output for one entry. Expired and NeedsRecompute
// are independent: a live entry can still need a recompute.
type Verdict struct {
	Key            string // obligation pubkey
	Expired        bool
	Reason         string // one of the domain.ExpireReason constants, empty if alive
	NeedsRecompute bool
}

// Evaluator classifies forecast entries against the configured thresholds.
// Pure: no clock reads, no mutation of its inputs.
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an evaluator with the given thresholds.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate returns one verdict per entry, in input order.
func (e *Evaluator) Evaluate(entries []domain.ForecastEntry, nowMs int64) []Verdict {
	verdicts := make([]Verdict, len(entries))
	for i, entry := range entries {
		verdicts[i] = e.evaluateOne(entry, nowMs)
	}
	return verdicts
}

// evaluateOne applies the expiry rules in priority order; the first match wins.
func (e *Evaluator) evaluateOne(entry domain.ForecastEntry, nowMs int64) Verdict {
	v := Verdict{Key: entry.Key, NeedsRecompute: e.needsRecompute(entry, nowMs)}

	// 1. Forecast age beats every TTL rule.
	if nowMs-entry.ForecastUpdatedAtMs > e.cfg.ForecastMaxAgeMs {
		v.Expired = true
		v.Reason = domain.ExpireReasonAge
		return v
	}

	// 2. Unknown TTL expires unless configured to pass.
	if entry.TTLMin == nil {
		if !e.cfg.TTLUnknownPasses {
			v.Expired = true
			v.Reason = domain.ExpireReasonTTLUnknown
		}
		return v
	}

	// 3. Negative TTL means the forecast window is already behind us.
	if *entry.TTLMin < 0 {
		v.Expired = true
		v.Reason = domain.ExpireReasonTTLNegative
		return v
	}

	// 4. Predicted liquidation time plus grace.
	if entry.PredictedLiquidationAt != nil && nowMs > *entry.PredictedLiquidationAt+e.cfg.TTLGraceMs {
		v.Expired = true
		v.Reason = domain.ExpireReasonTTLGrace
		return v
	}

	return v
}

// needsRecompute fires on an EV drop beyond the threshold or when the per-key
// refresh interval has elapsed.
func (e *Evaluator) needsRecompute(entry domain.ForecastEntry, nowMs int64) bool {
	if entry.PrevEV > 0 && e.cfg.EVDropPct > 0 {
		dropPct := (entry.PrevEV - entry.EV) / entry.PrevEV * 100
		if dropPct > e.cfg.EVDropPct {
			return true
		}
	}
	return nowMs-entry.ForecastUpdatedAtMs > e.cfg.RefreshIntervalMs
}
