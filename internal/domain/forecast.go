package domain

// ForecastEntry is the per-plan snapshot the expiry evaluator reads.
type ForecastEntry struct {
	Key                    string   // obligation pubkey
	TTLMin                 *float64 // forecast minutes to liquidation, nil = unknown
	TTLStr                 string   // human-readable TTL
	EV                     float64  // current expected value, USD
	PrevEV                 float64  // EV at previous recompute
	Hazard                 float64  // scorer hazard estimate
	PredictedLiquidationAt *int64   // Unix ms, nil = no prediction
	ForecastUpdatedAtMs    int64    // when the scorer last ran
}

// Expiry reasons attached to downgraded plans.
const (
	ExpireReasonAge         = "age"
	ExpireReasonTTLUnknown  = "ttl_unknown"
	ExpireReasonTTLNegative = "ttl_negative"
	ExpireReasonTTLGrace    = "ttl_grace_exceeded"
	ExpireReasonManual      = "manual"
)
