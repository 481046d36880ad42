// Package risk adapts the external risk model. The hazard, EV and health
// formulas live in a separate scorer service; this package only carries the
// score across the wire and onto a plan.
package risk

import (
	"context"

	"solana-liquidator/internal/domain"
)

// Score is one scorer verdict for one obligation.
type Score struct {
	HealthRatio            float64  `json:"health_ratio"`
	Hazard                 float64  `json:"hazard"`
	EV                     float64  `json:"ev"`
	TTLMin                 *float64 `json:"ttl_min"`
	TTLStr                 string   `json:"ttl_str"`
	PredictedLiquidationAt *int64   `json:"predicted_liquidation_at_ms"`
}

// Scorer is the external risk model surface.
type Scorer interface {
	Score(ctx context.Context, p *domain.Plan) (*Score, error)
}

// Apply writes a score onto a plan, moving the current EV to the baseline
// and stamping the forecast time.
func Apply(p *domain.Plan, s *Score, nowMs int64) {
	p.PrevEV = p.EV
	p.HealthRatio = s.HealthRatio
	p.Hazard = s.Hazard
	p.EV = s.EV
	p.TTLMin = s.TTLMin
	p.TTLStr = s.TTLStr
	p.PredictedLiquidationAt = s.PredictedLiquidationAt
	p.ForecastUpdatedAtMs = nowMs
	// A fresh score supersedes any earlier downgrade.
	p.LiquidationEligible = s.HealthRatio < 1.0
	if p.LiquidationEligible {
		p.DowngradeReason = ""
	}
}

// Rescorer plugs a Scorer into the queue refresh pass.
type Rescorer struct {
	scorer Scorer
	nowMs  func() int64
}

// NewRescorer wires a rescorer over the given scorer.
func NewRescorer(scorer Scorer, nowMs func() int64) *Rescorer {
	return &Rescorer{scorer: scorer, nowMs: nowMs}
}

// Rescore fetches a fresh score and applies it to the plan in place.
func (r *Rescorer) Rescore(ctx context.Context, p *domain.Plan) error {
	s, err := r.scorer.Score(ctx, p)
	if err != nil {
		return err
	}
	Apply(p, s, r.nowMs())
	return nil
}
