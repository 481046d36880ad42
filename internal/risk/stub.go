package risk

import (
	"context"
	"sync"

	"solana-liquidator/internal/domain"
)

// StubScorer returns scripted scores for dry runs and tests. Keys without a
// script echo the plan's current forecast back, refreshed.
type StubScorer struct {
	mu     sync.Mutex
	scores map[string]Score
	errs   map[string]error
	calls  []string
}

// NewStubScorer creates an empty stub.
func NewStubScorer() *StubScorer {
	return &StubScorer{
		scores: make(map[string]Score),
		errs:   make(map[string]error),
	}
}

// SetScore scripts the score for one obligation.
func (s *StubScorer) SetScore(obligation string, score Score) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[obligation] = score
}

// SetError scripts a scoring failure for one obligation.
func (s *StubScorer) SetError(obligation string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[obligation] = err
}

// Calls returns the obligations scored so far, in call order.
func (s *StubScorer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Score returns the scripted score, or echoes the plan's current forecast.
func (s *StubScorer) Score(_ context.Context, p *domain.Plan) (*Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, p.Obligation)

	if err, ok := s.errs[p.Obligation]; ok {
		return nil, err
	}
	if score, ok := s.scores[p.Obligation]; ok {
		return &score, nil
	}
	return &Score{
		HealthRatio:            p.HealthRatio,
		Hazard:                 p.Hazard,
		EV:                     p.EV,
		TTLMin:                 p.TTLMin,
		TTLStr:                 p.TTLStr,
		PredictedLiquidationAt: p.PredictedLiquidationAt,
	}, nil
}

var _ Scorer = (*StubScorer)(nil)
