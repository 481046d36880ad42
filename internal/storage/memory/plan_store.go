package memory

import (
	"context"
	"sync"

	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/storage"
)

// PlanStore is an in-memory implementation of storage.PlanStore.
type PlanStore struct {
	mu    sync.RWMutex
	plans []*domain.Plan
}

// NewPlanStore creates a new in-memory plan store.
func NewPlanStore() *PlanStore {
	return &PlanStore{}
}

// Load reads the full queue. An empty store yields an empty slice.
func (s *PlanStore) Load(_ context.Context) ([]*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		planCopy := *p
		result = append(result, &planCopy)
	}
	return result, nil
}

// Replace atomically overwrites the full queue with the given plans.
// Incomplete plans are rejected rather than silently dropped here; the
// queue layer filters before persisting.
func (s *PlanStore) Replace(_ context.Context, plans []*domain.Plan) error {
	for _, p := range plans {
		if p == nil || p.Obligation == "" {
			return storage.ErrInvalidInput
		}
	}

	stored := make([]*domain.Plan, 0, len(plans))
	for _, p := range plans {
		planCopy := *p
		stored = append(stored, &planCopy)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = stored
	return nil
}

// Verify interface compliance at compile time.
var _ storage.PlanStore = (*PlanStore)(nil)
