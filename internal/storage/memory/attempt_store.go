package memory

import (
	"context"
	"sort"
	"sync"

	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/storage"
)

// AttemptStore is an in-memory implementation of storage.AttemptStore.
type AttemptStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BroadcastAttempt // keyed by attempt_id
}

// NewAttemptStore creates a new in-memory attempt store.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		data: make(map[string]*domain.BroadcastAttempt),
	}
}

// Insert adds one attempt record. Returns ErrDuplicateKey if attempt_id exists.
func (s *AttemptStore) Insert(_ context.Context, a *domain.BroadcastAttempt) error {
	if a == nil || a.AttemptID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.AttemptID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	attemptCopy := *a
	s.data[a.AttemptID] = &attemptCopy
	return nil
}

// InsertBulk adds multiple attempt records. Fails entire batch on any duplicate.
func (s *AttemptStore) InsertBulk(_ context.Context, attempts []*domain.BroadcastAttempt) error {
	for _, a := range attempts {
		if a == nil || a.AttemptID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range attempts {
		if _, exists := s.data[a.AttemptID]; exists {
			return storage.ErrDuplicateKey
		}
	}
	for _, a := range attempts {
		attemptCopy := *a
		s.data[a.AttemptID] = &attemptCopy
	}
	return nil
}

// GetByObligation retrieves attempts for one plan, ordered by submitted_at ASC.
func (s *AttemptStore) GetByObligation(_ context.Context, obligation string) ([]*domain.BroadcastAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BroadcastAttempt
	for _, a := range s.data {
		if a.Obligation == obligation {
			attemptCopy := *a
			result = append(result, &attemptCopy)
		}
	}

	sortAttempts(result)
	return result, nil
}

// GetByCycle retrieves attempts recorded under one scheduler cycle,
// ordered by submitted_at ASC.
func (s *AttemptStore) GetByCycle(_ context.Context, cycleID string) ([]*domain.BroadcastAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BroadcastAttempt
	for _, a := range s.data {
		if a.CycleID == cycleID {
			attemptCopy := *a
			result = append(result, &attemptCopy)
		}
	}

	sortAttempts(result)
	return result, nil
}

// sortAttempts orders by submitted_at ASC, attempt number as tiebreak.
func sortAttempts(attempts []*domain.BroadcastAttempt) {
	sort.Slice(attempts, func(i, j int) bool {
		if attempts[i].SubmittedAt != attempts[j].SubmittedAt {
			return attempts[i].SubmittedAt < attempts[j].SubmittedAt
		}
		return attempts[i].Attempt < attempts[j].Attempt
	})
}

// Verify interface compliance at compile time.
var _ storage.AttemptStore = (*AttemptStore)(nil)
