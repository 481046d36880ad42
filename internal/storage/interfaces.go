package storage

import (
	"context"

	"solana-liquidator/internal/domain"
)

// PlanStore persists the liquidation plan queue as one durable document.
// All mutation goes through Replace so readers never observe a half-written
// queue; merge/drop/downgrade semantics live above this interface.
type PlanStore interface {
	// Load reads the full queue. A missing document yields an empty slice.
	Load(ctx context.Context) ([]*domain.Plan, error)

	// Replace atomically overwrites the full queue with the given plans.
	Replace(ctx context.Context, plans []*domain.Plan) error
}

// AttemptStore provides access to broadcast_attempts storage. Append-only:
// attempt history reconstructs execution outcomes without replay.
type AttemptStore interface {
	// Insert adds one attempt record. Returns ErrDuplicateKey if attempt_id exists.
	Insert(ctx context.Context, a *domain.BroadcastAttempt) error

	// InsertBulk adds multiple attempt records. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, attempts []*domain.BroadcastAttempt) error

	// GetByObligation retrieves attempts for one plan, ordered by submitted_at ASC.
	GetByObligation(ctx context.Context, obligation string) ([]*domain.BroadcastAttempt, error)

	// GetByCycle retrieves attempts recorded under one scheduler cycle,
	// ordered by submitted_at ASC.
	GetByCycle(ctx context.Context, cycleID string) ([]*domain.BroadcastAttempt, error)
}
