package clickhouse

import (
	"context"
	"fmt"

	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/storage"
)

// AttemptStore implements storage.AttemptStore using ClickHouse.
type AttemptStore struct {
	conn *Conn
}

// NewAttemptStore creates a new AttemptStore.
func NewAttemptStore(conn *Conn) *AttemptStore {
	return &AttemptStore{conn: conn}
}

// Compile-time interface check.
var _ storage.AttemptStore = (*AttemptStore)(nil)

const attemptColumns = `
	attempt_id, cycle_id, obligation, attempt,
	signature, blockhash, cu_limit, cu_price, tx_bytes,
	submitted_at, duration_ms, confirmed, failure, err
`

// Insert adds one attempt record. Returns ErrDuplicateKey if attempt_id exists.
func (s *AttemptStore) Insert(ctx context.Context, a *domain.BroadcastAttempt) error {
	return s.InsertBulk(ctx, []*domain.BroadcastAttempt{a})
}

// InsertBulk adds multiple attempt records. Fails entire batch on any duplicate.
func (s *AttemptStore) InsertBulk(ctx context.Context, attempts []*domain.BroadcastAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	// Intra-batch duplicates.
	seen := make(map[string]struct{}, len(attempts))
	for _, a := range attempts {
		if a == nil || a.AttemptID == "" {
			return storage.ErrInvalidInput
		}
		if _, dup := seen[a.AttemptID]; dup {
			return storage.ErrDuplicateKey
		}
		seen[a.AttemptID] = struct{}{}
	}

	// MergeTree does not enforce uniqueness; check before inserting.
	for _, a := range attempts {
		exists, err := s.exists(ctx, a.AttemptID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO broadcast_attempts (`+attemptColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, a := range attempts {
		err = batch.Append(
			a.AttemptID, a.CycleID, a.Obligation, uint8(a.Attempt),
			a.Signature, a.Blockhash, a.CULimit, a.CUPrice, uint32(a.TxBytes),
			a.SubmittedAt, a.DurationMs, a.Confirmed, string(a.Failure), a.Err,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByObligation retrieves attempts for one plan, ordered by submitted_at ASC.
func (s *AttemptStore) GetByObligation(ctx context.Context, obligation string) ([]*domain.BroadcastAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM broadcast_attempts
		WHERE obligation = ?
		ORDER BY submitted_at ASC, attempt ASC
	`
	return s.query(ctx, query, obligation)
}

// GetByCycle retrieves attempts recorded under one scheduler cycle, ordered
// by submitted_at ASC.
func (s *AttemptStore) GetByCycle(ctx context.Context, cycleID string) ([]*domain.BroadcastAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM broadcast_attempts
		WHERE cycle_id = ?
		ORDER BY submitted_at ASC, attempt ASC
	`
	return s.query(ctx, query, cycleID)
}

func (s *AttemptStore) query(ctx context.Context, query string, arg any) ([]*domain.BroadcastAttempt, error) {
	rows, err := s.conn.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]*domain.BroadcastAttempt, 0)
	for rows.Next() {
		var a domain.BroadcastAttempt
		var attempt uint8
		var txBytes uint32
		var failure string
		err := rows.Scan(
			&a.AttemptID, &a.CycleID, &a.Obligation, &attempt,
			&a.Signature, &a.Blockhash, &a.CULimit, &a.CUPrice, &txBytes,
			&a.SubmittedAt, &a.DurationMs, &a.Confirmed, &failure, &a.Err,
		)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Attempt = int(attempt)
		a.TxBytes = int(txBytes)
		a.Failure = domain.FailureKind(failure)
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

func (s *AttemptStore) exists(ctx context.Context, attemptID string) (bool, error) {
	var count uint64
	row := s.conn.QueryRow(ctx, `SELECT count() FROM broadcast_attempts WHERE attempt_id = ?`, attemptID)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
