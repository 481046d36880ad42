package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/storage"
)

// PlanStore implements storage.PlanStore using PostgreSQL. Replace runs in
// one transaction, the durable equivalent of the file store's temp-write
// plus rename: concurrent readers see the old queue or the new one, never a
// mix.
type PlanStore struct {
	pool *Pool
}

// NewPlanStore creates a new PlanStore.
func NewPlanStore(pool *Pool) *PlanStore {
	return &PlanStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PlanStore = (*PlanStore)(nil)

const planColumns = `
	obligation, owner, market,
	repay_reserve_pubkey, collateral_reserve_pubkey, repay_mint, collateral_mint,
	repay_amount, deposit_reserves, borrow_reserves,
	health_ratio, hazard, ev, prev_ev, borrow_value_usd,
	ttl_min, ttl_str, predicted_liquidation_at_ms, forecast_updated_at_ms,
	liquidation_eligible, last_refresh_ms, downgrade_reason,
	created_at_ms, updated_at_ms
`

// Load reads the full queue. Incomplete rows are dropped, never loaded.
func (s *PlanStore) Load(ctx context.Context) ([]*domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM liquidation_plans`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}
	defer rows.Close()

	plans := make([]*domain.Plan, 0)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		if p.Obligation == "" || !p.Complete() {
			continue
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}
	return plans, nil
}

// Replace atomically overwrites the full queue with the given plans.
func (s *PlanStore) Replace(ctx context.Context, plans []*domain.Plan) error {
	for _, p := range plans {
		if p == nil || p.Obligation == "" {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM liquidation_plans`); err != nil {
		return fmt.Errorf("clear plans: %w", err)
	}

	if len(plans) > 0 {
		batch := &pgx.Batch{}
		insert := `INSERT INTO liquidation_plans (` + planColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
		)`
		for _, p := range plans {
			batch.Queue(insert,
				p.Obligation, p.Owner, p.Market,
				p.RepayReservePubkey, p.CollateralReservePubkey, p.RepayMint, p.CollateralMint,
				int64(p.RepayAmount), p.DepositReserves, p.BorrowReserves,
				p.HealthRatio, p.Hazard, p.EV, p.PrevEV, p.BorrowValueUSD,
				p.TTLMin, p.TTLStr, p.PredictedLiquidationAt, p.ForecastUpdatedAtMs,
				p.LiquidationEligible, p.LastRefreshMs, p.DowngradeReason,
				p.CreatedAtMs, p.UpdatedAtMs,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert plans: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

func scanPlan(row pgx.Row) (*domain.Plan, error) {
	var p domain.Plan
	var repayAmount int64
	err := row.Scan(
		&p.Obligation, &p.Owner, &p.Market,
		&p.RepayReservePubkey, &p.CollateralReservePubkey, &p.RepayMint, &p.CollateralMint,
		&repayAmount, &p.DepositReserves, &p.BorrowReserves,
		&p.HealthRatio, &p.Hazard, &p.EV, &p.PrevEV, &p.BorrowValueUSD,
		&p.TTLMin, &p.TTLStr, &p.PredictedLiquidationAt, &p.ForecastUpdatedAtMs,
		&p.LiquidationEligible, &p.LastRefreshMs, &p.DowngradeReason,
		&p.CreatedAtMs, &p.UpdatedAtMs,
	)
	if err != nil {
		return nil, err
	}
	p.RepayAmount = uint64(repayAmount)
	return &p, nil
}
