package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/forecast"
	"solana-liquidator/internal/storage"
)

// Rescorer recomputes the risk and forecast fields of one plan in place.
// Implementations are expected to move EV to PrevEV before overwriting it.
type Rescorer interface {
	Rescore(ctx context.Context, p *domain.Plan) error
}

// Queue is the managed liquidation plan queue. It keeps a sorted in-memory
// working set and persists every mutation wholesale through the store, so
// the durable document always reflects one consistent queue state.
type Queue struct {
	mu     sync.Mutex
	store  storage.PlanStore
	logger *zap.Logger

	plans []*domain.Plan          // sorted by domain.PlanLess
	byKey map[string]*domain.Plan // same pointers, keyed by obligation
}

// New creates a queue over the given store.
func New(store storage.PlanStore, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		store:  store,
		logger: logger,
		byKey:  make(map[string]*domain.Plan),
	}
}

// Load reads the persisted queue into the working set. Incomplete plans are
// dropped, never loaded.
func (q *Queue) Load(ctx context.Context) error {
	plans, err := q.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.resetLocked(plans)
	q.logger.Info("queue loaded", zap.Int("plans", len(q.plans)))
	return nil
}

// Replace overwrites the whole queue with the given plans, dropping
// incomplete ones, and persists the sorted result.
func (q *Queue) Replace(ctx context.Context, plans []*domain.Plan) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := make([]*domain.Plan, 0, len(plans))
	dropped := 0
	for _, p := range plans {
		if p == nil || p.Obligation == "" || !p.Complete() {
			dropped++
			continue
		}
		kept = append(kept, p)
	}
	q.resetLocked(kept)
	if dropped > 0 {
		q.logger.Warn("replace dropped incomplete plans", zap.Int("dropped", dropped))
	}
	return q.persistLocked(ctx)
}

// Enqueue merges plans into the queue by obligation key. Existing plans are
// superseded field-wise by the incoming ones; creation time, last refresh
// time and the EV baseline survive the merge. Incomplete plans are dropped.
func (q *Queue) Enqueue(ctx context.Context, plans ...*domain.Plan) error {
	now := time.Now().UnixMilli()

	q.mu.Lock()
	defer q.mu.Unlock()

	merged, dropped := 0, 0
	for _, p := range plans {
		if p == nil || p.Obligation == "" || !p.Complete() {
			dropped++
			continue
		}
		incoming := *p
		incoming.UpdatedAtMs = now
		if existing, ok := q.byKey[incoming.Obligation]; ok {
			incoming.CreatedAtMs = existing.CreatedAtMs
			incoming.LastRefreshMs = existing.LastRefreshMs
			if incoming.PrevEV == 0 {
				incoming.PrevEV = existing.EV
			}
			*existing = incoming
		} else {
			if incoming.CreatedAtMs == 0 {
				incoming.CreatedAtMs = now
			}
			added := incoming
			q.plans = append(q.plans, &added)
			q.byKey[added.Obligation] = &added
		}
		merged++
	}

	domain.SortPlans(q.plans)
	if dropped > 0 {
		q.logger.Warn("enqueue dropped incomplete plans", zap.Int("dropped", dropped))
	}
	if merged == 0 && dropped == 0 {
		return nil
	}
	return q.persistLocked(ctx)
}

// Drop removes one plan by key and persists. Unknown keys are a no-op.
func (q *Queue) Drop(ctx context.Context, obligation string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.byKey[obligation]; !ok {
		return false, nil
	}
	delete(q.byKey, obligation)
	for i, p := range q.plans {
		if p.Obligation == obligation {
			q.plans = append(q.plans[:i], q.plans[i+1:]...)
			break
		}
	}
	return true, q.persistLocked(ctx)
}

// Downgrade marks a plan ineligible with a sentinel TTL, retaining the
// expiry reason instead of deleting the plan.
func (q *Queue) Downgrade(ctx context.Context, obligation, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.byKey[obligation]
	if !ok {
		return storage.ErrNotFound
	}
	q.downgradeLocked(p, reason)
	domain.SortPlans(q.plans)
	return q.persistLocked(ctx)
}

// RefreshResult summarizes one refresh pass.
type RefreshResult struct {
	Evaluated  int
	Recomputed int
	Failed     int // rescore errors, plans left untouched
	Downgraded int
}

// Refresh applies the expiry evaluator to every plan, recomputes the flagged
// subset (plus explicitly dirtied keys) up to batchLimit, downgrades what is
// still expired afterwards, re-sorts and persists once.
func (q *Queue) Refresh(ctx context.Context, ev *forecast.Evaluator, rescorer Rescorer, dirty map[string]bool, batchLimit int, nowMs int64) (RefreshResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var res RefreshResult
	res.Evaluated = len(q.plans)
	if len(q.plans) == 0 {
		return res, nil
	}

	entries := make([]domain.ForecastEntry, len(q.plans))
	for i, p := range q.plans {
		entries[i] = p.Forecast()
	}
	verdicts := ev.Evaluate(entries, nowMs)

	// Recompute in queue priority order so the batch cap starves the tail,
	// not the head.
	recomputed := make(map[string]bool)
	for i, p := range q.plans {
		if batchLimit > 0 && res.Recomputed+res.Failed >= batchLimit {
			break
		}
		if !verdicts[i].NeedsRecompute && !dirty[p.Obligation] {
			continue
		}
		if rescorer == nil {
			break
		}
		if err := rescorer.Rescore(ctx, p); err != nil {
			res.Failed++
			q.logger.Warn("rescore failed",
				zap.String("obligation", p.Obligation),
				zap.Error(err))
			continue
		}
		p.UpdatedAtMs = nowMs
		recomputed[p.Obligation] = true
		res.Recomputed++
	}

	// Expired plans are downgraded, not deleted. A recomputed plan gets a
	// second verdict on its fresh forecast before that happens.
	for i, p := range q.plans {
		verdict := verdicts[i]
		if recomputed[p.Obligation] {
			verdict = ev.Evaluate([]domain.ForecastEntry{p.Forecast()}, nowMs)[0]
		}
		if verdict.Expired && p.DowngradeReason != verdict.Reason {
			q.downgradeLocked(p, verdict.Reason)
			res.Downgraded++
		}
	}

	domain.SortPlans(q.plans)
	return res, q.persistLocked(ctx)
}

// Plans returns a snapshot of the queue in sorted order.
func (q *Queue) Plans() []*domain.Plan {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*domain.Plan, 0, len(q.plans))
	for _, p := range q.plans {
		planCopy := *p
		out = append(out, &planCopy)
	}
	return out
}

// Get returns a copy of one plan, or false if absent.
func (q *Queue) Get(obligation string) (*domain.Plan, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.byKey[obligation]
	if !ok {
		return nil, false
	}
	planCopy := *p
	return &planCopy, true
}

// Len returns the number of queued plans.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.plans)
}

// MarkRefreshed stamps the event-driven refresh time for one plan without
// persisting; the next persisting mutation carries it.
func (q *Queue) MarkRefreshed(obligation string, nowMs int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p, ok := q.byKey[obligation]; ok {
		p.LastRefreshMs = nowMs
	}
}

func (q *Queue) downgradeLocked(p *domain.Plan, reason string) {
	ttl := domain.DowngradedTTLMin
	p.TTLMin = &ttl
	p.LiquidationEligible = false
	p.DowngradeReason = reason
	p.UpdatedAtMs = time.Now().UnixMilli()
	q.logger.Info("plan downgraded",
		zap.String("obligation", p.Obligation),
		zap.String("reason", reason))
}

func (q *Queue) resetLocked(plans []*domain.Plan) {
	q.plans = plans
	q.byKey = make(map[string]*domain.Plan, len(plans))
	for _, p := range plans {
		q.byKey[p.Obligation] = p
	}
	domain.SortPlans(q.plans)
}

func (q *Queue) persistLocked(ctx context.Context) error {
	if err := q.store.Replace(ctx, q.plans); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}
