package refresh

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/observability"
)

// Trigger names passed to the emit callback.
const (
	TriggerAccount = "account"
	TriggerPrice   = "price"
)

// Config holds the event-gating knobs.
type Config struct {
	MinIntervalMs int64 // per-key floor between event-driven refreshes
	BatchLimit    int   // cap on keys emitted per price event
}

// EmitFunc receives the eligible obligation keys for one inbound event.
// Implementations own the actual refresh; the orchestrator only routes.
type EmitFunc func(keys []string, trigger string)

// Orchestrator turns raw stream events into throttled refresh requests.
// One instance serves both streams; the per-key clock is shared so an
// account update and a price update on the same obligation cannot double
// its refresh rate.
type Orchestrator struct {
	cfg    Config
	index  *MintIndex
	emit   EmitFunc
	logger *zap.Logger

	mu            sync.Mutex
	lastRefreshMs map[string]int64

	nowFn func() int64
}

// NewOrchestrator creates an orchestrator routing through the given index.
func NewOrchestrator(cfg Config, index *MintIndex, emit EmitFunc, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:           cfg,
		index:         index,
		emit:          emit,
		logger:        logger,
		lastRefreshMs: make(map[string]int64),
		nowFn:         func() int64 { return time.Now().UnixMilli() },
	}
}

// HandleAccountUpdate gates on the event's own key and emits it if the
// per-key interval has elapsed.
func (o *Orchestrator) HandleAccountUpdate(ev domain.AccountUpdate) {
	observability.RecordStreamEvent("account")
	now := o.nowFn()

	o.mu.Lock()
	ok := o.canRefreshLocked(ev.Pubkey, now)
	o.mu.Unlock()

	if !ok {
		observability.RecordRefreshSuppressed(TriggerAccount)
		return
	}
	o.emit([]string{ev.Pubkey}, TriggerAccount)
	observability.RecordRefreshEmit(TriggerAccount, 1)
}

// HandleMintUpdate fans a price event out to every obligation holding the
// mint, throttled per key and capped at the batch limit.
func (o *Orchestrator) HandleMintUpdate(ev domain.PriceUpdate) {
	observability.RecordStreamEvent("price")
	now := o.nowFn()
	mapped := o.index.Lookup(ev.Mint)
	if len(mapped) == 0 {
		return
	}

	o.mu.Lock()
	eligible := make([]string, 0, len(mapped))
	suppressed := 0
	for _, key := range mapped {
		if o.cfg.BatchLimit > 0 && len(eligible) >= o.cfg.BatchLimit {
			break
		}
		if o.canRefreshLocked(key, now) {
			eligible = append(eligible, key)
		} else {
			suppressed++
		}
	}
	o.mu.Unlock()

	if suppressed > 0 {
		observability.RecordRefreshSuppressed(TriggerPrice)
	}
	if len(eligible) == 0 {
		return
	}
	o.emit(eligible, TriggerPrice)
	observability.RecordRefreshEmit(TriggerPrice, len(eligible))
	o.logger.Debug("price fan-out",
		zap.String("mint", ev.Mint),
		zap.Int("mapped", len(mapped)),
		zap.Int("eligible", len(eligible)))
}

// canRefreshLocked is the check-and-reserve throttle gate: a positive answer
// consumes the key's refresh slot immediately, so concurrent callers cannot
// both pass for the same key.
func (o *Orchestrator) canRefreshLocked(key string, now int64) bool {
	if last, ok := o.lastRefreshMs[key]; ok && now-last < o.cfg.MinIntervalMs {
		return false
	}
	o.lastRefreshMs[key] = now
	return true
}

// ForgetOlderThan drops throttle entries idle beyond the given age. Called
// from maintenance so departed watch keys do not pin memory.
func (o *Orchestrator) ForgetOlderThan(ageMs int64) int {
	now := o.nowFn()

	o.mu.Lock()
	defer o.mu.Unlock()
	removed := 0
	for key, last := range o.lastRefreshMs {
		if now-last > ageMs {
			delete(o.lastRefreshMs, key)
			removed++
		}
	}
	return removed
}
