// Package presubmit caches ready-to-broadcast liquidation transactions for
// the top plans so the hot path skips the full build when an artifact is
// still usable.
package presubmit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/observability"
	"solana-liquidator/internal/sequencer"
	"solana-liquidator/internal/solana"
)

// Profile names one rung of the size-overflow ladder. Each rung keeps the
// drops of the rungs above it.
type Profile string

const (
	ProfileFull          Profile = "full"
	ProfileNoFarm        Profile = "no_farm"
	ProfileNarrowRefresh Profile = "narrow_refresh"
	ProfileNoCompute     Profile = "no_compute_budget"
)

var ladder = []Profile{ProfileFull, ProfileNoFarm, ProfileNarrowRefresh, ProfileNoCompute}

// options maps a profile onto build switches, cumulatively.
func (p Profile) options(base sequencer.BuildOptions) sequencer.BuildOptions {
	switch p {
	case ProfileNoFarm:
		base.DropFarmRefresh = true
	case ProfileNarrowRefresh:
		base.DropFarmRefresh = true
		base.NarrowPreRefresh = true
	case ProfileNoCompute:
		base.DropFarmRefresh = true
		base.NarrowPreRefresh = true
		base.DropComputeBudget = true
	}
	return base
}

// ProfileSize records one oversized ladder attempt.
type ProfileSize struct {
	Profile Profile
	Size    int
}

// SizeExhaustedError reports that no ladder profile fit the wire-size limit.
// A build defect: it lists every attempted profile and its size.
type SizeExhaustedError struct {
	Obligation string
	Limit      int
	Attempts   []ProfileSize
}

func (e *SizeExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s=%dB", a.Profile, a.Size)
	}
	return fmt.Sprintf("presubmit: transaction for %s exceeds %d bytes in every profile: %s",
		e.Obligation, e.Limit, strings.Join(parts, " "))
}

// Entry is one cached artifact plus the metadata freshness checks read.
type Entry struct {
	Obligation string
	Result     *sequencer.BuildResult
	Profile    Profile
	Blockhash  string
	BuiltAt    time.Time
	EV         float64
	TTLMin     *float64
}

// Fresh reports whether the entry can be broadcast as is: its blockhash
// still matches the chain head and it has not outlived the cache TTL.
func (e *Entry) Fresh(blockhash string, ttl time.Duration, now time.Time) bool {
	return e.Blockhash == blockhash && now.Sub(e.BuiltAt) < ttl
}

// Builder is the sequencer surface the cache drives.
type Builder interface {
	Build(ctx context.Context, plan *domain.Plan, opts sequencer.BuildOptions) (*sequencer.BuildResult, error)
}

// Config tunes the cache.
type Config struct {
	// TopK bounds how many plans keep a cached artifact.
	TopK int
	// EntryTTL bounds a cached artifact's age.
	EntryTTL time.Duration
	// RebuildInterval throttles rebuilds per key.
	RebuildInterval time.Duration
	// ComputeUnitLimit and ComputeUnitPrice seed the full profile.
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64
	// MaxTransactionSize is the wire-size limit the ladder enforces.
	MaxTransactionSize int
}

// DefaultConfig returns the cache defaults.
func DefaultConfig() Config {
	return Config{
		TopK:               8,
		EntryTTL:           30 * time.Second,
		RebuildInterval:    3 * time.Second,
		ComputeUnitLimit:   1_400_000,
		ComputeUnitPrice:   1,
		MaxTransactionSize: solana.MaxTransactionSize,
	}
}

// Cache holds presubmit artifacts keyed by obligation. Mutation is
// single-writer within a scheduler cycle; the mutex covers the cross-cycle
// and CLI readers.
type Cache struct {
	mu        sync.Mutex
	builder   Builder
	cfg       Config
	logger    *zap.Logger
	entries   map[string]*Entry
	lastBuild map[string]time.Time

	now func() time.Time
}

// New creates a cache over the given builder.
func New(builder Builder, cfg Config, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	if cfg.MaxTransactionSize <= 0 {
		cfg.MaxTransactionSize = solana.MaxTransactionSize
	}
	return &Cache{
		builder:   builder,
		cfg:       cfg,
		logger:    logger,
		entries:   make(map[string]*Entry),
		lastBuild: make(map[string]time.Time),
		now:       time.Now,
	}
}

// GetOrBuild returns a broadcastable artifact for the plan. A fresh entry is
// served as is. A throttled key with any entry serves the stale artifact (a
// stale attempt beats none); the throttle is bypassed only when no entry
// exists at all. The returned bool reports whether the artifact came from
// the cache.
func (c *Cache) GetOrBuild(ctx context.Context, plan *domain.Plan, blockhash string) (*Entry, bool, error) {
	key := plan.Obligation

	c.mu.Lock()
	now := c.now()
	if e, ok := c.entries[key]; ok && e.Fresh(blockhash, c.cfg.EntryTTL, now) {
		c.mu.Unlock()
		observability.RecordPresubmitCacheHit("fresh")
		return e, true, nil
	}
	if last, ok := c.lastBuild[key]; ok && now.Sub(last) < c.cfg.RebuildInterval {
		if e, ok := c.entries[key]; ok {
			c.mu.Unlock()
			observability.RecordPresubmitCacheHit("stale")
			c.logger.Debug("serving stale presubmit entry",
				zap.String("obligation", key),
				zap.Duration("age", now.Sub(e.BuiltAt)))
			return e, true, nil
		}
	}
	// Reserve the rebuild slot before releasing the lock.
	c.lastBuild[key] = now
	c.mu.Unlock()

	res, profile, err := c.buildLadder(ctx, plan)
	if err != nil {
		return nil, false, err
	}

	entry := &Entry{
		Obligation: key,
		Result:     res,
		Profile:    profile,
		Blockhash:  res.Blockhash,
		BuiltAt:    c.now(),
		EV:         plan.EV,
		TTLMin:     plan.TTLMin,
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.pruneLocked()
	c.mu.Unlock()
	return entry, false, nil
}

// buildLadder walks the fallback ladder until a profile fits the wire-size
// limit. Build errors abort immediately; only oversize moves down a rung.
func (c *Cache) buildLadder(ctx context.Context, plan *domain.Plan) (*sequencer.BuildResult, Profile, error) {
	base := sequencer.BuildOptions{
		ComputeUnitLimit: c.cfg.ComputeUnitLimit,
		ComputeUnitPrice: c.cfg.ComputeUnitPrice,
	}

	var attempts []ProfileSize
	skipNoFarm := false
	for _, profile := range ladder {
		if profile == ProfileNoFarm && skipNoFarm {
			continue
		}
		res, err := c.builder.Build(ctx, plan, profile.options(base))
		if err != nil {
			observability.RecordPresubmitBuild(string(profile), "error")
			return nil, profile, err
		}

		size := res.Tx.Size()
		observability.RecordTransactionBytes(size)
		if size <= c.cfg.MaxTransactionSize {
			observability.RecordPresubmitBuild(string(profile), "ok")
			if profile != ProfileFull {
				c.logger.Info("presubmit built on fallback profile",
					zap.String("obligation", plan.Obligation),
					zap.String("profile", string(profile)),
					zap.Int("tx_bytes", size))
			}
			return res, profile, nil
		}

		observability.RecordPresubmitBuild(string(profile), "oversize")
		attempts = append(attempts, ProfileSize{Profile: profile, Size: size})
		if profile == ProfileFull && !res.HasFarmRefresh {
			// Dropping a farm refresh that was never built changes nothing.
			skipNoFarm = true
		}
	}

	return nil, "", &SizeExhaustedError{
		Obligation: plan.Obligation,
		Limit:      c.cfg.MaxTransactionSize,
		Attempts:   attempts,
	}
}

// Get returns the cached entry for a key without building.
func (c *Cache) Get(obligation string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[obligation]
	return e, ok
}

// Invalidate removes one entry, if present.
func (c *Cache) Invalidate(obligation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, obligation)
}

// Sweep evicts every entry whose blockhash no longer matches the chain head.
// Triggered by the scheduler cycle, never self-timed.
func (c *Cache) Sweep(blockhash string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, e := range c.entries {
		if e.Blockhash != blockhash {
			delete(c.entries, key)
			evicted++
		}
	}
	// Throttle reservations for evicted keys age out with them.
	now := c.now()
	for key, last := range c.lastBuild {
		if _, ok := c.entries[key]; !ok && now.Sub(last) >= c.cfg.RebuildInterval {
			delete(c.lastBuild, key)
		}
	}

	if evicted > 0 {
		observability.RecordPresubmitEvicted(evicted)
		c.logger.Debug("presubmit sweep", zap.Int("evicted", evicted))
	}
	return evicted
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// pruneLocked keeps the TopK highest-EV entries.
func (c *Cache) pruneLocked() {
	if len(c.entries) <= c.cfg.TopK {
		return
	}
	all := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].EV != all[j].EV {
			return all[i].EV > all[j].EV
		}
		return all[i].Obligation < all[j].Obligation
	})
	for _, e := range all[c.cfg.TopK:] {
		delete(c.entries, e.Obligation)
	}
}
