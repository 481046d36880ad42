package refresh

import (
	"sort"
	"sync"

	"solana-liquidator/internal/domain"
)

// MintIndex is the many-to-many mint to obligation routing table. Price
// events carry a mint; execution wants obligation keys. Lookup is O(1) on
// the mint map plus the size of its bucket.
type MintIndex struct {
	mu     sync.RWMutex
	byMint map[string]map[string]bool // mint → obligation set
	byKey  map[string]map[string]bool // obligation → mint set
}

// NewMintIndex creates an empty index.
func NewMintIndex() *MintIndex {
	return &MintIndex{
		byMint: make(map[string]map[string]bool),
		byKey:  make(map[string]map[string]bool),
	}
}

// Rebuild replaces the whole index from the given plans.
func (ix *MintIndex) Rebuild(plans []*domain.Plan) {
	byMint := make(map[string]map[string]bool)
	byKey := make(map[string]map[string]bool, len(plans))
	for _, p := range plans {
		for _, mint := range p.Mints() {
			link(byMint, mint, p.Obligation)
			link(byKey, p.Obligation, mint)
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.byMint = byMint
	ix.byKey = byKey
}

// Patch replaces the links of one obligation with the given mints. An empty
// mint list removes the obligation from the index.
func (ix *MintIndex) Patch(obligation string, mints []string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for mint := range ix.byKey[obligation] {
		unlink(ix.byMint, mint, obligation)
	}
	delete(ix.byKey, obligation)

	for _, mint := range mints {
		link(ix.byMint, mint, obligation)
		link(ix.byKey, obligation, mint)
	}
}

// Remove drops one obligation from the index.
func (ix *MintIndex) Remove(obligation string) {
	ix.Patch(obligation, nil)
}

// Lookup returns the obligation keys linked to a mint, sorted for
// deterministic fan-out order.
func (ix *MintIndex) Lookup(mint string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	bucket := ix.byMint[mint]
	if len(bucket) == 0 {
		return nil
	}
	keys := make([]string, 0, len(bucket))
	for k := range bucket {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Mints returns the mints linked to one obligation, sorted.
func (ix *MintIndex) Mints(obligation string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	bucket := ix.byKey[obligation]
	if len(bucket) == 0 {
		return nil
	}
	mints := make([]string, 0, len(bucket))
	for m := range bucket {
		mints = append(mints, m)
	}
	sort.Strings(mints)
	return mints
}

// Keys returns every indexed obligation, sorted.
func (ix *MintIndex) Keys() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	keys := make([]string, 0, len(ix.byKey))
	for k := range ix.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Size returns the number of indexed mints and obligations.
func (ix *MintIndex) Size() (mints, obligations int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byMint), len(ix.byKey)
}

func link(m map[string]map[string]bool, a, b string) {
	bucket, ok := m[a]
	if !ok {
		bucket = make(map[string]bool)
		m[a] = bucket
	}
	bucket[b] = true
}

func unlink(m map[string]map[string]bool, a, b string) {
	if bucket, ok := m[a]; ok {
		delete(bucket, b)
		if len(bucket) == 0 {
			delete(m, a)
		}
	}
}
