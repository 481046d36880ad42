package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/storage"
)

// queueDocumentVersion guards against reading documents written by an
// incompatible build.
const queueDocumentVersion = 1

// queueDocument is the on-disk shape of the plan queue.
type queueDocument struct {
	Version     int            `json:"version"`
	UpdatedAtMs int64          `json:"updated_at_ms"`
	Plans       []*domain.Plan `json:"plans"`
}

// PlanStore is a file-backed implementation of storage.PlanStore. Writes go
// to a temp file in the same directory followed by a rename, so a reader
// never observes a half-written queue and a crash mid-write leaves the
// previous document intact.
type PlanStore struct {
	mu   sync.Mutex
	path string
}

// NewPlanStore creates a plan store persisting to the given path. The parent
// directory is created if missing.
func NewPlanStore(path string) (*PlanStore, error) {
	if path == "" {
		return nil, storage.ErrInvalidInput
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create queue directory: %w", err)
		}
	}
	return &PlanStore{path: path}, nil
}

// Load reads the full queue. A missing document yields an empty slice.
// Incomplete plans in a tampered document are dropped, never resurrected.
func (s *PlanStore) Load(_ context.Context) ([]*domain.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*domain.Plan{}, nil
		}
		return nil, fmt.Errorf("read queue document: %w", err)
	}

	var doc queueDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode queue document: %w", err)
	}
	if doc.Version != queueDocumentVersion {
		return nil, fmt.Errorf("queue document version %d: %w", doc.Version, storage.ErrInvalidInput)
	}

	plans := make([]*domain.Plan, 0, len(doc.Plans))
	for _, p := range doc.Plans {
		if p == nil || p.Obligation == "" || !p.Complete() {
			continue
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// Replace atomically overwrites the full queue with the given plans.
func (s *PlanStore) Replace(_ context.Context, plans []*domain.Plan) error {
	for _, p := range plans {
		if p == nil || p.Obligation == "" {
			return storage.ErrInvalidInput
		}
	}

	doc := queueDocument{
		Version:     queueDocumentVersion,
		UpdatedAtMs: time.Now().UnixMilli(),
		Plans:       plans,
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write queue temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename queue temp file: %w", err)
	}
	return nil
}

// Verify interface compliance at compile time.
var _ storage.PlanStore = (*PlanStore)(nil)
