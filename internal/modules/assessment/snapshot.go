// Package assessment orchestrates the risk engine: it resolves a current
// price to a risk value, classifies the market zone, applies the rarity
// coefficient, and emits the final score and signal.
package assessment

import (
	"sync"
	"time"

	"github.com/aristath/riskline/internal/domain"
	"github.com/aristath/riskline/internal/modules/coefficient"
	"github.com/aristath/riskline/internal/modules/matrix"
)

// ModelSnapshot is the immutable per-symbol model set used by the read
// path. Recalculation builds a fresh snapshot and publishes it atomically,
// so concurrent assessments never observe a half-updated model.
type ModelSnapshot struct {
	Symbol       *domain.Symbol
	Matrix       *matrix.Matrix            // nil when no calibration data exists
	Standard     *domain.RegressionFormula // nil when never fitted
	Inverse      *domain.RegressionFormula // nil when never fitted
	Bands        []domain.TimeSpentBand
	Coefficients *coefficient.Calculator
	BuiltAt      time.Time
}

// SnapshotStore holds the currently published snapshot per symbol.
// Publish replaces the whole pointer, never mutates in place.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]*ModelSnapshot
}

// NewSnapshotStore creates an empty snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[string]*ModelSnapshot)}
}

// Get returns the published snapshot for a symbol, or nil.
func (s *SnapshotStore) Get(symbol string) *ModelSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshots[symbol]
}

// Publish atomically replaces the snapshot for a symbol.
func (s *SnapshotStore) Publish(symbol string, snapshot *ModelSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[symbol] = snapshot
}

// Remove drops a symbol's snapshot (used when a symbol is deactivated).
func (s *SnapshotStore) Remove(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, symbol)
}

// Symbols lists the symbols with a published snapshot.
func (s *SnapshotStore) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.snapshots))
	for symbol := range s.snapshots {
		out = append(out, symbol)
	}
	return out
}
