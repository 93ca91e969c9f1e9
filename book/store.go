// Package book implements the order book core: the price-indexed level
// store, batch reconciliation of feed deltas, price grouping and depth
// totals. All functions operate on plain level slices or a LevelStore;
// nothing in this package talks to the transport.
package book

import (
	"sort"

	"bookflow/models"
)

// LevelStore holds one side of the book keyed by exact price.
// It enforces two invariants: no two entries share a price, and no
// entry has size <= 0. A LevelStore is not safe for concurrent use;
// the owning session serializes access.
type LevelStore struct {
	levels map[float64]models.Level
}

// NewLevelStore returns an empty store.
func NewLevelStore() *LevelStore {
	return &LevelStore{levels: make(map[float64]models.Level)}
}

// Upsert sets or overwrites the level at price. A size <= 0 removes
// the price instead so a zero-sized level can never be observed.
func (s *LevelStore) Upsert(price, size float64) {
	if size <= 0 {
		delete(s.levels, price)
		return
	}
	s.levels[price] = models.Level{Price: price, Size: size}
}

// Remove deletes the level at price if present. No-op otherwise.
func (s *LevelStore) Remove(price float64) {
	delete(s.levels, price)
}

// Len returns the number of resting levels.
func (s *LevelStore) Len() int {
	return len(s.levels)
}

// Replace discards all current levels and installs the given ones.
// Used when a snapshot frame arrives: a snapshot is authoritative
// truth, never merged with prior state.
func (s *LevelStore) Replace(levels []models.Level) {
	s.levels = make(map[float64]models.Level, len(levels))
	for _, lvl := range levels {
		s.Upsert(lvl.Price, lvl.Size)
	}
}

// Snapshot materializes all entries sorted by price in the requested
// direction. The returned slice is a copy; mutating it never touches
// the store.
func (s *LevelStore) Snapshot(order models.SortOrder) []models.Level {
	out := make([]models.Level, 0, len(s.levels))
	for _, lvl := range s.levels {
		out = append(out, lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if order == models.SortDescending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}
