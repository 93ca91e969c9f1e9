package book

import (
	"math"

	"bookflow/models"
)

// Reconcile applies a drained delta batch to one side's store and
// returns the freshly sorted level sequence. Deltas are applied in
// arrival order, so later deltas for the same price override earlier
// ones within the batch. A delta with size 0 removes the level; any
// size > 0 overwrites it outright — the feed sends absolute sizes,
// never increments.
//
// An empty batch is an idempotent no-op: the prior materialized view
// is returned untouched with no allocation and no re-sort. Malformed
// tuples (non-finite price or size) are skipped individually; one bad
// tuple never aborts the batch.
func Reconcile(store *LevelStore, current []models.Level, deltas []models.Delta, order models.SortOrder) []models.Level {
	if len(deltas) == 0 {
		return current
	}
	for _, d := range deltas {
		if !finite(d.Price) || !finite(d.Size) {
			continue
		}
		if d.Size == 0 {
			store.Remove(d.Price)
			continue
		}
		store.Upsert(d.Price, d.Size)
	}
	return store.Snapshot(order)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
