package book

import "bookflow/models"

// WithTotals computes running cumulative depth across an ordered level
// sequence, best price first. The caller supplies the order; this
// function never sorts and never reorders. Output length equals input
// length.
func WithTotals(levels []models.Level) []models.LevelWithTotal {
	out := make([]models.LevelWithTotal, len(levels))
	var running float64
	for i, lvl := range levels {
		running += lvl.Size
		out[i] = models.LevelWithTotal{Price: lvl.Price, Size: lvl.Size, Total: running}
	}
	return out
}
