package book

import (
	"sort"

	"bookflow/models"
)

// RenderSide produces the presentation view of one side: grouped by
// the price interval, sorted best-first for the side, truncated to
// maxRows, then totalled. Truncation happens before totals so the
// displayed depth reflects only visible rows.
//
// maxRows <= 0 means no truncation.
func RenderSide(levels []models.Level, side models.Side, interval float64, maxRows int) ([]models.LevelWithTotal, error) {
	grouped, err := GroupByPrice(levels, interval)
	if err != nil {
		return nil, err
	}

	// Bids render best (highest) first, asks best (lowest) first.
	sort.Slice(grouped, func(i, j int) bool {
		if side == models.SideBid {
			return grouped[i].Price > grouped[j].Price
		}
		return grouped[i].Price < grouped[j].Price
	})

	if maxRows > 0 && len(grouped) > maxRows {
		grouped = grouped[:maxRows]
	}

	return WithTotals(grouped), nil
}
