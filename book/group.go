package book

import (
	"fmt"
	"math"

	"bookflow/models"
)

// ErrInvalidInterval is returned when a grouping interval is not a
// positive number. Passing one is a caller contract violation.
var ErrInvalidInterval = fmt.Errorf("grouping interval must be > 0")

// GroupByPrice re-buckets levels into coarser price increments,
// summing sizes additively per bucket. The bucket key is
//
//	math.Floor(price/interval) * interval
//
// which is the single rounding rule used everywhere in this package.
// Buckets appear in first-seen order, so sorted input yields sorted
// output. Grouping by the book's native tick size is the identity
// transform.
func GroupByPrice(levels []models.Level, interval float64) ([]models.Level, error) {
	if interval <= 0 || math.IsNaN(interval) || math.IsInf(interval, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInterval, interval)
	}

	grouped := make([]models.Level, 0, len(levels))
	index := make(map[float64]int, len(levels))

	for _, lvl := range levels {
		bucket := math.Floor(lvl.Price/interval) * interval
		if i, ok := index[bucket]; ok {
			grouped[i].Size += lvl.Size
			continue
		}
		index[bucket] = len(grouped)
		grouped = append(grouped, models.Level{Price: bucket, Size: lvl.Size})
	}

	return grouped, nil
}
