package models

import (
	"time"

	"github.com/google/uuid"
)

// Side identifies which half of the book a level or delta belongs to.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// SortOrder controls the direction a side is materialized in.
// Bids render best-first descending, asks best-first ascending.
type SortOrder int

const (
	SortAscending SortOrder = iota
	SortDescending
)

// Level represents a single resting quantity at a price.
// A level with Size <= 0 must never be stored; removal is expressed
// by deleting the price, not by keeping a zero-sized entry.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// LevelWithTotal is a Level plus the cumulative size from the best
// price out to this level inclusive. Derived on read, never stored.
type LevelWithTotal struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Total float64 `json:"total"`
}

// Delta is a single absolute-size instruction from the feed.
// Size == 0 removes the level at Price; Size > 0 overwrites it.
// The feed sends absolute sizes, never increments.
type Delta struct {
	Price float64
	Size  float64
}

// DeltaBatch carries one drain's worth of buffered deltas for both
// sides, in arrival order. Emitted by the scheduler on each non-empty
// tick and applied by the owning session.
type DeltaBatch struct {
	BatchID   string
	Bids      []Delta
	Asks      []Delta
	DrainedAt time.Time
}

// Empty reports whether the batch carries no deltas at all.
func (b DeltaBatch) Empty() bool {
	return len(b.Bids) == 0 && len(b.Asks) == 0
}

// DepthView is a rendered, bounded view of both sides of the book:
// grouped by a price interval, totalled, and truncated to the
// configured row count. This is the presentation-facing shape.
type DepthView struct {
	ViewID     string           `json:"view_id"`
	Instrument string           `json:"instrument"`
	ProductID  string           `json:"product_id"`
	Grouping   float64          `json:"grouping"`
	Bids       []LevelWithTotal `json:"bids"`
	Asks       []LevelWithTotal `json:"asks"`
	RenderedAt time.Time        `json:"rendered_at"`
}

// NewDepthView stamps a rendered view with a fresh ID and timestamp.
func NewDepthView(instrument, productID string, grouping float64, bids, asks []LevelWithTotal) DepthView {
	return DepthView{
		ViewID:     uuid.New().String(),
		Instrument: instrument,
		ProductID:  productID,
		Grouping:   grouping,
		Bids:       bids,
		Asks:       asks,
		RenderedAt: time.Now().UTC(),
	}
}
