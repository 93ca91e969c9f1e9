package book

import (
	"errors"
	"testing"

	"bookflow/models"
)

func TestRenderSideBidsBestFirst(t *testing.T) {
	levels := []models.Level{{Price: 1, Size: 30}, {Price: 2, Size: 30}, {Price: 3, Size: 30}}

	got, err := RenderSide(levels, models.SideBid, 0.5, 25)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(got) != 3 || got[0].Price != 3 {
		t.Fatalf("bids must render highest price first: %v", got)
	}
	if got[2].Total != 90 {
		t.Fatalf("expected cumulative total 90, got %v", got[2].Total)
	}
}

func TestRenderSideAsksBestFirst(t *testing.T) {
	levels := []models.Level{{Price: 6, Size: 30}, {Price: 4, Size: 30}, {Price: 5, Size: 30}}

	got, err := RenderSide(levels, models.SideAsk, 0.5, 25)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got[0].Price != 4 || got[2].Price != 6 {
		t.Fatalf("asks must render lowest price first: %v", got)
	}
}

func TestRenderSideTruncatesBeforeTotals(t *testing.T) {
	levels := []models.Level{
		{Price: 1, Size: 10}, {Price: 2, Size: 10}, {Price: 3, Size: 10}, {Price: 4, Size: 10},
	}

	got, err := RenderSide(levels, models.SideAsk, 1, 2)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected truncation to 2 rows, got %d", len(got))
	}
	if got[1].Total != 20 {
		t.Fatalf("totals must cover visible rows only: %v", got[1].Total)
	}
}

func TestRenderSidePropagatesIntervalError(t *testing.T) {
	if _, err := RenderSide(nil, models.SideBid, 0, 25); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}
