package book

import (
	"math"
	"reflect"
	"testing"

	"bookflow/models"
)

func storeFrom(levels []models.Level) *LevelStore {
	s := NewLevelStore()
	s.Replace(levels)
	return s
}

func TestReconcileEmptyBatchReturnsInputUnchanged(t *testing.T) {
	current := []models.Level{{Price: 2, Size: 30}, {Price: 1, Size: 30}}
	s := storeFrom(current)

	got := Reconcile(s, current, nil, models.SortDescending)
	if &got[0] != &current[0] {
		t.Fatalf("empty batch must return the input slice, not a copy")
	}
	if !reflect.DeepEqual(got, current) {
		t.Fatalf("empty batch changed the view: %v", got)
	}
}

func TestReconcileRemoveAndOverwrite(t *testing.T) {
	s := storeFrom([]models.Level{{Price: 100, Size: 5}})

	got := Reconcile(s, nil, []models.Delta{{Price: 100, Size: 0}}, models.SortAscending)
	if len(got) != 0 {
		t.Fatalf("size 0 must remove the level, got %v", got)
	}

	got = Reconcile(s, nil, []models.Delta{{Price: 100, Size: 3}, {Price: 100, Size: 9}}, models.SortAscending)
	if len(got) != 1 || got[0].Size != 9 {
		t.Fatalf("expected last-write-wins size 9, got %v", got)
	}

	// Overwrite, not additive: a second batch with size 2 yields 2, not 11.
	got = Reconcile(s, nil, []models.Delta{{Price: 100, Size: 2}}, models.SortAscending)
	if len(got) != 1 || got[0].Size != 2 {
		t.Fatalf("expected absolute overwrite to 2, got %v", got)
	}
}

func TestReconcileSkipsMalformedTuples(t *testing.T) {
	s := storeFrom([]models.Level{{Price: 1, Size: 10}})

	deltas := []models.Delta{
		{Price: math.NaN(), Size: 5},
		{Price: 2, Size: math.Inf(1)},
		{Price: 3, Size: 7},
	}
	got := Reconcile(s, nil, deltas, models.SortAscending)
	want := []models.Level{{Price: 1, Size: 10}, {Price: 3, Size: 7}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("malformed tuples must be skipped per-tuple: got %v want %v", got, want)
	}
}

// Scenario: snapshot bids (1,30),(2,30),(3,30) and asks (4,30),(5,30),(6,30),
// then delta batch bids (1,0),(2,0),(3,50) / asks (4,50),(5,0),(6,0) leaves
// exactly one level per side.
func TestReconcileCollapsesToSingleLevelPerSide(t *testing.T) {
	bids := storeFrom([]models.Level{{Price: 1, Size: 30}, {Price: 2, Size: 30}, {Price: 3, Size: 30}})
	asks := storeFrom([]models.Level{{Price: 4, Size: 30}, {Price: 5, Size: 30}, {Price: 6, Size: 30}})

	gotBids := Reconcile(bids, nil, []models.Delta{{Price: 1, Size: 0}, {Price: 2, Size: 0}, {Price: 3, Size: 50}}, models.SortDescending)
	gotAsks := Reconcile(asks, nil, []models.Delta{{Price: 4, Size: 50}, {Price: 5, Size: 0}, {Price: 6, Size: 0}}, models.SortAscending)

	if !reflect.DeepEqual(gotBids, []models.Level{{Price: 3, Size: 50}}) {
		t.Fatalf("unexpected bid side: %v", gotBids)
	}
	if !reflect.DeepEqual(gotAsks, []models.Level{{Price: 4, Size: 50}}) {
		t.Fatalf("unexpected ask side: %v", gotAsks)
	}
}

func TestReconcileSortDirection(t *testing.T) {
	s := NewLevelStore()
	deltas := []models.Delta{{Price: 2, Size: 1}, {Price: 1, Size: 1}, {Price: 3, Size: 1}}

	asc := Reconcile(s, nil, deltas, models.SortAscending)
	for i := 1; i < len(asc); i++ {
		if asc[i].Price <= asc[i-1].Price {
			t.Fatalf("ascending reconcile not strictly increasing: %v", asc)
		}
	}

	desc := Reconcile(storeFrom(asc), asc, deltas, models.SortDescending)
	for i := 1; i < len(desc); i++ {
		if desc[i].Price >= desc[i-1].Price {
			t.Fatalf("descending reconcile not strictly decreasing: %v", desc)
		}
	}
}
