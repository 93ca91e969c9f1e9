package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"bookflow/models"
)

func TestSchedulerStartStop(t *testing.T) {
	s := NewDeltaScheduler(time.Millisecond, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}
	s.Stop()
	s.Stop() // idempotent
}

func TestSchedulerSilentTickOnEmptyBuffer(t *testing.T) {
	s := NewDeltaScheduler(time.Millisecond, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case batch := <-s.Batches():
		t.Fatalf("empty buffer must not produce a batch, got %+v", batch)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSchedulerDrainsWholeBufferOnce(t *testing.T) {
	s := NewDeltaScheduler(5*time.Millisecond, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Push(models.SideBid, models.Delta{Price: 1, Size: 10}, models.Delta{Price: 2, Size: 20})
	s.Push(models.SideAsk, models.Delta{Price: 3, Size: 30})

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case batch := <-s.Batches():
		if len(batch.Bids) != 2 || len(batch.Asks) != 1 {
			t.Fatalf("unexpected batch shape: %+v", batch)
		}
		if batch.BatchID == "" {
			t.Fatalf("batch must carry an ID")
		}
		if batch.Bids[0].Price != 1 || batch.Bids[1].Price != 2 {
			t.Fatalf("arrival order must be preserved: %+v", batch.Bids)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for batch")
	}

	if s.Buffered() != 0 {
		t.Fatalf("drain must clear the buffer, %d left", s.Buffered())
	}
}

// Concurrent pushes across many drains: every delta shows up in
// exactly one batch, none duplicated, none dropped.
func TestSchedulerAtomicHandOff(t *testing.T) {
	s := NewDeltaScheduler(time.Millisecond, 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	const producers = 4
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				price := float64(p*perProducer + i)
				s.Push(models.SideBid, models.Delta{Price: price, Size: 1})
			}
		}(p)
	}

	seen := make(map[float64]int)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for batch := range s.Batches() {
			for _, d := range batch.Bids {
				seen[d.Price]++
			}
			if len(seen) == producers*perProducer {
				return
			}
		}
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out; saw %d of %d deltas", len(seen), producers*perProducer)
	}
	s.Stop()

	for price, count := range seen {
		if count != 1 {
			t.Fatalf("delta %v appeared in %d batches", price, count)
		}
	}
}

func TestSchedulerResetClearsBuffer(t *testing.T) {
	s := NewDeltaScheduler(time.Hour, 1)
	s.Push(models.SideBid, models.Delta{Price: 1, Size: 1})
	s.Push(models.SideAsk, models.Delta{Price: 2, Size: 2})

	s.Reset()
	if s.Buffered() != 0 {
		t.Fatalf("reset must clear buffers, %d left", s.Buffered())
	}
	if _, ok := s.drain(); ok {
		t.Fatalf("drain after reset must be empty")
	}
}
