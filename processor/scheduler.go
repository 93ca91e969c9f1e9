// Package processor paces the unbounded inbound delta stream down to a
// fixed reconciliation cadence. Deltas are buffered as they arrive and
// handed off in whole batches on each timer tick.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookflow/logger"
	"bookflow/models"
)

// DeltaScheduler buffers feed deltas per side and, every tick, drains
// the accumulated batch onto its output channel exactly once. Push
// never blocks the producer; the hand-off is atomic so no delta is
// duplicated across drains or lost between them. Ticks with nothing
// buffered are silent: no batch is emitted and no consumer wakes up.
type DeltaScheduler struct {
	interval time.Duration
	out      chan models.DeltaBatch

	mu      sync.Mutex
	bids    []models.Delta
	asks    []models.Delta
	running bool
	stopCh  chan struct{}

	wg  sync.WaitGroup
	log *logger.Log

	// Metrics
	pushed  int64
	drained int64
	batches int64
}

// NewDeltaScheduler creates a scheduler draining every interval.
// outBuffer sizes the batch channel; the session consuming it applies
// batches promptly, so a small buffer suffices.
func NewDeltaScheduler(interval time.Duration, outBuffer int) *DeltaScheduler {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if outBuffer < 1 {
		outBuffer = 1
	}
	return &DeltaScheduler{
		interval: interval,
		out:      make(chan models.DeltaBatch, outBuffer),
		log:      logger.GetLogger(),
	}
}

// Batches returns the channel of drained delta batches.
func (s *DeltaScheduler) Batches() <-chan models.DeltaBatch {
	return s.out
}

// Push appends deltas to the side's buffer in arrival order. O(1)
// amortized; safe to call concurrently with a drain.
func (s *DeltaScheduler) Push(side models.Side, deltas ...models.Delta) {
	if len(deltas) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if side == models.SideBid {
		s.bids = append(s.bids, deltas...)
	} else {
		s.asks = append(s.asks, deltas...)
	}
	s.pushed += int64(len(deltas))
}

// Reset discards everything currently buffered. Called on
// re-subscription so deltas from a prior instrument never leak into
// the new book.
func (s *DeltaScheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bids = nil
	s.asks = nil
}

// Start arms the drain timer. At most one timer runs per scheduler;
// starting twice is an error.
func (s *DeltaScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("delta scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.tickLoop(ctx, stopCh)

	s.log.WithComponent("delta_scheduler").WithFields(logger.Fields{
		"interval_ms": s.interval.Milliseconds(),
	}).Info("delta scheduler started")
	return nil
}

// Stop cancels the pending timer and waits for the tick loop to exit.
// Idempotent; buffered deltas are kept until Reset or the next Start.
func (s *DeltaScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.WithComponent("delta_scheduler").Info("delta scheduler stopped")
}

func (s *DeltaScheduler) tickLoop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			batch, ok := s.drain()
			if !ok {
				continue
			}
			select {
			case s.out <- batch:
				s.mu.Lock()
				s.batches++
				s.mu.Unlock()
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			}
		}
	}
}

// drain atomically takes the whole current buffer and clears it.
// Returns false when there is nothing to hand off.
func (s *DeltaScheduler) drain() (models.DeltaBatch, bool) {
	s.mu.Lock()
	bids, asks := s.bids, s.asks
	s.bids, s.asks = nil, nil
	s.drained += int64(len(bids) + len(asks))
	s.mu.Unlock()

	if len(bids) == 0 && len(asks) == 0 {
		return models.DeltaBatch{}, false
	}
	return models.DeltaBatch{
		BatchID:   uuid.New().String(),
		Bids:      bids,
		Asks:      asks,
		DrainedAt: time.Now(),
	}, true
}

// Buffered reports how many deltas are currently waiting for the next
// tick, both sides combined.
func (s *DeltaScheduler) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bids) + len(s.asks)
}
