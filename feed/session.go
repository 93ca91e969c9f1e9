package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"bookflow/book"
	"bookflow/config"
	"bookflow/logger"
	"bookflow/models"
	"bookflow/processor"
)

// ConnectionState tracks the session's lifecycle.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned when a subscribe is requested with no
// connection open and none in flight.
var ErrNotConnected = errors.New("feed session not connected")

// Session owns one feed connection, the two book sides and the delta
// scheduler. All mutation of the book flows through the session, so
// the level stores themselves need no locking.
//
// Any transport or payload failure takes the unified error path: the
// connection is dropped and the error flag raised, and the flag stays
// up until the next successful subscribe.
type Session struct {
	cfg              *config.Config
	transportFactory TransportFactory

	mu         sync.RWMutex
	state      ConnectionState
	errorFlag  bool
	forceError bool
	instrument *config.InstrumentConfig
	pending    string
	transport  Transport

	bidStore *book.LevelStore
	askStore *book.LevelStore
	bids     []models.Level
	asks     []models.Level

	sched *processor.DeltaScheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	connWG sync.WaitGroup

	running bool
	log     *logger.Log
}

// NewSession builds a session over the websocket transport. The
// scheduler cadence comes from engine.update_interval_ms.
func NewSession(cfg *config.Config) *Session {
	return &Session{
		cfg:              cfg,
		transportFactory: NewWebsocketTransport,
		bidStore:         book.NewLevelStore(),
		askStore:         book.NewLevelStore(),
		sched:            processor.NewDeltaScheduler(cfg.UpdateInterval(), cfg.Channels.BatchBuffer),
		log:              logger.GetLogger(),
	}
}

// Start runs the apply loop that drains scheduled batches into the
// book. It does not open a connection; use Connect for that.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("feed session already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.applyLoop()

	s.log.WithComponent("feed_session").Info("feed session started")
	return nil
}

// Stop disconnects and waits for the apply loop to finish.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.Disconnect()
	s.cancel()
	s.wg.Wait()
	s.log.WithComponent("feed_session").Info("feed session stopped")
}

// Connect opens a new connection. An existing one is closed first.
// The dial happens in the background: the session sits in the
// connecting state until the socket opens, and a subscribe issued
// meanwhile is queued and flushed once it does.
func (s *Session) Connect() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if s.transport != nil {
		old := s.transport
		s.transport = nil
		s.mu.Unlock()
		old.Close()
		s.connWG.Wait()
		s.mu.Lock()
	}
	s.state = StateConnecting
	t := s.transportFactory(s.cfg.Feed)
	ctx := s.ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := t.Connect(ctx); err != nil {
			s.failure(fmt.Errorf("connect: %w", err))
			return
		}

		s.mu.Lock()
		if s.state != StateConnecting {
			s.mu.Unlock()
			t.Close()
			return
		}
		s.transport = t
		s.state = StateConnected
		pending := s.pending
		s.pending = ""
		s.mu.Unlock()

		s.connWG.Add(1)
		go s.readLoop(t)

		if pending != "" {
			if err := s.Subscribe(pending); err != nil {
				s.failure(fmt.Errorf("deferred subscribe %s: %w", pending, err))
			}
		}
	}()
}

// Disconnect closes the connection and stops the scheduler cadence.
// Idempotent; the book keeps its last reconciled contents.
func (s *Session) Disconnect() {
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.state = StateDisconnected
	s.pending = ""
	s.mu.Unlock()

	if t != nil {
		t.Close()
	}
	s.connWG.Wait()
	s.sched.Stop()
}

// Subscribe switches the session onto the named instrument. While a
// connection is still opening the request is queued; at most one
// queued subscribe is kept, the latest winning. A successful
// subscribe clears the book, the scheduler buffer and the error flag.
func (s *Session) Subscribe(name string) error {
	inst, ok := s.cfg.Instrument(name)
	if !ok {
		return fmt.Errorf("unknown instrument %q", name)
	}

	s.mu.Lock()
	switch s.state {
	case StateDisconnected:
		s.mu.Unlock()
		return ErrNotConnected
	case StateConnecting:
		s.pending = name
		s.mu.Unlock()
		s.log.WithComponent("feed_session").WithFields(logger.Fields{
			"instrument": name,
		}).Info("subscribe queued until connection opens")
		return nil
	}
	t := s.transport
	prev := s.instrument
	s.mu.Unlock()

	if prev != nil && prev.ProductID != inst.ProductID {
		if err := sendControl(t, models.UnsubscribeMessage(prev.ProductID)); err != nil {
			return fmt.Errorf("unsubscribe %s: %w", prev.ProductID, err)
		}
	}
	if err := sendControl(t, models.SubscribeMessage(inst.ProductID)); err != nil {
		return fmt.Errorf("subscribe %s: %w", inst.ProductID, err)
	}

	// Fresh instrument, fresh book. Restarting the scheduler cancels
	// any pending tick before the new cadence is armed.
	s.sched.Stop()
	s.sched.Reset()

	s.mu.Lock()
	s.instrument = &inst
	s.bidStore.Replace(nil)
	s.askStore.Replace(nil)
	s.bids = nil
	s.asks = nil
	s.errorFlag = false
	s.forceError = false
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	s.log.WithComponent("feed_session").WithFields(logger.Fields{
		"instrument": inst.Name,
		"product_id": inst.ProductID,
	}).Info("subscribed")
	return nil
}

// ForceError arms a one-shot fault: the next delta frame for the
// current product takes the error path instead of being applied.
func (s *Session) ForceError() {
	s.mu.Lock()
	s.forceError = true
	s.mu.Unlock()
}

// State reports the connection state and whether the error flag is up.
func (s *Session) State() (ConnectionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.errorFlag
}

// Instrument returns the currently subscribed instrument, if any.
func (s *Session) Instrument() (config.InstrumentConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.instrument == nil {
		return config.InstrumentConfig{}, false
	}
	return *s.instrument, true
}

// BidLevels returns a copy of the reconciled bid side, best first.
func (s *Session) BidLevels() []models.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Level(nil), s.bids...)
}

// AskLevels returns a copy of the reconciled ask side, best first.
func (s *Session) AskLevels() []models.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Level(nil), s.asks...)
}

// DepthView renders both sides at the given grouping interval,
// truncated to maxRows per side, with cumulative totals.
func (s *Session) DepthView(grouping float64, maxRows int) (models.DepthView, error) {
	s.mu.RLock()
	inst := s.instrument
	bids := append([]models.Level(nil), s.bids...)
	asks := append([]models.Level(nil), s.asks...)
	s.mu.RUnlock()

	if inst == nil {
		return models.DepthView{}, fmt.Errorf("no instrument subscribed")
	}

	viewBids, err := book.RenderSide(bids, models.SideBid, grouping, maxRows)
	if err != nil {
		return models.DepthView{}, fmt.Errorf("render bids: %w", err)
	}
	viewAsks, err := book.RenderSide(asks, models.SideAsk, grouping, maxRows)
	if err != nil {
		return models.DepthView{}, fmt.Errorf("render asks: %w", err)
	}
	return models.NewDepthView(inst.Name, inst.ProductID, grouping, viewBids, viewAsks), nil
}

func sendControl(t Transport, msg models.ControlMessage) error {
	frame, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode control frame: %w", err)
	}
	return t.Send(frame)
}

// failure is the unified error path: drop the connection, raise the
// error flag.
func (s *Session) failure(err error) {
	s.log.WithComponent("feed_session").WithError(err).Error("feed failure, disconnecting")
	s.Disconnect()
	s.mu.Lock()
	s.errorFlag = true
	s.mu.Unlock()
}

func (s *Session) readLoop(t Transport) {
	defer s.connWG.Done()

	msgs := t.Messages()
	errs := t.Errors()
	for {
		select {
		case <-s.ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			go s.failure(fmt.Errorf("transport: %w", err))
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			if fatal := s.handleFrame(payload); fatal != nil {
				go s.failure(fatal)
				return
			}
		}
	}
}

// handleFrame classifies one inbound frame. A non-nil return is fatal
// to the connection; unrecognized but well-formed frames are dropped.
func (s *Session) handleFrame(payload []byte) error {
	var msg models.FeedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("malformed frame: %w", err)
	}

	switch {
	case msg.IsSnapshot():
		s.applySnapshot(msg)
	case msg.Feed == models.FeedBook:
		return s.applyDelta(msg)
	default:
		// Control acks and info frames.
	}
	return nil
}

func (s *Session) applySnapshot(msg models.FeedMessage) {
	logger.IncrementSnapshotFrame(len(msg.Bids) + len(msg.Asks))

	bids := make([]models.Level, 0, len(msg.Bids))
	for _, d := range msg.BidDeltas() {
		if d.Size > 0 {
			bids = append(bids, models.Level{Price: d.Price, Size: d.Size})
		}
	}
	asks := make([]models.Level, 0, len(msg.Asks))
	for _, d := range msg.AskDeltas() {
		if d.Size > 0 {
			asks = append(asks, models.Level{Price: d.Price, Size: d.Size})
		}
	}

	s.mu.Lock()
	s.bidStore.Replace(bids)
	s.askStore.Replace(asks)
	s.bids = s.bidStore.Snapshot(models.SortDescending)
	s.asks = s.askStore.Snapshot(models.SortAscending)
	s.mu.Unlock()

	s.sched.Reset()
}

func (s *Session) applyDelta(msg models.FeedMessage) error {
	s.mu.RLock()
	inst := s.instrument
	armed := s.forceError
	s.mu.RUnlock()

	// Late frames for a previously subscribed product are dropped.
	if inst == nil || msg.ProductID != inst.ProductID {
		return nil
	}

	if armed {
		s.mu.Lock()
		s.forceError = false
		s.mu.Unlock()
		return fmt.Errorf("forced delta failure for %s", msg.ProductID)
	}

	logger.IncrementDeltaFrame(len(msg.Bids) + len(msg.Asks))
	if deltas := msg.BidDeltas(); len(deltas) > 0 {
		s.sched.Push(models.SideBid, deltas...)
	}
	if deltas := msg.AskDeltas(); len(deltas) > 0 {
		s.sched.Push(models.SideAsk, deltas...)
	}
	return nil
}

func (s *Session) applyLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case batch, ok := <-s.sched.Batches():
			if !ok {
				return
			}
			s.mu.Lock()
			s.bids = book.Reconcile(s.bidStore, s.bids, batch.Bids, models.SortDescending)
			s.asks = book.Reconcile(s.askStore, s.asks, batch.Asks, models.SortAscending)
			s.mu.Unlock()
			logger.IncrementDrainApplied(len(batch.Bids) + len(batch.Asks))
		}
	}
}
