// Package feed binds the websocket transport and the session state
// machine that owns the two book sides, the delta scheduler and the
// current instrument subscription.
package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"bookflow/config"
	"bookflow/logger"
)

// Transport is the session's view of one live connection. Messages
// and Errors deliver inbound frames and socket-level failures; the
// channels are closed when the connection dies or Close is called.
type Transport interface {
	Connect(ctx context.Context) error
	Send(msg []byte) error
	Messages() <-chan []byte
	Errors() <-chan error
	Close() error
}

// TransportFactory builds a fresh transport per connection attempt.
type TransportFactory func(cfg config.FeedConfig) Transport

// wsTransport is the gorilla/websocket implementation. One instance
// serves one connection; reconnecting means building a new one.
type wsTransport struct {
	cfg config.FeedConfig

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	messages chan []byte
	errors   chan error
	done     chan struct{}

	limiter *rate.Limiter
	wg      sync.WaitGroup
	log     *logger.Log
}

// NewWebsocketTransport returns a transport dialing cfg.Endpoint.
// Outgoing control frames are rate limited so a subscribe storm can
// never flood the feed.
func NewWebsocketTransport(cfg config.FeedConfig) Transport {
	rps := cfg.ControlRate.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.ControlRate.BurstSize
	if burst <= 0 {
		burst = rps
	}
	return &wsTransport{
		cfg:      cfg,
		messages: make(chan []byte, 1024),
		errors:   make(chan error, 8),
		done:     make(chan struct{}),
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		log:      logger.GetLogger(),
	}
}

func (t *wsTransport) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout())
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, t.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.cfg.Endpoint, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return fmt.Errorf("transport already closed")
	}
	t.conn = conn
	t.mu.Unlock()

	t.log.WithComponent("feed_transport").WithFields(logger.Fields{
		"endpoint": t.cfg.Endpoint,
	}).Info("websocket connected")

	t.wg.Add(2)
	go t.readPump(ctx)
	go t.pingPump(ctx)
	return nil
}

func (t *wsTransport) Messages() <-chan []byte { return t.messages }
func (t *wsTransport) Errors() <-chan error    { return t.errors }

// Send writes one control frame, honoring the rate limit and the
// configured write deadline.
func (t *wsTransport) Send(msg []byte) error {
	if err := t.limiter.Wait(context.Background()); err != nil {
		return fmt.Errorf("control rate limiter: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed {
		return fmt.Errorf("transport not connected")
	}

	t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout()))
	if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("write control frame: %w", err)
	}
	return nil
}

// Close tears the connection down. Idempotent; closes the message
// channel once the read pump has drained.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	t.wg.Wait()
	close(t.messages)
	return nil
}

func (t *wsTransport) readPump(ctx context.Context) {
	defer t.wg.Done()

	readTimeout := t.cfg.ReadTimeout()
	t.conn.SetReadDeadline(time.Now().Add(readTimeout))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, payload, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			case <-ctx.Done():
			default:
				select {
				case t.errors <- err:
				default:
				}
			}
			return
		}
		t.conn.SetReadDeadline(time.Now().Add(readTimeout))

		select {
		case t.messages <- payload:
		case <-t.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (t *wsTransport) pingPump(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.PingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.conn != nil && !t.closed {
				t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout()))
				if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					t.log.WithComponent("feed_transport").WithError(err).Warn("ping failed")
				}
			}
			t.mu.Unlock()
		}
	}
}
