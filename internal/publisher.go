package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bookflow/config"
	"bookflow/logger"
	"bookflow/models"
)

// ViewSource is the slice of the feed session the publisher reads.
type ViewSource interface {
	Instrument() (config.InstrumentConfig, bool)
	DepthView(grouping float64, maxRows int) (models.DepthView, error)
}

// ViewPublisher renders the book on a fixed cadence and offers each
// view to the channel bundle. Rendering always uses the subscribed
// instrument's smallest grouping interval; consumers regrouping at a
// coarser interval do so from the raw levels via the API.
type ViewPublisher struct {
	source   ViewSource
	channels *Channels
	interval time.Duration
	maxRows  int

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	log     *logger.Log
}

func NewViewPublisher(source ViewSource, channels *Channels, interval time.Duration, maxRows int) *ViewPublisher {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &ViewPublisher{
		source:   source,
		channels: channels,
		interval: interval,
		maxRows:  maxRows,
		log:      logger.GetLogger(),
	}
}

func (p *ViewPublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("view publisher already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx, stopCh)

	p.log.WithComponent("view_publisher").WithFields(logger.Fields{
		"interval_ms": p.interval.Milliseconds(),
		"max_rows":    p.maxRows,
	}).Info("view publisher started")
	return nil
}

func (p *ViewPublisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.WithComponent("view_publisher").Info("view publisher stopped")
}

func (p *ViewPublisher) run(ctx context.Context, stopCh chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.publishOnce()
		}
	}
}

func (p *ViewPublisher) publishOnce() {
	inst, ok := p.source.Instrument()
	if !ok || len(inst.Groupings) == 0 {
		return
	}

	view, err := p.source.DepthView(inst.Groupings[0], p.maxRows)
	if err != nil {
		p.log.WithComponent("view_publisher").WithError(err).Warn("render failed")
		return
	}
	if len(view.Bids) == 0 && len(view.Asks) == 0 {
		return
	}
	p.channels.PublishView(view)
}
