package internal

import (
	"context"
	"sync"
	"time"

	"bookflow/logger"
	"bookflow/models"
)

type ChannelStats struct {
	ViewsSent    int64
	ViewsDropped int64
}

// Channels bundles the hand-off between the view publisher and the
// downstream sinks. Sends never block the publisher: when a sink
// falls behind, views are dropped and counted.
type Channels struct {
	ViewChan chan models.DepthView

	stats               ChannelStats
	statsMutex          sync.RWMutex
	log                 *logger.Log
	metricsReportTicker *time.Ticker
}

func NewChannels(viewBufferSize int) *Channels {
	if viewBufferSize < 1 {
		viewBufferSize = 16
	}
	log := logger.GetLogger()

	c := &Channels{
		ViewChan: make(chan models.DepthView, viewBufferSize),
		log:      log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"view_buffer_size": viewBufferSize,
	}).Info("channels initialized")

	return c
}

// PublishView offers a rendered view to the sinks without blocking.
// Returns false when the buffer is full and the view was dropped.
func (c *Channels) PublishView(view models.DepthView) bool {
	select {
	case c.ViewChan <- view:
		c.statsMutex.Lock()
		c.stats.ViewsSent++
		c.statsMutex.Unlock()
		logger.IncrementViewPublished(len(view.Bids) + len(view.Asks))
		return true
	default:
		c.statsMutex.Lock()
		c.stats.ViewsDropped++
		c.statsMutex.Unlock()
		return false
	}
}

// Stats returns a copy of the running counters.
func (c *Channels) Stats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

func (c *Channels) StartMetricsReporting(ctx context.Context) {
	c.metricsReportTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.metricsReportTicker.Stop()
				return
			case <-c.metricsReportTicker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	stats := c.Stats()

	c.log.WithComponent("channels").WithFields(logger.Fields{
		"views_sent":    stats.ViewsSent,
		"views_dropped": stats.ViewsDropped,
		"view_chan_len": len(c.ViewChan),
		"view_chan_cap": cap(c.ViewChan),
	}).Info("channel statistics")
}

func (c *Channels) Close() {
	if c.metricsReportTicker != nil {
		c.metricsReportTicker.Stop()
	}

	close(c.ViewChan)
	c.log.WithComponent("channels").Info("all channels closed")
}
