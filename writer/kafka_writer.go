// Package writer forwards rendered depth views to downstream sinks.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	kafka "github.com/segmentio/kafka-go"

	appconfig "bookflow/config"
	"bookflow/logger"
	"bookflow/models"
)

// KafkaWriter publishes every rendered depth view as one Kafka message,
// keyed by product so all views of an instrument land in one partition.
type KafkaWriter struct {
	config  *appconfig.Config
	views   <-chan models.DepthView
	writer  *kafka.Writer
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

func NewKafkaWriter(cfg *appconfig.Config, views <-chan models.DepthView) (*KafkaWriter, error) {
	if len(cfg.Storage.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	kw := &KafkaWriter{
		config: cfg,
		views:  views,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Storage.Kafka.Brokers...),
			Topic:    cfg.Storage.Kafka.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		wg:  &sync.WaitGroup{},
		log: logger.GetLogger(),
	}
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Storage.Kafka.Brokers,
		"topic":   cfg.Storage.Kafka.Topic,
	}).Debug("kafka writer initialized")
	return kw, nil
}

func (kw *KafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.ctx = ctx
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("starting kafka writer")

	kw.wg.Add(1)
	go kw.run()

	return nil
}

func (kw *KafkaWriter) run() {
	defer kw.wg.Done()

	for {
		select {
		case <-kw.ctx.Done():
			return
		case view, ok := <-kw.views:
			if !ok {
				return
			}
			data, err := json.Marshal(view)
			if err != nil {
				kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to marshal depth view")
				continue
			}
			msg := kafka.Message{
				Key:   []byte(view.ProductID),
				Value: data,
			}
			if err := kw.writer.WriteMessages(kw.ctx, msg); err != nil {
				kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to write depth view")
				continue
			}
			logger.RecordChannelMessage("kafka_views", len(data))
			kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
				"view_id":    view.ViewID,
				"product_id": view.ProductID,
				"bid_rows":   len(view.Bids),
				"ask_rows":   len(view.Asks),
			}).Debug("depth view written to kafka")
		}
	}
}

func (kw *KafkaWriter) Stop() {
	kw.mu.Lock()
	kw.running = false
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("stopping kafka writer")
	kw.writer.Close()
	kw.wg.Wait()
	kw.log.WithComponent("kafka_writer").Debug("kafka writer stopped")
}
