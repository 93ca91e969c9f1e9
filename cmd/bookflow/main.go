package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bookflow/config"
	"bookflow/feed"
	"bookflow/internal"
	"bookflow/internal/api"
	"bookflow/logger"
	"bookflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Bookflow.Name,
		"version":     cfg.Bookflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting bookflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := internal.NewChannels(cfg.Channels.ViewBuffer)
	defer channels.Close()

	channels.StartMetricsReporting(ctx)

	session := feed.NewSession(cfg)
	publisher := internal.NewViewPublisher(session, channels, cfg.ViewInterval(), cfg.Engine.MaxLevelCount)

	var kafkaWriter *writer.KafkaWriter
	if cfg.Storage.Kafka.Enabled {
		kafkaWriter, err = writer.NewKafkaWriter(cfg, channels.ViewChan)
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("kafka storage disabled; views stay in-process")
	}

	apiServer := api.NewServer(cfg.API, cfg.Engine, session)

	var wg sync.WaitGroup

	if err := session.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start feed session")
		os.Exit(1)
	}
	session.Connect()

	if len(cfg.Instruments) > 0 {
		if err := session.Subscribe(cfg.Instruments[0].Name); err != nil {
			log.WithError(err).Warn("initial subscribe failed")
		}
	}

	if err := publisher.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start view publisher")
		os.Exit(1)
	}

	if kafkaWriter != nil {
		if err := kafkaWriter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start kafka writer")
			os.Exit(1)
		}
	}

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Run(ctx); err != nil {
				log.WithError(err).Error("api server exited")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping view publisher")
	publisher.Stop()

	log.Info("stopping feed session")
	session.Stop()

	if kafkaWriter != nil {
		log.Info("stopping kafka writer")
		kafkaWriter.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("bookflow stopped")
}
