// Package main is the entry point for the lot ledger background worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"lotledger/internal/app"
	"lotledger/internal/config"
	"lotledger/internal/infrastructure/events"
	"lotledger/internal/infrastructure/storage/postgres"
	"lotledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting lotledger worker")

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize services", "error", err)
	}
	defer a.Close()
	a.Items.Start(ctx)

	var handler postgres.OutboxHandler = events.LogHandler{}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		kh := events.NewKafkaHandler(brokers, cfg.KafkaTopic)
		defer func() {
			if err := kh.Close(); err != nil {
				log.Warnw("kafka writer close failed", "error", err)
			}
		}()
		handler = kh
		log.Infow("publishing lot events to kafka", "brokers", brokers, "topic", cfg.KafkaTopic)
	}

	worker := NewWorker(a, postgres.NewOutboxRelay(a.Pool, cfg.OutboxBatchSize, handler), log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}
