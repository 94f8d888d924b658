package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/heating-monitor/internal/database"
	"github.com/smukkama/heating-monitor/internal/logging"
	"github.com/smukkama/heating-monitor/internal/queue"
	"github.com/smukkama/heating-monitor/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{Service: "heating-dbwriter", Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	fmt.Println("Starting Database Writer Service...")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	applied, err := db.RunMigrations(cfg.Database.MigrationsDir)
	if err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	for _, name := range applied {
		fmt.Printf("Applied migration: %s\n", name)
	}

	// Create Kafka consumer
	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Kafka.ConsumerGroup)
	defer consumer.Close()
	fmt.Println("Kafka consumer created (registering with broker...)")

	// Stop flushes the pending batch, so the writer does not share the signal context
	batchWriter := queue.NewBatchWriter(consumer, db, cfg.Kafka.BatchSize, cfg.Kafka.FlushInterval, logger)
	if err := batchWriter.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start batch writer: %v", err)
	}
	fmt.Println("Batch writer started")

	// Print consumer stats periodically
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := consumer.Stats()
				logger.Info("consumer stats",
					zap.Int64("messages", stats.Messages),
					zap.Int64("bytes", stats.Bytes),
					zap.Int64("errors", stats.Errors),
					zap.Int64("lag", stats.Lag))
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Println("\n✓ Database Writer Service is running")
	fmt.Printf("✓ Consuming %s and writing to PostgreSQL\n", cfg.Kafka.TopicReadings)
	fmt.Printf("✓ Batch size: %d messages | Flush interval: %s\n", cfg.Kafka.BatchSize, cfg.Kafka.FlushInterval)
	fmt.Println("✓ Press Ctrl+C to stop")
	fmt.Println("\nWaiting for readings...")

	<-ctx.Done()

	fmt.Println("\nShutting down gracefully...")
	batchWriter.Stop()
	fmt.Println("Database Writer Service stopped")
}
