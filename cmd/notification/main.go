package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/smukkama/heating-monitor/internal/logging"
	"github.com/smukkama/heating-monitor/internal/notification"
	"github.com/smukkama/heating-monitor/internal/queue"
	"github.com/smukkama/heating-monitor/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{Service: "heating-notification", Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	fmt.Println("Starting Notification Service...")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier := notification.NewEmailNotifier(&cfg.SMTP, logger)
	if err := notifier.TestConnection(); err != nil {
		fmt.Printf("Note: %v (notifications will be logged only)\n", err)
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlarms, cfg.Kafka.AlarmGroup)
	defer consumer.Close()
	fmt.Println("Kafka consumer initialized")

	fmt.Println("\n✓ Notification Service is running")
	fmt.Printf("✓ Consuming %s (group %s)\n", cfg.Kafka.TopicAlarms, cfg.Kafka.AlarmGroup)
	fmt.Println("✓ Press Ctrl+C to stop")

	dispatcher := notification.NewDispatcher(consumer, notifier, logger)
	if err := dispatcher.Run(ctx); err != nil {
		logger.Error("dispatcher stopped with error", zap.Error(err))
	}

	fmt.Println("\nShutting down gracefully...")
}
