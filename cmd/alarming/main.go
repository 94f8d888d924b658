package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/smukkama/heating-monitor/internal/aggregation"
	"github.com/smukkama/heating-monitor/internal/alarming"
	"github.com/smukkama/heating-monitor/internal/database"
	"github.com/smukkama/heating-monitor/internal/logging"
	"github.com/smukkama/heating-monitor/internal/metrics"
	"github.com/smukkama/heating-monitor/internal/notification"
	"github.com/smukkama/heating-monitor/internal/queue"
	"github.com/smukkama/heating-monitor/internal/readings"
	"github.com/smukkama/heating-monitor/internal/scheduler"
	"github.com/smukkama/heating-monitor/internal/timer"
	"github.com/smukkama/heating-monitor/pkg/config"
)

// The alarming service runs the daily consumption check on its own, for
// deployments that start the API server with ALARM_IN_PROCESS=false.
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.CheckAlarmDelivery(); err != nil {
		log.Fatalf("Invalid alarm configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{Service: "heating-alarming", Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	fmt.Println("Starting Alarming Service...")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	loc := cfg.Alarm.Location()
	daily := aggregation.NewDailyAggregator(db, loc)
	source := readings.NewService(db, aggregation.NewHourlyAggregator(db, loc), daily,
		readings.WithLocation(loc),
		readings.WithTimeout(cfg.Database.StoreTimeout),
		readings.WithLogger(logger))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var notifier alarming.Notifier
	if cfg.Alarm.Notifier == "queue" {
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlarms)
		defer producer.Close()
		notifier = notification.NewQueueNotifier(producer, cfg.Kafka.PublishTimeout, logger)
		fmt.Printf("Alarm notifications go to Kafka topic %s\n", cfg.Kafka.TopicAlarms)
	} else {
		email := notification.NewEmailNotifier(&cfg.SMTP, logger)
		if err := email.TestConnection(); err != nil {
			fmt.Printf("Note: %v (alarms will be logged only)\n", err)
		}
		notifier = email
	}

	alarm := alarming.NewConsumptionAlarm(source, notifier, cfg.Alarm.ThresholdKwh,
		alarming.WithLocation(loc),
		alarming.WithLogger(logger),
		alarming.WithMetrics(m))

	timerManager := timer.NewTimerManager(1)
	timerManager.Start()
	defer timerManager.Stop()

	if err := scheduler.ScheduleAlarmChecks(timerManager, alarm, cfg.Alarm.InitialDelay, cfg.Alarm.CheckInterval, logger); err != nil {
		log.Fatalf("Failed to schedule consumption alarm: %v", err)
	}

	var metricsServer *http.Server
	if cfg.Alarm.MetricsPort > 0 {
		metricsServer = metrics.NewServer(fmt.Sprintf(":%d", cfg.Alarm.MetricsPort), registry)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		fmt.Printf("Metrics on :%d/metrics\n", cfg.Alarm.MetricsPort)
	}

	fmt.Println("\n✓ Alarming Service is running")
	fmt.Printf("✓ Threshold: %.2f kWh per day (%s)\n", alarm.ThresholdKwh(), loc)
	fmt.Printf("✓ Check interval: %s\n", cfg.Alarm.CheckInterval)
	fmt.Println("✓ Press Ctrl+C to stop")

	<-ctx.Done()

	fmt.Println("\nShutting down gracefully...")
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	status := alarm.Status()
	logger.Info("last alarm state",
		zap.String("day", status.Day),
		zap.String("state", string(status.State)),
		zap.Float64("last_kwh", status.LastKwh))
}
