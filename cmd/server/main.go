package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smukkama/heating-monitor/internal/aggregation"
	"github.com/smukkama/heating-monitor/internal/alarming"
	"github.com/smukkama/heating-monitor/internal/api"
	"github.com/smukkama/heating-monitor/internal/database"
	"github.com/smukkama/heating-monitor/internal/logging"
	"github.com/smukkama/heating-monitor/internal/metrics"
	"github.com/smukkama/heating-monitor/internal/mqttbridge"
	"github.com/smukkama/heating-monitor/internal/notification"
	"github.com/smukkama/heating-monitor/internal/plug"
	"github.com/smukkama/heating-monitor/internal/plugstore"
	"github.com/smukkama/heating-monitor/internal/queue"
	"github.com/smukkama/heating-monitor/internal/readings"
	"github.com/smukkama/heating-monitor/internal/scheduler"
	"github.com/smukkama/heating-monitor/internal/timer"
	"github.com/smukkama/heating-monitor/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.CheckAlarmDelivery(); cfg.Alarm.InProcess && err != nil {
		log.Fatalf("Invalid alarm configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{Service: "heating-server", Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	fmt.Println("Starting Heating Monitor Server...")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
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

	// Redis backs the plug store and the rate limiter
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	redisOK := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		if cfg.Plug.Store == "redis" {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		redisOK = false
		fmt.Printf("Note: Redis unavailable, rate limiting disabled: %v\n", err)
	} else {
		fmt.Println("Connected to Redis")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	if cfg.Kafka.CreateTopics && (cfg.Kafka.Ingest || cfg.Alarm.Notifier == "queue") {
		createTopics(cfg)
	}

	// Readings
	loc := cfg.Alarm.Location()
	daily := aggregation.NewDailyAggregator(db, loc)
	hourly := aggregation.NewHourlyAggregator(db, loc)
	readingOpts := []readings.Option{
		readings.WithLocation(loc),
		readings.WithTimeout(cfg.Database.StoreTimeout),
		readings.WithLogger(logger),
		readings.WithMetrics(m),
	}
	if cfg.Kafka.Ingest {
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings)
		defer producer.Close()
		readingOpts = append(readingOpts, readings.WithSink(producer))
		fmt.Printf("Kafka ingest enabled (topic %s)\n", cfg.Kafka.TopicReadings)
	}
	readingService := readings.NewService(db, hourly, daily, readingOpts...)

	// Plug control
	repo, closeRepo, err := plugstore.Open(ctx, cfg, redisClient)
	if err != nil {
		log.Fatalf("Failed to open plug store: %v", err)
	}
	defer closeRepo(context.Background())
	fmt.Printf("Plug store: %s\n", cfg.Plug.Store)

	engineOpts := []plug.Option{
		plug.WithLogger(logger),
		plug.WithMetrics(m),
		plug.WithOverridePolicy(plug.OverridePolicy(cfg.Plug.AutoOverride)),
	}
	var bridge *mqttbridge.Bridge
	if cfg.MQTT.Enabled() {
		bridge, err = mqttbridge.Connect(&cfg.MQTT, logger)
		if err != nil {
			fmt.Printf("Note: MQTT disabled: %v\n", err)
		} else {
			engineOpts = append(engineOpts, plug.WithChangeHook(bridge.PublishDesired))
		}
	}
	engine := plug.NewEngine(repo, readingService, engineOpts...)
	if bridge != nil {
		if err := bridge.Start(engine); err != nil {
			logger.Error("mqtt bridge failed to subscribe", zap.Error(err))
		}
		defer bridge.Close()
		fmt.Printf("MQTT bridge connected (%s, %s)\n", bridge.DesiredTopic(), bridge.ReportedTopic())
	}

	// Scheduled jobs
	timerManager := timer.NewTimerManager(2)
	timerManager.Start()
	defer timerManager.Stop()

	deps := api.Deps{
		Plug:       engine,
		Readings:   readingService,
		Gatherer:   registry,
		CORSOrigin: cfg.HTTP.CORSOrigin,
		TrustProxy: cfg.HTTP.TrustProxy,
		Log:        logger,
	}

	if cfg.Alarm.InProcess {
		notifier, closeNotifier := newNotifier(cfg, logger)
		defer closeNotifier()

		alarm := alarming.NewConsumptionAlarm(readingService, notifier, cfg.Alarm.ThresholdKwh,
			alarming.WithLocation(loc),
			alarming.WithLogger(logger),
			alarming.WithMetrics(m))
		if err := scheduler.ScheduleAlarmChecks(timerManager, alarm, cfg.Alarm.InitialDelay, cfg.Alarm.CheckInterval, logger); err != nil {
			log.Fatalf("Failed to schedule consumption alarm: %v", err)
		}
		deps.Alarm = alarm
		fmt.Printf("Consumption alarm active (threshold %.2f kWh, every %s, notifier %s)\n",
			alarm.ThresholdKwh(), cfg.Alarm.CheckInterval, cfg.Alarm.Notifier)
	}

	if err := scheduler.ScheduleRetention(timerManager, daily, cfg.Retention.Period, cfg.Retention.TimeOfDay, logger); err != nil {
		log.Fatalf("Failed to schedule retention: %v", err)
	}

	if redisOK {
		deps.Limiter = api.NewRateLimiter(api.NewRedisCounter(redisClient), cfg.HTTP.RateLimitWindow, cfg.HTTP.RateLimitMax, logger)
	}

	// HTTP server
	srv := api.NewServer(fmt.Sprintf(":%d", cfg.HTTP.Port), api.NewHTTPHandler(deps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("\nShutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	fmt.Println("\n✓ Heating Monitor Server is running")
	fmt.Printf("✓ HTTP API listening on port %d\n", cfg.HTTP.Port)
	fmt.Printf("✓ Readings retained for %s\n", cfg.Retention.Period)
	fmt.Println("✓ Press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
	}
	fmt.Println("Heating Monitor Server stopped")
}

// newNotifier builds the notifier selected by ALARM_NOTIFIER and its cleanup
func newNotifier(cfg *config.Config, logger *zap.Logger) (alarming.Notifier, func()) {
	if cfg.Alarm.Notifier == "queue" {
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlarms)
		return notification.NewQueueNotifier(producer, cfg.Kafka.PublishTimeout, logger), func() { producer.Close() }
	}

	notifier := notification.NewEmailNotifier(&cfg.SMTP, logger)
	if !notifier.Configured() {
		fmt.Println("Note: SMTP not configured, consumption alarms will be logged only")
	}
	return notifier, func() {}
}

func createTopics(cfg *config.Config) {
	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Kafka.NumPartitions, 1); err != nil {
		fmt.Printf("Note: Topic creation failed (may already exist): %v\n", err)
	}
	// single partition keeps alarms ordered
	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicAlarms, 1, 1); err != nil {
		fmt.Printf("Note: Topic creation failed (may already exist): %v\n", err)
	}
}
