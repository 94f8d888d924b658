package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/heating-monitor/internal/database"
	"github.com/smukkama/heating-monitor/internal/importer"
	"github.com/smukkama/heating-monitor/internal/logging"
	"github.com/smukkama/heating-monitor/pkg/config"
)

// The importer loads a historical JSON export of sensor readings from S3
// into PostgreSQL. It runs once and exits.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Import.Bucket == "" || cfg.Import.Key == "" {
		log.Fatalf("IMPORT_BUCKET and IMPORT_KEY are required")
	}

	logger, err := logging.New(logging.Config{Service: "heating-importer", Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	fmt.Println("Starting Reading Importer...")
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

	source, err := importer.NewS3Source(ctx, cfg.Import.Region)
	if err != nil {
		log.Fatalf("Failed to create S3 client: %v", err)
	}

	start := time.Now()
	fmt.Printf("Importing s3://%s/%s (batch size %d)\n", cfg.Import.Bucket, cfg.Import.Key, cfg.Import.BatchSize)
	loader := importer.NewLoader(source, db, cfg.Import.BatchSize, logger)
	res, err := loader.Import(ctx, cfg.Import.Bucket, cfg.Import.Key)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	fmt.Printf("\n✓ Imported %d readings in %d batches (%s)\n", res.Imported, res.Batches, time.Since(start).Round(time.Millisecond))
	if res.Skipped > 0 {
		fmt.Printf("✓ Skipped %d invalid records\n", res.Skipped)
	}
}
