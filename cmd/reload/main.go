package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"github.com/ocontreras/clicksync-backend/internal/fullreload"
	syncengine "github.com/ocontreras/clicksync-backend/internal/sync"
	bq "github.com/ocontreras/clicksync-backend/pkg/bigquery"
	"github.com/ocontreras/clicksync-backend/pkg/config"
	"github.com/ocontreras/clicksync-backend/pkg/db"
	"github.com/ocontreras/clicksync-backend/pkg/logger"
	"github.com/ocontreras/clicksync-backend/pkg/storage/gcs"
)

// One-shot full reload: rebuilds the archive and the record sink from the
// warehouse, then exits.
func main() {
	logg := logger.New(logger.Options{ServiceName: "reload"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "reload",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap gcs", err)
		os.Exit(1)
	}
	defer gcsClient.Close()
	bucket := gcsClient.BucketHandle(gcsClient.DefaultBucket())

	bqClient, err := bq.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap bigquery", err)
		os.Exit(1)
	}
	defer bqClient.Close()

	job := fullreload.NewJob(
		fullreload.NewBigQueryReader(bqClient),
		bucket,
		syncengine.NewRepository(dbClient.DB()),
		cfg.Sync.ArchivalPrefix,
		logg,
	)

	ctx := context.Background()
	logg.Info(ctx, "starting full reload")
	if err := job.Run(ctx); err != nil {
		logg.Error(ctx, "full reload failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "full reload complete")
}
