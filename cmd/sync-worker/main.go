package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ocontreras/clicksync-backend/internal/credentials"
	"github.com/ocontreras/clicksync-backend/internal/cron"
	"github.com/ocontreras/clicksync-backend/internal/fullreload"
	syncengine "github.com/ocontreras/clicksync-backend/internal/sync"
	bq "github.com/ocontreras/clicksync-backend/pkg/bigquery"
	"github.com/ocontreras/clicksync-backend/pkg/config"
	"github.com/ocontreras/clicksync-backend/pkg/db"
	"github.com/ocontreras/clicksync-backend/pkg/logger"
	"github.com/ocontreras/clicksync-backend/pkg/metrics"
	"github.com/ocontreras/clicksync-backend/pkg/pubsub"
	"github.com/ocontreras/clicksync-backend/pkg/redis"
	"github.com/ocontreras/clicksync-backend/pkg/secrets"
	"github.com/ocontreras/clicksync-backend/pkg/storage/gcs"
)

const lockKey = "clicksync:sync-worker:lock"

func main() {
	logg := logger.New(logger.Options{ServiceName: "sync-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "sync-worker",
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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap gcs", err)
		os.Exit(1)
	}
	defer gcsClient.Close()
	bucket := gcsClient.BucketHandle(gcsClient.DefaultBucket())

	secretsClient, err := secrets.NewClient(context.Background(), cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap secret manager", err)
		os.Exit(1)
	}

	bqClient, err := bq.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap bigquery", err)
		os.Exit(1)
	}
	defer bqClient.Close()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer pubsubClient.Close()

	runMetrics := metrics.NewSyncRunMetrics(prometheus.NewRegistry())

	provider := credentials.NewSecretManagerProvider(secretsClient, cfg.Secrets.AdsCredentialSecret)
	manager := credentials.NewManager(provider, cfg.Ads, logg)

	store, err := syncengine.NewStore(cfg.Sync, dbClient.DB(), bucket)
	if err != nil {
		logg.Error(context.Background(), "failed to build watermark store", err)
		os.Exit(1)
	}

	repo := syncengine.NewRepository(dbClient.DB())
	deliverer := syncengine.NewDeliverer(bucket, repo, cfg.Sync.ArchivalPrefix)

	var fallback syncengine.Job
	if cfg.Sync.FallbackReload {
		fallback = fullreload.NewJob(
			fullreload.NewBigQueryReader(bqClient),
			bucket,
			repo,
			cfg.Sync.ArchivalPrefix,
			logg,
		)
	}

	var events syncengine.RunEventPublisher
	if publisher := pubsubClient.RunEventsPublisher(); publisher != nil {
		events = syncengine.NewPubSubEvents(publisher)
	}

	orch := syncengine.NewOrchestrator(syncengine.OrchestratorOptions{
		Store:     store,
		Fetcher:   syncengine.NewFetcher(manager, logg),
		Deliverer: deliverer,
		Fallback:  fallback,
		Runs:      runMetrics,
		Events:    events,
		Logger:    logg,
	})

	lock, err := cron.NewRedisLock(redisClient, lockKey, cfg.Sync.RunInterval)
	if err != nil {
		logg.Error(context.Background(), "failed to build worker lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Lock:     lock,
		Jobs:     []syncengine.Job{cron.NewIncrementalJob(orch)},
		Interval: cfg.Sync.RunInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build sync worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logg.Info(ctx, "starting sync worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sync worker stopped unexpectedly", err)
		os.Exit(1)
	}
}
