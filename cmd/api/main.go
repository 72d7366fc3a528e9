package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ocontreras/clicksync-backend/api/controllers"
	"github.com/ocontreras/clicksync-backend/api/routes"
	"github.com/ocontreras/clicksync-backend/internal/credentials"
	"github.com/ocontreras/clicksync-backend/internal/fullreload"
	syncengine "github.com/ocontreras/clicksync-backend/internal/sync"
	bq "github.com/ocontreras/clicksync-backend/pkg/bigquery"
	"github.com/ocontreras/clicksync-backend/pkg/config"
	"github.com/ocontreras/clicksync-backend/pkg/db"
	"github.com/ocontreras/clicksync-backend/pkg/logger"
	"github.com/ocontreras/clicksync-backend/pkg/metrics"
	"github.com/ocontreras/clicksync-backend/pkg/migrate"
	"github.com/ocontreras/clicksync-backend/pkg/pubsub"
	"github.com/ocontreras/clicksync-backend/pkg/secrets"
	"github.com/ocontreras/clicksync-backend/pkg/storage/gcs"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

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

	registry := prometheus.NewRegistry()
	runMetrics := metrics.NewSyncRunMetrics(registry)

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

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config: cfg,
			Logger: logg,
			Dependencies: []controllers.Dependency{
				{Name: "postgres", Pinger: dbClient},
				{Name: "gcs", Pinger: gcsClient},
				{Name: "secret_manager", Pinger: secretsClient},
				{Name: "bigquery", Pinger: bqClient},
				{Name: "pubsub", Pinger: pubsubClient},
			},
			Runner:   orch,
			Registry: registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
