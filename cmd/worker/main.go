package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bazaarline/marketplace-backend/internal/expiry"
	"github.com/bazaarline/marketplace-backend/internal/inventory"
	"github.com/bazaarline/marketplace-backend/internal/ledger"
	"github.com/bazaarline/marketplace-backend/internal/notifications"
	"github.com/bazaarline/marketplace-backend/internal/orders"
	"github.com/bazaarline/marketplace-backend/pkg/config"
	"github.com/bazaarline/marketplace-backend/pkg/db"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/metrics"
	"github.com/bazaarline/marketplace-backend/pkg/migrate"
	"github.com/bazaarline/marketplace-backend/pkg/outbox"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/idempotency"
	"github.com/bazaarline/marketplace-backend/pkg/pubsub"
	"github.com/bazaarline/marketplace-backend/pkg/queue"
	"github.com/bazaarline/marketplace-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	expiryQueue, err := queue.NewRedisStore(redisClient.Raw(), redisClient, queue.Options{
		Name:        cfg.Queue.Name,
		Lease:       cfg.Queue.Lease,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BaseBackoff: cfg.Queue.BaseBackoff,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expiry queue", err)
		os.Exit(1)
	}

	sweeper, err := expiry.NewSweeper(expiry.SweeperParams{
		Repository: orders.NewRepository(dbClient.DB()),
		TxRunner:   dbClient,
		Inventory:  inventory.NewLedger(),
		Outbox:     outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expiry sweeper", err)
		os.Exit(1)
	}

	expiryWorker, err := queue.NewWorker(queue.WorkerParams{
		Store:        expiryQueue,
		Handler:      sweeper.HandleJob,
		Logger:       logg,
		Metrics:      metrics.NewQueueMetrics(prometheus.DefaultRegisterer),
		Name:         cfg.Queue.Name,
		PollInterval: cfg.Queue.PollInterval,
		BatchSize:    cfg.Queue.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expiry worker", err)
		os.Exit(1)
	}

	params := ServiceParams{
		Config:       cfg,
		Logger:       logg,
		DBPing:       dbClient.Ping,
		RedisPing:    redisClient.Ping,
		ExpiryWorker: expiryWorker,
	}

	// Notification emails only run when a GCP project is configured.
	if cfg.GCP.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg, cfg.PubSub.NotificationSubscription)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()

		manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to create idempotency manager", err)
			os.Exit(1)
		}

		var mailer notifications.Mailer = notifications.NewLogMailer(logg)
		if cfg.SMTP.Enabled() {
			smtpMailer, err := notifications.NewSMTPMailer(cfg.SMTP)
			if err != nil {
				logg.Error(context.Background(), "failed to create smtp mailer", err)
				os.Exit(1)
			}
			mailer = smtpMailer
		}

		consumer, err := notifications.NewConsumer(
			pubsubClient.NotificationSubscription(),
			mailer,
			ledger.NewRepository(dbClient.DB()),
			manager,
			logg,
		)
		if err != nil {
			logg.Error(context.Background(), "failed to create notification consumer", err)
			os.Exit(1)
		}
		params.PubSubPing = pubsubClient.Ping
		params.NotificationConsumer = consumer
	}

	service, err := NewService(params)
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"queue":       cfg.Queue.Name,
	})
	metrics.Serve(ctx, cfg.Service.MetricsAddr, logg)
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}
