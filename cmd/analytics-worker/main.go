package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/bazaarline/marketplace-backend/internal/analytics/router"
	"github.com/bazaarline/marketplace-backend/internal/analytics/worker"
	"github.com/bazaarline/marketplace-backend/internal/analytics/writer"
	"github.com/bazaarline/marketplace-backend/pkg/bigquery"
	"github.com/bazaarline/marketplace-backend/pkg/config"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/metrics"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/idempotency"
	"github.com/bazaarline/marketplace-backend/pkg/pubsub"
	"github.com/bazaarline/marketplace-backend/pkg/redis"
)

const serviceKind = "analytics-worker"

func main() {
	// deployed environments inject config directly
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.New(logger.Options{ServiceName: serviceKind}).Error(context.Background(), "analytics worker stopped", err)
		os.Exit(1)
	}
}

// run builds the purchase analytics pipeline (pubsub subscription, dedupe,
// BigQuery writer) and blocks until ctx is cancelled or the subscription
// receiver fails.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": cfg.Service.Kind})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeQuietly(ctx, logg, "redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg, cfg.PubSub.AnalyticsSubscription)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer closeQuietly(ctx, logg, "pubsub", pubsubClient.Close)

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return fmt.Errorf("bootstrap bigquery: %w", err)
	}
	defer closeQuietly(ctx, logg, "bigquery", bqClient.Close)

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		return errors.New("analytics subscription not configured")
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("idempotency manager: %w", err)
	}
	analyticsWriter, err := writer.New(bqClient, writer.RetryPolicy{})
	if err != nil {
		return fmt.Errorf("bigquery writer: %w", err)
	}
	deduper, err := router.NewDailyDeduper(redisClient, 0)
	if err != nil {
		return fmt.Errorf("purchase deduper: %w", err)
	}
	handler, err := router.NewRouter(analyticsWriter, deduper, logg)
	if err != nil {
		return fmt.Errorf("event router: %w", err)
	}
	service, err := worker.NewService(subscription, handler, manager, logg)
	if err != nil {
		return fmt.Errorf("worker service: %w", err)
	}

	for name, ping := range map[string]func(context.Context) error{
		"redis":    redisClient.Ping,
		"pubsub":   pubsubClient.Ping,
		"bigquery": bqClient.Ping,
	} {
		if err := ping(ctx); err != nil {
			return fmt.Errorf("%s not ready: %w", name, err)
		}
	}

	metrics.Serve(ctx, cfg.Service.MetricsAddr, logg)
	logg.Info(ctx, "analytics worker ready")
	return service.Run(ctx)
}

func closeQuietly(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, fmt.Sprintf("failed to close %s client", name), err)
	}
}
