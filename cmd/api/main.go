package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bazaarline/marketplace-backend/api/routes"
	"github.com/bazaarline/marketplace-backend/internal/checkout"
	"github.com/bazaarline/marketplace-backend/internal/inventory"
	"github.com/bazaarline/marketplace-backend/internal/ledger"
	"github.com/bazaarline/marketplace-backend/internal/orders"
	"github.com/bazaarline/marketplace-backend/internal/realtime"
	"github.com/bazaarline/marketplace-backend/internal/reservation"
	"github.com/bazaarline/marketplace-backend/internal/settlement"
	stripewebhook "github.com/bazaarline/marketplace-backend/internal/webhooks/stripe"
	"github.com/bazaarline/marketplace-backend/pkg/config"
	"github.com/bazaarline/marketplace-backend/pkg/db"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/metrics"
	"github.com/bazaarline/marketplace-backend/pkg/migrate"
	"github.com/bazaarline/marketplace-backend/pkg/outbox"
	"github.com/bazaarline/marketplace-backend/pkg/queue"
	"github.com/bazaarline/marketplace-backend/pkg/redis"
	"github.com/bazaarline/marketplace-backend/pkg/stripe"
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

	cfg.Service.Kind = "api"

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

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

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

	ordersRepo := orders.NewRepository(dbClient.DB())
	productReader := inventory.NewProductReader()
	stockLedger := inventory.NewLedger()
	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

	hub := realtime.NewHub(logg)
	broadcaster, err := realtime.NewBroadcaster(hub, redisClient.Raw(), redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create realtime broadcaster", err)
		os.Exit(1)
	}

	reservationService, err := reservation.NewService(reservation.ServiceParams{
		Repository: ordersRepo,
		Products:   productReader,
		TxRunner:   dbClient,
		Outbox:     outboxService,
		Scheduler:  expiryQueue,
		Logger:     logg,
		Window:     cfg.Checkout.ReservationWindow,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Repository: ordersRepo,
		Products:   productReader,
		Inventory:  stockLedger,
		TxRunner:   dbClient,
		Gateway:    stripeClient,
		Logger:     logg,
		Config:     cfg.Checkout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	settlementService, err := settlement.NewService(settlement.ServiceParams{
		Repository: ordersRepo,
		Products:   productReader,
		Stock:      stockLedger,
		Ledger:     ledgerService,
		TxRunner:   dbClient,
		Outbox:     outboxService,
		Refunds:    outboxRepo,
		Gateway:    stripeClient,
		Expiry:     expiryQueue,
		Notifier:   broadcaster,
		Logger:     logg,
		Config:     cfg.Checkout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repository: ordersRepo,
		TxRunner:   dbClient,
		Outbox:     outboxService,
		Stock:      stockLedger,
		Payments:   ledgerService,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(settlementService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}
	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, 0, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook guard", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(routes.Dependencies{
		Config:               cfg,
		Logger:               logg,
		DB:                   dbClient,
		Redis:                redisClient,
		IdempotencyStore:     redisClient,
		Gatherer:             prometheus.DefaultGatherer,
		OrderMetrics:         metrics.NewOrderMetrics(prometheus.DefaultRegisterer),
		Reservation:          reservationService,
		Checkout:             checkoutService,
		Settlement:           settlementService,
		Orders:               ordersService,
		Hub:                  hub,
		StripeClient:         stripeClient,
		StripeWebhookService: webhookService,
		StripeWebhookGuard:   webhookGuard,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"instance":    id,
		"stripe_env":  stripeClient.Environment(),
		"serviceKind": cfg.Service.Kind,
	})

	go func() {
		if err := broadcaster.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "realtime listener stopped", err)
		}
	}()

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting api server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shutting down gracefully")
}
