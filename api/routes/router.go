package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bazaarline/marketplace-backend/api/controllers"
	ordercontrollers "github.com/bazaarline/marketplace-backend/api/controllers/orders"
	webhookcontrollers "github.com/bazaarline/marketplace-backend/api/controllers/webhooks"
	"github.com/bazaarline/marketplace-backend/api/middleware"
	checkoutsvc "github.com/bazaarline/marketplace-backend/internal/checkout"
	"github.com/bazaarline/marketplace-backend/internal/orders"
	"github.com/bazaarline/marketplace-backend/internal/realtime"
	"github.com/bazaarline/marketplace-backend/internal/settlement"
	stripewebhook "github.com/bazaarline/marketplace-backend/internal/webhooks/stripe"
	"github.com/bazaarline/marketplace-backend/pkg/config"
	"github.com/bazaarline/marketplace-backend/pkg/db"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/metrics"
	"github.com/bazaarline/marketplace-backend/pkg/redis"
	"github.com/bazaarline/marketplace-backend/pkg/stripe"
)

const apiVersionPrefix = "/api/v1"

// Dependencies carries everything the HTTP surface calls into.
type Dependencies struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               db.Pinger
	Redis            redis.Pinger
	IdempotencyStore redis.IdempotencyStore
	Gatherer         prometheus.Gatherer
	OrderMetrics     *metrics.OrderMetrics

	Reservation controllers.OrderReserver
	Checkout    checkoutsvc.Service
	Settlement  settlement.Service
	Orders      orders.Service

	Hub                  *realtime.Hub
	StripeClient         *stripe.Client
	StripeWebhookService *stripewebhook.Service
	StripeWebhookGuard   *stripewebhook.IdempotencyGuard
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.Realtime.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": deps.DB,
			"redis":    deps.Redis,
		}))
	})
	r.Handle("/metrics", metrics.Handler(deps.Gatherer))

	r.Group(func(r chi.Router) { mountAPI(r, deps) })
	r.Route(apiVersionPrefix, func(r chi.Router) { mountAPI(r, deps) })

	return r
}

// mountAPI registers the marketplace routes. They are served both at the root
// and under the versioned prefix.
func mountAPI(r chi.Router, deps Dependencies) {
	cfg := deps.Config
	logg := deps.Logger

	if deps.StripeClient != nil && deps.StripeWebhookService != nil && deps.StripeWebhookGuard != nil {
		r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhookService, deps.StripeClient, deps.StripeWebhookGuard, logg))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(deps.IdempotencyStore, logg))

		r.Post("/order", controllers.CreateOrder(deps.Reservation, deps.OrderMetrics, logg))
		r.Get("/orders/{code}", ordercontrollers.Detail(deps.Orders, logg))
		r.Post("/create-checkout-session", controllers.CreateCheckoutSession(deps.Checkout, deps.OrderMetrics, logg))
		r.Post("/checkout-success", controllers.CheckoutSuccess(deps.Settlement, deps.OrderMetrics, logg))
		r.Post("/cash-on-delivery", controllers.CashOnDelivery(deps.Settlement, cfg.FeatureFlags.AllowCashOnDelivery, deps.OrderMetrics, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireMerchant(logg))
			r.Patch("/seller/order-status", ordercontrollers.UpdateStatus(deps.Orders, logg))
			r.Get("/ws/merchant", controllers.MerchantSocket(deps.Hub, realtime.SocketOptions{
				AllowedOrigins: cfg.Realtime.AllowedOrigins,
				PingInterval:   cfg.Realtime.PingInterval,
			}, logg))
		})
	})
}
