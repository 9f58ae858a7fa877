package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanseoyun/shopcore-backend/api/controllers"
	webhookcontrollers "github.com/hanseoyun/shopcore-backend/api/controllers/webhooks"
	"github.com/hanseoyun/shopcore-backend/api/middleware"
	"github.com/hanseoyun/shopcore-backend/internal/cart"
	"github.com/hanseoyun/shopcore-backend/internal/orders"
	"github.com/hanseoyun/shopcore-backend/internal/payments"
	"github.com/hanseoyun/shopcore-backend/internal/points"
	tosswebhook "github.com/hanseoyun/shopcore-backend/internal/webhooks/toss"
	"github.com/hanseoyun/shopcore-backend/pkg/config"
	"github.com/hanseoyun/shopcore-backend/pkg/db"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
	"github.com/hanseoyun/shopcore-backend/pkg/metrics"
	"github.com/hanseoyun/shopcore-backend/pkg/redis"
	"github.com/hanseoyun/shopcore-backend/pkg/toss"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           db.Pinger
	Redis        *redis.Client
	Cart         cart.Service
	Orders       orders.Service
	Payments     payments.Service
	Points       points.Service
	TossWebhooks webhookcontrollers.TossWebhookService
	TossClient   *toss.Client
	Registry     *prometheus.Registry
	HTTPMetrics  *metrics.HTTPMetrics
}

var _ webhookcontrollers.TossWebhookService = (*tosswebhook.Service)(nil)

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.HTTPMetrics),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/toss", webhookcontrollers.TossWebhook(deps.TossWebhooks, deps.TossClient, logg))
	})

	// Failure callbacks arrive from anonymous browser redirects, so the
	// endpoint stays public behind a per-IP throttle.
	failPolicy := middleware.NewRateLimitPolicy(
		"payment-fail",
		cfg.RateLimit.PaymentFailWindow,
		cfg.RateLimit.PaymentFailIPLimit,
	)
	r.With(middleware.RateLimit(failPolicy, deps.Redis, logg)).
		Post("/api/v1/payments/fail", controllers.PaymentFail(deps.Payments, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		// Flat registrations keep chi route patterns identical to the
		// paths the idempotency rule table matches on.
		r.Get("/cart", controllers.CartGet(deps.Cart, logg))
		r.Post("/cart/items", controllers.CartAddItem(deps.Cart, logg))
		r.Delete("/cart/items/{itemID}", controllers.CartRemoveItem(deps.Cart, logg))

		r.Post("/orders", controllers.OrderCreate(deps.Orders, logg))
		r.Get("/orders/{orderID}", controllers.OrderGet(deps.Orders, logg))

		r.Post("/payments/request", controllers.PaymentRequest(deps.Payments, logg))
		r.Post("/payments/confirm", controllers.PaymentConfirm(deps.Payments, logg))
		r.Post("/payments/{paymentID}/cancel", controllers.PaymentCancel(deps.Payments, logg))

		r.Get("/points", controllers.PointsList(deps.Points, logg))
	})

	return r
}
