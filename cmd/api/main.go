package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hanseoyun/shopcore-backend/api/routes"
	"github.com/hanseoyun/shopcore-backend/internal/cart"
	"github.com/hanseoyun/shopcore-backend/internal/orders"
	"github.com/hanseoyun/shopcore-backend/internal/payments"
	"github.com/hanseoyun/shopcore-backend/internal/points"
	"github.com/hanseoyun/shopcore-backend/internal/products"
	"github.com/hanseoyun/shopcore-backend/internal/shipping"
	"github.com/hanseoyun/shopcore-backend/internal/stock"
	tosswebhook "github.com/hanseoyun/shopcore-backend/internal/webhooks/toss"
	"github.com/hanseoyun/shopcore-backend/pkg/config"
	"github.com/hanseoyun/shopcore-backend/pkg/db"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
	"github.com/hanseoyun/shopcore-backend/pkg/metrics"
	"github.com/hanseoyun/shopcore-backend/pkg/migrate"
	"github.com/hanseoyun/shopcore-backend/pkg/outbox"
	"github.com/hanseoyun/shopcore-backend/pkg/redis"
	"github.com/hanseoyun/shopcore-backend/pkg/toss"
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

	tossClient, err := toss.NewClient(context.Background(), cfg.Toss, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway client", err)
		os.Exit(1)
	}

	gormDB := dbClient.DB()
	productRepo := products.NewRepository(gormDB)
	cartRepo := cart.NewRepository(gormDB)
	orderRepo := orders.NewRepository(gormDB)
	paymentRepo := payments.NewRepository(gormDB)
	pointRepo := points.NewRepository(gormDB)
	outboxService := outbox.NewService(outbox.NewRepository(gormDB), logg)

	stockLedger, err := stock.NewLedger(logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stock ledger", err)
		os.Exit(1)
	}

	pointService, err := points.NewService(pointRepo, dbClient, outboxService, logg, cfg.Points)
	if err != nil {
		logg.Error(context.Background(), "failed to create point service", err)
		os.Exit(1)
	}

	cartService, err := cart.NewService(cartRepo, productRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		TxRunner:  dbClient,
		Repo:      orderRepo,
		CartRepo:  cartRepo,
		Products:  productRepo,
		Stock:     stockLedger,
		Points:    pointService,
		Shipping:  shipping.NewCalculator(cfg.Shipping),
		Outbox:    outboxService,
		Logger:    logg,
		PointsCfg: cfg.Points,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		TxRunner:    dbClient,
		Repo:        paymentRepo,
		Orders:      orderRepo,
		Stock:       stockLedger,
		Points:      pointService,
		Gateway:     tossClient,
		Outbox:      outboxService,
		Logger:      logg,
		PointsCfg:   cfg.Points,
		PaymentsCfg: cfg.Payments,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	webhookService, err := tosswebhook.NewService(paymentService, paymentRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics := metrics.NewHTTPMetrics(registry)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:       cfg,
			Logger:       logg,
			DB:           dbClient,
			Redis:        redisClient,
			Cart:         cartService,
			Orders:       orderService,
			Payments:     paymentService,
			Points:       pointService,
			TossWebhooks: webhookService,
			TossClient:   tossClient,
			Registry:     registry,
			HTTPMetrics:  httpMetrics,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
