package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hanseoyun/shopcore-backend/internal/cron"
	"github.com/hanseoyun/shopcore-backend/internal/orders"
	"github.com/hanseoyun/shopcore-backend/internal/payments"
	"github.com/hanseoyun/shopcore-backend/internal/points"
	"github.com/hanseoyun/shopcore-backend/internal/stock"
	"github.com/hanseoyun/shopcore-backend/pkg/config"
	"github.com/hanseoyun/shopcore-backend/pkg/db"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
	"github.com/hanseoyun/shopcore-backend/pkg/metrics"
	"github.com/hanseoyun/shopcore-backend/pkg/migrate"
	"github.com/hanseoyun/shopcore-backend/pkg/outbox"
	"github.com/hanseoyun/shopcore-backend/pkg/redis"
	"github.com/hanseoyun/shopcore-backend/pkg/toss"
)

const lockKeyFormat = "shopcore:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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
	outboxRepo := outbox.NewRepository(gormDB)

	stockLedger, err := stock.NewLedger(logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stock ledger", err)
		os.Exit(1)
	}

	pointService, err := points.NewService(points.NewRepository(gormDB), dbClient, outbox.NewService(outboxRepo, logg), logg, cfg.Points)
	if err != nil {
		logg.Error(context.Background(), "failed to create point service", err)
		os.Exit(1)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		TxRunner:    dbClient,
		Repo:        payments.NewRepository(gormDB),
		Orders:      orders.NewRepository(gormDB),
		Stock:       stockLedger,
		Points:      pointService,
		Gateway:     tossClient,
		Outbox:      outbox.NewService(outboxRepo, logg),
		Logger:      logg,
		PointsCfg:   cfg.Points,
		PaymentsCfg: cfg.Payments,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	pointExpiry, err := cron.NewPointExpiryJob(cron.PointExpiryJobParams{
		Logger: logg,
		Points: pointService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create point expiry job", err)
		os.Exit(1)
	}

	pointReconcile, err := cron.NewPointReconcileJob(cron.PointReconcileJobParams{
		Logger: logg,
		Points: pointService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create point reconcile job", err)
		os.Exit(1)
	}

	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.PublishedRetention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(pointExpiry, pointReconcile, outboxRetention)

	if !cfg.Payments.ReleasesImmediately() {
		stockRelease, err := cron.NewStockReleaseJob(cron.StockReleaseJobParams{
			Logger:   logg,
			Payments: paymentService,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create stock release job", err)
			os.Exit(1)
		}
		registry.Register(stockRelease)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
