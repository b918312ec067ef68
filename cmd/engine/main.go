package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/churnguard/intervention-engine/internal/config"
	"github.com/churnguard/intervention-engine/internal/events"
	"github.com/churnguard/intervention-engine/internal/handler"
	"github.com/churnguard/intervention-engine/internal/infra/postgresql"
	"github.com/churnguard/intervention-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/churnguard/intervention-engine/internal/infra/redis"
	"github.com/churnguard/intervention-engine/internal/notifier"
	"github.com/churnguard/intervention-engine/internal/observability"
	"github.com/churnguard/intervention-engine/internal/repository"
	"github.com/churnguard/intervention-engine/internal/risk"
	"github.com/churnguard/intervention-engine/internal/service"
	"github.com/churnguard/intervention-engine/internal/transport"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := events.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()
	sink := events.NewRabbitMQSink(rabbit)

	riskClient, err := risk.NewClient(cfg.RiskAPIURL)
	if err != nil {
		logger.Fatal("risk client initialization failed", zap.Error(err))
	}

	webhook, err := notifier.NewWebhookNotifier(cfg.NotifyWebhookURL)
	if err != nil {
		logger.Fatal("webhook notifier initialization failed", zap.Error(err))
	}

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.NotifyRatePerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	dayCounter, err := infraredis.NewRedisDayCounter(rdb)
	if err != nil {
		logger.Fatal("day counter initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	configStore, err := service.NewConfigStore(cfg.SentinelDefaults(), sink, logger)
	if err != nil {
		logger.Fatal("config store initialization failed", zap.Error(err))
	}

	ledger := repository.NewGormInterventionRepo(db)

	sentinel, err := service.NewSentinel(ledger, riskClient, webhook, limiter, dayCounter, configStore, sink, logger, metrics)
	if err != nil {
		logger.Fatal("sentinel initialization failed", zap.Error(err))
	}

	optimizer, err := service.NewOptimizer(
		ledger,
		riskClient,
		sink,
		logger,
		metrics,
		time.Duration(cfg.OptimizerIntervalHours)*time.Hour,
		cfg.OptimizerBatchSize,
	)
	if err != nil {
		logger.Fatal("optimizer initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterEngineRoutes(app, sentinel, optimizer, configStore, ledger); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return sentinel.Start(groupCtx)
	})
	group.Go(func() error {
		return optimizer.Start(groupCtx)
	})
	group.Go(func() error {
		logger.Info("intervention-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := group.Wait(); err != nil {
		logger.Fatal("engine stopped with error", zap.Error(err))
	}

	logger.Info("engine stopped")
}
