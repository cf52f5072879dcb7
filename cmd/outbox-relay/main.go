// Package main provides the outbox relay service entry point.
// Implements the Transactional Outbox pattern relay.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/config"
	"github.com/carebridge/carebridge/internal/infrastructure/postgres"
	"github.com/carebridge/carebridge/internal/infrastructure/redpanda"
	"github.com/carebridge/carebridge/internal/observability/metrics"
	"github.com/carebridge/carebridge/internal/observability/tracing"
)

const processedRetention = 7 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tcfg := tracing.DefaultConfig("outbox-relay")
	tcfg.Enabled = cfg.Tracing.Enabled
	tcfg.OTLPEndpoint = cfg.Tracing.Endpoint
	tp, err := tracing.Init(ctx, tcfg)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("connected to database")

	admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Warn("topic creation failed, relying on broker auto-create", zap.Error(err))
	}
	admin.Close()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.Kafka.Brokers))

	m := metrics.New(prometheus.DefaultRegisterer)

	relayCfg := postgres.DefaultRelayConfig()
	relayCfg.DeadLetterTopic = redpanda.TopicDeadLetter
	relayCfg.OnPublished = func(n int) { m.OutboxPublished.Add(float64(n)) }
	relay := postgres.NewRelay(pool, producer, relayCfg, logger)

	jobs := cron.New()
	mustSchedule(logger, jobs, "@every 1m", func() {
		n, err := relay.MoveToDeadLetter(ctx)
		if err != nil {
			logger.Error("dead letter sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			m.OutboxDeadLettered.Add(float64(n))
			logger.Warn("outbox entries dead-lettered", zap.Int64("count", n))
		}
	})
	mustSchedule(logger, jobs, "@every 15s", func() {
		stats, err := relay.Stats(ctx)
		if err != nil {
			logger.Error("outbox stats failed", zap.Error(err))
			return
		}
		m.OutboxPending.Set(float64(stats.Pending))
	})
	mustSchedule(logger, jobs, "@hourly", func() {
		n, err := relay.CleanupProcessed(ctx, processedRetention)
		if err != nil {
			logger.Error("outbox cleanup failed", zap.Error(err))
			return
		}
		logger.Info("outbox cleanup completed", zap.Int64("deleted", n))
	})
	jobs.Start()

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	relay.Run(ctx)

	logger.Info("shutting down")
	<-jobs.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("outbox relay stopped")
}

func mustSchedule(logger *zap.Logger, c *cron.Cron, spec string, fn func()) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		logger.Fatal("invalid schedule", zap.String("spec", spec), zap.Error(err))
	}
}
