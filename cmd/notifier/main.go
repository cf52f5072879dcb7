// Package main provides the notification service entry point.
// Consumes appointment events and emails patients exactly once per event.
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
	"github.com/carebridge/carebridge/internal/notify"
	"github.com/carebridge/carebridge/internal/observability/metrics"
	"github.com/carebridge/carebridge/internal/observability/tracing"
	"github.com/carebridge/carebridge/pkg/circuitbreaker"
	"github.com/carebridge/carebridge/pkg/idempotency"
	"github.com/carebridge/carebridge/pkg/workerpool"
)

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

	tcfg := tracing.DefaultConfig("notifier")
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

	m := metrics.New(prometheus.DefaultRegisterer)
	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)

	var mailer notify.Mailer
	if cfg.SMTP.Host != "" {
		bcfg := circuitbreaker.DefaultConfig("smtp")
		bcfg.OnStateChange = m.BreakerStateChanged
		breaker, err := circuitbreaker.New(bcfg, logger)
		if err != nil {
			logger.Fatal("circuit breaker creation failed", zap.Error(err))
		}
		mailer, err = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, breaker, logger)
		if err != nil {
			logger.Fatal("smtp mailer creation failed", zap.Error(err))
		}
	} else {
		logger.Warn("SMTP_HOST not set, emails are logged instead of sent")
		mailer = notify.NewLogMailer(logger)
	}

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = 8
	notifier, err := notify.NewNotifier(mailer, inbox, m, poolCfg, logger)
	if err != nil {
		logger.Fatal("notifier creation failed", zap.Error(err))
	}
	notifier.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Kafka.Brokers
	consumer, err := redpanda.NewConsumer(consumerCfg, notifier.Handle, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	jobs := cron.New()
	if _, err := jobs.AddFunc("@every 1m", func() {
		if n, err := inbox.RecoverStale(ctx); err != nil {
			logger.Error("inbox recovery failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("stale inbox entries recovered", zap.Int64("count", n))
		}
	}); err != nil {
		logger.Fatal("invalid schedule", zap.Error(err))
	}
	if _, err := jobs.AddFunc("@daily", func() {
		if _, err := inbox.Cleanup(ctx); err != nil {
			logger.Error("inbox cleanup failed", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("invalid schedule", zap.Error(err))
	}
	jobs.Start()

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("notifier started", zap.Strings("topics", consumerCfg.Topics))
	consumer.Run(ctx)

	logger.Info("shutting down")
	<-jobs.Stop().Done()
	if err := notifier.Stop(); err != nil {
		logger.Error("worker pool stop failed", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("notifier stopped")
}
