// Package main provides the appointment API service entry point.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/ai"
	"github.com/carebridge/carebridge/internal/api/handlers"
	"github.com/carebridge/carebridge/internal/api/middleware"
	"github.com/carebridge/carebridge/internal/config"
	"github.com/carebridge/carebridge/internal/domain/appointment"
	"github.com/carebridge/carebridge/internal/domain/doctor"
	"github.com/carebridge/carebridge/internal/infrastructure/postgres"
	"github.com/carebridge/carebridge/internal/infrastructure/redislock"
	"github.com/carebridge/carebridge/internal/infrastructure/storage"
	"github.com/carebridge/carebridge/internal/observability/metrics"
	"github.com/carebridge/carebridge/internal/observability/tracing"
	"github.com/carebridge/carebridge/pkg/circuitbreaker"
)

const (
	serviceName = "appointment-api"
	version     = "1.0.0"
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

	if err := cfg.RequireJWTSecret(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	tcfg := tracing.DefaultConfig(serviceName)
	tcfg.Enabled = cfg.Tracing.Enabled
	tcfg.OTLPEndpoint = cfg.Tracing.Endpoint
	tp, err := tracing.Init(ctx, tcfg)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("connected to database")

	checks := map[string]handlers.Check{"postgres": pool.Ping}

	// Without Redis the lock only serializes writers inside this process.
	var locker appointment.Locker
	if cfg.Redis.Addr != "" {
		rdb, err := redislock.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		locker = redislock.New(rdb, redislock.WithLogger(logger))
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info("using redis appointment lock", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Warn("REDIS_ADDR not set, appointment lock is process-local")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	store := storage.NewLocalStorage(cfg.UploadDir, cfg.PublicBaseURL, cfg.MaxUploadSize, logger)
	doctors := doctor.NewService(doctor.NewRepository(pool, logger), logger)
	svc := appointment.NewService(
		appointment.NewRepository(pool, logger),
		store,
		locker,
		logger,
		appointment.WithMetrics(m),
		appointment.WithDoctorDirectory(doctors),
	)

	bcfg := circuitbreaker.DefaultConfig("gemini")
	bcfg.OnStateChange = m.BreakerStateChanged
	breaker, err := circuitbreaker.New(bcfg, logger)
	if err != nil {
		logger.Fatal("circuit breaker creation failed", zap.Error(err))
	}
	acfg := ai.DefaultConfig(cfg.Gemini.APIKey)
	acfg.Model = cfg.Gemini.Model
	acfg.BaseURL = cfg.Gemini.BaseURL
	assistant := ai.NewClient(acfg, breaker, m, logger)
	if cfg.Gemini.APIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, AI endpoints return the fallback answer")
	}

	r := newRouter(routerDeps{
		logger:      logger,
		metrics:     m,
		verifier:    middleware.NewTokenVerifier(cfg.JWTSecret),
		appointment: handlers.NewAppointmentHandler(svc, cfg.MaxUploadSize, logger),
		doctor:      handlers.NewDoctorHandler(doctors, logger),
		ai:          handlers.NewAIHandler(assistant),
		health:      handlers.NewHealthHandler(serviceName, version, checks, logger),
		uploads:     store.Handler(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting appointment API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

type routerDeps struct {
	logger      *zap.Logger
	metrics     *metrics.Metrics
	verifier    *middleware.TokenVerifier
	appointment *handlers.AppointmentHandler
	doctor      *handlers.DoctorHandler
	ai          *handlers.AIHandler
	health      *handlers.HealthHandler
	uploads     http.Handler
}

func newRouter(d routerDeps) chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(d.logger))
	r.Use(middleware.Logger(d.logger))
	r.Use(middleware.Metrics(d.metrics))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/health", d.health.Health)
	r.Get("/ready", d.health.Ready)
	r.Handle("/metrics", d.metrics.Handler())
	r.Handle(storage.URLPrefix+"*", d.uploads)

	r.Route("/api", func(r chi.Router) {
		r.Mount("/ai", d.ai.Routes())
		r.Route("/doctor", func(r chi.Router) {
			r.Get("/list", d.doctor.List)
			r.Group(func(r chi.Router) {
				r.Use(middleware.Authenticate(d.verifier, middleware.RoleDoctor))
				d.appointment.DoctorRoutes(r)
				d.doctor.ProfileRoutes(r)
			})
		})
		r.Route("/user", func(r chi.Router) {
			r.Use(middleware.Authenticate(d.verifier, middleware.RolePatient))
			d.appointment.PatientRoutes(r)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Authenticate(d.verifier, middleware.RoleAdmin))
			d.doctor.AdminRoutes(r)
		})
	})
	return r
}
