// Package main imports doctors and appointments from the legacy MongoDB
// store into Postgres, normalizing every historical prescription shape.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/config"
	"github.com/carebridge/carebridge/internal/domain/appointment"
	"github.com/carebridge/carebridge/internal/domain/doctor"
	"github.com/carebridge/carebridge/internal/infrastructure/postgres"
	"github.com/carebridge/carebridge/internal/legacy"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "convert records without writing them")
	envFile := flag.String("env", ".env", "optional env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		panic(err)
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.Mongo.URI == "" {
		logger.Fatal("MONGODB_URI is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := legacy.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		logger.Fatal("legacy database connection failed", zap.Error(err))
	}
	defer source.Close(context.Background())

	var (
		sink       legacy.Sink
		doctorSink legacy.DoctorSink
	)
	if !*dryRun {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		sink = appointment.NewRepository(pool, logger)
		doctorSink = doctor.NewRepository(pool, logger)
	}

	doctors, err := legacy.ImportDoctors(ctx, source, doctorSink, *dryRun, logger)
	if err != nil {
		logger.Fatal("doctor import aborted", zap.Error(err),
			zap.Int("read", doctors.Read),
			zap.Int("imported", doctors.Imported))
	}
	if doctors.Failed > 0 {
		logger.Warn("some doctors were not imported", zap.Int("failed", doctors.Failed))
	}

	report, err := legacy.NewImporter(source, sink, *dryRun, logger).Run(ctx)
	if err != nil {
		logger.Fatal("import aborted", zap.Error(err),
			zap.Int("read", report.Read),
			zap.Int("imported", report.Imported))
	}
	if report.Failed > 0 {
		logger.Warn("some records were not imported", zap.Int("failed", report.Failed))
	}
}
