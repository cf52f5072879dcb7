// Package main renders an appointment's prescription to a PDF on the
// client side. The appointment is read from a JSON file or fetched from the
// API with the caller's token.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/config"
	"github.com/carebridge/carebridge/pkg/circuitbreaker"
	"github.com/carebridge/carebridge/pkg/rxpdf"
)

func main() {
	var (
		file    = flag.String("file", "", "appointment JSON file")
		api     = flag.String("api", os.Getenv("CAREBRIDGE_API"), "API base URL")
		token   = flag.String("token", os.Getenv("CAREBRIDGE_TOKEN"), "bearer token")
		role    = flag.String("role", "patient", "token role: doctor or patient")
		id      = flag.String("id", "", "appointment id to fetch from the API")
		logo    = flag.String("logo", "", "optional logo image")
		outDir  = flag.String("out", ".", "output directory")
		timeout = flag.Duration("fetch-timeout", rxpdf.DefaultFetchTimeout, "per-attachment timeout")
		level   = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger, err := config.NewLogger(*level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 30 * time.Second}
	var src source
	switch {
	case *file != "":
		src = fileSource{path: *file, base: *api}
	case *api != "" && *id != "":
		src = apiSource{client: client, base: *api, token: *token, role: *role, id: *id}
	default:
		fmt.Fprintln(os.Stderr, "usage: rxpdf -file appointment.json | -api URL -token T -id ID")
		os.Exit(2)
	}

	in, err := src.Load(ctx)
	if err != nil {
		logger.Fatal("load appointment failed", zap.Error(err))
	}
	if *logo != "" {
		if in.Logo, err = os.ReadFile(*logo); err != nil {
			logger.Fatal("read logo failed", zap.Error(err))
		}
	}

	fetcher := rxpdf.NewHTTPFetcher(client,
		circuitbreaker.NewManager(circuitbreaker.DefaultConfig("attachments"), logger), 0, logger)
	res, err := rxpdf.NewAssembler(fetcher, logger, rxpdf.WithFetchTimeout(*timeout)).Assemble(ctx, in)
	if err != nil {
		logger.Fatal("assemble failed", zap.Error(err))
	}

	path := filepath.Join(*outDir, res.Filename)
	if err := os.WriteFile(path, res.PDF, 0o644); err != nil {
		logger.Fatal("write pdf failed", zap.Error(err))
	}
	logger.Info("prescription written",
		zap.String("path", path),
		zap.Int("pages", res.Pages),
		zap.Int("skipped_attachments", len(res.Failures)))
}
