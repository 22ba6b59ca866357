// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command agnusd runs the AgnusAi review server.
//
// AgnusAi is a self-hosted, graph-aware PR reviewer:
//   - Tree-sitter symbol graphs per (repo, branch), persisted in BadgerDB
//   - Webhook-driven reviews with incremental re-review on push
//   - Optional semantic retrieval via Weaviate embeddings
//   - HMAC-signed 👍/👎 feedback links on every posted comment
//
// Usage:
//
//	agnusd serve --config /etc/agnusai/config.yaml
//	agnusd serve --config config.yaml --debug
//
// Secrets come from the environment, never from the config file:
//
//	AGNUSAI_WEBHOOK_SECRET   GitHub webhook HMAC secret
//	AGNUSAI_FEEDBACK_SECRET  feedback link signing secret
//	GITHUB_TOKEN             default GitHub API token
//	OPENAI_API_KEY           model/embedding API token
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/health
//
//	# Index status for a registered repo
//	curl http://localhost:8080/v1/index/acme/payments/status
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ivoyant-eng/AgnusAi/services/review"
	"github.com/ivoyant-eng/AgnusAi/services/review/config"
	"github.com/ivoyant-eng/AgnusAi/services/review/storage"
)

var (
	configPath string
	debugMode  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agnusd",
		Short: "AgnusAi graph-aware PR review server",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the review server",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to the YAML config file")
	serveCmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging and gin debug mode")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if debugMode {
		level = slog.LevelDebug
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// W3C TraceContext propagation so review spans correlate with
	// upstream callers.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if debugMode {
		shutdownTracing, err := setupTracing()
		if err != nil {
			logger.Warn("tracing disabled", slog.String("error", err.Error()))
		} else {
			defer shutdownTracing()
		}
	}

	db, err := openDB(cfg.Storage.Path, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.Warn("failed to close database", slog.String("error", cerr.Error()))
		}
	}()

	store, err := storage.NewBadgerStore(db, logger)
	if err != nil {
		return err
	}

	svc, err := review.NewService(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}

	handlers, err := review.NewHandlers(svc, cfg.Server.WebhookSecret, cfg.Server.MaxConcurrentTasks, logger)
	if err != nil {
		return err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if debugMode {
		router.Use(gin.Logger())
	}
	review.SetupRoutes(router, handlers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Server.SkillsDir != "" {
		if err := svc.WatchSkills(ctx); err != nil {
			logger.Warn("skills hot-reload unavailable",
				slog.String("dir", cfg.Server.SkillsDir),
				slog.String("error", err.Error()))
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting review server",
			slog.String("address", cfg.Server.Listen),
			slog.Int("repos", len(cfg.Repos)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down review server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", slog.String("error", err.Error()))
	}

	// Let queued reviews and index tasks finish before the store closes.
	handlers.Drain()
	logger.Info("shutdown complete")
	return nil
}

// setupTracing installs a stdout span exporter. Debug mode only; spans
// are batched and printed as JSON lines.
func setupTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}

// openDB opens the persistent BadgerDB, falling back to in-memory mode
// when no path is configured.
func openDB(path string, logger *slog.Logger) (*badger.DB, error) {
	var opts badger.Options
	if path == "" {
		logger.Warn("no storage path configured, using in-memory database; state is lost on restart")
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}
