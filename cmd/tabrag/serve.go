package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gochi "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/chunker"
	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/metrics"
	chiTransport "github.com/tabrag/tabrag/internal/transport/chi"
	"github.com/tabrag/tabrag/internal/transport/firecrawl"
	backenduc "github.com/tabrag/tabrag/internal/usecase/backend"
	chatuc "github.com/tabrag/tabrag/internal/usecase/chat"
	healthuc "github.com/tabrag/tabrag/internal/usecase/health"
	ingestuc "github.com/tabrag/tabrag/internal/usecase/ingest"
	searchuc "github.com/tabrag/tabrag/internal/usecase/search"
	"github.com/tabrag/tabrag/internal/vectorstore/fileindex"
	"github.com/tabrag/tabrag/internal/version"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer a.close()

	cfg, logger := a.cfg, a.logger
	logger.Info("Starting tabrag API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", a.env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("backend", string(cfg.Backend.Kind)),
	)

	if err := a.waitForCache(ctx); err != nil {
		return fmt.Errorf("embedding cache not ready: %w", err)
	}

	index := fileindex.New(cfg.Index.Path, a.ranker, logger)
	if err := index.Load(); err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	logger.Info("File index loaded", zap.String("path", index.Path()), zap.Int("records", index.Len()))

	backends := backenduc.New(a.backends, logger)
	defer func() { _ = backends.Close() }()
	if cfg.Backend.Kind != domain.BackendNone {
		// A failing startup backend is not fatal; the extension can switch later.
		if err := backends.Switch(ctx, cfg.Backend); err != nil {
			logger.Error("Initial backend unavailable", zap.Error(err))
		}
	}

	scraper := firecrawl.New(firecrawl.Config{
		URL:          cfg.Scraper.URL,
		APIKey:       cfg.Scraper.APIKey,
		WaitForMS:    cfg.Scraper.WaitForMS,
		RatePerSec:   cfg.Scraper.RatePerSec,
		Burst:        cfg.Scraper.Burst,
		Timeout:      time.Duration(cfg.Scraper.TimeoutSec) * time.Second,
		MaxBodyBytes: cfg.Scraper.MaxBodyBytes,
		Logger:       logger,
	})

	prefix := cfg.OpenAI.KeyPrefix
	ingestSvc := ingestuc.New(
		backends, scraper, chunker.NewParagraph(cfg.Chunking.MaxChars, cfg.Chunking.MinChars),
		a.embedders, index, logger,
	).WithKeyPrefix(prefix)
	chatSvc := chatuc.New(index, backends, a.embedders, a.chats, logger).
		WithTopK(cfg.Search.ChatTopK, cfg.Search.FallbackTopK).
		WithKeyPrefix(prefix)
	searchSvc := searchuc.New(index, backends, a.embedders).
		WithTopK(cfg.Search.SearchTopK).
		WithKeyPrefix(prefix)

	// Pass a nil interface, not a typed nil, when the cache is disabled.
	var cachePinger healthuc.CachePinger
	if a.cache != nil {
		cachePinger = a.cache
	}
	healthSvc := healthuc.New(backends, cachePinger)

	server := chiTransport.NewServer(ingestSvc, chatSvc, searchSvc, backends, healthSvc, logger)

	r := gochi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.CORSMiddleware("*"))
	r.Use(chiTransport.BodyLimitMiddleware(cfg.HTTP.MaxBodyBytes))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(r, "tabrag"),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-quit:
		logger.Info("Received shutdown signal")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}
