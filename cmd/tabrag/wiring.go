package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/config"
	"github.com/tabrag/tabrag/internal/db"
	dbredis "github.com/tabrag/tabrag/internal/db/redis"
	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/domain/ranking"
	logpkg "github.com/tabrag/tabrag/internal/logger"
	"github.com/tabrag/tabrag/internal/metrics"
	"github.com/tabrag/tabrag/internal/repository/embcache"
	"github.com/tabrag/tabrag/internal/tracing"
	openaitr "github.com/tabrag/tabrag/internal/transport/openai"
	backenduc "github.com/tabrag/tabrag/internal/usecase/backend"
	"github.com/tabrag/tabrag/internal/version"
)

// app holds the dependencies shared by serve and reindex.
type app struct {
	env       string
	cfg       config.Config
	logger    *zap.Logger
	ranker    *ranking.Ranker
	embedders domain.EmbedderFactory
	chats     domain.ChatFactory
	backends  *backenduc.Factory
	cache     db.Store // nil when the embedding cache is disabled
	tracer    *tracing.Provider
}

func newApp() (*app, error) {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		return nil, err
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	// Explicit registration, no init().
	metrics.Register()

	// Before any otelhttp handler or transport is built.
	tracer, err := tracing.Init(context.Background(), tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version.Version,
		Environment:    env,
	})
	if err != nil {
		return nil, err
	}
	if tracer.Enabled() {
		logger.Info("Tracing enabled",
			zap.String("endpoint", cfg.Tracing.Endpoint),
			zap.Float64("sample_rate", cfg.Tracing.SampleRate))
	}

	ranker := ranking.New(logger).WithInvalidHook(metrics.ObserveInvalidEmbedding)

	oaCfg := openaitr.Config{
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.EmbeddingModel,
		Dimensions:  cfg.OpenAI.Dimensions,
		BatchSize:   cfg.OpenAI.EmbedBatchSize,
		Temperature: cfg.OpenAI.Temperature,
		Timeout:     time.Duration(cfg.OpenAI.RequestTimeoutS) * time.Second,
		Logger:      logger,
	}
	embFactory := openaitr.NewEmbedderFactory(oaCfg)

	chatCfg := oaCfg
	chatCfg.Model = cfg.OpenAI.ChatModel

	a := &app{
		env:       env,
		cfg:       cfg,
		logger:    logger,
		ranker:    ranker,
		embedders: embFactory,
		chats:     openaitr.NewChatFactory(chatCfg),
		tracer:    tracer,
		backends: backenduc.NewFactory(ranker, logger).
			WithDimensions(cfg.Backend.Dimensions).
			WithMoorcheh(cfg.Moorcheh.BaseURL, time.Duration(cfg.Moorcheh.TimeoutSec)*time.Second),
	}

	if cfg.Cache.Enabled() {
		store, err := dbredis.NewStore(dbredis.Config{Addrs: cfg.Cache.Addrs, Password: cfg.Cache.Password})
		if err != nil {
			return nil, err
		}
		a.cache = store
		a.embedders = embcache.NewFactory(embFactory, store, embcache.Options{
			Model:      embFactory.Model(),
			TTL:        time.Duration(cfg.Cache.TTLSec) * time.Second,
			CacheTotal: metrics.EmbeddingCacheTotal,
			Logger:     logger,
		})
		logger.Info("Embedding cache enabled", zap.Strings("addrs", cfg.Cache.Addrs))
	}

	return a, nil
}

// waitForCache blocks until the cache answers, if one is configured.
func (a *app) waitForCache(ctx context.Context) error {
	if a.cache == nil {
		return nil
	}
	return a.cache.WaitForReady(ctx, 10*time.Second)
}

func (a *app) close() {
	if a.cache != nil {
		a.cache.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("Tracer shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
