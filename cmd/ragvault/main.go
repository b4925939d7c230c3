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

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragvault/internal/chunker"
	"github.com/kailas-cloud/ragvault/internal/config"
	"github.com/kailas-cloud/ragvault/internal/db"
	dbRedis "github.com/kailas-cloud/ragvault/internal/db/redis"
	"github.com/kailas-cloud/ragvault/internal/domain"
	"github.com/kailas-cloud/ragvault/internal/extract"
	logpkg "github.com/kailas-cloud/ragvault/internal/logger"
	"github.com/kailas-cloud/ragvault/internal/metrics"
	"github.com/kailas-cloud/ragvault/internal/repository/embcache"
	"github.com/kailas-cloud/ragvault/internal/repository/index"
	"github.com/kailas-cloud/ragvault/internal/repository/upload"
	chiTransport "github.com/kailas-cloud/ragvault/internal/transport/chi"
	"github.com/kailas-cloud/ragvault/internal/transport/extractive"
	"github.com/kailas-cloud/ragvault/internal/transport/hashing"
	openaiTransport "github.com/kailas-cloud/ragvault/internal/transport/openai"
	answeruc "github.com/kailas-cloud/ragvault/internal/usecase/answer"
	documentuc "github.com/kailas-cloud/ragvault/internal/usecase/document"
	embeddinguc "github.com/kailas-cloud/ragvault/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/ragvault/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/ragvault/internal/usecase/ingest"
	retrieveuc "github.com/kailas-cloud/ragvault/internal/usecase/retrieve"
	"github.com/kailas-cloud/ragvault/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	build := version.Get()
	logger.Info("Starting ragvault API server",
		zap.String("version", build.Version),
		zap.String("commit", build.Commit),
		zap.Bool("modified", build.Modified),
		zap.String("go_version", build.GoVersion),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("base_dir", cfg.Storage.BaseDir),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("generation_provider", cfg.Generation.Provider),
		zap.String("cache_driver", cfg.Cache.Driver),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRAGMetrics()
	metrics.RegisterHTTPMetrics()

	ctx := context.Background()

	// Optional embedding cache. Valkey speaks the same protocol, so both drivers use rueidis.
	var cache *dbRedis.Store
	if cfg.Cache.Driver == "redis" || cfg.Cache.Driver == "valkey" {
		cache, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create cache store", zap.Error(err))
		}
		defer cache.Close()

		if err := cache.WaitForReady(ctx, time.Duration(cfg.Cache.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Cache not ready", zap.Error(err))
		}
		logger.Info("Connected to embedding cache", zap.Strings("addrs", cfg.Cache.Addrs))
	}

	// Build embedder chain (composition root)
	provider, model := embeddingProvider(cfg, logger)
	dimensions := cfg.Embedding.Dimensions
	if d, ok := provider.(interface{ Dimensions() int }); ok {
		dimensions = d.Dimensions()
	}

	// Pass nil interface (not typed nil pointer!) when no cache is configured.
	var store db.KVStore
	if cache != nil {
		store = cache
	}
	docEmbedder := buildEmbedder(cfg, provider, model, dimensions, cfg.Embedding.DocumentInstruction, store, logger)
	queryEmbedder := buildEmbedder(cfg, provider, model, dimensions, cfg.Embedding.QueryInstruction, store, logger)
	logger.Info("Embedders created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", model),
		zap.Int("dimensions", dimensions),
	)

	generator := answerGenerator(cfg, logger)

	// Repositories
	idx := index.NewStore(cfg.Storage.IndexDir, dimensions, logger)
	snap, err := idx.Snapshot(ctx)
	if err != nil {
		logger.Fatal("Failed to load vector index", zap.Error(err), zap.String("dir", cfg.Storage.IndexDir))
	}
	logger.Info("Vector index loaded", zap.Int("entries", snap.Len()), zap.String("dir", cfg.Storage.IndexDir))
	files := upload.NewStore(cfg.Storage.UploadDir)
	extractor := extract.New()

	splitter, err := chunker.NewRecursiveSplitter(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		logger.Fatal("Invalid chunking settings", zap.Error(err))
	}
	policy, err := domain.ParseDuplicatePolicy(cfg.Ingestion.DuplicatePolicy)
	if err != nil {
		logger.Fatal("Invalid duplicate policy", zap.Error(err))
	}

	// Use case services
	ingestSvc := ingestuc.New(files, extractor, splitter, docEmbedder, idx, logger).
		WithDuplicatePolicy(policy)
	retrieveSvc := retrieveuc.New(queryEmbedder, idx, retrieveuc.Options{
		DefaultTopK:     cfg.Retrieval.DefaultTopK,
		MaxTopK:         cfg.Retrieval.MaxTopK,
		OverfetchFactor: cfg.Retrieval.OverfetchFactor,
	}, logger)
	answerSvc := answeruc.New(retrieveSvc, generator, answeruc.Options{
		Timeout: time.Duration(cfg.Generation.TimeoutSec) * time.Second,
	}, logger)
	docSvc := documentuc.New(idx, files, extractor, logger)

	var cachePinger healthuc.CachePinger
	if cache != nil {
		cachePinger = cache
	}
	healthSvc := healthuc.New(idx, cachePinger, healthChecker(provider), healthChecker(generator))

	server := chiTransport.NewServer(ingestSvc, answerSvc, docSvc, healthSvc, logger).
		WithMaxUploadBytes(cfg.HTTP.MaxUploadBytes)
	handler := chiTransport.NewRouter(server, cfg.Auth.APIKeys, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown; SIGHUP reloads the index written by another process (e.g. a bulk load).
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	for sig := <-quit; sig == syscall.SIGHUP; sig = <-quit {
		if err := idx.Reload(ctx); err != nil {
			logger.Error("Index reload failed", zap.Error(err))
			continue
		}
		logger.Info("Vector index reloaded")
	}
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// embeddingProvider creates the base embedding provider and returns it with its model identity.
func embeddingProvider(cfg config.Config, logger *zap.Logger) (domain.Embedder, string) {
	if cfg.Embedding.Provider == "openai" {
		return openaiTransport.NewEmbedder(&openaiTransport.Config{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Provider:   cfg.Embedding.Provider,
			Timeout:    time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
			Logger:     logger,
		}), cfg.Embedding.Model
	}
	h := hashing.New(cfg.Embedding.Dimensions)
	return h, fmt.Sprintf("hashing-%d", h.Dimensions())
}

// answerGenerator creates the answer model.
func answerGenerator(cfg config.Config, logger *zap.Logger) domain.Generator {
	if cfg.Generation.Provider == "openai" {
		return openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
			Config: openaiTransport.Config{
				APIKey:   cfg.Generation.APIKey,
				BaseURL:  cfg.Generation.BaseURL,
				Model:    cfg.Generation.Model,
				Provider: cfg.Generation.Provider,
				Logger:   logger,
			},
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
		})
	}
	return extractive.New(extractive.DefaultMaxSentences)
}

// buildEmbedder assembles the decorator chain: provider -> rate limit -> cache -> instrumented -> instruction.
func buildEmbedder(
	cfg config.Config,
	provider domain.Embedder,
	model string,
	dimensions int,
	instruction string,
	store db.KVStore,
	logger *zap.Logger,
) domain.Embedder {
	embedder := provider

	// Rate limited (shared quota per embedder chain)
	if cfg.Embedding.RequestsPerSecond > 0 {
		embedder = embeddinguc.NewRateLimitedEmbedder(embedder, cfg.Embedding.RequestsPerSecond, cfg.Embedding.Burst)
	}

	// Cached
	if store != nil {
		embedder = embcache.New(embedder, store, embcache.Options{
			KeyPrefix:  cfg.Cache.KeyPrefix,
			Namespace:  model,
			Dimensions: dimensions,
			TTL:        time.Duration(cfg.Cache.TTLSec) * time.Second,
		}, metrics.EmbeddingCacheTotal, logger)
	}

	// Instrumented (usage + sub-batching)
	embedder = embeddinguc.NewInstrumentedEmbedder(
		embedder, cfg.Embedding.Provider, model,
		embeddinguc.Options{BatchSize: cfg.Embedding.BatchSize, Concurrency: cfg.Embedding.Concurrency},
		logger,
	)

	// Instruction prefix (outermost, so the cache key includes the instruction)
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}

// healthChecker returns v as a health checker, or nil when it has none.
func healthChecker(v any) healthuc.Checker {
	if hc, ok := v.(domain.HealthChecker); ok {
		return hc
	}
	return nil
}
