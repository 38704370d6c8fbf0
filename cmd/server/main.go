package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "figmapedia/kbservice/internal/api/http"
	"figmapedia/kbservice/internal/app"
	"figmapedia/kbservice/internal/cache"
	"figmapedia/kbservice/internal/domain"
	"figmapedia/kbservice/internal/index"
	"figmapedia/kbservice/internal/mapper"
	"figmapedia/kbservice/internal/metrics"
	"figmapedia/kbservice/internal/oracle"
	"figmapedia/kbservice/internal/section"
	"figmapedia/kbservice/internal/semantic"
	"figmapedia/kbservice/internal/source"
	"figmapedia/kbservice/internal/source/notion"
	"figmapedia/kbservice/internal/telemetry"
	"figmapedia/kbservice/internal/thumbnail"
)

const (
	serviceName  = "kb-service"
	localTierTTL = 30 * time.Second
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("notionBaseURL", cfg.NotionBaseURL),
		slog.Bool("hasNotionKey", cfg.NotionAPIKey != ""),
		slog.Bool("hasGeminiKey", cfg.GeminiAPIKey != ""),
		slog.Bool("hasRevalidateSecret", cfg.RevalidateSecret != ""),
		slog.String("cacheBackend", cfg.CacheBackend),
		slog.String("cacheHeaderMode", cfg.CacheHeaderMode),
		slog.Duration("indexCacheTTL", cfg.IndexCacheTTL),
		slog.Duration("sectionCacheTTL", cfg.SectionCacheTTL),
		slog.Bool("enrichSections", cfg.EnrichSections),
		slog.String("sourcesFile", cfg.SourcesFile),
	)
	if cfg.NotionAPIKey == "" {
		logger.Warn("NOTION_API_KEY is empty; source requests will be rejected")
	}

	catalog, err := mapper.LoadCatalog(cfg.SourcesFile, cfg.NotionDatabaseID)
	if err != nil {
		logger.Error("load source catalog failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	notionClient := notion.New(notion.Config{
		BaseURL:           cfg.NotionBaseURL,
		APIKey:            cfg.NotionAPIKey,
		Version:           cfg.NotionVersion,
		RequestsPerSecond: cfg.NotionRPS,
		HTTPClient:        &http.Client{Timeout: 30 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Logger:            logger,
	})
	health := source.NewHealth()
	fetcher := source.NewFetcher(notionClient,
		source.WithHealth(health),
		source.WithFetcherLogger(logger),
	)

	backend, closeBackend := buildCacheBackend(cfg, logger)
	defer closeBackend()

	resolver := thumbnail.New(notionClient,
		thumbnail.WithUserAgent(cfg.UserAgent),
		thumbnail.WithCaches(
			layeredCache[string](backend, "og:", 2000, logger),
			layeredCache[string](backend, "thumb:", 2000, logger),
		),
		thumbnail.WithLogger(logger),
	)

	builder := index.NewBuilder(fetcher, catalog,
		index.WithTTL(cfg.IndexCacheTTL),
		index.WithCaches(
			layeredCache[domain.IndexSnapshot](backend, "index:", 4, logger),
			layeredCache[domain.EntryDetail](backend, "entry:", 500, logger),
		),
		index.WithThumbnailer(resolver),
		index.WithLogger(logger),
	)

	sectionOpts := []section.Option{
		section.WithTTL(cfg.SectionCacheTTL),
		section.WithBackingCache(layeredCache[section.Data](backend, "sections:", 4, logger)),
		section.WithLogger(logger),
	}
	if cfg.EnrichSections {
		sectionOpts = append(sectionOpts, section.WithEnricher(resolver))
	}
	sections := section.New(fetcher, catalog, sectionOpts...)

	gemini := buildOracle(cfg, logger)
	var answerer oracle.Oracle
	if gemini != nil {
		answerer = gemini
		defer func() { _ = gemini.Close() }()
	}
	orchestrator := semantic.New(builder, answerer,
		semantic.WithOracleTimeout(cfg.OracleTimeout),
		semantic.WithResponseCache(layeredCache[domain.AISearchResponse](backend, "ai:", 200, logger), 5*time.Minute),
		semantic.WithLogger(logger),
	)

	api := apihttp.NewServer(builder,
		apihttp.WithLogger(logger),
		apihttp.WithSections(sections),
		apihttp.WithSemantic(orchestrator),
		apihttp.WithThumbnails(resolver),
		apihttp.WithSourceHealth(health),
		apihttp.WithRevalidateSecret(cfg.RevalidateSecret),
		apihttp.WithCacheHeaderMode(apihttp.CacheHeaderMode(cfg.CacheHeaderMode)),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)
	defer api.Close()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// /api/events keeps websocket connections open; semantic search may
		// wait on the oracle for its full timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		warmCtx, cancel := context.WithTimeout(rootCtx, time.Minute)
		defer cancel()
		snapshot, err := builder.GetIndex(warmCtx)
		if err != nil {
			logger.Warn("index warmup failed", slog.String("error", err.Error()))
			return
		}
		logger.Info("index warmed", slog.Int("items", snapshot.TotalCount))
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("kb service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Int("sections", len(catalog.Sections)),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("kb service stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	handlerOpts := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildCacheBackend returns the shared cache tier selected by CACHE_BACKEND,
// or nil when caches stay process-local. An unreachable backend degrades to
// memory with a warning.
func buildCacheBackend(cfg app.Config, logger *slog.Logger) (cache.Backend, func()) {
	noop := func() {}

	switch cfg.CacheBackend {
	case "redis":
		redisURL := strings.TrimSpace(cfg.RedisURL)
		if redisURL == "" {
			logger.Warn("CACHE_BACKEND=redis without REDIS_URL, using in-memory cache only")
			return nil, noop
		}
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Warn("invalid redis url, using in-memory cache only", slog.String("error", err.Error()))
			return nil, noop
		}
		client := redis.NewClient(redisOpts)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable, using in-memory cache only", slog.String("error", err.Error()))
			_ = client.Close()
			return nil, noop
		}
		logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
		return cache.NewRedisBackend(client), func() { _ = client.Close() }

	case "mongo":
		uri := strings.TrimSpace(cfg.MongoURI)
		if uri == "" {
			logger.Warn("CACHE_BACKEND=mongo without MONGO_URI, using in-memory cache only")
			return nil, noop
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client, err := cache.ConnectMongo(ctx, uri, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			logger.Warn("mongo connect failed, using in-memory cache only", slog.String("error", err.Error()))
			return nil, noop
		}
		disconnect := func() {
			dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer dcancel()
			_ = client.Disconnect(dctx)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			logger.Warn("mongo not reachable, using in-memory cache only", slog.String("error", err.Error()))
			disconnect()
			return nil, noop
		}
		backend := cache.NewMongoBackend(client, cfg.MongoDatabase, "cache_entries")
		if err := backend.EnsureIndexes(ctx); err != nil {
			logger.Warn("mongo cache index creation failed", slog.String("error", err.Error()))
		}
		logger.Info("mongo connected", slog.String("database", cfg.MongoDatabase))
		return backend, disconnect

	case "", "memory":
		return nil, noop

	default:
		logger.Warn("unknown cache backend, using in-memory cache only", slog.String("backend", cfg.CacheBackend))
		return nil, noop
	}
}

// layeredCache puts a bounded in-process tier in front of the shared
// backend when one is configured.
func layeredCache[T any](backend cache.Backend, prefix string, capacity int, logger *slog.Logger) cache.Cache[T] {
	local := cache.NewMemory[T](cache.WithCapacity(capacity))
	if backend == nil {
		return local
	}
	return cache.NewTiered[T](local, cache.NewRemote[T](backend, prefix, logger), localTierTTL)
}

func buildOracle(cfg app.Config, logger *slog.Logger) *oracle.Gemini {
	apiKey := strings.TrimSpace(cfg.GeminiAPIKey)
	if apiKey == "" {
		logger.Info("gemini api key not configured, ai search disabled")
		return nil
	}
	client, err := oracle.NewGemini(context.Background(), apiKey, cfg.GeminiModel)
	if err != nil {
		logger.Warn("gemini client init failed, ai search disabled", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("gemini client initialized", slog.String("model", cfg.GeminiModel))
	return client
}
