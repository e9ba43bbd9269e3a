// Package main wires together the spider service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/crawlkit/crawlkit/internal/api"
	blobgcs "github.com/crawlkit/crawlkit/internal/blob/gcs"
	blobmemory "github.com/crawlkit/crawlkit/internal/blob/memory"
	"github.com/crawlkit/crawlkit/internal/clock/system"
	"github.com/crawlkit/crawlkit/internal/config"
	"github.com/crawlkit/crawlkit/internal/crawl"
	"github.com/crawlkit/crawlkit/internal/dispatcher"
	"github.com/crawlkit/crawlkit/internal/fetch"
	"github.com/crawlkit/crawlkit/internal/hash/sha256"
	"github.com/crawlkit/crawlkit/internal/id/uuid"
	"github.com/crawlkit/crawlkit/internal/logging"
	"github.com/crawlkit/crawlkit/internal/progress"
	"github.com/crawlkit/crawlkit/internal/progress/sinks"
	queuememory "github.com/crawlkit/crawlkit/internal/queue/memory"
	queuepubsub "github.com/crawlkit/crawlkit/internal/queue/pubsub"
	"github.com/crawlkit/crawlkit/internal/search"
	"github.com/crawlkit/crawlkit/internal/sitemap"
	"github.com/crawlkit/crawlkit/internal/spider"
	"github.com/crawlkit/crawlkit/internal/store"
	storememory "github.com/crawlkit/crawlkit/internal/store/memory"
	storepostgres "github.com/crawlkit/crawlkit/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("spiderd exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	// Persistence: Postgres when a DSN is configured, in-memory otherwise.
	var (
		requests crawl.RequestStore
		results  crawl.ResultStore
		stats    store.StatsRepository
	)
	if cfg.DB.DSN != "" {
		pool, err := storepostgres.Connect(ctx, cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		requests = storepostgres.NewRequestStore(pool)
		results = storepostgres.NewResultStore(pool)
		stats = storepostgres.NewStatsStore(pool)
		logger.Info("using postgres stores")
	} else {
		requests = storememory.NewRequestStore(clock)
		results = storememory.NewResultStore()
		stats = storememory.NewStatsStore()
		logger.Warn("using in-memory stores, data will not survive restarts")
	}

	var blobs crawl.BlobStore
	if cfg.Storage.GCSBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		defer client.Close()
		blobs, err = blobgcs.New(client, blobgcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("create gcs blob store: %w", err)
		}
	} else {
		blobs = blobmemory.NewBlobStore()
	}

	var queue crawl.Queue
	switch cfg.Queue.Backend {
	case "pubsub":
		psq, err := queuepubsub.New(ctx, queuepubsub.Config{
			ProjectID:      cfg.Queue.ProjectID,
			TopicID:        cfg.Queue.TopicID,
			SubscriptionID: cfg.Queue.SubscriptionID,
		}, logger.Named("queue"))
		if err != nil {
			return fmt.Errorf("create pubsub queue: %w", err)
		}
		go func() {
			if err := psq.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("pubsub receive stopped", zap.Error(err))
			}
		}()
		defer func() {
			_ = psq.Close()
		}()
		queue = psq
	default:
		mq := queuememory.NewQueue(cfg.Queue.Depth)
		defer mq.Close()
		queue = mq
	}

	// Progress fan-out: logs, Prometheus, and persisted per-site stats.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("register progress metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
		sinks.NewStoreSink(stats, logger.Named("stats")),
	)
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	// Fetch stack: robots policy, plain HTTP fetcher, optional JS renderer.
	robots := fetch.NewRobotsPolicy(!cfg.Spider.IgnoreRobots, cfg.Spider.UserAgent, logger.Named("robots"))
	fetcher, err := fetch.NewCollyFetcher(fetch.CollyConfig{
		UserAgent:      cfg.Spider.UserAgent,
		RequestTimeout: cfg.FetchTimeout(),
		Concurrency:    cfg.HTTP.Concurrency,
		DomainDelay:    time.Duration(cfg.HTTP.DomainDelayMs) * time.Millisecond,
	}, robots, logger.Named("fetcher"))
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}

	var renderer crawl.Renderer
	switch {
	case cfg.Render.RemoteURL != "":
		renderer = fetch.NewRenderClient(fetch.RenderClientConfig{
			BaseURL:               cfg.Render.RemoteURL,
			Timeout:               time.Duration(cfg.Render.TimeoutSeconds) * time.Second,
			UserAgent:             cfg.Spider.UserAgent,
			AcceptCookiesSelector: cfg.Render.AcceptCookiesSelector,
			Locale:                cfg.Render.Locale,
			BlockMedia:            cfg.Render.BlockMedia,
			ExtraHeaders:          cfg.Render.ExtraHeaders,
		}, logger.Named("render"))
	case cfg.Render.Enabled:
		chrome, err := fetch.NewChromedpRenderer(fetch.ChromedpConfig{
			MaxConcurrency: cfg.Render.MaxParallel,
			Timeout:        time.Duration(cfg.Render.TimeoutSeconds) * time.Second,
			DomainQPS:      cfg.Render.DomainQPS,
			UserAgent:      cfg.Spider.UserAgent,
		}, logger.Named("render"))
		if err != nil {
			logger.Warn("headless renderer init failed, rendering disabled", zap.Error(err))
		} else {
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = chrome.Close(closeCtx)
			}()
			renderer = chrome
		}
	}
	pipeline := fetch.NewPipeline(fetcher, renderer, hasher, logger.Named("pipeline"))

	var searchClient crawl.SearchClient
	if cfg.Search.APIKey != "" {
		sc, err := search.NewClient(search.Config{
			APIKey:   cfg.Search.APIKey,
			EngineID: cfg.Search.EngineID,
			BaseURL:  cfg.Search.BaseURL,
		}, logger.Named("search"))
		if err != nil {
			return fmt.Errorf("create search client: %w", err)
		}
		searchClient = sc
	}

	engine := sitemap.NewEngine(sitemap.Config{
		MaxDepth:        cfg.Sitemap.MaxDepth,
		PatternsPerPage: cfg.Sitemap.PatternsPerPage,
		DefaultMaxURLs:  cfg.Sitemap.MaxURLsDefault,
		SearchPages:     cfg.Sitemap.SearchPages,
		FetchTimeout:    time.Duration(cfg.Sitemap.FetchTimeoutSec) * time.Second,
		UserAgent:       cfg.Spider.UserAgent,
	}, fetcher, robots, searchClient, logger.Named("sitemap"))

	spiderCfg := spider.Config{
		MaxConcurrency:   cfg.Spider.MaxConcurrency,
		PerDomain:        cfg.Spider.PerDomainMax,
		PerIP:            cfg.Spider.PerIPMax,
		DefaultPageLimit: cfg.Spider.PageLimitDefault,
		DefaultMaxDepth:  cfg.Spider.MaxDepthDefault,
		BlobPrefix:       cfg.Storage.Prefix,
		Proxies:          cfg.Spider.Proxies,
	}
	orchestrator := spider.New(spiderCfg, requests, results, blobs, pipeline, hub, clock, idGen, logger.Named("spider"))
	sitemapRunner := spider.NewSitemapRunner(requests, engine, hub, clock, logger.Named("sitemap-runner"))
	searchRunner := spider.NewSearchRunner(spiderCfg, requests, results, blobs, pipeline, searchClient, hub, clock, idGen, logger.Named("search-runner"))

	dispatch := dispatcher.New(queue, cfg.Spider.Workers, logger.Named("dispatcher"))
	for kind, handler := range map[crawl.Kind]dispatcher.Handler{
		crawl.KindCrawl:   orchestrator,
		crawl.KindSitemap: sitemapRunner,
		crawl.KindSearch:  searchRunner,
	} {
		if err := dispatch.Register(kind, handler); err != nil {
			return fmt.Errorf("register %s handler: %w", kind, err)
		}
	}

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	apiServer := api.NewServer(requests, results, stats, queue,
		map[crawl.Kind]api.Canceler{
			crawl.KindCrawl:   orchestrator,
			crawl.KindSitemap: sitemapRunner,
			crawl.KindSearch:  searchRunner,
		},
		idGen, clock, metricsHandler,
		api.Config{
			RequestTimeout: cfg.RequestTimeout(),
			StreamInterval: cfg.StreamInterval(),
			APIKey:         apiKey,
		}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		logger.Info("dispatcher started", zap.Int("workers", cfg.Spider.Workers))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-dispatchDone
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
