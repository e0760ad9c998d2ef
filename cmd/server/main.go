package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/quantdash/overview-engine/internal/collector"
	"github.com/quantdash/overview-engine/internal/config"
	"github.com/quantdash/overview-engine/internal/metrics"
	"github.com/quantdash/overview-engine/internal/overview"
	"github.com/quantdash/overview-engine/internal/store"
	"github.com/quantdash/overview-engine/internal/upstream"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "path", *configPath, "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Position source ---
	var (
		src collector.Source
		st  store.Store
	)
	switch cfg.Source.Mode {
	case config.SourceRemote:
		client, err := upstream.NewClient(upstream.Config{
			BaseURL:      cfg.Upstream.BaseURL,
			Timeout:      cfg.Upstream.Timeout,
			RateLimit:    cfg.Upstream.RateLimit,
			Burst:        cfg.Upstream.Burst,
			MaxRetries:   cfg.Upstream.MaxRetries,
			RetryBackoff: cfg.Upstream.RetryBackoff,
			MaxBackoff:   cfg.Upstream.MaxBackoff,
			Breaker: upstream.BreakerConfig{
				FailureThreshold: cfg.Upstream.Breaker.FailureThreshold,
				SuccessThreshold: cfg.Upstream.Breaker.SuccessThreshold,
				Cooldown:         cfg.Upstream.Breaker.Cooldown,
			},
		})
		if err != nil {
			slog.Error("upstream client setup failed", "err", err)
			os.Exit(1)
		}
		src = client
		slog.Info("reading positions from trading service", "base_url", cfg.Upstream.BaseURL)
	default:
		st, err = openStore(cfg.Storage, &cleanup)
		if err != nil {
			slog.Error("store setup failed", "driver", cfg.Storage.Driver, "err", err)
			cleanupAndExit(cleanup)
		}
		src = st
	}

	col := collector.New(src, cfg.Collector.Concurrency, cfg.Collector.FetchTimeout)
	svc := overview.NewService(src, st, col, cfg.Exchanges)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", svc.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/exchanges", svc.ListExchanges)

		// Raw records and ingestion.
		r.Get("/positions", svc.ListPositions)
		r.Post("/positions", svc.IngestPositions)

		// Derived series.
		r.Get("/series", svc.GetSeries)
		r.Get("/series/aggregate", svc.GetAggregateSeries)
		r.Get("/series/export.csv", svc.ExportCSV)
		r.Get("/summary", svc.GetSummary)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("overview-engine listening",
			"port", cfg.Server.Port,
			"mode", cfg.Source.Mode,
			"exchanges", cfg.Exchanges,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down overview-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("overview-engine stopped")
}

// openStore builds the configured store, wrapped in the Redis read-through
// cache when a Redis URL is set. Close functions are appended to cleanup.
func openStore(cfg config.StorageConfig, cleanup *[]func()) (store.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var st store.Store
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection: %w", err)
		}
		*cleanup = append(*cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	case config.DriverSQLite:
		lite, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		*cleanup = append(*cleanup, func() { lite.Close() })
		st = lite
		slog.Info("opened SQLite store", "path", cfg.SQLitePath)
	default:
		slog.Warn("using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		*cleanup = append(*cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}
	return st, nil
}

func cleanupAndExit(cleanup []func()) {
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	os.Exit(1)
}
