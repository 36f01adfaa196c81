package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/maltedev/tablegen/internal/api"
	"github.com/maltedev/tablegen/internal/config"
	"github.com/maltedev/tablegen/internal/database"
	"github.com/maltedev/tablegen/internal/events"
	"github.com/maltedev/tablegen/internal/fetch"
	"github.com/maltedev/tablegen/internal/jobs"
	"github.com/maltedev/tablegen/internal/metrics"
	"github.com/maltedev/tablegen/internal/queue"
	"github.com/maltedev/tablegen/internal/ratelimit"
	"github.com/maltedev/tablegen/internal/scraper"
	"github.com/maltedev/tablegen/internal/storage"
	"github.com/maltedev/tablegen/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(prometheus.NewRegistry())

	retriever := fetch.NewRetriever(fetch.Options{
		Timeout:          cfg.Fetcher.Timeout,
		MaxRedirects:     cfg.Fetcher.MaxRedirects,
		UserAgent:        cfg.Fetcher.UserAgent,
		AcceptLanguage:   cfg.Fetcher.AcceptLanguage,
		MaxBodyBytes:     cfg.Fetcher.MaxBodyBytes,
		CloudflareBypass: cfg.Fetcher.CloudflareBypass,
	}, log)

	scraperService := scraper.NewService(retriever, scraper.Config{
		ConcurrencyLimit: cfg.Pipeline.ConcurrencyLimit,
		ListingThreshold: cfg.Pipeline.ListingThreshold,
	}, log, scraper.WithRecorder(m))

	var (
		store     jobs.Store
		publisher events.Publisher = events.NopPublisher{}
		outbox    api.OutboxCounter
		wg        sync.WaitGroup
	)

	switch cfg.Jobs.Store {
	case config.StorePostgres:
		db, err := database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Name,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnLife: cfg.Database.MaxConnLife,
			MaxConnIdle: cfg.Database.MaxConnIdle,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}

		store = database.NewJobRepository(db)
		publisher = events.NewOutboxPublisher(db, cfg.Redis.Stream, log)
		outbox = database.NewOutboxRepository(db)

		if cfg.Redis.Enabled {
			redisClient := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer redisClient.Close()

			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}

			relay := database.NewRelay(db, redisClient, log, database.RelayConfig{
				PollInterval: cfg.Redis.PollInterval,
				BatchSize:    cfg.Redis.BatchSize,
				StreamMaxLen: cfg.Redis.StreamMaxLen,
				Observer:     m,
			})
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("relay stopped with error", "error", err)
				}
			}()
		}

	default:
		fileStore, err := storage.NewJobStore(cfg.Jobs.FilePath)
		if err != nil {
			return fmt.Errorf("failed to open job store: %w", err)
		}
		log.Info("job store loaded", "path", cfg.Jobs.FilePath, "jobs", fileStore.Stats())
		store = fileStore
	}

	jobQueue := queue.NewInMemoryQueue(cfg.Jobs.QueueMaxSize)
	jobManager := jobs.NewManager(store, scraperService, jobQueue, log,
		jobs.WithPublisher(publisher),
		jobs.WithObserver(m),
	)

	if n, err := jobManager.Recover(ctx); err != nil {
		log.Warn("failed to recover unfinished jobs", "error", err)
	} else if n > 0 {
		log.Info("re-queued unfinished jobs", "count", n)
	}

	for i := 0; i < cfg.Jobs.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobManager.StartWorker(ctx)
		}()
	}

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	routerCfg := api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Metrics:        m.Middleware,
		MetricsHandler: m.Handler(),
	}
	if limiter.Enabled() {
		routerCfg.RateLimit = limiter.Middleware
		go limiter.Cleanup(ctx, time.Minute, 10*time.Minute)
	}

	handlers := api.NewHandlers(scraperService, jobManager, outbox, api.Config{
		MaxBatchURLs: cfg.Pipeline.MaxBatchURLs,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
		case <-ctx.Done():
			return
		}

		log.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting",
		"addr", server.Addr,
		"store", cfg.Jobs.Store,
		"workers", cfg.Jobs.Workers,
		"redis", cfg.Redis.Enabled)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	// In-flight requests are done; stop workers and the relay.
	cancel()
	jobQueue.Close()
	wg.Wait()
	return nil
}
