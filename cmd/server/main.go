package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Priya8975/recruit-webhooks/internal/api"
	"github.com/Priya8975/recruit-webhooks/internal/config"
	"github.com/Priya8975/recruit-webhooks/internal/engine"
	"github.com/Priya8975/recruit-webhooks/internal/metrics"
	"github.com/Priya8975/recruit-webhooks/internal/store"
	ws "github.com/Priya8975/recruit-webhooks/internal/websocket"
	"github.com/Priya8975/recruit-webhooks/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	version, err := store.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	logger.Info("database migrations applied", "version", version)

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	checks := map[string]api.Pinger{"postgres": pgStore}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	pool := worker.NewPool(cfg.NumWorkers, cfg.QueueSize, logger)
	m.RegisterQueueGauges(pool.QueueDepth, pool.Scheduled)

	schedulerOpts := []worker.SchedulerOption{
		worker.WithBackoff(worker.Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax}),
	}
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		logger.Info("connected to Redis, rate limiting enabled")

		checks["redis"] = redisStore
		limiter := engine.NewRateLimiter(redisStore.Client(), logger)
		schedulerOpts = append(schedulerOpts, worker.WithLimiter(limiter, cfg.ThrottleDelay))
	} else {
		logger.Warn("REDIS_URL not set, rate limiting disabled")
	}

	hub := ws.NewHub(logger)

	dispatcher := engine.NewDispatcher(pgStore, pgStore, pool, worker.NewDeliverer(logger), logger,
		engine.WithFailureThreshold(cfg.FailureThreshold),
		engine.WithNotifier(hub),
		engine.WithMetrics(m),
		engine.WithSchedulerOptions(schedulerOpts...),
	)

	router := api.NewRouter(api.Deps{
		Subscriptions: pgStore,
		Logs:          pgStore,
		Dispatcher:    dispatcher,
		Limits: api.Limits{
			DefaultTimeout:       cfg.DefaultTimeout,
			MinTimeout:           cfg.MinTimeout,
			MaxTimeout:           cfg.MaxTimeout,
			DefaultRetryAttempts: cfg.DefaultRetryAttempts,
			MaxRetryAttempts:     cfg.MaxRetryAttempts,
		},
		WebSocket: hub.HandleWebSocket,
		Metrics:   m,
		Checks:    checks,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.MaxTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	pool.Start(context.Background())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(hubCtx)
		return nil
	})

	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Port, "workers", cfg.NumWorkers)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		// In-flight attempts finish; scheduled retries are dropped and their
		// rows stay retrying.
		if err := pool.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		stopHub()
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
