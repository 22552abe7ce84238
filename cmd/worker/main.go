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

	"github.com/redis/go-redis/v9"

	"image-job-workers/internal/audit"
	"image-job-workers/internal/config"
	"image-job-workers/internal/queue"
	"image-job-workers/internal/store"
	"image-job-workers/internal/telemetry"
	"image-job-workers/internal/transform"
	"image-job-workers/internal/worker"
)

const (
	shutdownTimeout     = 30 * time.Second
	depthSampleInterval = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected", "addr", cfg.RedisAddr)

	st := store.New(rdb, store.WithTTL(cfg.JobTTL), store.WithLogger(logger))
	q := queue.NewRedisQueue(rdb, cfg.PendingQueue)

	deps := worker.Deps{Store: st, Queue: q, Logger: logger}
	if cfg.PostgresDSN != "" {
		auditStore, err := audit.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer auditStore.Close()
		if err := auditStore.RunMigrations(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		deps.Recorder = auditStore
		logger.Info("audit trail enabled")
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	go telemetry.SampleQueueDepth(ctx, q.Depth, depthSampleInterval, logger)

	pool := worker.NewPool(deps, worker.Options{
		ResultsDir:   cfg.ResultsDir,
		IdleBackoff:  cfg.IdleBackoff,
		ErrorBackoff: cfg.ErrorBackoff,
	}, func(ctx context.Context, workerID string) (worker.Transformer, error) {
		return transform.New(ctx, cfg)
	})
	if err := pool.Start(ctx, cfg.NumWorkers); err != nil {
		return err
	}
	logger.Info("worker pool running",
		"workers", cfg.NumWorkers,
		"transformer", cfg.Transformer,
		"queue", q.Key(),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("worker pool did not drain in time", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err)
	}
	return nil
}
