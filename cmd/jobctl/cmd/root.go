// Package cmd implements jobctl, the operator CLI for the image job queue.
package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"image-job-workers/internal/audit"
	"image-job-workers/internal/config"
	"image-job-workers/internal/models"
	"image-job-workers/internal/producer"
	"image-job-workers/internal/queue"
	"image-job-workers/internal/store"
)

// historyReader is the read side of the audit trail.
type historyReader interface {
	History(ctx context.Context, jobID string) ([]models.Transition, error)
}

// app holds the clients shared by every subcommand.
type app struct {
	rdb      *redis.Client
	store    *store.JobStore
	queue    *queue.RedisQueue
	producer *producer.Producer
	// history is nil unless POSTGRES_DSN is set.
	history historyReader
	closers []func()
}

// NewRootCmd builds jobctl connected to the Redis named by the environment.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "jobctl",
		Short:        "Submit and inspect image processing jobs",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.connect(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.AddCommand(enqueueCmd(a))
	root.AddCommand(statusCmd(a))
	root.AddCommand(depthCmd(a))
	return root
}

func (a *app) connect(cmd *cobra.Command) error {
	if a.rdb != nil {
		return nil
	}
	ctx := cmd.Context()
	cfg := config.Load()
	a.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	a.closers = append(a.closers, func() { _ = a.rdb.Close() })
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	a.store = store.New(a.rdb, store.WithTTL(cfg.JobTTL))
	a.queue = queue.NewRedisQueue(a.rdb, cfg.PendingQueue)
	a.producer = producer.New(a.store, a.queue)

	if cfg.PostgresDSN != "" {
		auditStore, err := audit.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, auditStore.Close)
		if err := auditStore.RunMigrations(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		a.history = auditStore
	}
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
