// Command worker consumes leave lifecycle events from the asynq queue the
// server enqueues to. It needs LEAVE_REDIS_ADDR.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/notify"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)

	if cfg.RedisAddr == "" {
		logger.Error("worker requires LEAVE_REDIS_ADDR")
		os.Exit(1)
	}

	worker := notify.NewWorker(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		&notify.Handler{Logger: logger},
		cfg.WorkerConcurrency,
	)
	logger.Info("worker starting", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
