/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + LEAVE_* variables)
  2. Open the store (memory, SQLite or PostgreSQL)
  3. Connect Redis when configured: holiday cache + event queue
  4. Build the leave service, provisioner and holiday manager
  5. Start the period rollover scheduler (LEAVE_ROLLOVER_INTERVAL)
  6. Configure HTTP router and start serving

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (LEAVE_SHUTDOWN_TIMEOUT)
  3. Close queue client, Redis and the store
  4. Exit

EXAMPLES:
  # SQLite file database
  LEAVE_STORE=sqlite LEAVE_SQLITE_PATH=./data/leave.db ./server

  # PostgreSQL with Redis cache and notifications
  LEAVE_STORE=postgres LEAVE_PG_DSN=postgres://... LEAVE_REDIS_ADDR=127.0.0.1:6379 ./server

  # In-memory demo
  LEAVE_STORE=memory LEAVE_SCENARIO=balance-reservation ./server

SEE ALSO:
  - config/config.go: All settings
  - api/server.go: Router configuration
  - cmd/worker/main.go: Notification worker
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/holiday"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/notify"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/sqlite"
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
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Warn("store close", slog.Any("error", err))
		}
	}()

	var (
		calendar    generic.HolidayCalendar = holiday.NewCalendar(st.backend)
		notifier    leave.Notifier          = leave.NopNotifier{}
		invalidator holiday.Invalidator
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping", slog.Any("error", err))
		}
		cache := holiday.NewCache(redisClient, calendar, cfg.HolidayCacheTTL, logger)
		calendar, invalidator = cache, cache

		queue := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer queue.Close()
		notifier = notify.NewNotifier(queue)
	}

	weeklyOff, err := cfg.WeeklyOffDays()
	if err != nil {
		return err
	}
	svc := leave.NewService(st.backend, st.backend,
		leave.WithLogger(logger),
		leave.WithNotifier(notifier),
		leave.WithPeriods(cfg.Periods()),
		leave.WithRetry(cfg.Retry()),
		leave.WithWeeklyOff(weeklyOff),
		leave.WithHolidays(calendar),
	)
	provisioner := leave.NewProvisioner(st.backend, cfg.Periods())
	provisioner.Retry = cfg.Retry()
	provisioner.Logger = logger

	rollover := api.NewRolloverScheduler(st.backend, provisioner, logger)
	rollover.CheckInterval = cfg.RolloverInterval

	deps := api.Dependencies{
		Service:     svc,
		Provisioner: provisioner,
		Admin:       st.backend,
		Holidays:    &holiday.Manager{Store: st.backend, Cache: invalidator, Logger: logger},
		Rollover:    rollover,
		Logger:      logger,
	}
	if cfg.DemoEnabled() {
		deps.Reset = st.reset
	}
	handler := api.NewHandler(deps)
	if cfg.Scenario != "" {
		if err := handler.Load(ctx, cfg.Scenario); err != nil {
			return err
		}
	}

	rollover.Start(ctx)
	defer rollover.Stop()

	server := &http.Server{
		Addr: cfg.Addr,
		Handler: api.NewRouter(handler, api.RouterConfig{
			AllowedOrigins: cfg.CORSOrigins,
			WriteRateLimit: cfg.SubmitRateLimit,
			SSLRedirect:    cfg.SSLRedirect,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", cfg.Addr), slog.String("store", cfg.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

type storage struct {
	backend leave.Backend
	reset   func(ctx context.Context) error
	close   func() error
}

func openStore(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.Store {
	case config.DriverMemory:
		m := memory.New()
		return &storage{backend: m, reset: m.Reset, close: func() error { return nil }}, nil

	case config.DriverSQLite:
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &storage{backend: s, reset: s.Reset, close: s.Close}, nil

	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.PGDSN, postgres.Options{
			MaxConns:    cfg.PGMaxConns,
			LockTimeout: cfg.PGLockTimeout,
		})
		if err != nil {
			return nil, err
		}
		return &storage{backend: s, reset: s.Reset, close: s.Close}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store)
	}
}
