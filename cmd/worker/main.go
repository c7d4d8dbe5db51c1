package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/quartermaster-erp/quartermaster/internal/app"
	"github.com/quartermaster-erp/quartermaster/internal/platform/db"
	"github.com/quartermaster-erp/quartermaster/internal/shared"
	"github.com/quartermaster-erp/quartermaster/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	idempotencyStore := shared.NewIdempotencyStore(pool)

	integrityScanner := jobs.NewIntegrityScanner(pool, logger)
	staleReporter := jobs.NewStaleReservationReporter(pool, logger, cfg.StaleReservationAge)
	idempotencyCleaner := jobs.NewIdempotencyCleaner(idempotencyStore, logger, cfg.IdempotencyTTL)

	integrityTask, err := jobs.NewIntegrityScanTask(time.Now().UTC())
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	staleTask, err := jobs.NewStaleReservationsTask(cfg.StaleReservationAge)
	if err != nil {
		logger.Error("build stale reservation task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyTTL)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStockIntegrityScan, Handler: integrityScanner.Handle},
			{Type: jobs.TaskStaleReservations, Handler: staleReporter.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: idempotencyCleaner.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 1 * * *", Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 1 * * *", Task: staleTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 2 * * 0", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
