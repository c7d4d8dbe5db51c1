package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/quartermaster-erp/quartermaster/internal/app"
	"github.com/quartermaster-erp/quartermaster/internal/commitment"
	"github.com/quartermaster-erp/quartermaster/internal/platform/cache"
	"github.com/quartermaster-erp/quartermaster/internal/platform/db"
	"github.com/quartermaster-erp/quartermaster/internal/shared"
	"github.com/quartermaster-erp/quartermaster/internal/stock"
	"github.com/quartermaster-erp/quartermaster/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, level cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	policy := stock.Policy{
		EnforceStockValidation: cfg.StockEnforceValidation,
		AllowNegativeStock:     cfg.StockAllowNegative,
	}
	engine := stock.NewEngine(policy, logger)
	stockRepo := stock.NewRepository(pool, cfg.StockLockTimeout)
	var levelCache *stock.Cache
	if redisClient != nil {
		levelCache = stock.NewCache(redisClient, cfg.StockCacheTTL)
	}
	stockService := stock.NewService(stockRepo, engine, auditLogger, idempotencyStore, levelCache, logger)

	commitmentRepo := commitment.NewRepository(pool, cfg.StockLockTimeout)
	commitmentService := commitment.NewService(commitmentRepo, engine, auditLogger, logger)

	stockHandler := stock.NewHandler(logger, stockService)
	commitmentHandler := commitment.NewHandler(logger, commitmentService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Pool:              pool,
		StockHandler:      stockHandler,
		CommitmentHandler: commitmentHandler,
		JobHandler:        jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
