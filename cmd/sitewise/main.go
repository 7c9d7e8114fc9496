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

	"github.com/sitewise-erp/sitewise/internal/app"
	"github.com/sitewise-erp/sitewise/internal/auth"
	"github.com/sitewise-erp/sitewise/internal/catalog"
	"github.com/sitewise-erp/sitewise/internal/ledger"
	"github.com/sitewise-erp/sitewise/internal/observability"
	"github.com/sitewise-erp/sitewise/internal/platform/cache"
	"github.com/sitewise-erp/sitewise/internal/platform/db"
	"github.com/sitewise-erp/sitewise/internal/shared"
	"github.com/sitewise-erp/sitewise/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

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
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	tokenStore := auth.NewTokenStore(redisClient, cfg.AuthTokenTTL)
	authService := auth.NewService(auth.NewRepository(pool), tokenStore)
	authHandler := auth.NewHandler(logger, authService)

	catalogService := catalog.NewService(catalog.NewRepository(pool), auditLogger)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	reportCache := ledger.NewCache(redisClient, cfg.ReportCacheTTL)
	ledgerService := ledger.NewService(ledger.NewRepository(pool), auditLogger, idempotencyStore, reportCache, metrics)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthHandler:    authHandler,
		CatalogHandler: catalogHandler,
		LedgerHandler:  ledgerHandler,
		JobHandler:     jobHandler,
		TokenStore:     tokenStore,
		Metrics:        metrics,
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
