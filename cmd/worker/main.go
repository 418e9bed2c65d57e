package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/wareboxes/wareboxes/internal/app"
	jobmetrics "github.com/wareboxes/wareboxes/internal/jobs"
	"github.com/wareboxes/wareboxes/internal/platform/db"
	"github.com/wareboxes/wareboxes/internal/rbac"
	"github.com/wareboxes/wareboxes/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	store := rbac.NewPostgresStore(pool)
	devAdmin := rbac.NewDevAdmin(store, cfg.AppEnv, logger)
	if !devAdmin.Enabled() {
		logger.Warn("dev admin grants disabled outside development", slog.String("env", cfg.AppEnv))
	}
	devAdminJob := jobs.NewDevAdminJob(devAdmin, logger, jobmetrics.NewMetrics(nil))

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDevAdminGrant, Handler: devAdminJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
