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

	"github.com/wareboxes/wareboxes/internal/app"
	"github.com/wareboxes/wareboxes/internal/auth"
	"github.com/wareboxes/wareboxes/internal/observability"
	"github.com/wareboxes/wareboxes/internal/platform/cache"
	"github.com/wareboxes/wareboxes/internal/platform/db"
	"github.com/wareboxes/wareboxes/internal/rbac"
	"github.com/wareboxes/wareboxes/internal/shared"
	"github.com/wareboxes/wareboxes/internal/users"
	"github.com/wareboxes/wareboxes/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if err := rbac.ApplySchema(ctx, dbpool); err != nil {
		logger.Error("apply schema", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "wareboxes_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()
	rbacMetrics := rbac.NewMetrics(metrics.Registerer())

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	store := rbac.NewPostgresStore(dbpool)

	var hook rbac.SelfRoleHook
	if cfg.IsDevelopment() {
		hook = rbac.NewDevAdmin(store, cfg.AppEnv, logger)
		if cfg.DevAdminAsync {
			queue, err := jobs.NewClient(redisOpts)
			if err != nil {
				logger.Error("init job client", slog.Any("error", err))
				os.Exit(1)
			}
			defer func() {
				if err := queue.Close(); err != nil {
					logger.Warn("job client close", slog.Any("error", err))
				}
			}()
			hook = jobs.NewDevAdminEnqueuer(queue, logger)
		}
		logger.Warn("development admin grant enabled", slog.Bool("async", cfg.DevAdminAsync))
	}

	resolver := rbac.NewResolver(store)
	bootstrap := rbac.NewBootstrapper(store, hook, logger, rbacMetrics)
	gate := rbac.NewGate(bootstrap, resolver, logger, rbacMetrics)
	mutator := rbac.NewMutator(store, logger, rbacMetrics)
	rbacMiddleware := rbac.Middleware{Gate: gate, Logger: logger}

	authService := auth.NewService(auth.NewRepository(dbpool))
	authHandler := auth.NewHandler(logger, authService, gate, sessionManager, csrfManager)

	rbacHandler := rbac.NewHandler(logger, rbac.NewService(store, resolver), mutator, rbacMiddleware)

	usersService := users.NewService(users.NewRepository(dbpool), store, resolver, bootstrap, logger)
	usersHandler := users.NewHandler(logger, usersService, mutator, rbacMiddleware)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		AuthHandler:    authHandler,
		RBACHandler:    rbacHandler,
		UsersHandler:   usersHandler,
		JobHandler:     jobHandler,
		RBACMiddleware: rbacMiddleware,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
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
