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

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/projectdesk/projectdesk/internal/app"
	"github.com/projectdesk/projectdesk/internal/assignments"
	"github.com/projectdesk/projectdesk/internal/audit"
	audithttp "github.com/projectdesk/projectdesk/internal/audit/http"
	"github.com/projectdesk/projectdesk/internal/auth"
	"github.com/projectdesk/projectdesk/internal/matrix"
	"github.com/projectdesk/projectdesk/internal/notify"
	"github.com/projectdesk/projectdesk/internal/observability"
	"github.com/projectdesk/projectdesk/internal/platform/cache"
	"github.com/projectdesk/projectdesk/internal/platform/db"
	"github.com/projectdesk/projectdesk/internal/projects"
	"github.com/projectdesk/projectdesk/internal/rbac"
	"github.com/projectdesk/projectdesk/internal/shared"
	"github.com/projectdesk/projectdesk/internal/users"
	"github.com/projectdesk/projectdesk/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.RunMigrations {
		if err := db.Migrate(dbpool, logger); err != nil {
			logger.Error("run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool, logger)
	metrics := observability.NewMetrics()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	queue := jobs.NewClient(redisOpts)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	rbacRepo := rbac.NewRepository(dbpool)
	var grantsClient *redis.Client
	if cfg.PermCacheTTL > 0 {
		grantsClient = redisClient
	}
	grantsCache := rbac.NewCache(grantsClient, cfg.PermCacheTTL)
	resolver := rbac.NewResolver(rbacRepo,
		rbac.WithCache(grantsCache),
		rbac.WithLogger(logger),
		rbac.WithDecisionRecorder(metrics),
	)
	rbacService := rbac.NewService(rbacRepo, grantsCache, logger)
	rbacMiddleware := rbac.Middleware{Resolver: resolver, Logger: logger}

	authService := auth.NewService(auth.NewRepository(dbpool), resolver, logger)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	matrixRepo := matrix.NewRepository(dbpool)
	matrixService := matrix.NewService(matrixRepo, resolver, logger)

	usersService := users.NewService(users.NewRepository(dbpool), resolver, notify.NewAsynqNotifier(queue, logger), auditLogger, logger)

	projectsRepo := projects.NewRepository(dbpool)
	gate := projects.NewGate(projectsRepo, resolver, cfg.AdminGateFeature, logger)
	projectsService := projects.NewService(projectsRepo, resolver, gate, auditLogger, logger)

	assignmentsService := assignments.NewService(assignments.Deps{
		Repo:     assignments.NewRepository(dbpool),
		Authz:    matrixService,
		Users:    usersService,
		Projects: projectsRepo,
		Roles:    matrixRepo,
		Audit:    auditLogger,
		Recorder: metrics,
		Logger:   logger,
	})

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Metrics:            metrics,
		AuthService:        authService,
		AuthHandler:        authHandler,
		RBACMiddleware:     rbacMiddleware,
		RBACHandler:        rbac.NewHandler(logger, rbacService, resolver, rbacMiddleware),
		MatrixHandler:      matrix.NewHandler(logger, matrixService, rbacMiddleware),
		UsersHandler:       users.NewHandler(logger, usersService, rbacMiddleware),
		ProjectsHandler:    projects.NewHandler(logger, projectsService, gate),
		ProjectGate:        gate,
		AssignmentsHandler: assignments.NewHandler(logger, assignmentsService),
		AuditHandler:       audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool))),
		JobHandler:         jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
