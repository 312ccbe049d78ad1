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

	"github.com/openshelf/openshelf/internal/app"
	"github.com/openshelf/openshelf/internal/catalog"
	"github.com/openshelf/openshelf/internal/identity"
	"github.com/openshelf/openshelf/internal/observability"
	"github.com/openshelf/openshelf/internal/platform/cache"
	"github.com/openshelf/openshelf/internal/platform/db"
	"github.com/openshelf/openshelf/internal/rbac"
	"github.com/openshelf/openshelf/internal/research"
	"github.com/openshelf/openshelf/internal/resources"
	"github.com/openshelf/openshelf/internal/shared"
	"github.com/openshelf/openshelf/internal/spaces"
	"github.com/openshelf/openshelf/internal/users"
	"github.com/openshelf/openshelf/internal/view"
	"github.com/openshelf/openshelf/jobs"
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

	sessionManager := shared.NewSessionManager(redisClient, "openshelf_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := shared.NewAuditLogger(dbpool)

	identityRepo := identity.NewRepository(dbpool)
	identityService := identity.NewService(identityRepo)
	identityBus := identity.NewBus(redisClient, logger)
	identityStore := identity.NewStore(identityService, identityBus, logger)
	defer identityStore.Close()

	rbacRepo := rbac.NewRepository(dbpool)
	roleResolver := rbac.NewResolver(rbacRepo, logger, rbac.ResolverConfig{
		FetchTimeout: cfg.RoleFetchTimeout,
		CacheTTL:     cfg.RoleCacheTTL,
	})
	// A changed identity must never see roles cached for its predecessor.
	identityStore.OnIdentityChange(roleResolver.Invalidate)
	guard := rbac.NewGuard(roleResolver, identityStore, logger)
	roleAdmin := rbac.NewAdmin(rbacRepo, roleResolver, auditLogger, logger)

	authHandler := identity.NewHandler(logger, identityStore, identityService, templates, sessionManager, csrfManager)

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

	catalogHandler := catalog.NewHandler(logger, catalog.NewService(catalog.NewRepository(dbpool)), templates, csrfManager)
	spacesService := spaces.NewService(spaces.NewRepository(dbpool), jobClient, logger)
	spacesHandler := spaces.NewHandler(logger, spacesService, templates, csrfManager)
	researchHandler := research.NewHandler(logger, research.NewRepository(dbpool), templates, csrfManager)
	resourcesHandler := resources.NewHandler(logger, resources.NewRepository(dbpool), templates, csrfManager)
	usersHandler := users.NewHandler(logger, users.NewRepository(dbpool), roleAdmin, templates, csrfManager)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Templates:        templates,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		Guard:            guard,
		AuthHandler:      authHandler,
		CatalogHandler:   catalogHandler,
		SpacesHandler:    spacesHandler,
		ResearchHandler:  researchHandler,
		ResourcesHandler: resourcesHandler,
		UsersHandler:     usersHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
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
