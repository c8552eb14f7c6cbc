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

	"github.com/foreman-pm/foreman/internal/accounting"
	"github.com/foreman-pm/foreman/internal/app"
	"github.com/foreman-pm/foreman/internal/backend"
	"github.com/foreman-pm/foreman/internal/capability"
	"github.com/foreman-pm/foreman/internal/guard"
	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/messaging"
	"github.com/foreman-pm/foreman/internal/notify"
	"github.com/foreman-pm/foreman/internal/observability"
	"github.com/foreman-pm/foreman/internal/platform/cache"
	"github.com/foreman-pm/foreman/internal/platform/db"
	"github.com/foreman-pm/foreman/internal/prefs"
	"github.com/foreman-pm/foreman/internal/query"
	"github.com/foreman-pm/foreman/internal/shared"
	"github.com/foreman-pm/foreman/internal/state"
	"github.com/foreman-pm/foreman/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{})
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

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, "foreman_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	tokens := identity.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL)
	events := identity.NewEvents()
	backendClient := backend.New(dbpool)

	hub := notify.NewHub(identity.IDFromContext)
	notifier := notify.Multi{notify.SessionNotifier{}, hub, notify.LogNotifier{Logger: logger}}

	queryOpts := query.Options{
		StaleTime:    cfg.QueryStaleTime,
		FetchTimeout: cfg.QueryFetchTimeout,
		GCTime:       cfg.QueryGCTime,
		Notifier:     notifier,
		Logger:       logger,
		Metrics:      metrics,
	}
	var sharedStore *query.RedisStore
	if cfg.QuerySharedCache {
		sharedStore = query.NewRedisStore(redisClient, 10*time.Minute)
		queryOpts.Store = sharedStore
	}
	queryClient := query.NewClient(queryOpts)
	if sharedStore != nil {
		if err := sharedStore.Listen(ctx, queryClient); err != nil {
			logger.Warn("query invalidation listener", slog.Any("error", err))
		}
	}
	go queryClient.RunCollector(ctx, 0)

	identityService := identity.NewService(identity.NewRepository(backendClient))
	loader := app.CachedLoader{
		Source:    identity.LoaderFunc(identityService.Get),
		Cache:     queryClient,
		StaleTime: cfg.AccessStaleTime,
	}
	loader.Watch(events)

	registry := state.NewRegistry(logger)
	registry.Watch(events)
	go registry.RunSweeper(ctx, cfg.StateIdleTime)

	resolver := capability.NewResolver(capability.NewRoleStore(backendClient), queryClient, logger).
		WithStaleTime(cfg.AccessStaleTime)
	resolver.Watch(events)
	gate := guard.Gate{
		Resolver:    resolver,
		Notifier:    notifier,
		PendingWait: cfg.GuardPendingWait,
		Metrics:     metrics,
	}

	accountingService := accounting.NewService(accounting.NewRepository(backendClient), queryClient)
	messagingService := messaging.NewService(messaging.NewRepository(backendClient), queryClient, registry)
	messagingService.Watch(events)

	listener := messaging.NewListener(dbpool, registry, hub, logger)
	go func() {
		if err := listener.Run(ctx); err != nil {
			logger.Error("message listener", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Identity: identity.Middleware{
			Loader:    loader,
			Tokens:    tokens,
			Overrides: registry,
			Logger:    logger,
		},
		AuthHandler:       identity.NewHandler(logger, identityService, sessionManager, csrfManager, tokens, events),
		CapabilityHandler: capability.NewHandler(resolver),
		StateHandler:      state.NewHandler(logger, registry, loader, notifier),
		AccountingHandler: accounting.NewHandler(logger, accountingService, gate),
		MessagingHandler:  messaging.NewHandler(logger, messagingService, registry, hub, cfg.AllowedOrigins),
		PrefsHandler:      prefs.NewHandler(logger, prefs.NewStore(redisClient, 0)),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
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
