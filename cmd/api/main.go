package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/orderops/internal/di"
	"github.com/hanko-field/orderops/internal/handlers"
	"github.com/hanko-field/orderops/internal/platform/auth"
	"github.com/hanko-field/orderops/internal/platform/config"
	"github.com/hanko-field/orderops/internal/platform/idempotency"
	"github.com/hanko-field/orderops/internal/platform/observability"
	"github.com/hanko-field/orderops/internal/repositories"
	"github.com/hanko-field/orderops/internal/repositories/sqlstore"
)

func main() {
	base, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = base.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := base.Named("api")
	if err := run(observability.WithLogger(ctx, logger), logger); err != nil {
		logger.Fatal("orderops api exited", zap.Error(err))
	}
}

// teardown runs registered closers in reverse order.
type teardown []func(context.Context)

func (t *teardown) add(fn func(context.Context)) { *t = append(*t, fn) }

func (t teardown) run(ctx context.Context) {
	for i := len(t) - 1; i >= 0; i-- {
		t[i](ctx)
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	startedAt := time.Now().UTC()
	env, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, env)
	if err != nil {
		return fmt.Errorf("secret fetcher: %w", err)
	}
	defer func() { _ = fetcher.Close() }()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("Database.DSN"),
	)
	var missing *config.MissingSecretsError
	if errors.As(err, &missing) {
		logger.Error("required secrets unresolved", zap.Strings("secrets", missing.RedactedNames()))
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var (
		closers teardown
		checks  []repositories.DependencyCheck
	)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		closers.run(ctx)
	}()

	metrics := observability.NewMetrics(nil)
	store, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		AutoMigrate:     cfg.Database.AutoMigrate,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	auditRepo, err := newFirestoreAudit(cfg, logger, &closers, &checks)
	if err != nil {
		return err
	}
	publisher, err := newNotificationPublisher(ctx, cfg, logger, &closers, &checks)
	if err != nil {
		return err
	}
	archive, err := newExportArchive(ctx, cfg, &closers)
	if err != nil {
		return err
	}
	redisClient := newRedis(cfg, logger, &closers, &checks)

	build := buildInfo(env, cfg, startedAt)
	container, err := di.NewContainer(ctx, cfg, di.Deps{
		Store:        store,
		AuditLogs:    auditRepo,
		Publisher:    publisher,
		Archive:      archive,
		Metrics:      metrics,
		Logger:       logger,
		HealthChecks: checks,
		Build:        build,
	})
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	closers.add(func(ctx context.Context) {
		if err := container.Close(ctx); err != nil {
			logger.Warn("container close", zap.Error(err))
		}
	})

	idemStore, err := newIdempotencyStore(cfg, redisClient)
	if err != nil {
		return err
	}
	idemLogger := observability.NewWarnfAdapter(logger.Named("idempotency"))
	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		idempotency.RunCleanup(cleanupCtx, idemStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, idemLogger)
	}()
	closers.add(func(context.Context) {
		stopCleanup()
		<-cleanupDone
	})

	firebase, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return fmt.Errorf("firebase verifier: %w", err)
	}
	batchLimiter, importLimiter := newRateLimiters(cfg, redisClient)
	orders := handlers.NewOrderHandlers(container.Services.Orders, container.Services.Batch,
		handlers.WithOrderAuditLog(container.Services.Audit),
		handlers.WithOrderBatchLimiter(batchLimiter),
	)
	catalog := handlers.NewCatalogHandlers(container.Services.Catalog,
		handlers.WithCatalogMaxUploadBytes(cfg.Import.MaxBytes),
		handlers.WithCatalogImportLimiter(importLimiter),
	)

	httpLogger := logger.Named("http")
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(metrics),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(build),
			handlers.WithHealthSystemService(container.Services.System),
		)),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithAdminMiddlewares(
			auth.NewAuthenticator(firebase).RequireFirebaseAuth(cfg.Security.AdminRoles...),
			idempotency.Middleware(idemStore,
				idempotency.WithHeader(cfg.Idempotency.Header),
				idempotency.WithTTL(cfg.Idempotency.TTL),
				idempotency.WithMethods(http.MethodPost),
				idempotency.WithLogger(idemLogger),
			),
		),
		handlers.WithOrderRoutes(orders.Routes),
		handlers.WithCatalogRoutes(catalog.Routes),
		handlers.WithInternalMiddlewares(oidcGate(logger.Named("auth"), cfg, metrics)),
		handlers.WithInternalRoutes(orders.InternalRoutes),
	)

	return serve(ctx, httpLogger, cfg.Server, router)
}

// serve blocks until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, logger *zap.Logger, cfg config.ServerConfig, h http.Handler) error {
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errs := make(chan error, 1)
	go func() {
		logger.Info("orderops api listening", zap.String("addr", server.Addr))
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
