package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/orderops/internal/platform/config"
	"github.com/hanko-field/orderops/internal/platform/observability"
	"github.com/hanko-field/orderops/internal/repositories"
	"github.com/hanko-field/orderops/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders   services.OrderService
	Batch    services.BatchService
	Catalog  services.CatalogTransferService
	Audit    services.AuditLogService
	Notifier services.NotificationDispatcher
	System   services.SystemService
}

// Deps carries the infrastructure built by the caller. Store is required; everything else is optional
// and falls back to a local implementation.
type Deps struct {
	Store repositories.Registry
	// AuditLogs overrides the store's audit repository, e.g. with the Firestore trail.
	AuditLogs    repositories.AuditLogRepository
	Publisher    services.CustomerNotificationPublisher
	Archive      services.ExportArchive
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	HealthChecks []repositories.DependencyCheck
	Build        services.BuildInfo
	Clock        func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config   config.Config
	Store    repositories.Registry
	Services Services
	Metrics  *observability.Metrics

	worker *services.SideEffectWorker
}

// NewContainer constructs the runtime dependencies and starts the side-effect worker.
func NewContainer(ctx context.Context, cfg config.Config, deps Deps) (*Container, error) {
	if deps.Store == nil {
		return nil, errors.New("di: store is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics(nil)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	worker := services.NewSideEffectWorker(services.SideEffectWorkerDeps{
		QueueSize:   cfg.Batch.SideEffectQueue,
		TaskTimeout: cfg.Batch.SideEffectTimeout,
		Metrics:     deps.Metrics,
		Logger:      observability.EventLogger(deps.Logger.Named("side_effects")),
	})

	svc, err := buildServices(ctx, cfg, deps, worker)
	if err != nil {
		return nil, err
	}
	worker.Start()

	return &Container{
		Config:   cfg,
		Store:    deps.Store,
		Services: svc,
		Metrics:  deps.Metrics,
		worker:   worker,
	}, nil
}

// Close drains queued side effects before releasing the store.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.worker != nil {
		if err := c.worker.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop side-effect worker: %w", err))
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, cfg config.Config, deps Deps, worker *services.SideEffectWorker) (Services, error) {
	var svc Services
	logger := deps.Logger

	auditRepo := deps.AuditLogs
	if auditRepo == nil {
		auditRepo = deps.Store.AuditLogs()
	}
	if auditRepo != nil {
		auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository: auditRepo,
			Clock:      deps.Clock,
			Logger:     observability.NewWarnfAdapter(logger.Named("audit")),
			HashSalt:   cfg.Orders.AuditHashSalt,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build audit log service: %w", err)
		}
		svc.Audit = auditSvc
	}

	if deps.Publisher != nil {
		notifier, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
			Publisher: deps.Publisher,
			Clock:     deps.Clock,
			Logger:    observability.EventLogger(logger.Named("notifications")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build notification dispatcher: %w", err)
		}
		svc.Notifier = notifier
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:         deps.Store.Orders(),
		Items:          deps.Store.OrderItems(),
		Products:       deps.Store.Products(),
		UnitOfWork:     deps.Store,
		Audit:          svc.Audit,
		Notifier:       svc.Notifier,
		SideEffects:    worker,
		NumberPrefix:   cfg.Orders.NumberPrefix,
		DefaultTaxRate: cfg.Orders.DefaultTaxRate,
		Clock:          deps.Clock,
		Logger:         observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	batchSvc, err := services.NewBatchService(services.BatchServiceDeps{
		Orders:      orderSvc,
		Repository:  deps.Store.Orders(),
		Items:       deps.Store.OrderItems(),
		MaxIDs:      cfg.Batch.MaxIDs,
		PreviewSize: cfg.Batch.PreviewSize,
		Metrics:     deps.Metrics,
		Clock:       deps.Clock,
		Logger:      observability.EventLogger(logger.Named("batch")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build batch service: %w", err)
	}
	svc.Batch = batchSvc

	catalogDeps := services.CatalogTransferServiceDeps{
		Products: deps.Store.Products(),
		Metrics:  deps.Metrics,
		MaxRows:  cfg.Import.MaxRows,
		Clock:    deps.Clock,
		Logger:   observability.EventLogger(logger.Named("catalog")),
	}
	if deps.Archive != nil {
		catalogDeps.Archive = deps.Archive
	}
	catalogSvc, err := services.NewCatalogTransferService(catalogDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build catalog transfer service: %w", err)
	}
	svc.Catalog = catalogSvc

	checks := append([]repositories.DependencyCheck{{
		Name:     "database",
		Critical: true,
		Check:    deps.Store.Ping,
	}}, deps.HealthChecks...)
	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	build := deps.Build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            deps.Clock,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}
