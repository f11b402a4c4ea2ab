package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/orderops/internal/handlers"
	"github.com/hanko-field/orderops/internal/platform/auth"
	"github.com/hanko-field/orderops/internal/platform/config"
	pfirestore "github.com/hanko-field/orderops/internal/platform/firestore"
	"github.com/hanko-field/orderops/internal/platform/idempotency"
	"github.com/hanko-field/orderops/internal/platform/jobs"
	"github.com/hanko-field/orderops/internal/platform/observability"
	"github.com/hanko-field/orderops/internal/platform/secrets"
	platformstorage "github.com/hanko-field/orderops/internal/platform/storage"
	"github.com/hanko-field/orderops/internal/repositories"
	firestoreRepo "github.com/hanko-field/orderops/internal/repositories/firestore"
	"github.com/hanko-field/orderops/internal/services"
)

const (
	envPubSubEmulatorHost = "PUBSUB_EMULATOR_HOST"
	exportPrefix          = "catalog-exports"
)

func googleOptions(cfg config.Config) []option.ClientOption {
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func buildInfo(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	return services.BuildInfo{
		Version:     cmp.Or(strings.TrimSpace(env["API_BUILD_VERSION"]), "dev"),
		CommitSHA:   cmp.Or(strings.TrimSpace(env["API_BUILD_COMMIT_SHA"]), "unknown"),
		Environment: cmp.Or(cfg.Security.Environment, "local"),
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	return cmp.Or(strings.TrimSpace(cfg.Firebase.ProjectID), strings.TrimSpace(cfg.Firestore.ProjectID))
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	get := func(key string) string { return strings.TrimSpace(env[key]) }
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(cmp.Or(get("API_SECRET_FALLBACK_FILE"), ".secrets.local")),
		secrets.WithDefaultProject(cmp.Or(get("API_SECRET_DEFAULT_PROJECT_ID"), get("API_FIREBASE_PROJECT_ID"))),
	}
	if path := get("API_FIREBASE_CREDENTIALS_FILE"); path != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(path)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// newFirestoreAudit returns nil when the Firestore audit trail is disabled, leaving SQL as the audit store.
func newFirestoreAudit(cfg config.Config, logger *zap.Logger, closers *teardown, checks *[]repositories.DependencyCheck) (repositories.AuditLogRepository, error) {
	if !cfg.Firestore.AuditEnabled {
		return nil, nil
	}
	provider := pfirestore.NewProvider(cfg.Firestore, googleOptions(cfg)...)
	repo, err := firestoreRepo.NewAuditLogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore audit repository: %w", err)
	}
	*checks = append(*checks, repositories.DependencyCheck{
		Name:  "firestore",
		Check: func(ctx context.Context) error { return provider.Ping(ctx, firestoreRepo.AuditLogCollection) },
	})
	closers.add(func(ctx context.Context) {
		if err := provider.Close(ctx); err != nil {
			logger.Warn("firestore close", zap.Error(err))
		}
	})
	return repo, nil
}

// newNotificationPublisher publishes to Pub/Sub when a project is configured and only logs otherwise.
func newNotificationPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger, closers *teardown, checks *[]repositories.DependencyCheck) (services.CustomerNotificationPublisher, error) {
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	if projectID == "" {
		logger.Warn("pubsub project not configured, notifications are logged only")
		return jobs.NewLogNotificationPublisher(logger.Named("notifications")), nil
	}
	if host := cfg.PubSub.EmulatorHost; host != "" && os.Getenv(envPubSubEmulatorHost) == "" {
		_ = os.Setenv(envPubSubEmulatorHost, host)
	}
	client, err := pubsub.NewClient(ctx, projectID, googleOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	publisher, err := jobs.NewPubSubNotificationPublisher(client.Topic(cfg.PubSub.NotificationTopic))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	*checks = append(*checks, repositories.DependencyCheck{Name: "pubsub", Check: publisher.Ready})
	closers.add(func(context.Context) {
		publisher.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close", zap.Error(err))
		}
	})
	return publisher, nil
}

// newExportArchive returns nil when archiving is disabled.
func newExportArchive(ctx context.Context, cfg config.Config, closers *teardown) (services.ExportArchive, error) {
	switch cfg.Storage.ArchiveDriver {
	case "gcs":
		client, err := cloudstorage.NewClient(ctx, googleOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		closers.add(func(context.Context) { _ = client.Close() })
		return platformstorage.NewGCSArchive(client, cfg.Storage.ExportsBucket, exportPrefix)
	case "s3":
		client, err := platformstorage.NewS3Client(ctx, platformstorage.S3Config{
			Region:         cfg.Storage.Region,
			Endpoint:       cfg.Storage.Endpoint,
			ForcePathStyle: cfg.Storage.ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return platformstorage.NewS3Archive(client, cfg.Storage.ExportsBucket, exportPrefix)
	}
	return nil, nil
}

func newRedis(cfg config.Config, logger *zap.Logger, closers *teardown, checks *[]repositories.DependencyCheck) *redis.Client {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	*checks = append(*checks, repositories.DependencyCheck{
		Name:  "redis",
		Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
	})
	closers.add(func(context.Context) {
		if err := client.Close(); err != nil {
			logger.Warn("redis close", zap.Error(err))
		}
	})
	return client
}

func newIdempotencyStore(cfg config.Config, client *redis.Client) (idempotency.Store, error) {
	if cfg.Idempotency.Store != "redis" {
		return idempotency.NewMemoryStore(time.Now), nil
	}
	if client == nil {
		return nil, errors.New("idempotency: redis store requires API_REDIS_ADDR")
	}
	return idempotency.NewRedisStore(client)
}

func newRateLimiters(cfg config.Config, client *redis.Client) (batch, catalogImport handlers.RateLimiter) {
	perMinute := cfg.RateLimits.BulkPerMinute
	if client == nil {
		return handlers.NewLocalRateLimiter(perMinute, time.Now), handlers.NewLocalRateLimiter(perMinute, time.Now)
	}
	return handlers.NewRedisRateLimiter(client, "orders.batch", perMinute),
		handlers.NewRedisRateLimiter(client, "catalog.import", perMinute)
}

// oidcGate guards /internal. Without an audience every request is refused with 503.
func oidcGate(logger *zap.Logger, cfg config.Config, metrics *observability.Metrics) func(http.Handler) http.Handler {
	warnf := observability.NewWarnfAdapter(logger)
	validator := auth.NewOIDCValidator(
		auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(warnf)),
		auth.WithOIDCLogger(warnf),
		auth.WithOIDCMetrics(metrics),
	)
	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("oidc audience not configured, internal routes will refuse requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}
