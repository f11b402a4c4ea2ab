package config

import (
	"context"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 60 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 20 * time.Second
	defaultDatabaseDriver       = "sqlite"
	defaultDatabaseDSN          = "file:orderops.db?_pragma=busy_timeout(5000)"
	defaultDatabaseMaxOpen      = 10
	defaultDatabaseMaxIdle      = 5
	defaultConnMaxLifetime      = 30 * time.Minute
	defaultNotificationTopic    = "order-notifications"
	defaultArchiveDriver        = "none"
	defaultRateLimitDefault     = 120
	defaultRateLimitBulk        = 12
	defaultRateLimitBurst       = 4
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultIdempotencyStore     = "memory"
	defaultBatchMaxIDs          = 500
	defaultBatchPreviewSize     = 10
	defaultSideEffectQueueSize  = 256
	defaultSideEffectTimeout    = 10 * time.Second
	defaultImportMaxRows        = 1000
	defaultImportMaxBytes       = 5 << 20
	defaultOrderNumberPrefix    = "ORD"
	defaultOrderTaxRate         = 0.1
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	Redis       RedisConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	Batch       BatchConfig
	Import      ImportConfig
	Orders      OrdersConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects the SQL store backing orders, products and audit entries.
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// FirebaseConfig stores Firebase project settings used by the admin gate.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig enables the optional Firestore audit trail.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
	AuditEnabled bool
}

// PubSubConfig configures the customer notification transport.
type PubSubConfig struct {
	ProjectID         string
	NotificationTopic string
	EmulatorHost      string
}

// StorageConfig configures where catalog exports are archived.
type StorageConfig struct {
	ArchiveDriver  string
	ExportsBucket  string
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

// RedisConfig configures the shared Redis used by idempotency and rate limiting.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute int
	BulkPerMinute    int
	BulkBurst        int
}

// SecurityConfig groups authentication settings.
type SecurityConfig struct {
	Environment string
	AdminRoles  []string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal routes.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Store            string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// BatchConfig bounds bulk operations and the side-effect queue.
type BatchConfig struct {
	MaxIDs            int
	PreviewSize       int
	SideEffectQueue   int
	SideEffectTimeout time.Duration
}

// ImportConfig bounds catalog uploads.
type ImportConfig struct {
	MaxRows  int
	MaxBytes int64
}

// OrdersConfig holds order numbering and pricing defaults.
type OrdersConfig struct {
	NumberPrefix   string
	DefaultTaxRate float64
	AuditHashSalt  string
}

// SecretResolver turns a secret:// reference into its value.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	resolver        SecretResolver
	requiredSecrets []string
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

func buildOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithEnvFile sets the dotenv path. An empty path skips the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over both the process environment and the dotenv file.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.resolver = resolver }
}

// WithRequiredSecrets names secret fields, such as "Database.DSN", that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues returns the merged environment Load would see.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newSource(buildOptions(opts))
	if err != nil {
		return nil, err
	}
	return src.flatten(), nil
}

// Load reads the configuration, resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := buildOptions(opts)
	env, err := newSource(o)
	if err != nil {
		return Config{}, err
	}

	cfg := read(env)
	applyDefaults(&cfg)

	resolved, err := resolveSecrets(ctx, o.resolver, map[string]*string{
		"Database.DSN":         &cfg.Database.DSN,
		"Redis.Password":       &cfg.Redis.Password,
		"Orders.AuditHashSalt": &cfg.Orders.AuditHashSalt,
	})
	if err != nil {
		return Config{}, err
	}
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if err := missingSecrets(o.requiredSecrets, resolved); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func read(env source) Config {
	return Config{
		Server: ServerConfig{
			Port:            env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: env.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Database: DatabaseConfig{
			Driver:          env.lower("API_DATABASE_DRIVER", defaultDatabaseDriver),
			DSN:             env.str("API_DATABASE_DSN", defaultDatabaseDSN),
			MaxOpenConns:    env.integer("API_DATABASE_MAX_OPEN_CONNS", defaultDatabaseMaxOpen),
			MaxIdleConns:    env.integer("API_DATABASE_MAX_IDLE_CONNS", defaultDatabaseMaxIdle),
			ConnMaxLifetime: env.duration("API_DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
			AutoMigrate:     env.flag("API_DATABASE_AUTO_MIGRATE", true),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
			AuditEnabled: env.flag("API_FIRESTORE_AUDIT_ENABLED", false),
		},
		PubSub: PubSubConfig{
			ProjectID:         env.str("API_PUBSUB_PROJECT_ID", ""),
			NotificationTopic: env.str("API_PUBSUB_NOTIFICATION_TOPIC", defaultNotificationTopic),
			EmulatorHost:      env.str("API_PUBSUB_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			ArchiveDriver:  env.lower("API_STORAGE_ARCHIVE_DRIVER", defaultArchiveDriver),
			ExportsBucket:  env.str("API_STORAGE_EXPORTS_BUCKET", ""),
			Region:         env.str("API_STORAGE_REGION", ""),
			Endpoint:       env.str("API_STORAGE_ENDPOINT", ""),
			ForcePathStyle: env.flag("API_STORAGE_FORCE_PATH_STYLE", false),
		},
		Redis: RedisConfig{
			Addr:     env.str("API_REDIS_ADDR", ""),
			Password: env.str("API_REDIS_PASSWORD", ""),
			DB:       env.integer("API_REDIS_DB", 0),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute: env.integer("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			BulkPerMinute:    env.integer("API_RATELIMIT_BULK_PER_MIN", defaultRateLimitBulk),
			BulkBurst:        env.integer("API_RATELIMIT_BULK_BURST", defaultRateLimitBurst),
		},
		Security: SecurityConfig{
			Environment: env.lower("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
			AdminRoles:  env.list("API_SECURITY_ADMIN_ROLES"),
			OIDC: OIDCConfig{
				JWKSURL:   env.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Store:            env.lower("API_IDEMPOTENCY_STORE", defaultIdempotencyStore),
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Batch: BatchConfig{
			MaxIDs:            env.integer("API_BATCH_MAX_IDS", defaultBatchMaxIDs),
			PreviewSize:       env.integer("API_BATCH_PREVIEW_SIZE", defaultBatchPreviewSize),
			SideEffectQueue:   env.integer("API_BATCH_SIDE_EFFECT_QUEUE", defaultSideEffectQueueSize),
			SideEffectTimeout: env.duration("API_BATCH_SIDE_EFFECT_TIMEOUT", defaultSideEffectTimeout),
		},
		Import: ImportConfig{
			MaxRows:  env.integer("API_IMPORT_MAX_ROWS", defaultImportMaxRows),
			MaxBytes: int64(env.integer("API_IMPORT_MAX_BYTES", defaultImportMaxBytes)),
		},
		Orders: OrdersConfig{
			NumberPrefix:   env.str("API_ORDERS_NUMBER_PREFIX", defaultOrderNumberPrefix),
			DefaultTaxRate: env.float("API_ORDERS_DEFAULT_TAX_RATE", defaultOrderTaxRate),
			AuditHashSalt:  env.str("API_ORDERS_AUDIT_HASH_SALT", ""),
		},
	}
}

// applyDefaults fills values derived from other fields.
func applyDefaults(cfg *Config) {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.AdminRoles) == 0 {
		cfg.Security.AdminRoles = []string{"admin", "staff"}
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}
}

// resolveSecrets replaces secret references in place and returns every field's final value by name.
func resolveSecrets(ctx context.Context, resolver SecretResolver, fields map[string]*string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for name, field := range fields {
		ref, ok := secretRef(*field)
		if ok {
			if resolver == nil {
				return nil, &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
			}
			value, err := resolver.ResolveSecret(ctx, ref)
			if err != nil {
				return nil, &SecretError{Ref: ref, Err: err}
			}
			*field = value
		}
		out[name] = strings.TrimSpace(*field)
	}
	return out, nil
}

// secretRef reports whether value points at a secret, rewriting sm:// to secret://.
func secretRef(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest, true
	}
	return value, strings.HasPrefix(value, "secret://")
}

func validateConfig(cfg Config) error {
	var missing []string
	add := func(field string) { missing = append(missing, field) }

	if cfg.Server.Port == "" {
		add("Server.Port")
	}
	switch cfg.Database.Driver {
	case "postgres", "pgx", "sqlite":
	default:
		add("Database.Driver")
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		add("Database.DSN")
	}
	if cfg.Database.MaxOpenConns <= 0 {
		add("Database.MaxOpenConns")
	}
	switch cfg.Storage.ArchiveDriver {
	case "none", "":
	case "gcs", "s3":
		if cfg.Storage.ExportsBucket == "" {
			add("Storage.ExportsBucket")
		}
	default:
		add("Storage.ArchiveDriver")
	}
	if cfg.Firestore.AuditEnabled && cfg.Firestore.ProjectID == "" {
		add("Firestore.ProjectID")
	}
	switch cfg.Idempotency.Store {
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			add("Redis.Addr")
		}
	default:
		add("Idempotency.Store")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		add("Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		add("Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		add("Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		add("Idempotency.CleanupBatchSize")
	}
	if cfg.Batch.MaxIDs <= 0 {
		add("Batch.MaxIDs")
	}
	if cfg.Import.MaxRows <= 0 {
		add("Import.MaxRows")
	}
	if cfg.Import.MaxBytes <= 0 {
		add("Import.MaxBytes")
	}
	if cfg.Orders.DefaultTaxRate < 0 || cfg.Orders.DefaultTaxRate > 1 {
		add("Orders.DefaultTaxRate")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
