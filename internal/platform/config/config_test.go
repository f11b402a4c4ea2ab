package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "none", cfg.Storage.ArchiveDriver)
	assert.Equal(t, "memory", cfg.Idempotency.Store)
	assert.Equal(t, defaultIdempotencyHeader, cfg.Idempotency.Header)
	assert.Equal(t, defaultIdempotencyTTL, cfg.Idempotency.TTL)
	assert.Equal(t, 500, cfg.Batch.MaxIDs)
	assert.Equal(t, 1000, cfg.Import.MaxRows)
	assert.Equal(t, int64(5<<20), cfg.Import.MaxBytes)
	assert.Equal(t, "ORD", cfg.Orders.NumberPrefix)
	assert.InDelta(t, 0.1, cfg.Orders.DefaultTaxRate, 1e-9)
	assert.Equal(t, []string{"admin", "staff"}, cfg.Security.AdminRoles)
	assert.Len(t, cfg.Security.OIDC.Issuers, 2)
	assert.Equal(t, defaultOIDCJWKSURL, cfg.Security.OIDC.JWKSURL)
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":               "9090",
		"API_DATABASE_DRIVER":           "Postgres",
		"API_DATABASE_DSN":              "sm://projects/p/secrets/dsn",
		"API_FIREBASE_PROJECT_ID":       "hf-prod",
		"API_FIRESTORE_AUDIT_ENABLED":   "yes",
		"API_STORAGE_ARCHIVE_DRIVER":    "S3",
		"API_STORAGE_EXPORTS_BUCKET":    "exports-prod",
		"API_STORAGE_FORCE_PATH_STYLE":  "true",
		"API_REDIS_ADDR":                "redis:6379",
		"API_REDIS_PASSWORD":            "secret://redis/password",
		"API_IDEMPOTENCY_STORE":         "redis",
		"API_SECURITY_ENVIRONMENT":      "prod",
		"API_SECURITY_OIDC_AUDIENCES":   "prod=https://orders.example.com, dev=https://dev.example.com",
		"API_SECURITY_ADMIN_ROLES":      "admin",
		"API_BATCH_MAX_IDS":             "50",
		"API_IMPORT_MAX_ROWS":           "200",
		"API_ORDERS_NUMBER_PREFIX":      "HF",
		"API_ORDERS_DEFAULT_TAX_RATE":   "0.08",
		"API_ORDERS_AUDIT_HASH_SALT":    "secret://audit/salt",
		"API_RATELIMIT_BULK_PER_MIN":    "30",
		"API_PUBSUB_NOTIFICATION_TOPIC": "notify",
	}
	secrets := map[string]string{
		"secret://projects/p/secrets/dsn": "postgres://orders@db/orders",
		"secret://redis/password":         "hunter2",
		"secret://audit/salt":             "pepper",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown secret")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithSecretResolver(resolver), WithRequiredSecrets("Database.DSN"))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://orders@db/orders", cfg.Database.DSN)
	assert.Equal(t, "hf-prod", cfg.Firestore.ProjectID)
	assert.Equal(t, "hf-prod", cfg.PubSub.ProjectID)
	assert.Equal(t, "notify", cfg.PubSub.NotificationTopic)
	assert.True(t, cfg.Firestore.AuditEnabled)
	assert.Equal(t, "s3", cfg.Storage.ArchiveDriver)
	assert.True(t, cfg.Storage.ForcePathStyle)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, "https://orders.example.com", cfg.Security.OIDC.Audience)
	assert.Equal(t, []string{"admin"}, cfg.Security.AdminRoles)
	assert.Equal(t, 50, cfg.Batch.MaxIDs)
	assert.Equal(t, 200, cfg.Import.MaxRows)
	assert.Equal(t, "HF", cfg.Orders.NumberPrefix)
	assert.InDelta(t, 0.08, cfg.Orders.DefaultTaxRate, 1e-9)
	assert.Equal(t, "pepper", cfg.Orders.AuditHashSalt)
	assert.Equal(t, 30, cfg.RateLimits.BulkPerMinute)
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"API_DATABASE_DRIVER":         "oracle",
		"API_STORAGE_ARCHIVE_DRIVER":  "gcs",
		"API_IDEMPOTENCY_STORE":       "redis",
		"API_ORDERS_DEFAULT_TAX_RATE": "1.5",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.ElementsMatch(t, []string{
		"Database.Driver",
		"Storage.ExportsBucket",
		"Redis.Addr",
		"Orders.DefaultTaxRate",
	}, validation.Fields())
}

func TestLoadSecretFailures(t *testing.T) {
	env := map[string]string{"API_DATABASE_DSN": "secret://missing"}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	require.ErrorAs(t, err, &secretErr)
	assert.Equal(t, "secret://missing", secretErr.Ref)
	assert.ErrorIs(t, err, errSecretResolverNotConfigured)

	_, err = Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("Orders.AuditHashSalt", "Orders.AuditHashSalt"))
	var missing *MissingSecretsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"Orders.AuditHashSalt"}, missing.Names())
	assert.NotContains(t, missing.Error(), "AuditHashSalt")
}

func TestLoadReadsDotEnvWithLowestPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport API_SERVER_PORT=7070\nAPI_ORDERS_NUMBER_PREFIX=\"DEV\"\nAPI_BATCH_MAX_IDS=25\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(),
		WithEnvMap(map[string]string{"API_BATCH_MAX_IDS": "40"}))
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "DEV", cfg.Orders.NumberPrefix)
	assert.Equal(t, 40, cfg.Batch.MaxIDs)

	values, err := EnvironmentValues(WithEnvFile(path), WithoutSystemEnv())
	require.NoError(t, err)
	assert.Equal(t, "7070", values["API_SERVER_PORT"])

	_, err = Load(context.Background(), WithEnvFile(filepath.Join(dir, "absent.env")), WithoutSystemEnv())
	require.NoError(t, err)
}
