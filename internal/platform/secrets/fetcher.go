package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
)

// ErrNotFound is returned when neither Secret Manager nor the fallback file has the secret.
var ErrNotFound = errors.New("secrets: not found")

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Option customises NewFetcher.
type Option func(*Fetcher)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithDefaultProject is used for short references such as secret://db-dsn.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) { f.project = strings.TrimSpace(projectID) }
}

// WithFallbackFile sets the dotenv file consulted when Secret Manager is unreachable. Empty disables it.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) { f.local.path = strings.TrimSpace(path) }
}

// WithCacheTTL sets how long resolved values are reused. Zero keeps them until Invalidate.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) { f.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// WithSecretManagerClient injects the client instead of dialling one.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(f *Fetcher) { f.remote = client }
}

// WithClientOptions is passed to secretmanager.NewClient.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(f *Fetcher) { f.clientOpts = append(f.clientOpts, opts...) }
}

// Fetcher resolves secret references through Google Secret Manager with a TTL cache. When the API
// denies access or cannot be reached, or no project is known, values come from a local dotenv file.
type Fetcher struct {
	remote     secretManagerClient
	ownsRemote bool
	clientOpts []option.ClientOption
	logger     *zap.Logger
	project    string
	ttl        time.Duration
	now        func() time.Time
	local      localFile

	mu     sync.RWMutex
	values map[string]cached
}

type cached struct {
	value string
	at    time.Time
}

// NewFetcher never fails on a missing Secret Manager client; the fetcher then serves only the fallback file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger: zap.NewNop(),
		ttl:    defaultCacheTTL,
		now:    time.Now,
		local:  localFile{path: defaultFallbackPath},
		values: make(map[string]cached),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if f.remote == nil {
		client, err := secretManagerClientFactory(ctx, f.clientOpts...)
		if err != nil {
			f.logger.Warn("secret manager unavailable, using fallback file only", zap.Error(err), zap.String("path", f.local.path))
		} else {
			f.remote, f.ownsRemote = client, true
		}
	}
	return f, nil
}

func (f *Fetcher) Close() error {
	if f.ownsRemote {
		return f.remote.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	ref, err := parseRef(raw, f.project)
	if err != nil {
		return "", err
	}
	key := ref.resource()
	if v, ok := f.cachedValue(key); ok {
		return v, nil
	}

	if f.remote != nil && ref.project != "" {
		v, err := f.access(ctx, key)
		switch {
		case err == nil:
			f.remember(key, v)
			return v, nil
		case !canFallBack(err):
			return "", fmt.Errorf("secrets: access %s: %w", ref.display, err)
		}
		f.logger.Debug("secret manager refused, trying fallback file", zap.String("ref", ref.display), zap.Error(err))
	}

	v, ok := f.local.get(ref.envKey(), f.logger)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref.display)
	}
	f.remember(key, v)
	return v, nil
}

// Invalidate empties the cache.
func (f *Fetcher) Invalidate() {
	f.mu.Lock()
	clear(f.values)
	f.mu.Unlock()
}

func (f *Fetcher) cachedValue(key string) (string, bool) {
	f.mu.RLock()
	c, ok := f.values[key]
	f.mu.RUnlock()
	if !ok || (f.ttl > 0 && f.now().Sub(c.at) > f.ttl) {
		return "", false
	}
	return c.value, true
}

func (f *Fetcher) remember(key, value string) {
	f.mu.Lock()
	f.values[key] = cached{value: value, at: f.now()}
	f.mu.Unlock()
}

func (f *Fetcher) access(ctx context.Context, resource string) (string, error) {
	resp, err := f.remote.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

// canFallBack covers credentials and connectivity failures. NotFound and the like are real answers.
func canFallBack(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

// localFile lazily reads a dotenv file with upper-cased keys.
type localFile struct {
	path string
	once sync.Once
	vals map[string]string
}

func (l *localFile) get(key string, logger *zap.Logger) (string, bool) {
	l.once.Do(func() {
		l.vals = map[string]string{}
		if l.path == "" {
			return
		}
		values, err := godotenv.Read(l.path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("fallback secrets file unreadable", zap.String("path", l.path), zap.Error(err))
			}
			return
		}
		for k, v := range values {
			l.vals[strings.ToUpper(k)] = v
		}
	})
	v, ok := l.vals[key]
	return v, ok
}
