package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hanko-field/orderops/internal/platform/httpx"
	"github.com/hanko-field/orderops/internal/platform/requestctx"
)

type rateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimiter is the exported form used when wiring handlers.
type RateLimiter = rateLimiter

const limiterIdleTTL = 10 * time.Minute

// localRateLimiter keeps one token bucket per key in process memory.
type localRateLimiter struct {
	limit rate.Limit
	burst int
	clock func() time.Time

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalRateLimiter allows perMinute requests per key with an equal burst. A non-positive
// rate disables limiting.
func NewLocalRateLimiter(perMinute int, clock func() time.Time) RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &localRateLimiter{
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
		clock:    clock,
		limiters: make(map[string]*limiterEntry),
	}
}

func (l *localRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	key = normaliseLimiterKey(key)
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[key]
	if !ok {
		l.pruneIdleLocked(now)
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1), nil
}

func (l *localRateLimiter) pruneIdleLocked(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.limiters, key)
		}
	}
}

// redisTokenBucket refills at rate tokens per second up to capacity. The bucket hash expires once it
// would be full again so idle keys clean themselves up.
var redisTokenBucket = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if not tokens or not ts then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * rate)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "ts", ts)
redis.call("EXPIRE", key, math.ceil(capacity / rate) + 1)
return allowed
`)

// redisRateLimiter shares buckets across API instances.
type redisRateLimiter struct {
	client    redis.UniversalClient
	prefix    string
	perSecond float64
	capacity  int
	clock     func() time.Time
}

// NewRedisRateLimiter allows perMinute requests per key across every instance sharing client.
func NewRedisRateLimiter(client redis.UniversalClient, scope string, perMinute int) RateLimiter {
	if client == nil || perMinute <= 0 {
		return nil
	}
	return &redisRateLimiter{
		client:    client,
		prefix:    "orderops:ratelimit:" + strings.TrimSpace(scope) + ":",
		perSecond: float64(perMinute) / 60.0,
		capacity:  perMinute,
		clock:     time.Now,
	}
}

func (l *redisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(l.clock().UnixMicro()) / 1e6
	res, err := redisTokenBucket.Run(ctx, l.client, []string{l.prefix + normaliseLimiterKey(key)}, l.perSecond, l.capacity, now).Int64()
	if err != nil {
		return false, fmt.Errorf("redis rate limiter: %w", err)
	}
	return res == 1, nil
}

// rateLimitMiddleware rejects requests over the per-actor budget with 429. Limiter errors fail open.
func rateLimitMiddleware(limiter rateLimiter, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			allowed, err := limiter.Allow(ctx, scope+":"+actorFromRequest(r))
			if err != nil {
				requestctx.Logger(ctx).Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
				httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const retryAfterSeconds = 60

func normaliseLimiterKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "anonymous"
	}
	return key
}
