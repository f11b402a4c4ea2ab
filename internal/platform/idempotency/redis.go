package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "orderops:idempotency:"

// beginScript claims KEYS[1] with ARGV[1] for ARGV[2] milliseconds, or returns the entry already there.
var beginScript = redis.NewScript(`
local existing = redis.call("GET", KEYS[1])
if existing then
    return existing
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return false
`)

// abortScript deletes KEYS[1] when its fingerprint is ARGV[1]; -1 signals a foreign owner.
var abortScript = redis.NewScript(`
local existing = redis.call("GET", KEYS[1])
if not existing then
    return 0
end
if cjson.decode(existing)["fingerprint"] ~= ARGV[1] then
    return -1
end
redis.call("DEL", KEYS[1])
return 1
`)

// RedisStore shares entries across replicas. Expiry rides on Redis key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption customises RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *RedisStore) Begin(ctx context.Context, key, fingerprint string, ttl time.Duration) (Entry, Outcome, error) {
	ttl = ttlOrDefault(ttl)
	claim := Entry{Fingerprint: fingerprint, ExpiresAt: time.Now().UTC().Add(ttl)}
	payload, err := json.Marshal(claim)
	if err != nil {
		return Entry{}, InFlight, fmt.Errorf("idempotency: encode entry: %w", err)
	}

	res, err := beginScript.Run(ctx, s.client, []string{s.key(key)}, payload, ttl.Milliseconds()).Result()
	if errors.Is(err, redis.Nil) {
		return claim, Fresh, nil
	}
	if err != nil {
		return Entry{}, InFlight, fmt.Errorf("idempotency: redis begin: %w", err)
	}
	raw, ok := res.(string)
	if !ok {
		return Entry{}, InFlight, fmt.Errorf("idempotency: unexpected redis reply %T", res)
	}
	var existing Entry
	if err := json.Unmarshal([]byte(raw), &existing); err != nil {
		return Entry{}, InFlight, fmt.Errorf("idempotency: decode entry: %w", err)
	}
	outcome, err := outcomeOf(existing, fingerprint)
	return existing, outcome, err
}

// Finish overwrites the claim under WATCH so a concurrent foreign claim is never clobbered.
func (s *RedisStore) Finish(ctx context.Context, key, fingerprint string, resp Captured, ttl time.Duration) error {
	ttl = ttlOrDefault(ttl)
	redisKey := s.key(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, redisKey).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("idempotency: redis load: %w", err)
		}
		if err == nil {
			var current Entry
			if err := json.Unmarshal(raw, &current); err != nil {
				return fmt.Errorf("idempotency: decode entry: %w", err)
			}
			if current.Fingerprint != fingerprint {
				return ErrKeyReused
			}
		}

		captured := replayable(resp)
		payload, err := json.Marshal(Entry{Fingerprint: fingerprint, Response: &captured, ExpiresAt: time.Now().UTC().Add(ttl)})
		if err != nil {
			return fmt.Errorf("idempotency: encode entry: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, ttl)
			return nil
		})
		return err
	}, redisKey)
}

func (s *RedisStore) Abort(ctx context.Context, key, fingerprint string) error {
	res, err := abortScript.Run(ctx, s.client, []string{s.key(key)}, fingerprint).Int()
	if err != nil {
		return fmt.Errorf("idempotency: redis abort: %w", err)
	}
	if res < 0 {
		return ErrKeyReused
	}
	return nil
}

// Sweep is a no-op; Redis expires keys itself.
func (s *RedisStore) Sweep(context.Context, int) (int, error) {
	return 0, nil
}

// Ping backs the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(key string) string {
	return s.prefix + digest([]byte(key))
}
