package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	keyPrefix     = "api_key:"
	keyIndex      = "api_keys_index"
	rateKeyPrefix = "rate_limit:"
)

// incrAndMaybeExpire atomically increments a rate-limit counter and sets
// its 1-second expiry on first creation, as a single server-side script so
// two concurrent callers can never both observe "new" and race the expiry.
var incrAndMaybeExpire = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("EXPIRE", KEYS[1], 1)
end
return count
`)

// RedisGate is the production credential gate: in-process cache in front
// of an external Redis store.
type RedisGate struct {
	client *redis.Client
	cache  *localCache
}

// NewRedisGate connects to addr and builds the in-process cache with the
// given TTL and bounded capacity.
func NewRedisGate(addr, password string, db int, cacheTTL time.Duration, cacheCapacity int) (*RedisGate, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	cache, err := newLocalCache(cacheTTL, cacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("build credential cache: %w", err)
	}

	return &RedisGate{client: client, cache: cache}, nil
}

// Close releases the underlying Redis client.
func (g *RedisGate) Close() error {
	return g.client.Close()
}

// Validate implements the Gate contract's three-step algorithm: cache
// probe, external fetch, rate-limit check.
func (g *RedisGate) Validate(ctx context.Context, key string) (*KeyInfo, Verdict, error) {
	info, tombstoned, cached := g.lookupCache(key)
	if tombstoned {
		return nil, Unknown, nil
	}

	if !cached {
		fetched, found, err := g.fetch(ctx, key)
		if err != nil {
			return nil, Unknown, err
		}
		if !found {
			g.cache.setTombstone(key)
			return nil, Unknown, nil
		}
		g.cache.setInfo(key, fetched)
		info = fetched
	}

	if info.RateLimit == 0 {
		return info, Valid, nil
	}

	count, err := g.incrementRateLimit(ctx, key)
	if err != nil {
		return nil, Unknown, err
	}
	if count > info.RateLimit {
		return info, RateLimited, nil
	}
	return info, Valid, nil
}

func (g *RedisGate) lookupCache(key string) (info *KeyInfo, tombstoned bool, cached bool) {
	entry, ok := g.cache.get(key)
	if !ok {
		return nil, false, false
	}
	if entry.tombstone {
		return nil, true, true
	}
	return entry.info, false, true
}

// fetch reads api_key:<key> from Redis. found=false covers both "absent"
// and "active=false".
func (g *RedisGate) fetch(ctx context.Context, key string) (*KeyInfo, bool, error) {
	redisKey := keyPrefix + key
	vals, err := g.client.HGetAll(ctx, redisKey).Result()
	if err != nil {
		return nil, false, fmt.Errorf("fetch credential %q: %w", key, err)
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	if active, ok := vals["active"]; ok && active == "false" {
		return nil, false, nil
	}

	info := &KeyInfo{Owner: vals["owner"]}
	if rl, ok := vals["rate_limit"]; ok {
		var parsed uint64
		if _, err := fmt.Sscanf(rl, "%d", &parsed); err != nil {
			return nil, false, fmt.Errorf("parse rate_limit for %q: %w", key, err)
		}
		info.RateLimit = parsed
	}
	return info, true, nil
}

// incrementRateLimit runs the atomic INCR+EXPIRE script against
// rate_limit:<key>.
func (g *RedisGate) incrementRateLimit(ctx context.Context, key string) (uint64, error) {
	rateKey := rateKeyPrefix + key
	result, err := incrAndMaybeExpire.Run(ctx, g.client, []string{rateKey}).Int64()
	if err != nil {
		return 0, fmt.Errorf("rate limit script: %w", err)
	}
	return uint64(result), nil
}
