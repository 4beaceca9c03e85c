package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter admits or rejects one request for a caller key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// tokenBucketScript refills at rate tokens/s up to burst and takes one token.
// Time is in milliseconds so sub-second refills are not lost.
var tokenBucketScript = redis.NewScript(`
local tokens_key = KEYS[1] .. ":tokens"
local ts_key = KEYS[1] .. ":ts"
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local tokens = tonumber(redis.call("get", tokens_key) or burst)
local last = tonumber(redis.call("get", ts_key) or now)

local elapsed = math.max(0, now - last)
tokens = math.min(burst, tokens + elapsed * rate / 1000)

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call("set", tokens_key, tokens, "PX", ttl)
redis.call("set", ts_key, now, "PX", ttl)
return allowed
`)

// TokenBucketRateLimiter keeps one bucket per key in Redis, shared by every
// instance.
type TokenBucketRateLimiter struct {
	client    RedisClient
	keyPrefix string
	rate      float64
	burst     int
}

func NewTokenBucketRateLimiter(client RedisClient, keyPrefix string, ratePerSecond float64, burst int) *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		rate:      ratePerSecond,
		burst:     burst,
	}
}

func (l *TokenBucketRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.client == nil {
		return false, ErrRedisNotAvailable
	}

	// a full bucket needs burst/rate seconds to refill; keep state that long
	ttl := int64(float64(l.burst)/l.rate*1000) + 1000
	res, err := tokenBucketScript.Run(ctx, l.client,
		[]string{fmt.Sprintf("rate_limit:%s:%s", l.keyPrefix, key)},
		time.Now().UnixMilli(), l.rate, l.burst, ttl,
	).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// LocalRateLimiter keeps a golang.org/x/time/rate bucket per key in memory.
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*localEntry
	rate     rate.Limit
	burst    int
	idle     time.Duration
	lastGC   time.Time
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLocalRateLimiter(ratePerSecond float64, burst int) *LocalRateLimiter {
	return &LocalRateLimiter{
		limiters: make(map[string]*localEntry),
		rate:     rate.Limit(ratePerSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		lastGC:   time.Now(),
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > l.idle {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > l.idle {
				delete(l.limiters, k)
			}
		}
		l.lastGC = now
	}

	e, ok := l.limiters[key]
	if !ok {
		e = &localEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1), nil
}

// NewRateLimiter picks the Redis bucket when a client is available.
func NewRateLimiter(client *redis.Client, keyPrefix string, ratePerSecond float64, burst int) RateLimiter {
	if client == nil {
		return NewLocalRateLimiter(ratePerSecond, burst)
	}
	return NewTokenBucketRateLimiter(client, keyPrefix, ratePerSecond, burst)
}
