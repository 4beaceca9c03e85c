package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const (
	pollListKey   = "polls:list"
	pollKeyPrefix = "polls:view:"
	pollGenKey    = "polls:gen"

	// expiry is spread by up to this fraction so entries don't expire together
	jitterFactor = 0.2
)

// PollCache stores serialized poll views. Values are opaque JSON documents;
// a miss is reported as ErrKeyNotFound.
//
// Every Invalidate bumps a generation. Readers take the generation before
// loading from the database and hand it to SetList/SetPoll, which drop the
// write when an invalidation happened in between.
type PollCache interface {
	Generation(ctx context.Context) (int64, error)
	GetList(ctx context.Context) ([]byte, error)
	SetList(ctx context.Context, gen int64, data []byte) error
	GetPoll(ctx context.Context, id uint) ([]byte, error)
	SetPoll(ctx context.Context, id uint, gen int64, data []byte) error
	// Invalidate drops the list and the given polls.
	Invalidate(ctx context.Context, ids ...uint) error
}

func pollKey(id uint) string {
	return fmt.Sprintf("%s%d", pollKeyPrefix, id)
}

func withJitter(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Float64()*jitterFactor*float64(ttl))
}

// setIfGenerationScript writes KEYS[2] only while KEYS[1] still holds ARGV[1].
var setIfGenerationScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[1]) or "0"
if gen ~= ARGV[1] then
  return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("SET", KEYS[2], ARGV[2], "PX", ttl)
else
  redis.call("SET", KEYS[2], ARGV[2])
end
return 1
`)

// RedisPollCache keeps poll views in Redis so every instance shares them.
type RedisPollCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedisPollCache(client RedisClient, ttl time.Duration) *RedisPollCache {
	return &RedisPollCache{client: client, ttl: ttl}
}

func (c *RedisPollCache) get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	return data, err
}

func (c *RedisPollCache) set(ctx context.Context, key string, gen int64, data []byte) error {
	ttl := withJitter(c.ttl).Milliseconds()
	return setIfGenerationScript.Run(ctx, c.client, []string{pollGenKey, key}, gen, data, ttl).Err()
}

func (c *RedisPollCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, pollGenKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisPollCache) GetList(ctx context.Context) ([]byte, error) {
	return c.get(ctx, pollListKey)
}

func (c *RedisPollCache) SetList(ctx context.Context, gen int64, data []byte) error {
	return c.set(ctx, pollListKey, gen, data)
}

func (c *RedisPollCache) GetPoll(ctx context.Context, id uint) ([]byte, error) {
	return c.get(ctx, pollKey(id))
}

func (c *RedisPollCache) SetPoll(ctx context.Context, id uint, gen int64, data []byte) error {
	return c.set(ctx, pollKey(id), gen, data)
}

// Invalidate bumps the generation before deleting, so a reader that loaded
// before the bump can no longer write its copy back.
func (c *RedisPollCache) Invalidate(ctx context.Context, ids ...uint) error {
	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, pollListKey)
	for _, id := range ids {
		keys = append(keys, pollKey(id))
	}
	pipe := c.client.Pipeline()
	pipe.Incr(ctx, pollGenKey)
	pipe.Del(ctx, keys...)
	_, err := pipe.Exec(ctx)
	return err
}

// MemoryPollCache is the single-instance fallback used without Redis.
type MemoryPollCache struct {
	store *gocache.Cache
	ttl   time.Duration

	// guards gen and makes the generation check and the write one step
	mu  sync.Mutex
	gen int64
}

func NewMemoryPollCache(ttl time.Duration) *MemoryPollCache {
	cleanup := 2 * ttl
	if cleanup < time.Second {
		cleanup = time.Second
	}
	return &MemoryPollCache{store: gocache.New(ttl, cleanup), ttl: ttl}
}

func (c *MemoryPollCache) get(key string) ([]byte, error) {
	v, ok := c.store.Get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v.([]byte), nil
}

func (c *MemoryPollCache) set(key string, gen int64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.store.Set(key, data, withJitter(c.ttl))
}

func (c *MemoryPollCache) Generation(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

func (c *MemoryPollCache) GetList(context.Context) ([]byte, error) {
	return c.get(pollListKey)
}

func (c *MemoryPollCache) SetList(_ context.Context, gen int64, data []byte) error {
	c.set(pollListKey, gen, data)
	return nil
}

func (c *MemoryPollCache) GetPoll(_ context.Context, id uint) ([]byte, error) {
	return c.get(pollKey(id))
}

func (c *MemoryPollCache) SetPoll(_ context.Context, id uint, gen int64, data []byte) error {
	c.set(pollKey(id), gen, data)
	return nil
}

func (c *MemoryPollCache) Invalidate(_ context.Context, ids ...uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.store.Delete(pollListKey)
	for _, id := range ids {
		c.store.Delete(pollKey(id))
	}
	return nil
}

// NewPollCache picks Redis when a client is available.
func NewPollCache(client *redis.Client, ttl time.Duration) PollCache {
	if client == nil {
		return NewMemoryPollCache(ttl)
	}
	return NewRedisPollCache(client, ttl)
}
