package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisList = "vote_events"

// RedisPublisher pushes events onto a capped Redis list. Consumers pop from
// the other end, so the list is read in publish order.
type RedisPublisher struct {
	client *redis.Client
	list   string
	maxLen int64
}

func NewRedisPublisher(client *redis.Client, list string, maxLen int64) *RedisPublisher {
	if list == "" {
		list = DefaultRedisList
	}
	return &RedisPublisher{client: client, list: list, maxLen: maxLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev VoteEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal vote event: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, p.list, body)
	if p.maxLen > 0 {
		pipe.LTrim(ctx, p.list, 0, p.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push vote event to %s: %w", p.list, err)
	}
	return nil
}

func (p *RedisPublisher) Name() string { return "redis" }

// Close leaves the shared client open; its owner closes it.
func (p *RedisPublisher) Close() error { return nil }
