package mq

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"polls-backend/config"
)

// NewPublisher builds the configured publisher. RocketMQ falls back to the
// Redis list, and the Redis list falls back to dropping events, so a broker
// outage never blocks voting.
func NewPublisher(cfg config.MQConfig, client *redis.Client, logger *slog.Logger) Publisher {
	switch cfg.Driver {
	case "rocketmq":
		p, err := NewRocketMQPublisher(cfg.NameServers, cfg.Group, cfg.Topic)
		if err == nil {
			logger.Info("vote events go to rocketmq", "topic", p.topic)
			return p
		}
		logger.Warn("rocketmq unavailable, falling back", "error", err.Error())
		fallthrough
	case "redis":
		if client != nil {
			logger.Info("vote events go to redis list", "list", listName(cfg))
			return NewRedisPublisher(client, cfg.RedisList, cfg.MaxLen)
		}
		logger.Warn("redis unavailable, vote events are dropped")
	}
	return NoopPublisher{}
}

func listName(cfg config.MQConfig) string {
	if cfg.RedisList == "" {
		return DefaultRedisList
	}
	return cfg.RedisList
}
