package mq

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polls-backend/config"
)

func TestNewVoteEvent_HidesAnonymousVoter(t *testing.T) {
	public := NewVoteEvent(EventVoteCast, 7, "A", "", "u1", false, false)
	assert.Equal(t, "u1", public.UserID)
	assert.NotEmpty(t, public.EventID)

	anon := NewVoteEvent(EventVoteCast, 7, "B", "A", "u1", true, false)
	assert.Empty(t, anon.UserID)
	assert.NotEqual(t, public.EventID, anon.EventID)

	body, err := json.Marshal(anon)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "user_id")
	assert.Contains(t, string(body), `"previous_choice":"A"`)

	// a public vote replacing an anonymous one must not expose the old choice
	switched := NewVoteEvent(EventVoteCast, 7, "B", "A", "u1", false, true)
	assert.Empty(t, switched.UserID)
	assert.False(t, switched.Anonymous)
}

func TestRedisPublisher_CapsList(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p := NewRedisPublisher(client, "", 2)
	ctx := context.Background()
	for _, choice := range []string{"A", "B", "C"} {
		require.NoError(t, p.Publish(ctx, NewVoteEvent(EventVoteCast, 1, choice, "", "u1", false, false)))
	}

	items, err := mr.List(DefaultRedisList)
	require.NoError(t, err)
	require.Len(t, items, 2)

	var newest VoteEvent
	require.NoError(t, json.Unmarshal([]byte(items[0]), &newest))
	assert.Equal(t, "C", newest.ChoiceName)
	assert.Equal(t, EventVoteCast, newest.Type)
}

func TestNewPublisher_Fallbacks(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	assert.IsType(t, NoopPublisher{}, NewPublisher(config.MQConfig{Driver: "none"}, nil, logger))
	assert.IsType(t, NoopPublisher{}, NewPublisher(config.MQConfig{Driver: "redis"}, nil, logger))
	// no name servers: rocketmq cannot start and there is no redis either
	assert.IsType(t, NoopPublisher{}, NewPublisher(config.MQConfig{Driver: "rocketmq"}, nil, logger))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p := NewPublisher(config.MQConfig{Driver: "rocketmq", RedisList: "events"}, client, logger)
	require.IsType(t, &RedisPublisher{}, p)
	assert.Equal(t, "redis", p.Name())
}
