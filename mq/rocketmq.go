package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/apache/rocketmq-client-go/v2/rlog"
)

const DefaultTopic = "vote_events"

// RocketMQPublisher sends events synchronously. Events of one poll share a
// sharding key so they land on the same queue in order.
type RocketMQPublisher struct {
	producer rocketmq.Producer
	topic    string
}

func NewRocketMQPublisher(nameServers []string, group, topic string) (*RocketMQPublisher, error) {
	if len(nameServers) == 0 {
		return nil, fmt.Errorf("rocketmq: no name servers configured")
	}
	if group == "" {
		group = "vote_producer"
	}
	if topic == "" {
		topic = DefaultTopic
	}
	rlog.SetLogLevel("warn")

	p, err := rocketmq.NewProducer(
		producer.WithNameServer(nameServers),
		producer.WithGroupName(group),
		producer.WithRetry(2),
		producer.WithSendMsgTimeout(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create rocketmq producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("start rocketmq producer: %w", err)
	}
	return &RocketMQPublisher{producer: p, topic: topic}, nil
}

func (p *RocketMQPublisher) Publish(ctx context.Context, ev VoteEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal vote event: %w", err)
	}

	msg := primitive.NewMessage(p.topic, body).
		WithTag(ev.Type).
		WithKeys([]string{ev.EventID}).
		WithShardingKey(strconv.FormatUint(uint64(ev.PollID), 10))

	if _, err := p.producer.SendSync(ctx, msg); err != nil {
		return fmt.Errorf("send vote event %s: %w", ev.EventID, err)
	}
	return nil
}

func (p *RocketMQPublisher) Name() string { return "rocketmq" }

func (p *RocketMQPublisher) Close() error {
	return p.producer.Shutdown()
}
