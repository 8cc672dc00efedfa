package feed

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const relayChannel = "nwitter:feed"

// RedisRelay fans change events out to other instances through Redis
// pub/sub so their subscribers refetch too.
type RedisRelay struct {
	client   *redis.Client
	broker   *Broker
	instance string
	out      chan Event
	log      *zap.Logger
}

func NewRedisRelay(client *redis.Client, broker *Broker, log *zap.Logger) *RedisRelay {
	r := &RedisRelay{
		client:   client,
		broker:   broker,
		instance: uuid.NewString(),
		out:      make(chan Event, 256),
		log:      log,
	}
	broker.OnPublish(r.enqueue)
	return r
}

func (r *RedisRelay) enqueue(ev Event) {
	select {
	case r.out <- ev:
	default:
		r.log.Warn("feed_relay_dropped", zap.String("topic", ev.Topic))
	}
}

// Run forwards local events and delivers remote ones until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) {
	sub := r.client.Subscribe(ctx, relayChannel)
	defer sub.Close()
	remote := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.out:
			ev.Origin = r.instance
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := r.client.Publish(ctx, relayChannel, payload).Err(); err != nil {
				r.log.Warn("feed_relay_publish_failed", zap.String("topic", ev.Topic), zap.Error(err))
			}
		case msg, ok := <-remote:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.Topic == "" || ev.Origin == "" {
				r.log.Warn("feed_relay_bad_payload", zap.String("payload", msg.Payload))
				continue
			}
			if ev.Origin == r.instance {
				continue
			}
			r.broker.Deliver(ev)
		}
	}
}
