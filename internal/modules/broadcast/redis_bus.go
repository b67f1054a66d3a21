// README: Cross-process event relay over Redis pub/sub.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const Channel = "ridesync:events"

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisBus publishes events to a Redis channel and relays events from other processes
// into the local Hub. Events this process published are not relayed back.
type RedisBus struct {
	client  *redis.Client
	channel string
	origin  string
	local   *Hub
	log     *slog.Logger
}

func NewRedisBus(client *redis.Client, local *Hub, log *slog.Logger) *RedisBus {
	return &RedisBus{
		client:  client,
		channel: Channel,
		origin:  uuid.NewString(),
		local:   local,
		log:     log.With("component", "redis_bus"),
	}
}

func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(envelope{Origin: b.origin, Event: e})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Run relays remote events until ctx is cancelled.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("invalid bus message", "err", err)
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			_ = b.local.Publish(ctx, env.Event)
		}
	}
}
