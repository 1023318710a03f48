package broadcast

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	pkgredis "github.com/prohmpiriya/eventhub-booking/pkg/redis"
	"go.uber.org/zap"
)

// RedisBroadcaster publishes to Redis channels event:<id> so every instance's hub receives it
type RedisBroadcaster struct {
	client *pkgredis.Client
}

// NewRedisBroadcaster creates a new Redis broadcaster
func NewRedisBroadcaster(client *pkgredis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

// Publish sends the message on the event's channel
func (b *RedisBroadcaster) Publish(ctx context.Context, msg *Message) error {
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, Channel(msg.EventID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", Channel(msg.EventID), err)
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the container
func (b *RedisBroadcaster) Close() error {
	return nil
}

// RunRedisRelay pattern-subscribes to event:* and feeds the hub until ctx is done
func RunRedisRelay(ctx context.Context, client *pkgredis.Client, hub *Hub) error {
	pubsub := client.PSubscribe(ctx, ChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s*: %w", ChannelPrefix, err)
	}

	log := logger.Get()
	log.Info("Redis broadcast relay started")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info("Redis broadcast relay stopped")
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			eventID, ok := EventIDFromChannel(m.Channel)
			if !ok {
				log.Debug("ignoring message on unexpected channel", zap.String("channel", m.Channel))
				continue
			}
			hub.Dispatch(eventID, []byte(m.Payload))
		}
	}
}

var _ Broadcaster = (*RedisBroadcaster)(nil)
