package broadcast

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func lastKey(channel string) string {
	return "broadcast:last:" + channel
}

// RedisPublisher publishes on redis pub/sub and keeps the last payload of
// each channel under a key for late readers.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps an open redis client
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish stores and publishes payload in one round trip
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal broadcast payload")
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, lastKey(channel), data, 0)
		pipe.Publish(ctx, channel, data)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to publish on %s", channel)
	}
	return nil
}

// Last reads the stored payload of channel
func (p *RedisPublisher) Last(ctx context.Context, channel string) ([]byte, error) {
	data, err := p.client.Get(ctx, lastKey(channel)).Bytes()
	if err == redis.Nil {
		return nil, ErrNoValue
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read last value of %s", channel)
	}
	return data, nil
}

// Relay forwards redis pub/sub messages on channels to hub until ctx is
// cancelled. The hub is seeded with each channel's stored payload first.
func Relay(ctx context.Context, client *redis.Client, hub *Hub, channels ...string) error {
	pub := NewRedisPublisher(client)
	for _, channel := range channels {
		if data, err := pub.Last(ctx, channel); err == nil {
			hub.Seed(channel, data)
		}
	}

	sub := client.Subscribe(ctx, channels...)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "failed to subscribe to broadcast channels")
	}
	log.Info().Strs("channels", channels).Msg("Relaying redis broadcasts to websocket hub")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			hub.PublishRaw(msg.Channel, []byte(msg.Payload))
		}
	}
}
