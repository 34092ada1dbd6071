package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis publishes events as JSON on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

func NewRedis(ctx context.Context, url, channel string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if channel == "" {
		channel = "nilmbench:events"
	}
	return &Redis{client: client, channel: channel}, nil
}

func (r *Redis) Notify(ctx context.Context, e Event) error {
	data, err := e.Marshal()
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
