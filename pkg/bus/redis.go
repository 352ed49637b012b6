package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes notifications with PUBLISH on the subject channel.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects to the redis server named by rawURL and checks it with a
// PING.
func NewRedisPublisher(ctx context.Context, rawURL string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPublisher{client: client}, nil
}

func (r *RedisPublisher) Driver() string { return "redis" }

func (r *RedisPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	return r.client.Publish(ctx, subject, payload).Err()
}

// Subscribe pattern-subscribes and calls handler until ctx is done.
func (r *RedisPublisher) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	ps := r.client.PSubscribe(ctx, redisPattern(pattern))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}

	go func() {
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg.Channel, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

func (r *RedisPublisher) Close() error {
	return r.client.Close()
}

// redisPattern converts a subject pattern into a redis glob.
func redisPattern(pattern string) string {
	return strings.ReplaceAll(pattern, ">", "*")
}
