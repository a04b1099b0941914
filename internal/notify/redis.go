package notify

import (
	"context"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"sentinel/internal/config"
)

// StreamClient is the subset of the Redis client the stream channel uses.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisChannel appends push notifications to a Redis stream consumed by the
// mobile gateway.
type RedisChannel struct {
	client StreamClient
	stream string
	maxLen int64
	closer func() error
}

// NewRedisChannel connects to the configured Redis server.
func NewRedisChannel(cfg config.Redis) *RedisChannel {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ch := NewRedisStreamChannel(client, cfg.Stream, cfg.MaxLen)
	ch.closer = client.Close
	return ch
}

// NewRedisStreamChannel wraps an existing client.
func NewRedisStreamChannel(client StreamClient, stream string, maxLen int64) *RedisChannel {
	stream = strings.TrimSpace(stream)
	if stream == "" {
		stream = "sentinel:push"
	}
	return &RedisChannel{client: client, stream: stream, maxLen: maxLen}
}

func (r *RedisChannel) Name() string { return config.BackendRedis }

func (r *RedisChannel) Deliver(ctx context.Context, recipient string, payload Payload) error {
	values := map[string]any{
		"task_id":   payload.TaskID,
		"recipient": recipient,
		"event":     payload.Event,
		"subject":   payload.Subject,
		"body":      payload.Body,
		"priority":  strconv.Itoa(int(payload.Priority)),
	}
	for key, value := range payload.Data {
		values["data."+key] = value
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: values,
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return deliveryError("redis", "xadd "+r.stream, err)
	}
	return nil
}

// Close releases the connection pool when the channel owns it.
func (r *RedisChannel) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
