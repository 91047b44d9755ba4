package draft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSlot implements Slot on a Redis key, for builders that run on hosts
// without durable local state.
type RedisSlot struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisSlot connects to redisURL and verifies the connection.
func NewRedisSlot(ctx context.Context, redisURL, key string, ttl time.Duration) (*RedisSlot, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisSlotWithClient(client, key, ttl), nil
}

// NewRedisSlotWithClient wraps an existing client. A zero ttl keeps the
// draft until it is cleared.
func NewRedisSlotWithClient(client *redis.Client, key string, ttl time.Duration) *RedisSlot {
	if key == "" {
		key = DefaultKey
	}
	return &RedisSlot{client: client, key: "draft:" + key, ttl: ttl}
}

func (s *RedisSlot) Read(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read draft: %w", err)
	}
	return data, nil
}

func (s *RedisSlot) Write(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("write draft: %w", err)
	}
	return nil
}

func (s *RedisSlot) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisSlot) Close() error {
	return s.client.Close()
}
