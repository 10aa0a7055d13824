package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) Acquire(ctx context.Context, reporter, reportID string) (bool, error) {
	return r.client.SetNX(ctx, redisKey(reporter, reportID), 1, r.ttl).Result()
}

func (r *Redis) Release(ctx context.Context, reporter, reportID string) error {
	return r.client.Del(ctx, redisKey(reporter, reportID)).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func redisKey(reporter, reportID string) string {
	return fmt.Sprintf("confirm:%s:%s", reporter, reportID)
}
