package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindow is a fixed one-minute window counter kept in Redis.
type RedisWindow struct {
	client *redis.Client
	prefix string
	window time.Duration
	now    func() time.Time
}

// NewRedisClient parses a redis:// URL and checks the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

func NewRedisWindow(client *redis.Client, prefix string) *RedisWindow {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisWindow{client: client, prefix: prefix, window: time.Minute, now: time.Now}
}

func (rw *RedisWindow) Allow(ctx context.Context, key string, limit int) (bool, error) {
	slot := rw.now().UnixNano() / int64(rw.window)
	redisKey := rw.prefix + ":" + key + ":" + strconv.FormatInt(slot, 10)

	var incr *redis.IntCmd
	_, err := rw.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, rw.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("count request: %w", err)
	}

	return incr.Val() <= int64(limit), nil
}
