package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/relaydesk/internal/coord"
)

// incrScript atomically increments the window counter and stamps the TTL on
// first touch, so the counter resets exactly at the window boundary no matter
// how many instances race on it. Returns {count, remaining-ms}.
var incrScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	local ttl = redis.call("PTTL", KEYS[1])
	return {current, ttl}
`)

// RedisCounter implements Counter on the shared coordination store.
type RedisCounter struct {
	coord *coord.Client
}

// NewRedisCounter creates a counter backed by Redis.
func NewRedisCounter(c *coord.Client) *RedisCounter {
	return &RedisCounter{coord: c}
}

// Incr runs the atomic increment script for one window.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	vals, err := incrScript.Run(ctx, c.coord.Redis(), []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		c.coord.MarkUnavailable(err)
		return 0, 0, err
	}
	count := vals[0]
	reset := time.Duration(vals[1]) * time.Millisecond
	if reset < 0 {
		reset = window
	}
	return count, reset, nil
}
