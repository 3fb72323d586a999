package queue

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/relaydesk/internal/coord"
)

const keyPrefix = "queue:"

// RedisQueue implements Queue on Redis lists, shared across instances.
type RedisQueue struct {
	coord *coord.Client
}

// NewRedisQueue creates a queue backed by the coordination store.
func NewRedisQueue(c *coord.Client) *RedisQueue {
	return &RedisQueue{coord: c}
}

func (q *RedisQueue) Enqueue(ctx context.Context, name string, data []byte) error {
	if err := q.coord.Redis().RPush(ctx, keyPrefix+name, data).Err(); err != nil {
		q.coord.MarkUnavailable(err)
		return err
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, name string) ([]byte, error) {
	data, err := q.coord.Redis().LPop(ctx, keyPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		q.coord.MarkUnavailable(err)
		return nil, err
	}
	return data, nil
}

func (q *RedisQueue) Peek(ctx context.Context, name string) ([]byte, error) {
	data, err := q.coord.Redis().LIndex(ctx, keyPrefix+name, 0).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		q.coord.MarkUnavailable(err)
		return nil, err
	}
	return data, nil
}

func (q *RedisQueue) Size(ctx context.Context, name string) (int64, error) {
	n, err := q.coord.Redis().LLen(ctx, keyPrefix+name).Result()
	if err != nil {
		q.coord.MarkUnavailable(err)
		return 0, err
	}
	return n, nil
}

func (q *RedisQueue) Clear(ctx context.Context, name string) error {
	if err := q.coord.Redis().Del(ctx, keyPrefix+name).Err(); err != nil {
		q.coord.MarkUnavailable(err)
		return err
	}
	return nil
}
