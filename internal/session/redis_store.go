package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/relaydesk/internal/coord"
	"github.com/relaydesk/relaydesk/internal/domain"
)

const keyPrefix = "session:"

// RedisStore keeps sessions in the coordination store so any instance can
// serve any conversation. The Redis key TTL is the session TTL.
type RedisStore struct {
	coord *coord.Client
}

// NewRedisStore creates a session store on the coordination store.
func NewRedisStore(c *coord.Client) *RedisStore {
	return &RedisStore{coord: c}
}

func (s *RedisStore) Save(ctx context.Context, sess *domain.Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.coord.Redis().Set(ctx, keyPrefix+sess.ID, data, ttl).Err(); err != nil {
		s.coord.MarkUnavailable(err)
		return err
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	data, err := s.coord.Redis().Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.coord.MarkUnavailable(err)
		return nil, err
	}
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *RedisStore) Extend(ctx context.Context, id string, ttl time.Duration) error {
	ok, err := s.coord.Redis().Expire(ctx, keyPrefix+id, ttl).Result()
	if err != nil {
		s.coord.MarkUnavailable(err)
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.coord.Redis().Del(ctx, keyPrefix+id).Err(); err != nil {
		s.coord.MarkUnavailable(err)
		return err
	}
	return nil
}
