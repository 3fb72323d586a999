package agentpool

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/relaydesk/internal/coord"
	"github.com/relaydesk/relaydesk/internal/domain"
)

const (
	agentKeyPrefix = "pool:agent:"
	agentIndexKey  = "pool:agents"
)

// RedisStore keeps the availability pool in the coordination store so every
// instance sees the same agents. Update uses an optimistic WATCH/MULTI
// transaction on the agent key, retrying when a concurrent writer interferes.
type RedisStore struct {
	coord *coord.Client
}

// NewRedisStore creates a pool store on the coordination store.
func NewRedisStore(c *coord.Client) *RedisStore {
	return &RedisStore{coord: c}
}

const updateRetries = 5

func (s *RedisStore) Put(ctx context.Context, a *domain.Agent) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.coord.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, agentKeyPrefix+a.ID, data, 0)
		pipe.SAdd(ctx, agentIndexKey, a.ID)
		return nil
	})
	if err != nil {
		s.coord.MarkUnavailable(err)
		return err
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Agent, error) {
	data, err := s.coord.Redis().Get(ctx, agentKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.coord.MarkUnavailable(err)
		return nil, err
	}
	var a domain.Agent
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *RedisStore) Remove(ctx context.Context, id string) error {
	_, err := s.coord.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, agentKeyPrefix+id)
		pipe.SRem(ctx, agentIndexKey, id)
		return nil
	})
	if err != nil {
		s.coord.MarkUnavailable(err)
		return err
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]*domain.Agent, error) {
	ids, err := s.coord.Redis().SMembers(ctx, agentIndexKey).Result()
	if err != nil {
		s.coord.MarkUnavailable(err)
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = agentKeyPrefix + id
	}
	values, err := s.coord.Redis().MGet(ctx, keys...).Result()
	if err != nil {
		s.coord.MarkUnavailable(err)
		return nil, err
	}

	agents := make([]*domain.Agent, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // removed between SMEMBERS and MGET
		}
		var a domain.Agent
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, err
		}
		agents = append(agents, &a)
	}
	return agents, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, mutate func(*domain.Agent) error) (*domain.Agent, error) {
	key := agentKeyPrefix + id
	var updated *domain.Agent

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var a domain.Agent
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		if err := mutate(&a); err != nil {
			return err
		}

		next, err := json.Marshal(&a)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &a
		return nil
	}

	for i := 0; i < updateRetries; i++ {
		err := s.coord.Redis().Watch(ctx, txn, key)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, redis.TxFailedErr):
			continue // concurrent writer, retry
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoCapacity):
			// Domain rejection, not a transport failure.
			return nil, err
		default:
			s.coord.MarkUnavailable(err)
			return nil, err
		}
	}
	return nil, redis.TxFailedErr
}
