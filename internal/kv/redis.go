// README: Redis-backed Store; Update uses WATCH/MULTI optimistic transactions.
package kv

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

const maxUpdateRetries = 16

type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore namespaces every key under prefix (e.g. "ridesync:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.redis.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.redis.Set(ctx, s.key(key), value, 0).Err()
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	return s.redis.Del(ctx, s.key(key)).Err()
}

func (s *RedisStore) MultiRemove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return s.redis.Del(ctx, full...).Err()
}

func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		batch, next, err := s.redis.Scan(ctx, cursor, s.prefix+"*", 256).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			out = append(out, strings.TrimPrefix(k, s.prefix))
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	full := s.key(key)
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, full).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		next, err := fn(cur, err == nil)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, full, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.redis.Watch(ctx, txf, full)
		if errors.Is(err, ErrSkipWrite) {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}
