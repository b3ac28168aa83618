package patterns

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore хранит снимок строкой под фиксированным ключом. Для нескольких инстансов
// с общим счетчиком; последняя запись побеждает.
type RedisStore struct {
	rdb *redis.Client
	key string
}

func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	return &RedisStore{rdb: rdb, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (map[string]int, error) {
	raw, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load %s: %w", s.key, err)
	}
	return decodeSnapshot(raw)
}

func (s *RedisStore) Save(ctx context.Context, snapshot map[string]int) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: save %s: %w", s.key, err)
	}
	return nil
}
