// Package redis maps QueueStore onto Redis lists and hashes.
package redis

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"

	"migrator/internal/domain/apperr"
	"migrator/internal/domain/repository"
	"migrator/internal/infrastructure/metrics"
)

type QueueStore struct {
	client goredis.UniversalClient
}

var _ repository.QueueStore = (*QueueStore)(nil)

func NewQueueStore(client goredis.UniversalClient) *QueueStore {
	return &QueueStore{client: client}
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int) (*QueueStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperr.NewStoreError("ping", addr, err)
	}
	return NewQueueStore(client), nil
}

func (s *QueueStore) ListPopFront(ctx context.Context, key string) (string, bool, error) {
	metrics.IncStoreOp("redis", "lpop")

	value, err := s.client.LPop(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.fail("lpop", key, err)
	}
	return value, true, nil
}

func (s *QueueStore) ListPushBack(ctx context.Context, key, value string) error {
	metrics.IncStoreOp("redis", "rpush")

	if err := s.client.RPush(ctx, key, value).Err(); err != nil {
		return s.fail("rpush", key, err)
	}
	return nil
}

func (s *QueueStore) HashSet(ctx context.Context, key, field, value string) (int64, error) {
	metrics.IncStoreOp("redis", "hset")

	created, err := s.client.HSet(ctx, key, field, value).Result()
	if err != nil {
		return 0, s.fail("hset", key, err)
	}
	return created, nil
}

func (s *QueueStore) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	metrics.IncStoreOp("redis", "hget")

	value, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.fail("hget", key, err)
	}
	return value, true, nil
}

func (s *QueueStore) HashDelete(ctx context.Context, key, field string) error {
	metrics.IncStoreOp("redis", "hdel")

	if err := s.client.HDel(ctx, key, field).Err(); err != nil {
		return s.fail("hdel", key, err)
	}
	return nil
}

func (s *QueueStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	metrics.IncStoreOp("redis", "hgetall")

	all, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, s.fail("hgetall", key, err)
	}
	return all, nil
}

func (s *QueueStore) HashValues(ctx context.Context, key string) ([]string, error) {
	metrics.IncStoreOp("redis", "hvals")

	values, err := s.client.HVals(ctx, key).Result()
	if err != nil {
		return nil, s.fail("hvals", key, err)
	}
	return values, nil
}

func (s *QueueStore) DeleteKey(ctx context.Context, key string) error {
	metrics.IncStoreOp("redis", "del")

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return s.fail("del", key, err)
	}
	return nil
}

func (s *QueueStore) Close(context.Context) error {
	return s.client.Close()
}

func (s *QueueStore) fail(op, key string, err error) error {
	metrics.IncError("redis_queue_store", op+"_error")
	return apperr.NewStoreError(op, key, err)
}
