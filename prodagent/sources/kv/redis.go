package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"prodagent/prodagent/utils/apperr"
)

// RedisStore is the server-side session store. Keys never expire; session
// identity lives as long as the storage does.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "prodagent:session:", timeout: 2 * time.Second}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.PersistenceUnavailable("kv.RedisStore.Get", err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return apperr.PersistenceUnavailable("kv.RedisStore.Set", err)
	}
	return nil
}
