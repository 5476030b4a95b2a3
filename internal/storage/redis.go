package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 8

// RedisStore implements Store on a redis client. Update uses WATCH/MULTI so
// concurrent read-modify-writes from several engine hosts never lose counts.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps client. A ttl of zero keeps keys until removed.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key Key, value []byte) error {
	if err := r.client.Set(ctx, string(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("storage: redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, key Key) error {
	if err := r.client.Del(ctx, string(key)).Err(); err != nil {
		return fmt.Errorf("storage: redis del %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) SetIfAbsent(ctx context.Context, key Key, value []byte) (bool, error) {
	ok, err := r.client.SetNX(ctx, string(key), value, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("storage: redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisStore) Update(ctx context.Context, key Key, fn UpdateFunc) error {
	k := string(key)
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		ok := true
		if errors.Is(err, redis.Nil) {
			ok, err = false, nil
		}
		if err != nil {
			return err
		}

		next, err := fn(cur, ok)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, k)
			} else {
				pipe.Set(ctx, k, next, r.ttl)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("storage: redis update %s: too much contention", key)
}
