package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// nonceTTL bounds how long a nonce is remembered; Redis expires them on its own.
const nonceTTL = 24 * time.Hour

// RedisDB stores dashboard state in Redis under a key prefix so several dashboard
// instances can share one persisted view.
type RedisDB struct {
	client *redis.Client
	prefix string
}

// NewRedisDB connects to Redis and verifies the connection.
func NewRedisDB(ctx context.Context, address, password string, database int, prefix string) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        address,
		Password:    password,
		DB:          database,
		DialTimeout: 5 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisDB{client: client, prefix: prefix}, nil
}

// Client exposes the underlying client so the change relay can share the connection pool.
func (r *RedisDB) Client() *redis.Client {
	return r.client
}

func (r *RedisDB) key(k string) string {
	return r.prefix + k
}

func (r *RedisDB) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, true, nil
}

func (r *RedisDB) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// maxUpdateRetries bounds optimistic retries when another instance wins the race.
const maxUpdateRetries = 10

// Update applies fn under WATCH/MULTI, retrying when another client modifies the key
// between the read and the write.
func (r *RedisDB) Update(ctx context.Context, key string, fn UpdateFunc) (bool, error) {
	k := r.key(key)
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		written := false
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, k).Result()
			exists := true
			if errors.Is(err, redis.Nil) {
				exists, err = false, nil
			}
			if err != nil {
				return err
			}

			next, write, err := fn(current, exists)
			if err != nil || !write {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, next, 0)
				return nil
			})
			if err == nil {
				written = true
			}
			return err
		}, k)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to update key %s: %w", key, err)
		}
		return written, nil
	}
	return false, fmt.Errorf("failed to update key %s: too much contention", key)
}

func (r *RedisDB) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (r *RedisDB) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisDB) HasSeenNonce(nonce string) (bool, error) {
	n, err := r.client.Exists(context.Background(), r.key("nonce:"+nonce)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check nonce: %w", err)
	}
	return n > 0, nil
}

func (r *RedisDB) SaveNonce(nonce string) error {
	if err := r.client.SetNX(context.Background(), r.key("nonce:"+nonce), "1", nonceTTL).Err(); err != nil {
		return fmt.Errorf("failed to save nonce: %w", err)
	}
	return nil
}

// CleanupOldNonces is a no-op: nonce keys carry their own TTL.
func (r *RedisDB) CleanupOldNonces(time.Time) error {
	return nil
}

func (r *RedisDB) Close() error {
	return r.client.Close()
}
