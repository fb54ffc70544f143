package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// connectionTimeout is the timeout for verifying the Redis connection.
const connectionTimeout = 5 * time.Second

// casMaxRetries bounds optimistic retries of the compare-and-delete
// transaction when the watched key changes underneath it.
const casMaxRetries = 3

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// NewRedisClient creates a Redis client and verifies the connection.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// RedisStore implements OptionStore on top of a Redis client.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore. All keys are namespaced with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Get returns the value for key and whether it exists.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores value under key with an optional TTL.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}

	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SetNX stores value only if key does not exist. This is the atomic
// compare-and-set primitive lock acquisition depends on.
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// CompareAndDelete removes key only when its value matches expect, using a
// WATCH transaction so a concurrent writer cannot race the delete.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, expect string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	full := s.key(key)
	deleted := false

	txn := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, full).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if val != expect {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, full)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}

	for i := 0; i < casMaxRetries; i++ {
		err := s.client.Watch(ctx, txn, full)
		if errors.Is(err, redis.TxFailedErr) {
			deleted = false
			continue
		}
		if err != nil {
			return false, fmt.Errorf("compare-and-delete %s: %w", key, err)
		}
		return deleted, nil
	}

	return false, fmt.Errorf("compare-and-delete %s: %w", key, redis.TxFailedErr)
}

// Increment atomically increments the counter at key.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, s.key(key))
	if ttl > 0 {
		pipe.Expire(ctx, s.key(key), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}
	return incr.Val(), nil
}
