package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua script for safe lock release (only owner can release)
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// LockStore implements lock.Store on top of Redis.
type LockStore struct {
	client redis.UniversalClient
}

func NewLockStore(client redis.UniversalClient) *LockStore {
	return &LockStore{client: client}
}

// SetIfAbsent runs SET key value NX PX ttl.
func (s *LockStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

func (s *LockStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read lock %s: %w", key, err)
	}
	return v, true, nil
}

// CompareAndDelete deletes key atomically if it still holds value.
func (s *LockStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	result, err := releaseLockScript.Run(ctx, s.client, []string{key}, value).Result()
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	n, ok := result.(int64)
	return ok && n == 1, nil
}
