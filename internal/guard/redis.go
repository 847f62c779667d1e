package guard

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore backs the guard with a shared Redis instance so replay and
// rate-limit state is visible across server instances and survives process
// restarts. Entries carry the retention window as their TTL, so Redis
// expires them natively and Sweep is a no-op.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the given Redis address and verifies the
// connection before returning.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Get returns the recorded timestamp for key.
func (r *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	at, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return at, true, nil
}

// Set records the timestamp for key with the retention window as TTL.
func (r *RedisStore) Set(ctx context.Context, key string, at int64) error {
	return r.client.Set(ctx, key, strconv.FormatInt(at, 10), RetentionWindow).Err()
}

// SetNX records the timestamp for key only if key is absent, with the
// retention window as TTL. SETNX executes atomically on the Redis server,
// so the claim holds across instances.
func (r *RedisStore) SetNX(ctx context.Context, key string, at int64) (bool, error) {
	return r.client.SetNX(ctx, key, strconv.FormatInt(at, 10), RetentionWindow).Result()
}

// Delete removes key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Sweep is a no-op: Redis expires entries via their TTL.
func (r *RedisStore) Sweep(context.Context, int64) error {
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
