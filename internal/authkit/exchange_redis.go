package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisExchangeStore implements ExchangeStore over a Redis server. Expiry is
// delegated to Redis key TTLs, and GetDelete maps to the atomic GETDEL command.
type RedisExchangeStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// RedisConfig holds connection settings for the exchange store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces all keys, e.g. "authbridge".
	KeyPrefix string
}

// NewRedisExchangeStore connects to Redis and verifies the connection.
func NewRedisExchangeStore(ctx context.Context, configuration RedisConfig) (*RedisExchangeStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     configuration.Addr,
		Password: configuration.Password,
		DB:       configuration.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("exchange_store.redis.ping: %w", err)
	}
	return &RedisExchangeStore{
		client:    client,
		keyPrefix: configuration.KeyPrefix,
	}, nil
}

// NewRedisExchangeStoreWithClient wraps a pre-configured client. Useful for
// testing with miniredis.
func NewRedisExchangeStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisExchangeStore {
	return &RedisExchangeStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Put stores the value with the given TTL, replacing any prior entry.
func (store *RedisExchangeStore) Put(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := store.client.Set(ctx, store.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("exchange_store.redis.put: %w", err)
	}
	return nil
}

// Get returns the stored value, or ErrExchangeKeyNotFound when absent or expired.
func (store *RedisExchangeStore) Get(ctx context.Context, key string) (string, error) {
	value, err := store.client.Get(ctx, store.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrExchangeKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("exchange_store.redis.get: %w", err)
	}
	return value, nil
}

// Delete removes the key; deleting an absent key is not an error.
func (store *RedisExchangeStore) Delete(ctx context.Context, key string) error {
	if err := store.client.Del(ctx, store.key(key)).Err(); err != nil {
		return fmt.Errorf("exchange_store.redis.delete: %w", err)
	}
	return nil
}

// GetDelete atomically returns and removes the value via GETDEL, guaranteeing
// at most one successful redemption per key.
func (store *RedisExchangeStore) GetDelete(ctx context.Context, key string) (string, error) {
	value, err := store.client.GetDel(ctx, store.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrExchangeKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("exchange_store.redis.getdel: %w", err)
	}
	return value, nil
}

// Ping checks connectivity for health probes.
func (store *RedisExchangeStore) Ping(ctx context.Context) error {
	return store.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (store *RedisExchangeStore) Close() error {
	return store.client.Close()
}

func (store *RedisExchangeStore) key(key string) string {
	if store.keyPrefix == "" {
		return key
	}
	return store.keyPrefix + ":" + key
}
