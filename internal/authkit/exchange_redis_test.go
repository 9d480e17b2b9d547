package authkit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniredisStore(t *testing.T, keyPrefix string) (*RedisExchangeStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisExchangeStoreWithClient(client, keyPrefix), server
}

func TestRedisExchangeStorePutGetDelete(t *testing.T) {
	t.Parallel()

	store, _ := newMiniredisStore(t, "")
	ctx := context.Background()

	if err := store.Put(ctx, "key", "value", time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, getErr := store.Get(ctx, "key")
	if getErr != nil || value != "value" {
		t.Fatalf("expected stored value, got %q / %v", value, getErr)
	}

	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "key"); !errors.Is(err, ErrExchangeKeyNotFound) {
		t.Fatalf("expected ErrExchangeKeyNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("expected deleting an absent key to succeed, got %v", err)
	}
}

func TestRedisExchangeStoreHonorsTTL(t *testing.T) {
	t.Parallel()

	store, server := newMiniredisStore(t, "")
	ctx := context.Background()

	if err := store.Put(ctx, "key", "value", time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	server.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "key"); !errors.Is(err, ErrExchangeKeyNotFound) {
		t.Fatalf("expected expired entry to be absent, got %v", err)
	}
}

func TestRedisExchangeStoreGetDeleteIsOneShot(t *testing.T) {
	t.Parallel()

	store, _ := newMiniredisStore(t, "")
	ctx := context.Background()

	if err := store.Put(ctx, "key", "value", time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, firstErr := store.GetDelete(ctx, "key")
	if firstErr != nil || value != "value" {
		t.Fatalf("expected first GetDelete to return value, got %q / %v", value, firstErr)
	}
	if _, secondErr := store.GetDelete(ctx, "key"); !errors.Is(secondErr, ErrExchangeKeyNotFound) {
		t.Fatalf("expected second GetDelete to fail, got %v", secondErr)
	}
}

func TestRedisExchangeStoreAppliesKeyPrefix(t *testing.T) {
	t.Parallel()

	store, server := newMiniredisStore(t, "authbridge")
	ctx := context.Background()

	if err := store.Put(ctx, "key", "value", time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if !server.Exists("authbridge:key") {
		t.Fatalf("expected key to be stored under the prefix")
	}
	value, getErr := store.Get(ctx, "key")
	if getErr != nil || value != "value" {
		t.Fatalf("expected prefixed round trip, got %q / %v", value, getErr)
	}
}
