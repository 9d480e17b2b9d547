package authkit

import (
	"context"
	"sync"
	"time"
)

// MemoryExchangeStore is an in-memory ExchangeStore for dev runs and tests.
type MemoryExchangeStore struct {
	mutex   sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryExchangeStore constructs an empty in-memory store.
func NewMemoryExchangeStore() *MemoryExchangeStore {
	return &MemoryExchangeStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Put stores the value under the key, replacing any prior entry.
func (store *MemoryExchangeStore) Put(ctx context.Context, key string, value string, ttl time.Duration) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeExpiredLocked()
	store.entries[key] = memoryEntry{
		value:     value,
		expiresAt: store.now().Add(ttl),
	}
	return nil
}

// Get returns the stored value, or ErrExchangeKeyNotFound when absent or expired.
func (store *MemoryExchangeStore) Get(ctx context.Context, key string) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entry, ok := store.entries[key]
	if !ok || store.now().After(entry.expiresAt) {
		return "", ErrExchangeKeyNotFound
	}
	return entry.value, nil
}

// Delete removes the key; deleting an absent key is not an error.
func (store *MemoryExchangeStore) Delete(ctx context.Context, key string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.entries, key)
	return nil
}

// GetDelete returns and removes the value in one step under the store lock.
func (store *MemoryExchangeStore) GetDelete(ctx context.Context, key string) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entry, ok := store.entries[key]
	if !ok || store.now().After(entry.expiresAt) {
		return "", ErrExchangeKeyNotFound
	}
	delete(store.entries, key)
	return entry.value, nil
}

func (store *MemoryExchangeStore) purgeExpiredLocked() {
	if len(store.entries) == 0 {
		return
	}
	now := store.now()
	for key, entry := range store.entries {
		if now.After(entry.expiresAt) {
			delete(store.entries, key)
		}
	}
}
