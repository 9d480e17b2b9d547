package authkit

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"
)

var (
	// ErrLoginStateNotFound indicates the state token was never issued or was
	// already consumed.
	ErrLoginStateNotFound = errors.New("login_state.not_found")
	// ErrLoginStateExpired indicates the state token expired before the
	// provider called back.
	ErrLoginStateExpired = errors.New("login_state.expired")
)

// LoginStateStore issues one-time state tokens binding an authorization
// redirect to its provider callback.
type LoginStateStore interface {
	// Issue creates a new state token valid for the provider name.
	Issue(ctx context.Context, providerName string) (string, error)
	// Consume validates and invalidates a state token, returning the provider
	// name it was issued for.
	Consume(ctx context.Context, token string) (string, error)
}

type memoryLoginStateStore struct {
	mutex     sync.Mutex
	entries   map[string]loginStateEntry
	ttl       time.Duration
	now       func() time.Time
	tokenSize int
}

type loginStateEntry struct {
	providerName string
	expiresAt    time.Time
}

// NewMemoryLoginStateStore constructs an in-memory LoginStateStore with the
// provided TTL.
func NewMemoryLoginStateStore(ttl time.Duration) LoginStateStore {
	return &memoryLoginStateStore{
		entries:   make(map[string]loginStateEntry),
		ttl:       ttl,
		now:       time.Now,
		tokenSize: 32,
	}
}

func (store *memoryLoginStateStore) Issue(ctx context.Context, providerName string) (string, error) {
	token, err := store.randomToken()
	if err != nil {
		return "", err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeExpiredLocked()
	store.entries[token] = loginStateEntry{
		providerName: providerName,
		expiresAt:    store.now().Add(store.ttl),
	}
	return token, nil
}

func (store *memoryLoginStateStore) Consume(ctx context.Context, token string) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entry, ok := store.entries[token]
	if !ok {
		store.purgeExpiredLocked()
		return "", ErrLoginStateNotFound
	}
	delete(store.entries, token)
	store.purgeExpiredLocked()
	if store.now().After(entry.expiresAt) {
		return "", ErrLoginStateExpired
	}
	return entry.providerName, nil
}

func (store *memoryLoginStateStore) purgeExpiredLocked() {
	if len(store.entries) == 0 {
		return
	}
	now := store.now()
	for token, entry := range store.entries {
		if now.After(entry.expiresAt) {
			delete(store.entries, token)
		}
	}
}

func (store *memoryLoginStateStore) randomToken() (string, error) {
	buffer := make([]byte, store.tokenSize)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
