package authkit

import (
	"context"
	"time"
)

// ExchangeStore is a key-value store with per-key expiry. It backs both the
// one-time exchange codes and the single active refresh token per identity.
// Put replaces any existing value for the key.
type ExchangeStore interface {
	Put(ctx context.Context, key string, value string, ttl time.Duration) error
	// Get returns ErrExchangeKeyNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// AtomicExchangeStore is an optional capability: stores that can fetch and
// delete a key in one step close the get-then-delete redemption race.
type AtomicExchangeStore interface {
	// GetDelete returns the value and removes the key atomically, or
	// ErrExchangeKeyNotFound when the key is absent or expired.
	GetDelete(ctx context.Context, key string) (string, error)
}

// IdentityStore persists and retrieves identities keyed by email.
//
// Upsert inserts the identity as given when the email is new; when the email
// already exists it updates DisplayName and AvatarURL only and preserves the
// stored role (role changes happen out-of-band). The persisted identity is
// returned either way. Implementations must provide read-after-write
// consistency per email key.
type IdentityStore interface {
	// FindByEmail returns ErrIdentityNotFound when no record exists.
	FindByEmail(ctx context.Context, email string) (Identity, error)
	Upsert(ctx context.Context, identity Identity) (Identity, error)
}
