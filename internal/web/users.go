package web

import (
	"context"
	"sync"

	"github.com/hyzoon/authbridge/internal/authkit"
)

// MemoryIdentityStore is a simple identity store used for demo and local runs.
type MemoryIdentityStore struct {
	mutex      sync.Mutex
	identities map[string]authkit.Identity
}

// NewMemoryIdentityStore constructs a store with an empty map.
func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{identities: make(map[string]authkit.Identity)}
}

// FindByEmail returns the identity stored under the email key.
func (store *MemoryIdentityStore) FindByEmail(ctx context.Context, email string) (authkit.Identity, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	identity, ok := store.identities[email]
	if !ok {
		return authkit.Identity{}, authkit.ErrIdentityNotFound
	}
	return identity, nil
}

// Upsert inserts a new identity, or refreshes display name and avatar for an
// existing email while preserving the stored role.
func (store *MemoryIdentityStore) Upsert(ctx context.Context, identity authkit.Identity) (authkit.Identity, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	existing, ok := store.identities[identity.Email]
	if ok {
		existing.DisplayName = identity.DisplayName
		existing.AvatarURL = identity.AvatarURL
		store.identities[identity.Email] = existing
		return existing, nil
	}
	store.identities[identity.Email] = identity
	return identity, nil
}

// SetRole changes the stored role out-of-band, the way an admin action would.
func (store *MemoryIdentityStore) SetRole(email string, role authkit.Role) bool {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	identity, ok := store.identities[email]
	if !ok {
		return false
	}
	identity.Role = role
	store.identities[email] = identity
	return true
}

// Delete removes an identity, simulating out-of-band deletion.
func (store *MemoryIdentityStore) Delete(email string) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.identities, email)
}
