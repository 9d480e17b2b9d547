package identitypg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyzoon/authbridge/internal/authkit"
)

// PostgresIdentityStore persists identities in PostgreSQL keyed by email.
type PostgresIdentityStore struct {
	pool *pgxpool.Pool
}

// NewPostgresIdentityStore constructs a Postgres store.
func NewPostgresIdentityStore(pool *pgxpool.Pool) *PostgresIdentityStore {
	return &PostgresIdentityStore{pool: pool}
}

// FindByEmail returns the identity stored under the email key.
func (store *PostgresIdentityStore) FindByEmail(ctx context.Context, email string) (authkit.Identity, error) {
	var displayName, avatarURL, role string
	row := store.pool.QueryRow(ctx, `
SELECT display_name, avatar_url, role
FROM identities
WHERE email = $1
`, email)
	if scanErr := row.Scan(&displayName, &avatarURL, &role); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return authkit.Identity{}, authkit.ErrIdentityNotFound
		}
		return authkit.Identity{}, fmt.Errorf("identity_store.pg.find: %w", scanErr)
	}
	return authkit.Identity{
		Email:       email,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		Role:        authkit.ParseRole(role),
	}, nil
}

// Upsert inserts a new identity, or refreshes display name and avatar for an
// existing email while preserving the stored role.
func (store *PostgresIdentityStore) Upsert(ctx context.Context, identity authkit.Identity) (authkit.Identity, error) {
	var displayName, avatarURL, role string
	row := store.pool.QueryRow(ctx, `
INSERT INTO identities (email, display_name, avatar_url, role)
VALUES ($1, $2, $3, $4)
ON CONFLICT (email) DO UPDATE
SET display_name = EXCLUDED.display_name,
    avatar_url = EXCLUDED.avatar_url
RETURNING display_name, avatar_url, role
`, identity.Email, identity.DisplayName, identity.AvatarURL, string(identity.Role))
	if scanErr := row.Scan(&displayName, &avatarURL, &role); scanErr != nil {
		return authkit.Identity{}, fmt.Errorf("identity_store.pg.upsert: %w", scanErr)
	}
	return authkit.Identity{
		Email:       identity.Email,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		Role:        authkit.ParseRole(role),
	}, nil
}
