package authkit

import "strings"

// Role is the coarse authorization level attached to an identity.
type Role string

const (
	// RoleGuest is assigned on first provider login.
	RoleGuest Role = "GUEST"
	// RoleUser is granted out-of-band, e.g. by an administrator.
	RoleUser Role = "USER"
)

// AuthorityCode returns the role code embedded in access tokens, e.g. ROLE_USER.
func (role Role) AuthorityCode() string {
	return "ROLE_" + string(role)
}

// ParseRole maps a stored role string back to a Role, defaulting to GUEST.
func ParseRole(value string) Role {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(RoleUser):
		return RoleUser
	default:
		return RoleGuest
	}
}

// Identity is the normalized user record keyed by email, independent of which
// provider authenticated it.
type Identity struct {
	Email       string
	DisplayName string
	AvatarURL   string
	Role        Role
}
