package auth

import (
	"context"
	"slices"
	"strings"
)

// Roles understood by the admin gate.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is the verified console user behind an admin request.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// HasRole is case-insensitive.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	return slices.Contains(i.Roles, normaliseRole(role))
}

// HasAnyRole reports whether one of roles is held.
func (i *Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

// Actor is the name written to the audit trail: the lower-cased email, else the uid.
func (i *Identity) Actor() string {
	if i == nil {
		return ""
	}
	if email := strings.TrimSpace(i.Email); email != "" {
		return strings.ToLower(email)
	}
	return strings.TrimSpace(i.UID)
}

type identityKey struct{}

// WithIdentity attaches identity to ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity set by the admin gate.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
