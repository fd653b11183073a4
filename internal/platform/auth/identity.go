package auth

import (
	"context"
	"slices"
	"strings"
)

// Roles carried in the "role" custom claim. Operators additionally carry a "shop" claim.
const (
	RoleRequester = "requester"
	RoleShop      = "shop"
	RoleAdmin     = "admin"
)

// rolePrecedence orders roles from most to least privileged.
var rolePrecedence = []string{RoleAdmin, RoleShop, RoleRequester}

// Identity is the caller resolved from a verified ID token.
type Identity struct {
	UID   string
	Phone string
	Roles []string
	// ShopID is the operator's shop; empty for requesters.
	ShopID string
}

// HasRole reports whether the identity carries role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && slices.Contains(i.Roles, role)
}

// PrimaryRole is the most privileged role the identity holds.
func (i *Identity) PrimaryRole() string {
	for _, role := range rolePrecedence {
		if i.HasRole(role) {
			return role
		}
	}
	return ""
}

type identityKey struct{}

// WithIdentity attaches identity to ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by RequireAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
