package auth

import (
	"context"
	"strings"
)

// Roles recognised on Firebase custom claims. Shoppers default to RoleUser;
// RoleAdmin unlocks back-office surfaces.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity is the authenticated principal extracted from a verified Firebase
// ID token. Handlers scope every query to Identity.UID.
type Identity struct {
	UID   string
	Email string
	Role  string
}

// IsAdmin reports whether the identity carries the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && strings.EqualFold(i.Role, RoleAdmin)
}

type contextKey string

const identityContextKey contextKey = "loopmarket.auth.identity"

// WithIdentity stores the identity on the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext returns the identity placed by RequireFirebaseAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
