package identity

import (
	"context"

	"github.com/goliatone/go-router"
)

var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// DefaultClaimsKey is the router local the JWT middleware stores claims under
const DefaultClaimsKey = "user"

// WithClaimsContext sets the access claims in the given context
func WithClaimsContext(ctx context.Context, claims *AccessClaims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// ClaimsFromContext extracts the access claims from the standard context
func ClaimsFromContext(ctx context.Context) (*AccessClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	claims, ok := ctx.Value(claimsCtxKey).(*AccessClaims)
	return claims, ok && claims != nil
}

// GetRouterClaims extracts the access claims from the router context
func GetRouterClaims(ctx router.Context, key string) (*AccessClaims, bool) {
	if key == "" {
		key = DefaultClaimsKey
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	claims, ok := raw.(*AccessClaims)
	return claims, ok && claims != nil
}

// HasRole is a convenience to check the caller's role from the standard context
func HasRole(ctx context.Context, role string) bool {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return false
	}
	return claims.HasRole(role)
}
