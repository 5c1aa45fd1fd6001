package identity_test

import (
	"context"
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
)

func TestClaimsContext(t *testing.T) {
	claims := &identity.AccessClaims{Email: "a@x.com", Roles: []string{"admin"}}

	t.Run("round trip", func(t *testing.T) {
		ctx := identity.WithClaimsContext(context.Background(), claims)

		got, ok := identity.ClaimsFromContext(ctx)
		assert.True(t, ok)
		assert.Same(t, claims, got)
		assert.True(t, identity.HasRole(ctx, "admin"))
		assert.False(t, identity.HasRole(ctx, "member"))
	})

	t.Run("missing", func(t *testing.T) {
		_, ok := identity.ClaimsFromContext(context.Background())
		assert.False(t, ok)
		assert.False(t, identity.HasRole(context.Background(), "admin"))
	})

	t.Run("nil claims", func(t *testing.T) {
		ctx := identity.WithClaimsContext(context.Background(), nil)
		_, ok := identity.ClaimsFromContext(ctx)
		assert.False(t, ok)
	})
}

func TestGetRouterClaims(t *testing.T) {
	tests := []struct {
		name    string
		setupFn func() router.Context
		key     string
		wantOK  bool
	}{
		{
			name: "default key",
			setupFn: func() router.Context {
				ctx := router.NewMockContext()
				ctx.LocalsMock["user"] = &identity.AccessClaims{Email: "a@x.com"}
				return ctx
			},
			wantOK: true,
		},
		{
			name: "custom key",
			setupFn: func() router.Context {
				ctx := router.NewMockContext()
				ctx.LocalsMock["token"] = &identity.AccessClaims{Email: "a@x.com"}
				return ctx
			},
			key:    "token",
			wantOK: true,
		},
		{
			name: "missing",
			setupFn: func() router.Context {
				return router.NewMockContext()
			},
			key:    "user",
			wantOK: false,
		},
		{
			name: "wrong type",
			setupFn: func() router.Context {
				ctx := router.NewMockContext()
				ctx.LocalsMock["user"] = "not-a-claims-object"
				return ctx
			},
			key:    "user",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, ok := identity.GetRouterClaims(tt.setupFn(), tt.key)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, "a@x.com", claims.Email)
			}
		})
	}
}
