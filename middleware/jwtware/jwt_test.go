package jwtware_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/middleware/jwtware"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://identity.test"

func issueSession(t *testing.T, keys identity.SigningKeyProvider, roles ...string) *identity.Session {
	t.Helper()

	session, err := identity.NewTokenIssuer(keys, identity.DefaultConfig(testIssuer)).
		IssueSession(context.Background(), identity.Identity{
			ID:    uuid.NewString(),
			Email: "a@x.com",
			Roles: roles,
		})
	require.NoError(t, err)
	return session
}

func newKeys(t *testing.T) (identity.StaticKeyProvider, identity.SigningKey) {
	t.Helper()
	key, err := identity.GenerateSigningKey(identity.DefaultSigningAlgorithm, time.Now(), 0)
	require.NoError(t, err)
	return identity.StaticKeyProvider{key}, key
}

func TestJWTWare_AcceptsAccessToken(t *testing.T) {
	keys, _ := newKeys(t)
	session := issueSession(t, keys, "admin")

	middleware := jwtware.New(jwtware.Config{
		Validator:    identity.NewTokenValidator(keys, identity.DefaultConfig(testIssuer)),
		RequiredRole: "admin",
	})

	called := false
	handler := middleware(func(ctx router.Context) error {
		called = true
		return nil
	})

	var stored *identity.AccessClaims
	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("GetString", "Authorization", "").Return("Bearer " + session.AccessToken)
	ctx.On("Locals", "user", mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*identity.AccessClaims)
	}).Return(nil)

	err := handler(ctx)
	require.NoError(t, err)
	assert.True(t, called)
	require.NotNil(t, stored)
	assert.Equal(t, "a@x.com", stored.Email)
	assert.True(t, stored.HasRole("admin"))
}

func TestJWTWare_RejectsRefreshToken(t *testing.T) {
	keys, _ := newKeys(t)
	session := issueSession(t, keys)

	var handled error
	middleware := jwtware.New(jwtware.Config{
		Validator: identity.NewTokenValidator(keys, identity.DefaultConfig(testIssuer)),
		ErrorHandler: func(ctx router.Context, err error) error {
			handled = err
			return nil
		},
	})

	handler := middleware(func(ctx router.Context) error {
		t.Fatal("handler must not run")
		return nil
	})

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("GetString", "Authorization", "").Return("Bearer " + session.RefreshToken)

	require.NoError(t, handler(ctx))
	require.Error(t, handled)
	assert.True(t, identity.HasTextCode(handled, identity.TextCodeInvalidAccessToken))
}

func TestJWTWare_MissingHeader(t *testing.T) {
	keys, _ := newKeys(t)

	middleware := jwtware.New(jwtware.Config{
		Validator: identity.NewTokenValidator(keys, identity.DefaultConfig(testIssuer)),
	})

	handler := middleware(func(ctx router.Context) error {
		t.Fatal("handler must not run")
		return nil
	})

	ctx := router.NewMockContext()
	ctx.On("GetString", "Authorization", "").Return("")
	ctx.On("JSON", router.StatusBadRequest, mock.Anything).Return(nil)

	require.NoError(t, handler(ctx))
	ctx.AssertExpectations(t)
}

func TestJWTWare_RequiredRoleMissing(t *testing.T) {
	keys, _ := newKeys(t)
	session := issueSession(t, keys, "member")

	middleware := jwtware.New(jwtware.Config{
		Validator:    identity.NewTokenValidator(keys, identity.DefaultConfig(testIssuer)),
		RequiredRole: "admin",
	})

	handler := middleware(func(ctx router.Context) error {
		t.Fatal("handler must not run")
		return nil
	})

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("GetString", "Authorization", "").Return("Bearer " + session.AccessToken)
	ctx.On("JSON", router.StatusUnauthorized, mock.Anything).Return(nil)

	require.NoError(t, handler(ctx))
	ctx.AssertExpectations(t)
}

func TestJWTWare_SigningKeysByKid(t *testing.T) {
	keys, key := newKeys(t)
	session := issueSession(t, keys)

	middleware := jwtware.New(jwtware.Config{
		SigningKeys: map[string]jwtware.SigningKey{
			key.KeyID: {JWTAlg: key.Algorithm, Key: key.PublicKey()},
		},
		Issuer: testIssuer,
	})

	called := false
	handler := middleware(func(ctx router.Context) error {
		called = true
		return nil
	})

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("GetString", "Authorization", "").Return("Bearer " + session.AccessToken)
	ctx.On("Locals", "user", mock.Anything).Return(nil)

	require.NoError(t, handler(ctx))
	assert.True(t, called)
}

func TestKeyfuncValidator(t *testing.T) {
	keys, key := newKeys(t)
	session := issueSession(t, keys)

	kf := func(token *jwt.Token) (any, error) {
		return key.PublicKey(), nil
	}

	t.Run("access token accepted", func(t *testing.T) {
		claims, err := jwtware.KeyfuncValidator(kf, testIssuer).
			ValidateAccessToken(context.Background(), session.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", claims.Email)
	})

	t.Run("refresh token rejected", func(t *testing.T) {
		_, err := jwtware.KeyfuncValidator(kf, testIssuer).
			ValidateAccessToken(context.Background(), session.RefreshToken)
		require.Error(t, err)
	})

	t.Run("issuer mismatch rejected", func(t *testing.T) {
		_, err := jwtware.KeyfuncValidator(kf, "https://other.test").
			ValidateAccessToken(context.Background(), session.AccessToken)
		require.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
	})
}
