package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://identity.test"

func newTestKey(t *testing.T, now time.Time) identity.SigningKey {
	t.Helper()
	key, err := identity.GenerateSigningKey(identity.DefaultSigningAlgorithm, now, identity.DefaultKeyRotationPeriod)
	require.NoError(t, err)
	return key
}

func parseUnverified(t *testing.T, raw string) (*jwt.Token, jwt.MapClaims) {
	t.Helper()
	claims := jwt.MapClaims{}
	token, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	require.NoError(t, err)
	return token, claims
}

func TestTokenIssuer_IssueSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	key := newTestKey(t, now)
	userID := uuid.NewString()

	issuer := identity.NewTokenIssuer(identity.StaticKeyProvider{key}, identity.DefaultConfig(testIssuer)).
		WithClock(func() time.Time { return now })

	session, err := issuer.IssueSession(context.Background(), identity.Identity{
		ID:     userID,
		Email:  "a@x.com",
		Roles:  []string{"user", "admin", "user"},
		Claims: []identity.Claim{{Type: "tenant", Value: "acme"}},
	})
	require.NoError(t, err)

	assert.Equal(t, float64(3600), session.ExpiresIn)
	assert.Equal(t, userID, session.User.ID)
	assert.Equal(t, "a@x.com", session.User.Email)

	_, accessClaims := parseUnverified(t, session.AccessToken)
	assert.Equal(t, []identity.Claim{
		{Type: "tenant", Value: "acme"},
		{Type: "sub", Value: userID},
		{Type: "email", Value: "a@x.com"},
		{Type: "jti", Value: accessClaims["jti"].(string)},
		{Type: "role", Value: "user"},
		{Type: "role", Value: "admin"},
	}, session.User.Claims)

	t.Run("access token", func(t *testing.T) {
		token, claims := parseUnverified(t, session.AccessToken)

		assert.Equal(t, identity.TokenTypeAccess, token.Header["typ"])
		assert.Equal(t, key.KeyID, token.Header["kid"])
		assert.Equal(t, "ES256", token.Header["alg"])

		assert.Equal(t, userID, claims["sub"])
		assert.Equal(t, "a@x.com", claims["email"])
		assert.Equal(t, testIssuer, claims["iss"])
		assert.Equal(t, []any{"user", "admin"}, claims["role"])
		assert.Equal(t, map[string]any{"tenant": "acme"}, claims["ext"])
		assert.NotEmpty(t, claims["jti"])
		assert.Equal(t, float64(now.Add(time.Hour).Unix()), claims["exp"])
		assert.Equal(t, float64(now.Unix()), claims["nbf"])
		assert.Equal(t, float64(now.Unix()), claims["iat"])
	})

	t.Run("refresh token", func(t *testing.T) {
		token, claims := parseUnverified(t, session.RefreshToken)
		_, access := parseUnverified(t, session.AccessToken)

		assert.Equal(t, identity.TokenTypeRefresh, token.Header["typ"])
		assert.Equal(t, key.KeyID, token.Header["kid"])
		assert.Equal(t, "a@x.com", claims["sub"])
		assert.NotEqual(t, access["jti"], claims["jti"])
		assert.Equal(t, float64(now.Add(30*24*time.Hour).Unix()), claims["exp"])
	})

	t.Run("both verify against the signing key", func(t *testing.T) {
		for _, raw := range []string{session.AccessToken, session.RefreshToken} {
			_, err := jwt.NewParser(jwt.WithTimeFunc(func() time.Time { return now })).
				Parse(raw, func(*jwt.Token) (any, error) { return key.PublicKey(), nil })
			assert.NoError(t, err)
		}
	})
}

func TestTokenIssuer_DistinctSessions(t *testing.T) {
	key := newTestKey(t, time.Now())
	issuer := identity.NewTokenIssuer(identity.StaticKeyProvider{key}, identity.DefaultConfig(testIssuer))
	id := identity.Identity{ID: uuid.NewString(), Email: "a@x.com"}

	first, err := issuer.IssueSession(context.Background(), id)
	require.NoError(t, err)
	second, err := issuer.IssueSession(context.Background(), id)
	require.NoError(t, err)

	_, a := parseUnverified(t, first.AccessToken)
	_, b := parseUnverified(t, second.AccessToken)
	assert.NotEqual(t, a["jti"], b["jti"])
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
}

func TestTokenIssuer_Errors(t *testing.T) {
	key := newTestKey(t, time.Now())

	t.Run("incomplete identity", func(t *testing.T) {
		issuer := identity.NewTokenIssuer(identity.StaticKeyProvider{key}, identity.DefaultConfig(testIssuer))

		_, err := issuer.IssueSession(context.Background(), identity.Identity{Email: "a@x.com"})
		require.Error(t, err)
		assert.True(t, identity.HasTextCode(err, identity.TextCodeInvalidIdentity))

		_, err = issuer.IssueSession(context.Background(), identity.Identity{ID: uuid.NewString()})
		assert.True(t, identity.HasTextCode(err, identity.TextCodeInvalidIdentity))
	})

	t.Run("no signing key", func(t *testing.T) {
		issuer := identity.NewTokenIssuer(identity.StaticKeyProvider{}, identity.DefaultConfig(testIssuer))

		_, err := issuer.IssueSession(context.Background(), identity.Identity{ID: uuid.NewString(), Email: "a@x.com"})
		require.Error(t, err)
		assert.True(t, identity.IsSigningKeyError(err))
	})
}

func TestTokenIssuer_ClaimsDecorator(t *testing.T) {
	key := newTestKey(t, time.Now())
	id := identity.Identity{ID: uuid.NewString(), Email: "a@x.com", Roles: []string{"user"}}

	t.Run("extensions allowed", func(t *testing.T) {
		issuer := identity.NewTokenIssuer(identity.StaticKeyProvider{key}, identity.DefaultConfig(testIssuer)).
			WithClaimsDecorator(identity.ClaimsDecoratorFunc(func(ctx context.Context, id identity.Identity, claims *identity.AccessClaims) error {
				if claims.Extensions == nil {
					claims.Extensions = map[string]string{}
				}
				claims.Extensions["plan"] = "pro"
				return nil
			}))

		session, err := issuer.IssueSession(context.Background(), id)
		require.NoError(t, err)

		_, claims := parseUnverified(t, session.AccessToken)
		assert.Equal(t, map[string]any{"plan": "pro"}, claims["ext"])
	})

	t.Run("protected claims rejected", func(t *testing.T) {
		issuer := identity.NewTokenIssuer(identity.StaticKeyProvider{key}, identity.DefaultConfig(testIssuer)).
			WithClaimsDecorator(identity.ClaimsDecoratorFunc(func(ctx context.Context, id identity.Identity, claims *identity.AccessClaims) error {
				claims.Roles = append(claims.Roles, "admin")
				return nil
			}))

		_, err := issuer.IssueSession(context.Background(), id)
		require.Error(t, err)
		assert.True(t, identity.HasTextCode(err, identity.TextCodeProtectedClaimsMutated))
		assert.Equal(t, "role", identity.ErrorMetadata(err)["claim"])
	})

	t.Run("decorator error", func(t *testing.T) {
		boom := errors.New("boom")
		issuer := identity.NewTokenIssuer(identity.StaticKeyProvider{key}, identity.DefaultConfig(testIssuer)).
			WithClaimsDecorator(identity.ClaimsDecoratorFunc(func(ctx context.Context, id identity.Identity, claims *identity.AccessClaims) error {
				return boom
			}))

		_, err := issuer.IssueSession(context.Background(), id)
		require.ErrorIs(t, err, boom)
	})
}
