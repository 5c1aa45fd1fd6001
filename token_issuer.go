package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenIssuer mints access and refresh tokens with the current signing key.
type TokenIssuer struct {
	keys       SigningKeyProvider
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	decorator  ClaimsDecorator
	logger     Logger
}

// NewTokenIssuer creates a TokenIssuer
func NewTokenIssuer(keys SigningKeyProvider, cfg Config) *TokenIssuer {
	if cfg == nil {
		cfg = Options{}
	}
	return &TokenIssuer{
		keys:       keys,
		issuer:     cfg.GetIssuer(),
		accessTTL:  cfg.GetAccessTokenTTL(),
		refreshTTL: cfg.GetRefreshTokenTTL(),
		now:        time.Now,
		decorator:  noopClaimsDecorator{},
		logger:     defLogger{},
	}
}

func (ti *TokenIssuer) WithLogger(logger Logger) *TokenIssuer {
	ti.logger = normalizeLogger(logger)
	return ti
}

func (ti *TokenIssuer) WithClaimsDecorator(decorator ClaimsDecorator) *TokenIssuer {
	ti.decorator = normalizeClaimsDecorator(decorator)
	return ti
}

// WithClock injects a custom clock (useful for tests).
func (ti *TokenIssuer) WithClock(clock func() time.Time) *TokenIssuer {
	if clock != nil {
		ti.now = clock
	}
	return ti
}

// IssueSession signs a fresh access and refresh token pair for identity.
func (ti *TokenIssuer) IssueSession(ctx context.Context, identity Identity) (*Session, error) {
	if identity.ID == "" || identity.Email == "" {
		return nil, newError(ErrInvalidIdentity, nil, map[string]any{
			"has_id":    identity.ID != "",
			"has_email": identity.Email != "",
		})
	}

	key, err := ti.keys.Current(ctx)
	if err != nil {
		return nil, err
	}
	if key.IsZero() || key.Method() == nil {
		return nil, newError(ErrSigningKeyUnavailable, nil, map[string]any{
			"kid":       key.KeyID,
			"algorithm": key.Algorithm,
		})
	}

	now := ti.now()

	access, err := ti.accessClaims(ctx, identity, now)
	if err != nil {
		return nil, err
	}

	accessToken, err := sign(key, TokenTypeAccess, access)
	if err != nil {
		return nil, err
	}

	refresh := &RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   identity.Email,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.refreshTTL)),
		},
	}

	refreshToken, err := sign(key, TokenTypeRefresh, refresh)
	if err != nil {
		return nil, err
	}

	ti.logger.Debug("session issued", "user_id", identity.ID, "kid", key.KeyID, "jti", access.ID)

	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    ti.accessTTL.Seconds(),
		User: UserView{
			ID:     identity.ID,
			Email:  identity.Email,
			Claims: sessionClaims(identity.Claims, access),
		},
	}, nil
}

// sessionClaims lists the stored custom claims followed by the claims the
// access token was minted with: sub, email, jti and one role entry per role.
func sessionClaims(custom []Claim, access *AccessClaims) []Claim {
	out := make([]Claim, 0, len(custom)+3+len(access.Roles))
	out = append(out, custom...)
	out = append(out,
		Claim{Type: "sub", Value: access.Subject},
		Claim{Type: "email", Value: access.Email},
		Claim{Type: "jti", Value: access.ID},
	)
	for _, role := range access.Roles {
		out = append(out, Claim{Type: "role", Value: role})
	}
	return out
}

func (ti *TokenIssuer) accessClaims(ctx context.Context, identity Identity, now time.Time) (*AccessClaims, error) {
	claims := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   identity.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.accessTTL)),
		},
		Email:      identity.Email,
		Roles:      dedupeRoles(identity.Roles),
		Extensions: claimsFromIdentity(identity.Claims),
	}

	snapshot := captureProtectedClaims(claims)
	if err := normalizeClaimsDecorator(ti.decorator).Decorate(ctx, identity, claims); err != nil {
		return nil, err
	}
	if err := snapshot.validate(claims); err != nil {
		return nil, err
	}

	return claims, nil
}

func sign(key SigningKey, typ string, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(key.Method(), claims)
	token.Header["typ"] = typ
	token.Header["kid"] = key.KeyID

	signed, err := token.SignedString(key.PrivateKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, fmt.Sprintf("failed to sign %s", typ))
	}
	return signed, nil
}
