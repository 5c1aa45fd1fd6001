package jwtware

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-router"
)

var (
	defaultTokenLookup       = "header:" + router.HeaderAuthorization
	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")
	ErrWrongTokenType        = errors.New("token is not an access token")
)

// ValidationListener is invoked after a token has been validated but before authorization checks.
type ValidationListener func(ctx router.Context, claims *identity.AccessClaims) error

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler
	ContextKey     string
	TokenLookup    string
	AuthScheme     string

	// Validator checks the raw token. Services that own the signing keys pass
	// the identity.TokenValidator. Others leave it nil and configure
	// JWKSetURLs or SigningKeys instead.
	Validator identity.AccessTokenValidator

	// SigningKeys maps kid to a verification key.
	SigningKeys map[string]SigningKey
	// JWKSetURLs are polled through keyfunc, typically /api/identity/jwks.
	JWKSetURLs []string
	// Issuer is enforced when tokens are verified against keys directly.
	Issuer string
	// Logger receives background JWKS refresh failures.
	Logger identity.Logger

	// RequiredRole specifies a role that must be present in the access token
	RequiredRole string

	// ContextEnricher is an optional function to propagate claims to the standard
	// Go context.
	ContextEnricher func(c context.Context, claims *identity.AccessClaims) context.Context

	ValidationListeners []ValidationListener
}

type SigningKey struct {
	JWTAlg string
	Key    any
}

// New returns a middleware that rejects requests without a valid access token.
func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return next(ctx)
			}

			raw, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			claims, err := cfg.Validator.ValidateAccessToken(ctx.Context(), raw)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if err := cfg.runValidationListeners(ctx, claims); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if cfg.RequiredRole != "" && !claims.HasRole(cfg.RequiredRole) {
				return cfg.ErrorHandler(ctx, fmt.Errorf("access denied: required role '%s' not found", cfg.RequiredRole))
			}

			ctx.Locals(cfg.ContextKey, claims)

			if cfg.ContextEnricher != nil {
				ctx.SetContext(cfg.ContextEnricher(ctx.Context(), claims))
			}

			if cfg.SuccessHandler != nil {
				return cfg.SuccessHandler(ctx)
			}
			return next(ctx)
		}
	}
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = identity.DefaultClaimsKey
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.Logger == nil {
		cfg.Logger = stdLogger{}
	}

	if cfg.Validator == nil {
		kf, err := cfg.keyfunc()
		if err != nil {
			panic("IDENTITY: JWT middleware configuration: " + err.Error())
		}
		cfg.Validator = KeyfuncValidator(kf, cfg.Issuer)
	}

	return cfg
}

// KeyfuncValidator verifies access tokens against the keys resolved by kf.
func KeyfuncValidator(kf jwt.Keyfunc, issuer string) identity.AccessTokenValidator {
	return identity.AccessTokenValidatorFunc(func(_ context.Context, raw string) (*identity.AccessClaims, error) {
		opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
		if issuer != "" {
			opts = append(opts, jwt.WithIssuer(issuer))
		}

		claims := &identity.AccessClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, kf, opts...)
		if err != nil {
			return nil, err
		}

		if typ, _ := token.Header["typ"].(string); typ != identity.TokenTypeAccess {
			return nil, ErrWrongTokenType
		}

		return claims, nil
	})
}

func defaultErrorHandler(c router.Context, err error) error {
	if errors.Is(err, ErrJWTMissingOrMalformed) {
		return c.JSON(router.StatusBadRequest, identity.APIResponse{
			Errors: []string{ErrJWTMissingOrMalformed.Error()},
		})
	}
	return c.JSON(router.StatusUnauthorized, identity.APIResponse{
		Errors: []string{"Invalid or expired token"},
	})
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(ctx router.Context, claims *identity.AccessClaims) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(ctx, claims); err != nil {
			return err
		}
	}
	return nil
}
