package identity

import (
	"context"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// ValidationReason explains why a token was rejected.
type ValidationReason string

const (
	ReasonNone             ValidationReason = ""
	ReasonExpired          ValidationReason = "expired"
	ReasonInvalidSignature ValidationReason = "invalid_signature"
	ReasonMalformed        ValidationReason = "malformed"
	ReasonWrongTokenType   ValidationReason = "wrong_token_type"
	ReasonInvalidIssuer    ValidationReason = "invalid_issuer"
	ReasonNotYetValid      ValidationReason = "not_yet_valid"
	ReasonSubjectNotFound  ValidationReason = "subject_not_found"
)

// RefreshValidation is the outcome of checking a refresh token.
type RefreshValidation struct {
	Valid   bool
	Subject string
	Reason  ValidationReason
	KeyID   string
}

// AccessTokenValidator validates access tokens for request middleware.
type AccessTokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*AccessClaims, error)
}

// AccessTokenValidatorFunc adapts a function into an AccessTokenValidator.
type AccessTokenValidatorFunc func(ctx context.Context, token string) (*AccessClaims, error)

// ValidateAccessToken satisfies the AccessTokenValidator interface.
func (f AccessTokenValidatorFunc) ValidateAccessToken(ctx context.Context, token string) (*AccessClaims, error) {
	if f == nil {
		return nil, invalidAccessToken(ReasonMalformed, nil)
	}
	return f(ctx, token)
}

// TokenValidator verifies tokens minted by TokenIssuer. By default only the
// current signing key is accepted, so every rotation forces a new login.
type TokenValidator struct {
	keys   SigningKeyProvider
	issuer string
	mode   KeyVerificationMode
	now    func() time.Time
	logger Logger
}

var _ AccessTokenValidator = (*TokenValidator)(nil)

// NewTokenValidator creates a TokenValidator
func NewTokenValidator(keys SigningKeyProvider, cfg Config) *TokenValidator {
	if cfg == nil {
		cfg = Options{}
	}
	return &TokenValidator{
		keys:   keys,
		issuer: cfg.GetIssuer(),
		mode:   cfg.GetKeyVerificationMode(),
		now:    time.Now,
		logger: defLogger{},
	}
}

func (tv *TokenValidator) WithLogger(logger Logger) *TokenValidator {
	tv.logger = normalizeLogger(logger)
	return tv
}

// WithClock injects a custom clock (useful for tests).
func (tv *TokenValidator) WithClock(clock func() time.Time) *TokenValidator {
	if clock != nil {
		tv.now = clock
	}
	return tv
}

func (tv *TokenValidator) WithVerificationMode(mode KeyVerificationMode) *TokenValidator {
	if mode != "" {
		tv.mode = mode
	}
	return tv
}

// ValidateRefreshToken checks a refresh token and extracts the subject email.
// Negative outcomes are reported in the result; the error is reserved for an
// unavailable key provider.
func (tv *TokenValidator) ValidateRefreshToken(ctx context.Context, token string) (RefreshValidation, error) {
	claims := &RefreshClaims{}
	reason, kid, err := tv.verify(ctx, token, TokenTypeRefresh, claims)
	if err != nil {
		return RefreshValidation{}, err
	}

	if reason != ReasonNone {
		tv.logger.Debug("refresh token rejected", "reason", reason, "kid", kid)
		return RefreshValidation{Reason: reason, KeyID: kid}, nil
	}

	if claims.Email() == "" {
		return RefreshValidation{Reason: ReasonMalformed, KeyID: kid}, nil
	}

	return RefreshValidation{
		Valid:   true,
		Subject: claims.Email(),
		KeyID:   kid,
	}, nil
}

// ValidateAccessToken returns the claims of a valid access token or an
// ErrInvalidAccessToken carrying the reason.
func (tv *TokenValidator) ValidateAccessToken(ctx context.Context, token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	reason, _, err := tv.verify(ctx, token, TokenTypeAccess, claims)
	if err != nil {
		return nil, err
	}

	if reason != ReasonNone {
		return nil, invalidAccessToken(reason, nil)
	}

	if claims.UserID() == "" {
		return nil, invalidAccessToken(ReasonMalformed, nil)
	}

	return claims, nil
}

// verify checks the validity window before the signature so an expired token
// is always reported as expired.
func (tv *TokenValidator) verify(ctx context.Context, raw, typ string, claims jwt.Claims) (ValidationReason, string, error) {
	if raw == "" {
		return ReasonMalformed, "", nil
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return ReasonMalformed, "", nil
	}

	kid, _ := unverified.Header["kid"].(string)

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return ReasonMalformed, kid, nil
	}

	if !tv.now().Before(exp.Time) {
		return ReasonExpired, kid, nil
	}

	if header, _ := unverified.Header["typ"].(string); header != typ {
		return ReasonWrongTokenType, kid, nil
	}

	keyFunc, methods, err := tv.keyfunc(ctx)
	if err != nil {
		return ReasonNone, kid, err
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithTimeFunc(tv.now),
		jwt.WithExpirationRequired(),
	}
	if tv.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(tv.issuer))
	}

	if _, err := jwt.NewParser(parserOptions...).ParseWithClaims(raw, claims, keyFunc); err != nil {
		return reasonFromError(err), kid, nil
	}

	return ReasonNone, kid, nil
}

func (tv *TokenValidator) keyfunc(ctx context.Context) (jwt.Keyfunc, []string, error) {
	if tv.mode == KeyVerificationHistory {
		keys, err := tv.keys.History(ctx)
		if err != nil {
			return nil, nil, err
		}

		given := make(map[string]keyfunc.GivenKey, len(keys))
		methods := make([]string, 0, len(keys))
		for _, key := range keys {
			given[key.KeyID] = keyfunc.NewGivenCustom(key.PublicKey(), keyfunc.GivenKeyOptions{
				Algorithm: key.Algorithm,
			})
			methods = appendUnique(methods, key.Algorithm)
		}

		return keyfunc.NewGiven(given).Keyfunc, methods, nil
	}

	current, err := tv.keys.Current(ctx)
	if err != nil {
		return nil, nil, err
	}
	if current.IsZero() {
		return nil, nil, newError(ErrSigningKeyUnavailable, nil, map[string]any{"operation": "verify"})
	}

	publicKey := current.PublicKey()
	return func(*jwt.Token) (any, error) {
		return publicKey, nil
	}, []string{current.Algorithm}, nil
}

func reasonFromError(err error) ValidationReason {
	switch {
	case goerrors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case goerrors.Is(err, jwt.ErrTokenNotValidYet):
		return ReasonNotYetValid
	case goerrors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ReasonInvalidIssuer
	case goerrors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	default:
		return ReasonInvalidSignature
	}
}

func invalidAccessToken(reason ValidationReason, source error) error {
	return newError(ErrInvalidAccessToken, source, map[string]any{"reason": string(reason)})
}

func invalidRefreshToken(reason ValidationReason) error {
	return newError(ErrInvalidRefreshToken, nil, map[string]any{"reason": string(reason)})
}

func appendUnique(values []string, value string) []string {
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}
