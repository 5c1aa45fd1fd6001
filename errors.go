package identity

import (
	"net/http"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidInput                  = "INVALID_INPUT"
	TextCodeInvalidCredentials            = "INVALID_CREDENTIALS"
	TextCodeAccountLocked                 = "ACCOUNT_LOCKED"
	TextCodeInvalidRefreshToken           = "INVALID_REFRESH_TOKEN"
	TextCodeInvalidAccessToken            = "INVALID_ACCESS_TOKEN"
	TextCodeDownstreamValidationFailed    = "DOWNSTREAM_VALIDATION_FAILED"
	TextCodeDownstreamUnavailable         = "DOWNSTREAM_UNAVAILABLE"
	TextCodeInvalidIdentity               = "INVALID_IDENTITY"
	TextCodeIdentityNotFound              = "IDENTITY_NOT_FOUND"
	TextCodeEmailAlreadyExists            = "EMAIL_ALREADY_EXISTS"
	TextCodeSigningKeyUnavailable         = "SIGNING_KEY_UNAVAILABLE"
	TextCodeProtectedClaimsMutated        = "PROTECTED_CLAIMS_MUTATED"
	TextCodeInvalidRegistrationTransition = "INVALID_REGISTRATION_TRANSITION"
	TextCodeRegistrationDisabled          = "REGISTRATION_DISABLED"
)

// ErrInvalidInput is returned for missing or malformed request values.
var ErrInvalidInput = goerrors.New("invalid input", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidInput).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials never says which of email or password was wrong.
var ErrInvalidCredentials = goerrors.New("User or Password incorrect", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountLocked is returned while the directory keeps the account locked out.
var ErrAccountLocked = goerrors.New("User temporary blocked. Too many tries.", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountLocked).
	WithCode(http.StatusTooManyRequests)

// ErrInvalidRefreshToken covers expired, malformed and signature mismatched refresh tokens.
var ErrInvalidRefreshToken = goerrors.New("Invalid Refresh Token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidRefreshToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidAccessToken is returned by access token validation.
var ErrInvalidAccessToken = goerrors.New("Invalid Access Token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidAccessToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrDownstreamValidationFailed carries business rule errors reported by the registration workflow.
var ErrDownstreamValidationFailed = goerrors.New("downstream registration rejected", goerrors.CategoryValidation).
	WithTextCode(TextCodeDownstreamValidationFailed).
	WithCode(goerrors.CodeBadRequest)

// ErrDownstreamUnavailable is returned when the registration round trip errors or times out.
var ErrDownstreamUnavailable = goerrors.New("downstream registration unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodeDownstreamUnavailable).
	WithCode(http.StatusServiceUnavailable)

// ErrInvalidIdentity is returned when a session is requested for an incomplete identity.
var ErrInvalidIdentity = goerrors.New("identity requires id and email", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidIdentity).
	WithCode(goerrors.CodeBadRequest)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrEmailAlreadyExists = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailAlreadyExists).
	WithCode(goerrors.CodeConflict)

var ErrSigningKeyUnavailable = goerrors.New("signing key unavailable", goerrors.CategoryInternal).
	WithTextCode(TextCodeSigningKeyUnavailable)

// ErrProtectedClaimsMutated is returned when a claims decorator touches registered claims.
var ErrProtectedClaimsMutated = goerrors.New("claims decorator mutated protected claims", goerrors.CategoryInternal).
	WithTextCode(TextCodeProtectedClaimsMutated)

var ErrInvalidRegistrationTransition = goerrors.New("invalid registration state transition", goerrors.CategoryInternal).
	WithTextCode(TextCodeInvalidRegistrationTransition)

// ErrRegistrationDisabled is returned when the signup feature is turned off.
var ErrRegistrationDisabled = goerrors.New("registration is disabled", goerrors.CategoryAuthz).
	WithTextCode(TextCodeRegistrationDisabled).
	WithCode(goerrors.CodeForbidden)

// newError clones a sentinel so per-occurrence source and metadata never leak
// into the shared value.
func newError(base *goerrors.Error, source error, metadata map[string]any) *goerrors.Error {
	clone := base.Clone()
	if source != nil {
		clone.Source = source
	}
	if len(metadata) > 0 {
		clone = clone.WithMetadata(metadata)
	}
	return clone
}

// HasTextCode reports whether err is a rich error carrying the given text code.
func HasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// ErrorMetadata returns the metadata attached to a rich error, if any.
func ErrorMetadata(err error) map[string]any {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Metadata
	}
	return nil
}

// withMetadata merges metadata into a rich error, wrapping plain errors.
func withMetadata(err error, metadata map[string]any) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.WithMetadata(metadata)
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, err.Error()).WithMetadata(metadata)
}

// invalidInput maps validation failures to ErrInvalidInput with a field to
// message map under the "fields" metadata key.
func invalidInput(err error) error {
	fields := map[string]string{}

	var verrs validation.Errors
	if goerrors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				fields[field] = ferr.Error()
			}
		}
	} else if err != nil {
		fields["_"] = err.Error()
	}

	return newError(ErrInvalidInput, err, map[string]any{"fields": fields})
}

// NewIdentityNotFound reports a directory miss for the given lookup field.
func NewIdentityNotFound(field, value string, source error) error {
	return newError(ErrIdentityNotFound, source, map[string]any{field: value})
}

// NewEmailAlreadyExists reports a registration for an existing email.
func NewEmailAlreadyExists(email string) error {
	return newError(ErrEmailAlreadyExists, nil, map[string]any{"email": email})
}

// StatusCode maps an error to the HTTP status of its rich error code.
func StatusCode(err error) int {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code > 0 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}

// ErrorMessages flattens an error into the user facing message list. Field
// and downstream validation errors are expanded, internal errors are not.
func ErrorMessages(err error) []string {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return []string{http.StatusText(http.StatusInternalServerError)}
	}

	switch richErr.TextCode {
	case TextCodeDownstreamValidationFailed:
		if errs, ok := richErr.Metadata["errors"].([]string); ok && len(errs) > 0 {
			return append([]string(nil), errs...)
		}
	case TextCodeInvalidInput:
		if fields, ok := richErr.Metadata["fields"].(map[string]string); ok && len(fields) > 0 {
			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			out := make([]string, 0, len(keys))
			for _, k := range keys {
				out = append(out, k+": "+fields[k])
			}
			return out
		}
	}

	if richErr.Category == goerrors.CategoryInternal {
		return []string{http.StatusText(http.StatusInternalServerError)}
	}

	return []string{richErr.Message}
}
