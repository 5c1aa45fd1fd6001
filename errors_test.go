package identity_test

import (
	"errors"
	"net/http"
	"testing"

	identity "github.com/goliatone/go-identity"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"invalid input", identity.ErrInvalidInput, http.StatusBadRequest},
		{"invalid credentials", identity.ErrInvalidCredentials, http.StatusUnauthorized},
		{"account locked", identity.ErrAccountLocked, http.StatusTooManyRequests},
		{"invalid refresh token", identity.ErrInvalidRefreshToken, http.StatusUnauthorized},
		{"downstream validation", identity.ErrDownstreamValidationFailed, http.StatusBadRequest},
		{"downstream unavailable", identity.ErrDownstreamUnavailable, http.StatusServiceUnavailable},
		{"identity not found", identity.ErrIdentityNotFound, http.StatusNotFound},
		{"email exists", identity.ErrEmailAlreadyExists, http.StatusConflict},
		{"signing key", identity.ErrSigningKeyUnavailable, http.StatusInternalServerError},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, identity.StatusCode(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, identity.ErrorMessages(nil))
	})

	t.Run("plain errors are hidden", func(t *testing.T) {
		assert.Equal(t, []string{"Internal Server Error"}, identity.ErrorMessages(errors.New("sql: connection reset")))
	})

	t.Run("internal rich errors are hidden", func(t *testing.T) {
		assert.Equal(t, []string{"Internal Server Error"}, identity.ErrorMessages(identity.ErrSigningKeyUnavailable))
	})

	t.Run("credentials message", func(t *testing.T) {
		assert.Equal(t, []string{"User or Password incorrect"}, identity.ErrorMessages(identity.ErrInvalidCredentials))
	})

	t.Run("lockout message", func(t *testing.T) {
		assert.Equal(t, []string{"User temporary blocked. Too many tries."}, identity.ErrorMessages(identity.ErrAccountLocked))
	})

	t.Run("downstream errors expanded", func(t *testing.T) {
		err := identity.ErrDownstreamValidationFailed.Clone().WithMetadata(map[string]any{
			"errors": []string{"first", "second"},
		})
		assert.Equal(t, []string{"first", "second"}, identity.ErrorMessages(err))
	})

	t.Run("field errors sorted", func(t *testing.T) {
		err := identity.ErrInvalidInput.Clone().WithMetadata(map[string]any{
			"fields": map[string]string{"password": "cannot be blank", "email": "must be a valid email address"},
		})
		assert.Equal(t, []string{
			"email: must be a valid email address",
			"password: cannot be blank",
		}, identity.ErrorMessages(err))
	})
}

func TestSentinelsAreNotMutated(t *testing.T) {
	_ = identity.NewIdentityNotFound("email", "a@x.com", nil)
	_ = identity.NewEmailAlreadyExists("a@x.com")

	assert.Empty(t, identity.ErrIdentityNotFound.Metadata)
	assert.Empty(t, identity.ErrEmailAlreadyExists.Metadata)
}

func TestNewIdentityNotFound(t *testing.T) {
	source := errors.New("no rows")
	err := identity.NewIdentityNotFound("id", "42", source)

	var richErr *goerrors.Error
	assert.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, identity.TextCodeIdentityNotFound, richErr.TextCode)
	assert.Equal(t, "42", richErr.Metadata["id"])
	assert.ErrorIs(t, err, source)
}
