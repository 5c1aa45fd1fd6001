package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JOSE header type markers. A refresh token is never accepted where an access
// token is expected and vice versa.
const (
	TokenTypeAccess  = "at+jwt"
	TokenTypeRefresh = "rt+jwt"
)

// AccessClaims is the typed claim set of an access token
type AccessClaims struct {
	jwt.RegisteredClaims
	Email      string            `json:"email"`
	Roles      []string          `json:"role,omitempty"`
	Extensions map[string]string `json:"ext,omitempty"`
}

// UserID returns the subject, which is the identity id
func (c *AccessClaims) UserID() string {
	return c.RegisteredClaims.Subject
}

// TokenID returns the jti claim
func (c *AccessClaims) TokenID() string {
	return c.RegisteredClaims.ID
}

// HasRole checks if the token carries the given role
func (c *AccessClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Extension returns a custom claim value
func (c *AccessClaims) Extension(key string) (string, bool) {
	v, ok := c.Extensions[key]
	return v, ok
}

// Expires returns the expiration time
func (c *AccessClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// RefreshClaims only identifies the subject email. Holders must re-resolve
// the identity on redemption.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// Email returns the subject email
func (c *RefreshClaims) Email() string {
	return c.RegisteredClaims.Subject
}

// claimsFromIdentity maps stored claims into the extension bag. Later values
// win when a claim type repeats.
func claimsFromIdentity(claims []Claim) map[string]string {
	if len(claims) == 0 {
		return nil
	}
	ext := make(map[string]string, len(claims))
	for _, c := range claims {
		if c.Type == "" {
			continue
		}
		ext[c.Type] = c.Value
	}
	return ext
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
