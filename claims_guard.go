package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type protectedClaimsSnapshot struct {
	subject   string
	issuer    string
	tokenID   string
	email     string
	roles     []string
	audience  []string
	issuedAt  time.Time
	notBefore time.Time
	expiresAt time.Time
}

func captureProtectedClaims(claims *AccessClaims) protectedClaimsSnapshot {
	snap := protectedClaimsSnapshot{
		subject:   claims.RegisteredClaims.Subject,
		issuer:    claims.RegisteredClaims.Issuer,
		tokenID:   claims.RegisteredClaims.ID,
		email:     claims.Email,
		roles:     append([]string(nil), claims.Roles...),
		audience:  append([]string(nil), claims.RegisteredClaims.Audience...),
		issuedAt:  numericTime(claims.RegisteredClaims.IssuedAt),
		notBefore: numericTime(claims.RegisteredClaims.NotBefore),
		expiresAt: numericTime(claims.RegisteredClaims.ExpiresAt),
	}
	return snap
}

func (snap protectedClaimsSnapshot) validate(claims *AccessClaims) error {
	switch {
	case claims.RegisteredClaims.Subject != snap.subject:
		return protectedClaimViolation("sub")
	case claims.RegisteredClaims.Issuer != snap.issuer:
		return protectedClaimViolation("iss")
	case claims.RegisteredClaims.ID != snap.tokenID:
		return protectedClaimViolation("jti")
	case claims.Email != snap.email:
		return protectedClaimViolation("email")
	case !stringsEqual(claims.Roles, snap.roles):
		return protectedClaimViolation("role")
	case !stringsEqual(claims.RegisteredClaims.Audience, snap.audience):
		return protectedClaimViolation("aud")
	case !numericTime(claims.RegisteredClaims.IssuedAt).Equal(snap.issuedAt):
		return protectedClaimViolation("iat")
	case !numericTime(claims.RegisteredClaims.NotBefore).Equal(snap.notBefore):
		return protectedClaimViolation("nbf")
	case !numericTime(claims.RegisteredClaims.ExpiresAt).Equal(snap.expiresAt):
		return protectedClaimViolation("exp")
	}
	return nil
}

func numericTime(date *jwt.NumericDate) time.Time {
	if date == nil {
		return time.Time{}
	}
	return date.Time
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func protectedClaimViolation(field string) error {
	err := newError(ErrProtectedClaimsMutated, nil, map[string]any{"claim": field})
	err.Message = fmt.Sprintf("protected claim mutated: %s", field)
	return err
}
