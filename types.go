package identity

import (
	"context"
	"fmt"
	"strings"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Claim is a stored (type, value) assertion about an identity
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Identity is an immutable snapshot of a directory user
type Identity struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	EmailConfirmed bool     `json:"email_confirmed"`
	Roles          []string `json:"roles,omitempty"`
	Claims         []Claim  `json:"claims,omitempty"`
}

// HasRole reports whether the identity carries the given role
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// UserView is the public projection of an identity returned with a session
type UserView struct {
	ID     string  `json:"id"`
	Email  string  `json:"email"`
	Claims []Claim `json:"claims"`
}

// Session is the result of a successful login, refresh or registration
type Session struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    float64  `json:"expires_in"`
	User         UserView `json:"user_token"`
}

// SignInResult is the outcome of a directory credential check
type SignInResult int

const (
	SignInFailed SignInResult = iota
	SignInSucceeded
	SignInLockedOut
)

func (r SignInResult) String() string {
	switch r {
	case SignInSucceeded:
		return "succeeded"
	case SignInLockedOut:
		return "locked_out"
	default:
		return "failed"
	}
}

// NewUser holds what the directory needs to create an account
type NewUser struct {
	Email          string
	Password       string
	EmailConfirmed bool
	Roles          []string
	Claims         []Claim
}

// UserDirectory resolves identities and enforces credential and lockout policy
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByID(ctx context.Context, id string) (*Identity, error)
	CreateUser(ctx context.Context, user NewUser) (*Identity, error)
	DeleteUser(ctx context.Context, id string) error
	GetRoles(ctx context.Context, id string) ([]string, error)
	GetClaims(ctx context.Context, id string) ([]Claim, error)
	CheckPassword(ctx context.Context, email, password string, lockoutOnFailure bool) (SignInResult, error)
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Println(format("[ERR] IDENTITY", msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Println(format("[WRN] IDENTITY", msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Println(format("[INF] IDENTITY", msg, args...))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Println(format("[DBG] IDENTITY", msg, args...))
}

func format(prefix, msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(" ")
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	return b.String()
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
