package identity

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-featuregate/gate"
)

// RefreshTokenValidator checks refresh tokens on redemption.
type RefreshTokenValidator interface {
	ValidateRefreshToken(ctx context.Context, token string) (RefreshValidation, error)
}

// Credentials is the login input
type Credentials struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate checks that both fields are present
func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, is.Email),
		validation.Field(&c.Password, validation.Required),
	)
}

// Auther composes the login, refresh and registration flows.
type Auther struct {
	users        UserDirectory
	issuer       SessionIssuer
	validator    RefreshTokenValidator
	registration *RegistrationCoordinator
	featureGate  gate.FeatureGate
	logger       Logger
	activitySink ActivitySink
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(users UserDirectory, issuer SessionIssuer, validator RefreshTokenValidator) *Auther {
	return &Auther{
		users:        users,
		issuer:       issuer,
		validator:    validator,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = normalizeLogger(logger)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithRegistrationCoordinator enables Register
func (s *Auther) WithRegistrationCoordinator(rc *RegistrationCoordinator) *Auther {
	s.registration = rc
	return s
}

// WithFeatureGate lets the signup feature switch Register off
func (s *Auther) WithFeatureGate(featureGate gate.FeatureGate) *Auther {
	s.featureGate = featureGate
	return s
}

// Login checks credentials with lockout enabled and issues a session.
func (s *Auther) Login(ctx context.Context, email, password string) (*Session, error) {
	creds := Credentials{Email: strings.TrimSpace(email), Password: password}
	if err := creds.Validate(); err != nil {
		return nil, invalidInput(err)
	}

	result, err := s.users.CheckPassword(ctx, creds.Email, creds.Password, true)
	if err != nil {
		s.logger.Error("Login check password error", "error", err)
		return nil, err
	}

	switch result {
	case SignInSucceeded:
	case SignInLockedOut:
		s.logger.Warn("Login blocked, account locked out", "email", creds.Email)
		s.emitAuthEvent(ctx, ActivityEventLoginLockedOut, ActorRef{Type: "unknown"}, "", map[string]any{
			"email": creds.Email,
		})
		return nil, newError(ErrAccountLocked, nil, nil)
	default:
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"email": creds.Email,
		})
		return nil, newError(ErrInvalidCredentials, nil, nil)
	}

	identity, err := s.resolveIdentity(ctx, creds.Email)
	if err != nil {
		s.logger.Error("Login resolve identity error", "error", err)
		if HasTextCode(err, TextCodeIdentityNotFound) {
			return nil, newError(ErrInvalidCredentials, err, nil)
		}
		return nil, err
	}

	session, err := s.issuer.IssueSession(ctx, *identity)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, actorFromIdentity(identity), identity.ID, map[string]any{
			"email": creds.Email,
			"error": err.Error(),
		})
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, actorFromIdentity(identity), identity.ID, map[string]any{
		"email": creds.Email,
	})

	return session, nil
}

// Refresh redeems a refresh token for a brand new session. The presented
// token is not revoked.
func (s *Auther) Refresh(ctx context.Context, token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newError(ErrInvalidInput, nil, map[string]any{
			"fields": map[string]string{"refresh_token": "cannot be blank"},
		})
	}

	check, err := s.validator.ValidateRefreshToken(ctx, token)
	if err != nil {
		s.logger.Error("Refresh validate token error", "error", err)
		return nil, err
	}

	if !check.Valid {
		s.emitAuthEvent(ctx, ActivityEventTokenRefreshFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"reason": string(check.Reason),
			"kid":    check.KeyID,
		})
		return nil, invalidRefreshToken(check.Reason)
	}

	identity, err := s.resolveIdentity(ctx, check.Subject)
	if err != nil {
		if HasTextCode(err, TextCodeIdentityNotFound) {
			s.emitAuthEvent(ctx, ActivityEventTokenRefreshFailure, ActorRef{Type: "unknown"}, "", map[string]any{
				"reason": string(ReasonSubjectNotFound),
			})
			return nil, invalidRefreshToken(ReasonSubjectNotFound)
		}
		return nil, err
	}

	session, err := s.issuer.IssueSession(ctx, *identity)
	if err != nil {
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventTokenRefreshed, actorFromIdentity(identity), identity.ID, nil)

	return session, nil
}

// Register runs the registration saga and returns the session of the new
// identity once the downstream workflow accepted it.
func (s *Auther) Register(ctx context.Context, account NewAccount) (*Session, RegistrationOutcome, error) {
	if err := requireFeatureGate(ctx, s.featureGate, gate.FeatureUsersSignup, ErrRegistrationDisabled); err != nil {
		return nil, RegistrationOutcome{}, err
	}

	if s.registration == nil {
		return nil, RegistrationOutcome{}, newError(ErrDownstreamUnavailable, nil, map[string]any{
			"reason": "registration not configured",
		})
	}

	outcome, err := s.registration.Register(ctx, account)
	if err != nil {
		return nil, outcome, err
	}

	return outcome.Session, outcome, nil
}

// resolveIdentity assembles a full snapshot with roles and claims
func (s *Auther) resolveIdentity(ctx context.Context, email string) (*Identity, error) {
	found, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, newError(ErrIdentityNotFound, nil, map[string]any{"email": email})
	}

	identity := *found

	roles, err := s.users.GetRoles(ctx, identity.ID)
	if err != nil {
		return nil, err
	}

	claims, err := s.users.GetClaims(ctx, identity.ID)
	if err != nil {
		return nil, err
	}

	identity.Roles = roles
	identity.Claims = claims

	return &identity, nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	})
}

func actorFromIdentity(identity *Identity) ActorRef {
	if identity == nil {
		return ActorRef{Type: "unknown"}
	}
	return ActorRef{ID: identity.ID, Type: "user"}
}
