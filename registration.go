package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
)

// RegistrationState is a step of the registration saga.
type RegistrationState string

const (
	RegistrationPending               RegistrationState = ""
	RegistrationCreated               RegistrationState = "created"
	RegistrationAwaitingDownstreamAck RegistrationState = "awaiting_downstream_ack"
	RegistrationCommitted             RegistrationState = "committed"
	RegistrationCompensating          RegistrationState = "compensating"
	RegistrationCompensated           RegistrationState = "compensated"
	RegistrationCompensationFailed    RegistrationState = "compensation_failed"
)

// Terminal reports whether no further transition can leave the state
func (s RegistrationState) Terminal() bool {
	switch s {
	case RegistrationCommitted, RegistrationCompensated, RegistrationCompensationFailed:
		return true
	}
	return false
}

// RegistrationRequest is sent to the downstream workflow once the identity exists.
type RegistrationRequest struct {
	CorrelationID string `json:"correlation_id"`
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	SocialNumber  string `json:"social_number"`
}

// RegistrationResult is the downstream reply correlated to a RegistrationRequest.
type RegistrationResult struct {
	CorrelationID string   `json:"correlation_id"`
	Valid         bool     `json:"valid"`
	Errors        []string `json:"errors,omitempty"`
}

// EventBus performs a correlated request/response round trip with the
// downstream registration workflow. Implementations honor ctx deadlines.
type EventBus interface {
	Request(ctx context.Context, req RegistrationRequest) (RegistrationResult, error)
}

// EventBusFunc adapts a function into an EventBus.
type EventBusFunc func(ctx context.Context, req RegistrationRequest) (RegistrationResult, error)

// Request satisfies the EventBus interface.
func (f EventBusFunc) Request(ctx context.Context, req RegistrationRequest) (RegistrationResult, error) {
	return f(ctx, req)
}

// SessionIssuer mints a session for a resolved identity.
type SessionIssuer interface {
	IssueSession(ctx context.Context, identity Identity) (*Session, error)
}

// NewAccount is the registration input
type NewAccount struct {
	Name                 string `json:"name" form:"name"`
	Email                string `json:"email" form:"email"`
	Password             string `json:"password" form:"password"`
	PasswordConfirmation string `json:"password_confirmation" form:"password_confirmation"`
	SocialNumber         string `json:"social_number" form:"social_number"`
}

// Validate checks required fields and the password policy.
func (a NewAccount) Validate(minPasswordLength int) error {
	if minPasswordLength <= 0 {
		minPasswordLength = DefaultMinPasswordLength
	}
	return validation.ValidateStruct(&a,
		validation.Field(&a.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&a.Email, validation.Required, validation.Length(3, 256), is.Email),
		validation.Field(&a.Password, validation.Required, validation.Length(minPasswordLength, 100)),
		validation.Field(
			&a.PasswordConfirmation,
			validation.By(matches(a.Password, "passwords do not match")),
		),
		validation.Field(&a.SocialNumber, validation.Required, validation.Length(1, 32)),
	)
}

func matches(expected, message string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		if s != expected {
			return errors.New(message)
		}
		return nil
	}
}

// RegistrationTransition is one recorded step of a saga run
type RegistrationTransition struct {
	From   RegistrationState
	To     RegistrationState
	At     time.Time
	Reason string
}

// RegistrationOutcome is the tagged result of a saga run. Session is only set
// when State is RegistrationCommitted.
type RegistrationOutcome struct {
	State            RegistrationState
	CorrelationID    string
	Identity         *Identity
	Session          *Session
	ValidationErrors []string
	Transitions      []RegistrationTransition
}

// Committed reports whether the saga completed successfully
func (o RegistrationOutcome) Committed() bool {
	return o.State == RegistrationCommitted
}

// RegistrationCoordinator creates the identity, asks the downstream workflow to
// accept it and deletes the identity again when that fails.
type RegistrationCoordinator struct {
	users             UserDirectory
	bus               EventBus
	issuer            SessionIssuer
	timeout           time.Duration
	compensateTimeout time.Duration
	minPassword       int
	transitions       map[RegistrationState]map[RegistrationState]struct{}
	now               func() time.Time
	logger            Logger
	activitySink      ActivitySink
}

// NewRegistrationCoordinator creates a RegistrationCoordinator
func NewRegistrationCoordinator(users UserDirectory, bus EventBus, issuer SessionIssuer, cfg Config) *RegistrationCoordinator {
	if cfg == nil {
		cfg = Options{}
	}
	return &RegistrationCoordinator{
		users:             users,
		bus:               bus,
		issuer:            issuer,
		timeout:           cfg.GetDownstreamTimeout(),
		compensateTimeout: DefaultCompensateTimeout,
		minPassword:       cfg.GetMinPasswordLength(),
		transitions: map[RegistrationState]map[RegistrationState]struct{}{
			RegistrationPending: {
				RegistrationCreated: {},
			},
			RegistrationCreated: {
				RegistrationAwaitingDownstreamAck: {},
				RegistrationCompensating:          {},
			},
			RegistrationAwaitingDownstreamAck: {
				RegistrationCommitted:    {},
				RegistrationCompensating: {},
			},
			RegistrationCompensating: {
				RegistrationCompensated:        {},
				RegistrationCompensationFailed: {},
			},
		},
		now:          time.Now,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}
}

func (rc *RegistrationCoordinator) WithLogger(logger Logger) *RegistrationCoordinator {
	rc.logger = normalizeLogger(logger)
	return rc
}

func (rc *RegistrationCoordinator) WithActivitySink(sink ActivitySink) *RegistrationCoordinator {
	rc.activitySink = normalizeActivitySink(sink)
	return rc
}

// WithClock injects a custom clock (useful for tests).
func (rc *RegistrationCoordinator) WithClock(clock func() time.Time) *RegistrationCoordinator {
	if clock != nil {
		rc.now = clock
	}
	return rc
}

// WithCompensateTimeout bounds the compensating delete
func (rc *RegistrationCoordinator) WithCompensateTimeout(timeout time.Duration) *RegistrationCoordinator {
	if timeout > 0 {
		rc.compensateTimeout = timeout
	}
	return rc
}

// Register runs the saga. The returned outcome is always populated with the
// states visited, even when an error is returned.
func (rc *RegistrationCoordinator) Register(ctx context.Context, account NewAccount) (RegistrationOutcome, error) {
	outcome := RegistrationOutcome{CorrelationID: uuid.NewString()}

	if err := account.Validate(rc.minPassword); err != nil {
		return outcome, invalidInput(err)
	}

	created, err := rc.users.CreateUser(ctx, NewUser{
		Email:          account.Email,
		Password:       account.Password,
		EmailConfirmed: true,
	})
	if err != nil {
		rc.logger.Warn("registration create user failed", "email", account.Email, "error", err)
		return outcome, err
	}
	if created == nil || created.ID == "" {
		rc.logger.Error("registration directory returned no identity", "email", account.Email)
		return outcome, newError(ErrInvalidIdentity, nil, map[string]any{
			"email":  account.Email,
			"reason": "directory returned no identity",
		})
	}

	outcome.Identity = created
	if err := rc.transition(ctx, &outcome, RegistrationCreated, "identity created"); err != nil {
		return outcome, err
	}

	if err := rc.transition(ctx, &outcome, RegistrationAwaitingDownstreamAck, "request sent"); err != nil {
		return outcome, err
	}

	failure := rc.awaitDownstream(ctx, &outcome, RegistrationRequest{
		CorrelationID: outcome.CorrelationID,
		UserID:        created.ID,
		Name:          account.Name,
		Email:         created.Email,
		SocialNumber:  account.SocialNumber,
	})
	if failure != nil {
		return rc.compensate(ctx, outcome, failure)
	}

	if err := rc.transition(ctx, &outcome, RegistrationCommitted, "downstream accepted"); err != nil {
		return outcome, err
	}

	// the downstream record exists at this point, so a signing failure is
	// reported without deleting the identity
	session, err := rc.issuer.IssueSession(ctx, *created)
	if err != nil {
		return outcome, err
	}

	outcome.Session = session
	return outcome, nil
}

func (rc *RegistrationCoordinator) awaitDownstream(ctx context.Context, outcome *RegistrationOutcome, req RegistrationRequest) error {
	reqCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	result, err := rc.bus.Request(reqCtx, req)
	if err != nil {
		reason := "transport_error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		return newError(ErrDownstreamUnavailable, err, map[string]any{
			"correlation_id": req.CorrelationID,
			"reason":         reason,
		})
	}

	if result.CorrelationID != "" && result.CorrelationID != req.CorrelationID {
		return newError(ErrDownstreamUnavailable, nil, map[string]any{
			"correlation_id": req.CorrelationID,
			"reason":         "correlation_mismatch",
			"received":       result.CorrelationID,
		})
	}

	if !result.Valid {
		outcome.ValidationErrors = append([]string(nil), result.Errors...)
		return newError(ErrDownstreamValidationFailed, nil, map[string]any{
			"correlation_id": req.CorrelationID,
			"errors":         outcome.ValidationErrors,
		})
	}

	return nil
}

// compensate deletes the identity on a context detached from the caller so a
// cancelled request still cleans up. The delete is not retried.
func (rc *RegistrationCoordinator) compensate(ctx context.Context, outcome RegistrationOutcome, failure error) (RegistrationOutcome, error) {
	if err := rc.transition(ctx, &outcome, RegistrationCompensating, failureReason(failure)); err != nil {
		return outcome, err
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.compensateTimeout)
	defer cancel()

	if err := rc.users.DeleteUser(cctx, outcome.Identity.ID); err != nil {
		rc.logger.Error("registration compensation failed",
			"user_id", outcome.Identity.ID,
			"correlation_id", outcome.CorrelationID,
			"error", err,
		)
		if terr := rc.transition(ctx, &outcome, RegistrationCompensationFailed, err.Error()); terr != nil {
			return outcome, terr
		}
		return outcome, withMetadata(failure, map[string]any{
			"compensation_error": err.Error(),
			"user_id":            outcome.Identity.ID,
		})
	}

	if err := rc.transition(ctx, &outcome, RegistrationCompensated, "identity deleted"); err != nil {
		return outcome, err
	}

	return outcome, failure
}

func (rc *RegistrationCoordinator) transition(ctx context.Context, outcome *RegistrationOutcome, to RegistrationState, reason string) error {
	from := outcome.State
	if !rc.canTransition(from, to) {
		return newError(ErrInvalidRegistrationTransition, nil, map[string]any{
			"from": string(from),
			"to":   string(to),
		})
	}

	at := rc.now()
	outcome.State = to
	outcome.Transitions = append(outcome.Transitions, RegistrationTransition{
		From:   from,
		To:     to,
		At:     at,
		Reason: reason,
	})

	var userID string
	if outcome.Identity != nil {
		userID = outcome.Identity.ID
	}

	rc.logger.Debug("registration transition", "from", from, "to", to, "user_id", userID, "correlation_id", outcome.CorrelationID)

	recordActivity(ctx, rc.activitySink, rc.logger, ActivityEvent{
		EventType:  ActivityEventRegistrationTransition,
		UserID:     userID,
		FromState:  from,
		ToState:    to,
		OccurredAt: at,
		Metadata: map[string]any{
			"correlation_id": outcome.CorrelationID,
			"reason":         reason,
		},
	})

	return nil
}

func (rc *RegistrationCoordinator) canTransition(from, to RegistrationState) bool {
	if allowed, ok := rc.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func failureReason(err error) string {
	if md := ErrorMetadata(err); md != nil {
		if reason, ok := md["reason"].(string); ok && reason != "" {
			return reason
		}
	}
	if HasTextCode(err, TextCodeDownstreamValidationFailed) {
		return "validation_failed"
	}
	return fmt.Sprintf("%v", err)
}
