package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// APIResponse is the envelope of every identity endpoint
type APIResponse struct {
	Success bool     `json:"success"`
	Data    any      `json:"data,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// KeySetPublisher exposes the verification keys
type KeySetPublisher interface {
	PublishKeySet(ctx context.Context) (JSONWebKeySet, error)
}

// KeySetPublisherFunc adapts a function into a KeySetPublisher.
type KeySetPublisherFunc func(ctx context.Context) (JSONWebKeySet, error)

func (f KeySetPublisherFunc) PublishKeySet(ctx context.Context) (JSONWebKeySet, error) {
	return f(ctx)
}

// KeySetFromProvider publishes the keys held by provider
func KeySetFromProvider(provider SigningKeyProvider) KeySetPublisher {
	return KeySetPublisherFunc(func(ctx context.Context) (JSONWebKeySet, error) {
		return PublishKeySet(ctx, provider)
	})
}

// IdentityService is what the controller needs from the Auther
type IdentityService interface {
	Login(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, token string) (*Session, error)
	Register(ctx context.Context, account NewAccount) (*Session, RegistrationOutcome, error)
}

var _ IdentityService = (*Auther)(nil)

type IdentityControllerRoutes struct {
	NewAccount   string
	Login        string
	RefreshToken string
	KeySet       string
}

type IdentityController struct {
	Debug   bool
	Logger  Logger
	Routes  *IdentityControllerRoutes
	Service IdentityService
	KeySet  KeySetPublisher
}

type IdentityControllerOption func(*IdentityController) *IdentityController

func WithControllerDebug(debug bool) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.Debug = debug
		return c
	}
}

func WithControllerLogger(logger Logger) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

func WithControllerService(service IdentityService) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.Service = service
		return c
	}
}

func WithControllerKeySet(keys KeySetPublisher) IdentityControllerOption {
	return func(c *IdentityController) *IdentityController {
		c.KeySet = keys
		return c
	}
}

// RegisterIdentityRoutes mounts the identity endpoints on app
func RegisterIdentityRoutes[T any](app router.Router[T], opts ...IdentityControllerOption) *IdentityController {
	controller := NewIdentityController(opts...)

	app.Post(controller.Routes.NewAccount, controller.NewAccount).
		SetName("identity.new-account.post")

	app.Post(controller.Routes.Login, controller.Login).
		SetName("identity.auth.post")

	app.Post(controller.Routes.RefreshToken, controller.RefreshToken).
		SetName("identity.refresh-token.post")

	if controller.KeySet != nil {
		app.Get(controller.Routes.KeySet, controller.PublishKeySet).
			SetName("identity.jwks.get")
	}

	return controller
}

func NewIdentityController(opts ...IdentityControllerOption) *IdentityController {
	c := &IdentityController{
		Logger: defLogger{},
		Routes: &IdentityControllerRoutes{
			NewAccount:   "/api/identity/new-account",
			Login:        "/api/identity/auth",
			RefreshToken: "/api/identity/refresh-token",
			KeySet:       "/api/identity/jwks",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Service == nil {
		panic("Missing IdentityService in identity controller...")
	}

	return c
}

// LoginPayload is the body of the login endpoint
type LoginPayload struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// RefreshTokenPayload accepts either a bare JSON string or
// {"refresh_token": "..."} as the request body.
type RefreshTokenPayload struct {
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

func (p *RefreshTokenPayload) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		return json.Unmarshal(data, &p.RefreshToken)
	}

	type alias RefreshTokenPayload
	var out alias
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*p = RefreshTokenPayload(out)
	return nil
}

func (a *IdentityController) NewAccount(ctx router.Context) error {
	payload := new(NewAccount)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("new account parse payload", "error", err)
		return a.respondError(ctx, newError(ErrInvalidInput, err, nil))
	}

	if a.Debug {
		fmt.Println("======= IDENTITY NEW ACCOUNT ======")
		fmt.Println(print.MaybePrettyJSON(map[string]string{
			"name":  payload.Name,
			"email": payload.Email,
		}))
		fmt.Println("===================================")
	}

	session, _, err := a.Service.Register(ctx.Context(), *payload)
	if err != nil {
		return a.respondError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, APIResponse{Success: true, Data: session})
}

func (a *IdentityController) Login(ctx router.Context) error {
	payload := new(LoginPayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("login parse payload", "error", err)
		return a.respondError(ctx, newError(ErrInvalidInput, err, nil))
	}

	if a.Debug {
		fmt.Println("======= IDENTITY LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(map[string]string{"email": payload.Email}))
		fmt.Println("=============================")
	}

	session, err := a.Service.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return a.respondError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, APIResponse{Success: true, Data: session})
}

func (a *IdentityController) RefreshToken(ctx router.Context) error {
	payload := new(RefreshTokenPayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("refresh token parse payload", "error", err)
		return a.respondError(ctx, newError(ErrInvalidInput, err, nil))
	}

	session, err := a.Service.Refresh(ctx.Context(), payload.RefreshToken)
	if err != nil {
		return a.respondError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, APIResponse{Success: true, Data: session})
}

// PublishKeySet serves the JWKS document as is, without the envelope.
func (a *IdentityController) PublishKeySet(ctx router.Context) error {
	set, err := a.KeySet.PublishKeySet(ctx.Context())
	if err != nil {
		return a.respondError(ctx, err)
	}
	return ctx.JSON(router.StatusOK, set)
}

func (a *IdentityController) respondError(ctx router.Context, err error) error {
	status := StatusCode(err)
	if status >= router.StatusInternalServerError {
		a.Logger.Error("identity request failed", "error", err, "status", status)
	} else {
		a.Logger.Debug("identity request rejected", "error", err, "status", status)
	}

	if a.Debug {
		fmt.Println(print.MaybePrettyJSON(ErrorMetadata(err)))
	}

	return ctx.JSON(status, APIResponse{
		Success: false,
		Errors:  ErrorMessages(err),
	})
}
