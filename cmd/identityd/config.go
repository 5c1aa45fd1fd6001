package main

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	identity "github.com/goliatone/go-identity"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type Config struct {
	App         App         `koanf:"app" json:"app"`
	Identity    Identity    `koanf:"identity" json:"identity"`
	Persistence Persistence `koanf:"persistence" json:"persistence"`
	Bus         Bus         `koanf:"bus" json:"bus"`
}

type App struct {
	Name  string `koanf:"name" json:"name"`
	Port  int    `koanf:"port" json:"port"`
	Debug bool   `koanf:"debug" json:"debug"`
}

type Identity struct {
	Issuer                    string `koanf:"issuer" json:"issuer"`
	AccessTokenTTLExpression  string `koanf:"access_token_ttl" json:"access_token_ttl"`
	RefreshTokenTTLExpression string `koanf:"refresh_token_ttl" json:"refresh_token_ttl"`
	DownstreamTimeoutExpr     string `koanf:"downstream_timeout" json:"downstream_timeout"`
	SigningAlgorithm          string `koanf:"signing_algorithm" json:"signing_algorithm"`
	KeyRotationExpression     string `koanf:"key_rotation_period" json:"key_rotation_period"`
	KeyCheckExpression        string `koanf:"key_check_interval" json:"key_check_interval"`
	KeyRetention              int    `koanf:"key_retention" json:"key_retention"`
	KeyVerificationMode       string `koanf:"key_verification_mode" json:"key_verification_mode"`
	MaxFailedAttempts         int    `koanf:"max_failed_attempts" json:"max_failed_attempts"`
	LockoutExpression         string `koanf:"lockout_duration" json:"lockout_duration"`
	MinPasswordLength         int    `koanf:"min_password_length" json:"min_password_length"`
}

type Persistence struct {
	Debug                 bool   `koanf:"debug" json:"debug"`
	Driver                string `koanf:"driver" json:"driver"`
	DSN                   string `koanf:"dsn" json:"dsn"`
	PingTimeoutExpression string `koanf:"ping_timeout" json:"ping_timeout"`
	OtelIdentifier        string `koanf:"otel_identifier" json:"otel_identifier"`
}

type Bus struct {
	Driver       string `koanf:"driver" json:"driver"`
	RedisAddr    string `koanf:"redis_addr" json:"redis_addr"`
	RedisDB      int    `koanf:"redis_db" json:"redis_db"`
	QueueKey     string `koanf:"queue_key" json:"queue_key"`
	WaitExpr     string `koanf:"wait_timeout" json:"wait_timeout"`
	ReplyTTLExpr string `koanf:"reply_ttl" json:"reply_ttl"`
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.App),
		validation.Field(&c.Identity),
		validation.Field(&c.Persistence),
		validation.Field(&c.Bus),
	)
}

func (a App) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

func (i Identity) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Issuer, validation.Required),
		validation.Field(&i.SigningAlgorithm, validation.In("", "ES256", "RS256", "EdDSA")),
		validation.Field(&i.KeyVerificationMode, validation.In("",
			string(identity.KeyVerificationCurrent),
			string(identity.KeyVerificationHistory),
		)),
		validation.Field(&i.AccessTokenTTLExpression, validation.By(isDuration)),
		validation.Field(&i.RefreshTokenTTLExpression, validation.By(isDuration)),
		validation.Field(&i.DownstreamTimeoutExpr, validation.By(isDuration)),
		validation.Field(&i.KeyRotationExpression, validation.By(isDuration)),
		validation.Field(&i.KeyCheckExpression, validation.By(isDuration)),
		validation.Field(&i.LockoutExpression, validation.By(isDuration)),
	)
}

func (p Persistence) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Driver, validation.Required, validation.In(sqliteshim.ShimName, "sqlite", "sqlite3")),
		validation.Field(&p.DSN, validation.Required),
		validation.Field(&p.PingTimeoutExpression, validation.By(isDuration)),
	)
}

func (b Bus) Validate() error {
	addrRules := []validation.Rule{}
	if b.Driver == "redis" {
		addrRules = append(addrRules, validation.Required)
	}
	return validation.ValidateStruct(&b,
		validation.Field(&b.Driver, validation.Required, validation.In("memory", "redis")),
		validation.Field(&b.RedisAddr, addrRules...),
		validation.Field(&b.WaitExpr, validation.By(isDuration)),
		validation.Field(&b.ReplyTTLExpr, validation.By(isDuration)),
	)
}

func (c *Config) GetApp() App                 { return c.App }
func (c *Config) GetIdentity() Identity       { return c.Identity }
func (c *Config) GetPersistence() Persistence { return c.Persistence }
func (c *Config) GetBus() Bus                 { return c.Bus }

func (a App) GetAddr() string {
	return fmt.Sprintf(":%d", a.Port)
}

// Options maps the identity section onto identity.Options. Empty durations
// keep the package defaults.
func (i Identity) Options() identity.Options {
	return identity.Options{
		Issuer:              i.Issuer,
		AccessTokenTTL:      mustDuration(i.AccessTokenTTLExpression),
		RefreshTokenTTL:     mustDuration(i.RefreshTokenTTLExpression),
		DownstreamTimeout:   mustDuration(i.DownstreamTimeoutExpr),
		SigningAlgorithm:    i.SigningAlgorithm,
		KeyRotationPeriod:   mustDuration(i.KeyRotationExpression),
		KeyRetention:        i.KeyRetention,
		KeyVerificationMode: identity.KeyVerificationMode(i.KeyVerificationMode),
		MaxFailedAttempts:   i.MaxFailedAttempts,
		LockoutDuration:     mustDuration(i.LockoutExpression),
		MinPasswordLength:   i.MinPasswordLength,
	}
}

func (i Identity) GetKeyCheckInterval() time.Duration {
	return mustDuration(i.KeyCheckExpression)
}

func (p Persistence) GetDebug() bool           { return p.Debug }
func (p Persistence) GetDriver() string         { return p.Driver }
func (p Persistence) GetServer() string         { return p.DSN }
func (p Persistence) GetOtelIdentifier() string { return p.OtelIdentifier }

func (p Persistence) GetPingTimeout() time.Duration {
	if dur := mustDuration(p.PingTimeoutExpression); dur > 0 {
		return dur
	}
	return 5 * time.Second
}

func (b Bus) GetWaitTimeout() time.Duration {
	return mustDuration(b.WaitExpr)
}

func (b Bus) GetReplyTTL() time.Duration {
	return mustDuration(b.ReplyTTLExpr)
}

func isDuration(value any) error {
	expr, _ := value.(string)
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	if _, err := time.ParseDuration(expr); err != nil {
		return fmt.Errorf("invalid duration %q", expr)
	}
	return nil
}

func mustDuration(expr string) time.Duration {
	if strings.TrimSpace(expr) == "" {
		return 0
	}
	dur, err := time.ParseDuration(expr)
	if err != nil {
		panic(fmt.Sprintf("unable to parse time: expr %s", expr))
	}
	return dur
}
