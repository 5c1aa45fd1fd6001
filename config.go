package identity

import "time"

const (
	DefaultAccessTokenTTL    = time.Hour
	DefaultRefreshTokenTTL   = 30 * 24 * time.Hour
	DefaultDownstreamTimeout = 10 * time.Second
	DefaultCompensateTimeout = 10 * time.Second
	DefaultKeyRotationPeriod = 90 * 24 * time.Hour
	DefaultKeyRetention      = 2
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 5 * time.Minute
	DefaultMinPasswordLength = 8
	DefaultSigningAlgorithm  = "ES256"
)

// KeyVerificationMode selects which signing keys verify a refresh token.
type KeyVerificationMode string

const (
	// KeyVerificationCurrent only accepts tokens signed with the current key,
	// so a rotation forces every client to log in again.
	KeyVerificationCurrent KeyVerificationMode = "current"
	// KeyVerificationHistory accepts any retained key, selected by kid.
	KeyVerificationHistory KeyVerificationMode = "history"
)

// Config holds token and registration options
type Config interface {
	GetIssuer() string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetDownstreamTimeout() time.Duration
	GetSigningAlgorithm() string
	GetKeyRotationPeriod() time.Duration
	GetKeyRetention() int
	GetKeyVerificationMode() KeyVerificationMode
	GetMaxFailedAttempts() int
	GetLockoutDuration() time.Duration
	GetMinPasswordLength() int
}

// Options is the default Config implementation. Zero values fall back to the
// package defaults.
type Options struct {
	Issuer              string
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	DownstreamTimeout   time.Duration
	SigningAlgorithm    string
	KeyRotationPeriod   time.Duration
	KeyRetention        int
	KeyVerificationMode KeyVerificationMode
	MaxFailedAttempts   int
	LockoutDuration     time.Duration
	MinPasswordLength   int
}

var _ Config = Options{}

// DefaultConfig returns Options for the given issuer
func DefaultConfig(issuer string) Options {
	return Options{Issuer: issuer}
}

func (o Options) GetIssuer() string { return o.Issuer }

func (o Options) GetAccessTokenTTL() time.Duration {
	if o.AccessTokenTTL <= 0 {
		return DefaultAccessTokenTTL
	}
	return o.AccessTokenTTL
}

func (o Options) GetRefreshTokenTTL() time.Duration {
	if o.RefreshTokenTTL <= 0 {
		return DefaultRefreshTokenTTL
	}
	return o.RefreshTokenTTL
}

func (o Options) GetDownstreamTimeout() time.Duration {
	if o.DownstreamTimeout <= 0 {
		return DefaultDownstreamTimeout
	}
	return o.DownstreamTimeout
}

func (o Options) GetSigningAlgorithm() string {
	if o.SigningAlgorithm == "" {
		return DefaultSigningAlgorithm
	}
	return o.SigningAlgorithm
}

func (o Options) GetKeyRotationPeriod() time.Duration {
	if o.KeyRotationPeriod <= 0 {
		return DefaultKeyRotationPeriod
	}
	return o.KeyRotationPeriod
}

func (o Options) GetKeyRetention() int {
	if o.KeyRetention <= 0 {
		return DefaultKeyRetention
	}
	return o.KeyRetention
}

func (o Options) GetKeyVerificationMode() KeyVerificationMode {
	if o.KeyVerificationMode == "" {
		return KeyVerificationCurrent
	}
	return o.KeyVerificationMode
}

func (o Options) GetMaxFailedAttempts() int {
	if o.MaxFailedAttempts <= 0 {
		return DefaultMaxFailedAttempts
	}
	return o.MaxFailedAttempts
}

func (o Options) GetLockoutDuration() time.Duration {
	if o.LockoutDuration <= 0 {
		return DefaultLockoutDuration
	}
	return o.LockoutDuration
}

func (o Options) GetMinPasswordLength() int {
	if o.MinPasswordLength <= 0 {
		return DefaultMinPasswordLength
	}
	return o.MinPasswordLength
}
