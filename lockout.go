package identity

import "time"

// LockoutPolicy decides when repeated password failures lock an account.
// The failure that reaches the threshold locks the account and resets the
// counter, so the attempt itself already reports a lockout.
type LockoutPolicy struct {
	MaxFailedAttempts int
	Duration          time.Duration
}

// NewLockoutPolicy reads the policy from cfg
func NewLockoutPolicy(cfg Config) LockoutPolicy {
	if cfg == nil {
		cfg = Options{}
	}
	return LockoutPolicy{
		MaxFailedAttempts: cfg.GetMaxFailedAttempts(),
		Duration:          cfg.GetLockoutDuration(),
	}
}

// Locked reports whether an account locked until the given time is still locked
func (p LockoutPolicy) Locked(until *time.Time, now time.Time) bool {
	return until != nil && now.Before(*until)
}

// RegisterFailure returns the next failure count and, when the threshold is
// reached, the end of the lockout window.
func (p LockoutPolicy) RegisterFailure(failed int, now time.Time) (int, *time.Time) {
	max := p.MaxFailedAttempts
	if max <= 0 {
		max = DefaultMaxFailedAttempts
	}

	failed++
	if failed < max {
		return failed, nil
	}

	duration := p.Duration
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}

	until := now.Add(duration)
	return 0, &until
}
