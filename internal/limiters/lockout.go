package limiters

import "time"

// LockoutConfig holds the brute-force lockout thresholds.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

// LockoutState is the view of an account that the policy reads and mutates.
type LockoutState struct {
	FailedAttempts *int
	LockedUntil    *time.Time
}

// LockoutPolicy counts consecutive failed password checks and sets a lock
// window once the threshold is crossed. It never rejects a request itself;
// callers decide what a lock means.
type LockoutPolicy struct {
	config LockoutConfig
}

// NewLockoutPolicy returns a policy for cfg.
func NewLockoutPolicy(cfg LockoutConfig) *LockoutPolicy {
	return &LockoutPolicy{config: cfg}
}

// Check reports whether state is locked at now and for how much longer.
// An expired lock is cleared together with the counter; changed tells the
// caller that state must be persisted.
func (p *LockoutPolicy) Check(state LockoutState, now time.Time) (locked bool, retryAfter time.Duration, changed bool) {
	if state.LockedUntil.IsZero() {
		return false, 0, false
	}
	if now.Before(*state.LockedUntil) {
		return true, state.LockedUntil.Sub(now), false
	}

	*state.LockedUntil = time.Time{}
	*state.FailedAttempts = 0
	return false, 0, true
}

// RecordFailure increments the counter and, when it reaches the threshold,
// locks the account until now plus the lock duration. It returns true when
// this failure set the lock.
func (p *LockoutPolicy) RecordFailure(state LockoutState, now time.Time) bool {
	*state.FailedAttempts++
	if p.config.Threshold > 0 && *state.FailedAttempts >= p.config.Threshold {
		*state.LockedUntil = now.Add(p.config.Duration)
		return true
	}
	return false
}

// RecordSuccess resets the counter and lock. It returns false when there was
// nothing to reset.
func (p *LockoutPolicy) RecordSuccess(state LockoutState) bool {
	if *state.FailedAttempts == 0 && state.LockedUntil.IsZero() {
		return false
	}
	*state.FailedAttempts = 0
	*state.LockedUntil = time.Time{}
	return true
}
