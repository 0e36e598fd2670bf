package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLockout_ThresholdTriggersLock(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.activeAccount(t, "alice@example.com")

	for i := 0; i < 5; i++ {
		_, err := env.login("alice@example.com", "wrong-password", "")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	acct := env.account(t, id)
	if acct.FailedLoginAttempts != 5 {
		t.Fatalf("expected 5 failed attempts, got %d", acct.FailedLoginAttempts)
	}
	wantUntil := env.clock.Now().Add(30 * time.Minute)
	if !acct.LockedUntil.Equal(wantUntil) {
		t.Fatalf("expected LockedUntil %v, got %v", wantUntil, acct.LockedUntil)
	}

	// The correct password is refused while the lock holds.
	_, err := env.login("alice@example.com", testPassword, "")
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if got := RetryAfter(err); got != 30*time.Minute {
		t.Fatalf("expected RetryAfter 30m, got %v", got)
	}
}

func TestLockout_RetryAfterShrinks(t *testing.T) {
	env := newTestEnv(t, nil)
	env.activeAccount(t, "alice@example.com")

	for i := 0; i < 5; i++ {
		env.login("alice@example.com", "wrong-password", "")
	}
	env.clock.Advance(10 * time.Minute)

	_, err := env.login("alice@example.com", testPassword, "")
	var locked *AccountLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected *AccountLockedError, got %v", err)
	}
	if locked.RetryAfter != 20*time.Minute {
		t.Fatalf("expected 20m remaining, got %v", locked.RetryAfter)
	}
}

func TestLockout_UnlocksAfterDuration(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.activeAccount(t, "alice@example.com")

	for i := 0; i < 5; i++ {
		env.login("alice@example.com", "wrong-password", "")
	}
	env.clock.Advance(30 * time.Minute)

	if _, err := env.login("alice@example.com", testPassword, ""); err != nil {
		t.Fatalf("expected login after lock expiry, got %v", err)
	}
	acct := env.account(t, id)
	if acct.FailedLoginAttempts != 0 || !acct.LockedUntil.IsZero() {
		t.Fatalf("expected lockout state cleared, got attempts=%d until=%v", acct.FailedLoginAttempts, acct.LockedUntil)
	}
}

func TestLockout_ExpiredLockIsClearedBeforeWrongPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.activeAccount(t, "alice@example.com")

	for i := 0; i < 5; i++ {
		env.login("alice@example.com", "wrong-password", "")
	}
	env.clock.Advance(31 * time.Minute)

	_, err := env.login("alice@example.com", "wrong-password", "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	acct := env.account(t, id)
	if acct.FailedLoginAttempts != 1 || !acct.LockedUntil.IsZero() {
		t.Fatalf("expected a fresh count of 1 and no lock, got attempts=%d until=%v", acct.FailedLoginAttempts, acct.LockedUntil)
	}
}

func TestLockout_SuccessResetsCounter(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.activeAccount(t, "alice@example.com")

	for i := 0; i < 3; i++ {
		env.login("alice@example.com", "wrong-password", "")
	}
	if _, err := env.login("alice@example.com", testPassword, ""); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if got := env.account(t, id).FailedLoginAttempts; got != 0 {
		t.Fatalf("expected counter reset, got %d", got)
	}
}

func TestLockout_UnknownEmailLooksLikeWrongPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	env.activeAccount(t, "alice@example.com")

	_, unknown := env.login("nobody@example.com", testPassword, "")
	_, wrong := env.login("alice@example.com", "wrong-password", "")
	if !errors.Is(unknown, ErrInvalidCredentials) || !errors.Is(wrong, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v and %v", unknown, wrong)
	}
	if unknown.Error() != wrong.Error() {
		t.Fatalf("expected identical messages, got %q and %q", unknown, wrong)
	}
	if env.store.Len() != 1 {
		t.Fatalf("expected no account created, got %d", env.store.Len())
	}
}

func TestLockout_UnlockAccountClearsLock(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.activeAccount(t, "alice@example.com")

	for i := 0; i < 5; i++ {
		env.login("alice@example.com", "wrong-password", "")
	}
	if err := env.engine.UnlockAccount(context.Background(), id); err != nil {
		t.Fatalf("UnlockAccount failed: %v", err)
	}

	if _, err := env.login("alice@example.com", testPassword, ""); err != nil {
		t.Fatalf("expected login after unlock, got %v", err)
	}
	attempts, err := env.engine.GetLoginAttempts(context.Background(), id)
	if err != nil {
		t.Fatalf("GetLoginAttempts failed: %v", err)
	}
	if attempts.FailedLoginAttempts != 0 || !attempts.LockedUntil.IsZero() {
		t.Fatalf("expected clean counters, got %+v", attempts)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricAccountUnlocked]; got != 1 {
		t.Fatalf("expected one unlock metric, got %d", got)
	}
}
