package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const newTestPassword = "N3w!password"

func requestReset(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	if err := env.engine.RequestPasswordReset(context.Background(), email); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	return env.mail.lastToken(t)
}

func TestPasswordReset_RequestUnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.engine.RequestPasswordReset(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("expected nil for unknown email, got %v", err)
	}
	if env.mail.count() != 0 {
		t.Fatal("expected no mail for unknown email")
	}
}

func TestPasswordReset_RequestStoresHashAndMailsLink(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.activeAccount(t, "alice@example.com")

	token := requestReset(t, env, "alice@example.com")
	if len(token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(token))
	}
	if !strings.Contains(env.mail.last(t).Text, "http://localhost:3000/reset-password?token="+token) {
		t.Fatalf("unexpected reset mail %q", env.mail.last(t).Text)
	}

	acct := env.account(t, id)
	if acct.PasswordResetTokenHash == "" || acct.PasswordResetTokenHash == token {
		t.Fatal("expected only the token hash to be stored")
	}
	if !acct.PasswordResetExpiresAt.Equal(env.clock.Now().Add(time.Hour)) {
		t.Fatalf("expected 1h expiry, got %v", acct.PasswordResetExpiresAt)
	}
}

func TestPasswordReset_CooldownSuppressesRepeatRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	env.activeAccount(t, "alice@example.com")

	first := requestReset(t, env, "alice@example.com")
	sent := env.mail.count()

	env.clock.Advance(14 * time.Minute)
	if err := env.engine.RequestPasswordReset(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("expected nil inside cooldown, got %v", err)
	}
	if env.mail.count() != sent {
		t.Fatal("expected no mail inside the cooldown")
	}

	env.clock.Advance(time.Minute)
	second := requestReset(t, env, "alice@example.com")
	if second == first {
		t.Fatal("expected a new token after the cooldown")
	}
	if err := env.engine.ConfirmPasswordReset(context.Background(), first, newTestPassword); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected superseded token to fail with ErrInvalidResetToken, got %v", err)
	}
}

func TestPasswordReset_ConfirmReplacesPasswordAndRevokesSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	id := env.activeAccount(t, "alice@example.com")

	sess, err := env.login("alice@example.com", testPassword, "")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		env.login("alice@example.com", "wrong-password", "")
	}

	token := requestReset(t, env, "alice@example.com")
	if err := env.engine.ConfirmPasswordReset(ctx, token, newTestPassword); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}

	acct := env.account(t, id)
	if acct.PasswordResetTokenHash != "" || !acct.PasswordResetExpiresAt.IsZero() || !acct.PasswordResetRequestedAt.IsZero() {
		t.Fatal("expected active reset state cleared")
	}
	if len(acct.UsedResetTokenHashes) != 1 {
		t.Fatalf("expected one used hash, got %d", len(acct.UsedResetTokenHashes))
	}
	if acct.FailedLoginAttempts != 0 || acct.FailedTwoFactorAttempts != 0 {
		t.Fatal("expected counters reset")
	}
	if _, err := env.engine.Refresh(ctx, sess.RefreshToken); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("expected refresh token revoked, got %v", err)
	}

	if _, err := env.login("alice@example.com", testPassword, ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := env.login("alice@example.com", newTestPassword, ""); err != nil {
		t.Fatalf("expected new password accepted, got %v", err)
	}
}

func TestPasswordReset_TokenIsSingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.activeAccount(t, "alice@example.com")

	token := requestReset(t, env, "alice@example.com")
	if err := env.engine.ConfirmPasswordReset(ctx, token, newTestPassword); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, token, "An0ther!password"); !errors.Is(err, ErrResetTokenReused) {
		t.Fatalf("expected ErrResetTokenReused, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricPasswordResetReuseDetected]; got != 1 {
		t.Fatalf("expected reuse metric 1, got %d", got)
	}
	if _, err := env.login("alice@example.com", newTestPassword, ""); err != nil {
		t.Fatalf("reuse attempt must not change the password, got %v", err)
	}
}

func TestPasswordReset_ExpiredToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.activeAccount(t, "alice@example.com")

	token := requestReset(t, env, "alice@example.com")
	env.clock.Advance(time.Hour)
	if err := env.engine.ConfirmPasswordReset(context.Background(), token, newTestPassword); !errors.Is(err, ErrResetTokenExpired) {
		t.Fatalf("expected ErrResetTokenExpired, got %v", err)
	}
}

func TestPasswordReset_PolicyFailureKeepsToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.activeAccount(t, "alice@example.com")

	token := requestReset(t, env, "alice@example.com")
	for _, weak := range []string{"short", "alllowercase1!", "NoDigits!!", "NoSpecial123"} {
		if err := env.engine.ConfirmPasswordReset(ctx, token, weak); !errors.Is(err, ErrPasswordPolicy) {
			t.Fatalf("password %q: expected ErrPasswordPolicy, got %v", weak, err)
		}
	}
	if err := env.engine.ConfirmPasswordReset(ctx, token, newTestPassword); err != nil {
		t.Fatalf("expected token still usable, got %v", err)
	}
}

func TestPasswordReset_UnknownAndEmptyTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, token := range []string{"", "   ", strings.Repeat("ab", 32)} {
		if err := env.engine.ConfirmPasswordReset(ctx, token, newTestPassword); !errors.Is(err, ErrInvalidResetToken) {
			t.Fatalf("token %q: expected ErrInvalidResetToken, got %v", token, err)
		}
	}
}

func TestPasswordReset_UsedHistoryIsCapped(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	id := env.activeAccount(t, "alice@example.com")

	var tokens []string
	for i := 0; i < 11; i++ {
		token := requestReset(t, env, "alice@example.com")
		if err := env.engine.ConfirmPasswordReset(ctx, token, newTestPassword); err != nil {
			t.Fatalf("reset %d failed: %v", i, err)
		}
		tokens = append(tokens, token)
		env.clock.Advance(15 * time.Minute)
	}

	if got := len(env.account(t, id).UsedResetTokenHashes); got != 10 {
		t.Fatalf("expected used history capped at 10, got %d", got)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, tokens[0], newTestPassword); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected evicted token to be unknown, got %v", err)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, tokens[10], newTestPassword); !errors.Is(err, ErrResetTokenReused) {
		t.Fatalf("expected recent token to be reused, got %v", err)
	}
}
