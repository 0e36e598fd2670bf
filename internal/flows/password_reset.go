package flows

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/mail"
)

// PasswordResetMetrics carries metric IDs used by password reset flows.
type PasswordResetMetrics struct {
	PasswordResetRequest        int
	PasswordResetConfirmSuccess int
	PasswordResetConfirmFailure int
	PasswordResetReuseDetected  int
}

// PasswordResetEvents carries audit event names used by password reset flows.
type PasswordResetEvents struct {
	PasswordResetRequest string
	PasswordResetConfirm string
}

// PasswordResetErrors carries host-level sentinel errors used by password
// reset flows.
type PasswordResetErrors struct {
	EngineNotReady    error
	InvalidResetToken error
	ResetTokenReused  error
	ResetTokenExpired error
}

// PasswordResetDeps captures request and confirm dependencies.
type PasswordResetDeps struct {
	Common

	TokenTTL        time.Duration
	RequestCooldown time.Duration
	UsedHashLimit   int
	LinkBaseURL     string

	Lockout       *limiters.LockoutPolicy
	CheckPassword func(password string) error
	HashPassword  func(password string) (string, error)

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  PasswordResetErrors
}

// RunRequestPasswordReset emails a reset link. It succeeds without effect for
// unknown emails and for repeat requests inside the cooldown, so callers
// cannot probe which addresses exist.
func RunRequestPasswordReset(ctx context.Context, email string, deps PasswordResetDeps) error {
	deps.Common.normalize()
	if !deps.ready() || deps.Accounts.FindByEmail == nil {
		return deps.Errors.EngineNotReady
	}

	email = account.NormalizeEmail(email)
	token, tokenHash, err := newOpaque()
	if err != nil {
		return err
	}

	acct, err := deps.Accounts.FindByEmail(ctx, email)
	if err != nil {
		if deps.Accounts.IsNotFound(err) {
			deps.MetricInc(deps.Metrics.PasswordResetRequest)
			deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, "", nil, withReason("unknown_email"))
			return nil
		}
		return err
	}

	now := deps.Now()
	cooldown := limiters.Cooldown{Window: deps.RequestCooldown}
	if cooldown.Active(acct.PasswordResetRequestedAt, now) {
		deps.MetricInc(deps.Metrics.PasswordResetRequest)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, acct.ID, nil, withReason("cooldown"))
		return nil
	}

	cooling := false
	acct, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
		cooling = cooldown.Active(a.PasswordResetRequestedAt, now)
		if cooling {
			return false
		}
		a.PasswordResetTokenHash = tokenHash
		a.PasswordResetExpiresAt = now.Add(deps.TokenTTL)
		a.PasswordResetRequestedAt = now
		return true
	})
	if err != nil {
		return err
	}
	deps.MetricInc(deps.Metrics.PasswordResetRequest)
	if cooling {
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, acct.ID, nil, withReason("cooldown"))
		return nil
	}

	deps.send(ctx, acct.Email, "password_reset", func() (mail.Content, error) {
		return mail.PasswordReset(mail.Link(deps.LinkBaseURL, resetPasswordPath, token), deps.TokenTTL)
	})
	deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, acct.ID, nil, nil)
	return nil
}

// RunConfirmPasswordReset redeems a reset token, replacing the password. The
// token becomes permanently unusable, the lockout and two-factor counters are
// reset and the refresh token is revoked.
func RunConfirmPasswordReset(ctx context.Context, token, newPassword string, deps PasswordResetDeps) error {
	deps.Common.normalize()
	if !deps.ready() || deps.Accounts.FindByResetTokenHash == nil || deps.HashPassword == nil || deps.Lockout == nil {
		return deps.Errors.EngineNotReady
	}

	fail := func(accountID string, err error, reason string) error {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, accountID, err, withReason(reason))
		return err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return fail("", deps.Errors.InvalidResetToken, "empty_token")
	}
	hash := internal.HashToken(token)

	acct, err := deps.Accounts.FindByResetTokenHash(ctx, hash)
	if err != nil {
		if deps.Accounts.IsNotFound(err) {
			return fail("", deps.Errors.InvalidResetToken, "unknown_token")
		}
		return err
	}

	now := deps.Now()
	if reason, outcome := checkResetToken(acct, hash, now, deps.Errors); outcome != nil {
		if outcome == deps.Errors.ResetTokenReused {
			deps.MetricInc(deps.Metrics.PasswordResetReuseDetected)
		}
		return fail(acct.ID, outcome, reason)
	}

	if deps.CheckPassword != nil {
		if err := deps.CheckPassword(newPassword); err != nil {
			return fail(acct.ID, err, "password_policy")
		}
	}
	newHash, err := deps.HashPassword(newPassword)
	if err != nil {
		return err
	}

	var outcome error
	var reason string
	acct, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
		reason, outcome = checkResetToken(a, hash, now, deps.Errors)
		if outcome != nil {
			return false
		}
		a.PasswordHash = newHash
		a.ClearPasswordReset()
		a.RememberResetHash(hash, deps.UsedHashLimit)
		deps.Lockout.RecordSuccess(lockoutState(a))
		a.FailedTwoFactorAttempts = 0
		a.ClearRefreshToken()
		return true
	})
	if err != nil {
		return err
	}
	if outcome != nil {
		if outcome == deps.Errors.ResetTokenReused {
			deps.MetricInc(deps.Metrics.PasswordResetReuseDetected)
		}
		return fail(acct.ID, outcome, reason)
	}

	deps.MetricInc(deps.Metrics.PasswordResetConfirmSuccess)
	deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, true, acct.ID, nil, nil)
	return nil
}

// checkResetToken classifies a presented token hash against a's reset state.
// A redeemed token stays rejected as reused even before its expiry.
func checkResetToken(a *account.Account, hash string, now time.Time, errs PasswordResetErrors) (string, error) {
	switch {
	case a.ResetHashUsed(hash):
		return "reused", errs.ResetTokenReused
	case !internal.EqualHash(a.PasswordResetTokenHash, hash):
		return "superseded", errs.InvalidResetToken
	case !now.Before(a.PasswordResetExpiresAt):
		return "expired", errs.ResetTokenExpired
	default:
		return "", nil
	}
}
