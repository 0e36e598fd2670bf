package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/account"
)

// DisableAccount switches a verified account off. Its refresh token is
// revoked, so the session ends once the current access token expires.
// Disabling an already disabled account is a no-op.
//
// Unverified accounts cannot be disabled because an inactive, unverified
// account is indistinguishable from one awaiting verification.
func (e *Engine) DisableAccount(ctx context.Context, accountID string) error {
	err := e.updateAccountStatus(ctx, accountID, func(a *account.Account) (bool, error) {
		if !a.EmailVerified {
			return false, ErrEmailNotVerified
		}
		if !a.IsActive && a.RefreshTokenHash == "" {
			return false, nil
		}
		a.IsActive = false
		a.ClearRefreshToken()
		return true, nil
	})
	if err == nil {
		e.metricInc(MetricAccountDisabled)
	}
	e.emitAudit(ctx, auditEventAccountStatusChange, err == nil, accountID, err, func() map[string]string {
		return map[string]string{
			"action": "disable",
		}
	})
	return err
}

// EnableAccount reverses DisableAccount.
func (e *Engine) EnableAccount(ctx context.Context, accountID string) error {
	err := e.updateAccountStatus(ctx, accountID, func(a *account.Account) (bool, error) {
		if !a.EmailVerified {
			return false, ErrEmailNotVerified
		}
		if a.IsActive {
			return false, nil
		}
		a.IsActive = true
		return true, nil
	})
	if err == nil {
		e.metricInc(MetricAccountEnabled)
	}
	e.emitAudit(ctx, auditEventAccountStatusChange, err == nil, accountID, err, func() map[string]string {
		return map[string]string{
			"action": "enable",
		}
	})
	return err
}

// UnlockAccount clears a password lockout and the two-factor failure count
// before LockedUntil passes.
func (e *Engine) UnlockAccount(ctx context.Context, accountID string) error {
	err := e.updateAccountStatus(ctx, accountID, func(a *account.Account) (bool, error) {
		if a.FailedLoginAttempts == 0 && a.LockedUntil.IsZero() && a.FailedTwoFactorAttempts == 0 {
			return false, nil
		}
		a.FailedLoginAttempts = 0
		a.LockedUntil = time.Time{}
		a.FailedTwoFactorAttempts = 0
		return true, nil
	})
	if err == nil {
		e.metricInc(MetricAccountUnlocked)
	}
	e.emitAudit(ctx, auditEventAccountStatusChange, err == nil, accountID, err, func() map[string]string {
		return map[string]string{
			"action": "unlock",
		}
	})
	return err
}

func (e *Engine) updateAccountStatus(ctx context.Context, accountID string, apply func(*account.Account) (bool, error)) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if accountID == "" {
		return ErrAccountNotFound
	}

	current, err := e.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrAccountNotFound
		}
		return storeError(err)
	}

	var outcome error
	_, err = e.mutateAccount(ctx, current, func(a *account.Account) bool {
		var changed bool
		changed, outcome = apply(a)
		return outcome == nil && changed
	})
	if err != nil {
		return err
	}
	return outcome
}
