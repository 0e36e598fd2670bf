package authcore

import (
	"context"

	internalflows "github.com/MrEthical07/authcore/internal/flows"
)

// RequestPasswordReset emails a single-use reset link.
//
// It returns nil for unknown emails and for repeat requests within
// PasswordReset.RequestCooldown, so the response never reveals whether an
// address is registered. A new request supersedes any outstanding token.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return internalflows.RunRequestPasswordReset(ctx, email, e.passwordResetFlowDeps())
}

// ConfirmPasswordReset replaces the password using a reset token.
//
// On success the token is recorded as used, login lockout and second-factor
// counters are cleared and the current refresh token is revoked. A token that
// was already redeemed returns ErrResetTokenReused, an outdated one
// ErrInvalidResetToken, one past its expiry ErrResetTokenExpired. A password
// the policy rejects returns ErrPasswordPolicy and leaves the token usable.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return internalflows.RunConfirmPasswordReset(ctx, token, newPassword, e.passwordResetFlowDeps())
}

func (e *Engine) passwordResetFlowDeps() internalflows.PasswordResetDeps {
	cfg := e.config.PasswordReset
	return internalflows.PasswordResetDeps{
		Common:          e.flowCommon(),
		TokenTTL:        cfg.TokenTTL,
		RequestCooldown: cfg.RequestCooldown,
		UsedHashLimit:   cfg.UsedTokenLimit,
		LinkBaseURL:     cfg.LinkBaseURL,
		Lockout:         e.lockout,
		CheckPassword:   e.checkPassword,
		HashPassword:    e.passwordHash.Hash,
		Metrics: internalflows.PasswordResetMetrics{
			PasswordResetRequest:        int(MetricPasswordResetRequest),
			PasswordResetConfirmSuccess: int(MetricPasswordResetConfirmSuccess),
			PasswordResetConfirmFailure: int(MetricPasswordResetConfirmFailure),
			PasswordResetReuseDetected:  int(MetricPasswordResetReuseDetected),
		},
		Events: internalflows.PasswordResetEvents{
			PasswordResetRequest: auditEventPasswordResetRequest,
			PasswordResetConfirm: auditEventPasswordResetConfirm,
		},
		Errors: internalflows.PasswordResetErrors{
			EngineNotReady:    ErrEngineNotReady,
			InvalidResetToken: ErrInvalidResetToken,
			ResetTokenReused:  ErrResetTokenReused,
			ResetTokenExpired: ErrResetTokenExpired,
		},
	}
}
