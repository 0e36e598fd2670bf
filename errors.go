package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is matched by *AccountLockedError via errors.Is.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned for accounts switched off after verification.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrEmailNotVerified is returned by Login before the email is verified.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrTwoFactorRequired is returned by Login when a second factor is due but no code was supplied.
	ErrTwoFactorRequired = errors.New("two-factor code required")
	// ErrTooManyTwoFactorAttempts is returned once the second-factor failure budget is spent.
	ErrTooManyTwoFactorAttempts = errors.New("too many two-factor attempts")
	// ErrInvalidTwoFactorCode is returned for a wrong or expired second-factor code.
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	// ErrInvalidOtpCode is returned for a wrong or missing passwordless login code.
	ErrInvalidOtpCode = errors.New("invalid login code")
	// ErrOtpCodeExpired is returned for a passwordless login code past its expiry.
	ErrOtpCodeExpired = errors.New("login code expired")
	// ErrInvalidResetToken is returned for an unknown or superseded reset token.
	ErrInvalidResetToken = errors.New("invalid reset token")
	// ErrResetTokenReused is returned for a reset token that was already redeemed.
	ErrResetTokenReused = errors.New("reset token already used")
	// ErrResetTokenExpired is returned for a reset token past its expiry.
	ErrResetTokenExpired = errors.New("reset token expired")
	// ErrRefreshTokenInvalid is returned for an unknown or rotated refresh token.
	ErrRefreshTokenInvalid = errors.New("invalid refresh token")
	// ErrRefreshTokenExpired is returned for a refresh token past its expiry.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrTwoFactorAlreadyEnabled is returned by enroll/confirm when 2FA is already on.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrTwoFactorNotEnabled is returned when no second factor is enabled or pending.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")
	// ErrUnsupportedTwoFactorMethod is returned for sms and any unknown method.
	// The sms refusal wraps it with the SIM-swap rationale.
	ErrUnsupportedTwoFactorMethod = errors.New("unsupported two-factor method")

	// ErrAccountNotFound is returned by account-scoped operations for an unknown id.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidEmail is returned for a malformed email address.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrAccountExists is returned by Register for a taken email or username.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidUsername is returned by Register for a malformed username.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidVerificationToken is returned by VerifyEmail for an unknown token.
	ErrInvalidVerificationToken = errors.New("invalid verification token")
	// ErrVerificationTokenExpired is returned by VerifyEmail for a token past its expiry.
	ErrVerificationTokenExpired = errors.New("verification token expired")
	// ErrPasswordPolicy is returned when a new password fails the configured policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidExternalIdentity is returned for an identity without provider, subject or email.
	ErrInvalidExternalIdentity = errors.New("invalid external identity")
	// ErrTokenInvalid is returned by ValidateAccess for any unusable access token.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrEngineNotReady is returned when an Engine was not produced by Builder.Build.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrStoreUnavailable wraps identity store failures.
	ErrStoreUnavailable = errors.New("identity store unavailable")
	// ErrStoreConflict is returned when a conditional save keeps losing to
	// concurrent writers.
	ErrStoreConflict = errors.New("identity store conflict")
)

// AccountLockedError reports a locked account together with the time left on
// the lock.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrAccountLocked) hold.
func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RetryAfter extracts the lock remainder from err, or 0 if err is not an
// *AccountLockedError.
func RetryAfter(err error) time.Duration {
	var locked *AccountLockedError
	if errors.As(err, &locked) {
		return locked.RetryAfter
	}
	return 0
}
