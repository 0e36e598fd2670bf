package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/audit"
)

const (
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventLoginLocked              = "login_locked"
	auditEventAccountLocked            = "account_locked"
	auditEventTwoFactorRequired        = "two_factor_required"
	auditEventTwoFactorSuccess         = "two_factor_success"
	auditEventTwoFactorFailure         = "two_factor_failure"
	auditEventTwoFactorEnrolled        = "two_factor_enrolled"
	auditEventTwoFactorEnabled         = "two_factor_enabled"
	auditEventTwoFactorDisabled        = "two_factor_disabled"
	auditEventOTPSent                  = "otp_sent"
	auditEventOTPSuccess               = "otp_success"
	auditEventOTPFailure               = "otp_failure"
	auditEventAccountCreated           = "account_created"
	auditEventSessionCreated           = "session_created"
	auditEventRefreshSuccess           = "refresh_success"
	auditEventRefreshFailure           = "refresh_failure"
	auditEventHeartbeat                = "heartbeat"
	auditEventLogout                   = "logout"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationSuccess = "email_verification_success"
	auditEventEmailVerificationFailure = "email_verification_failure"
	auditEventExternalIdentityLinked   = "external_identity_linked"
	auditEventAccountStatusChange      = "account_status_change"
)

// AuditErrorCode is the stable, non-sensitive error label carried by audit
// events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrAccountUnverified  AuditErrorCode = "account_unverified"
	auditErrAccountNotFound    AuditErrorCode = "account_not_found"
	auditErrTwoFactorRequired  AuditErrorCode = "two_factor_required"
	auditErrTwoFactorInvalid   AuditErrorCode = "two_factor_invalid"
	auditErrTwoFactorState     AuditErrorCode = "two_factor_state"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrUnsupportedMethod  AuditErrorCode = "unsupported_method"
	auditErrOTPInvalid         AuditErrorCode = "otp_invalid"
	auditErrExpired            AuditErrorCode = "expired"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenReuse         AuditErrorCode = "token_reuse"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrConflict           AuditErrorCode = "backend_conflict"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := audit.Event{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrEmailNotVerified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrAccountNotFound):
		return auditErrAccountNotFound
	case errors.Is(err, ErrTwoFactorRequired):
		return auditErrTwoFactorRequired
	case errors.Is(err, ErrInvalidTwoFactorCode):
		return auditErrTwoFactorInvalid
	case errors.Is(err, ErrTwoFactorAlreadyEnabled),
		errors.Is(err, ErrTwoFactorNotEnabled):
		return auditErrTwoFactorState
	case errors.Is(err, ErrTooManyTwoFactorAttempts):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrUnsupportedTwoFactorMethod):
		return auditErrUnsupportedMethod
	case errors.Is(err, ErrInvalidOtpCode):
		return auditErrOTPInvalid
	case errors.Is(err, ErrOtpCodeExpired),
		errors.Is(err, ErrResetTokenExpired),
		errors.Is(err, ErrRefreshTokenExpired),
		errors.Is(err, ErrVerificationTokenExpired):
		return auditErrExpired
	case errors.Is(err, ErrInvalidResetToken),
		errors.Is(err, ErrRefreshTokenInvalid),
		errors.Is(err, ErrInvalidVerificationToken),
		errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrResetTokenReused):
		return auditErrTokenReuse
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrInvalidUsername),
		errors.Is(err, ErrInvalidExternalIdentity):
		return auditErrInvalidInput
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrStoreConflict):
		return auditErrConflict
	default:
		return auditErrInternal
	}
}
