package authcore

import (
	"context"

	"github.com/MrEthical07/authcore/account"
	internalflows "github.com/MrEthical07/authcore/internal/flows"
	"github.com/google/uuid"
)

// SendLoginCode emails a one-time login code.
//
// The same call serves login and signup: when no account exists for email a
// new inactive, unverified account with an unusable password and a generated
// username is created first. Accounts that were verified and later disabled
// get ErrAccountDisabled and no code.
func (e *Engine) SendLoginCode(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return internalflows.RunSendLoginCode(ctx, email, e.otpFlowDeps())
}

// VerifyLoginCode redeems a one-time login code and returns a session. The
// first successful verification marks the email verified and activates the
// account.
//
// It returns ErrInvalidOtpCode for an unknown email, a missing or wrong code,
// and ErrOtpCodeExpired for a code past its expiry, which is discarded.
// After OTP.MaxAttempts wrong codes the pending code is discarded too.
func (e *Engine) VerifyLoginCode(ctx context.Context, email, code string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	issued, err := internalflows.RunVerifyLoginCode(ctx, email, code, e.otpFlowDeps())
	if err != nil {
		return nil, err
	}
	return e.toSession(issued), nil
}

func newAccountID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (e *Engine) accountCreation() internalflows.AccountCreation {
	return internalflows.AccountCreation{
		NewID:        newAccountID,
		HashPassword: e.passwordHash.Hash,
		DefaultRole:  account.Role(e.config.Security.DefaultRole),
	}
}

func (e *Engine) otpFlowDeps() internalflows.OTPDeps {
	return internalflows.OTPDeps{
		Common:       e.flowCommon(),
		Creation:     e.accountCreation(),
		CodeTTL:      e.config.OTP.CodeTTL,
		CodeDigits:   e.config.OTP.Digits,
		MaxAttempts:  e.config.OTP.MaxAttempts,
		IssueSession: e.issueSession,
		Metrics: internalflows.OTPMetrics{
			OTPSent:        int(MetricOTPSent),
			OTPSuccess:     int(MetricOTPSuccess),
			OTPFailure:     int(MetricOTPFailure),
			OTPExpired:     int(MetricOTPExpired),
			AccountCreated: int(MetricAccountCreated),
		},
		Events: internalflows.OTPEvents{
			OTPSent:        auditEventOTPSent,
			OTPSuccess:     auditEventOTPSuccess,
			OTPFailure:     auditEventOTPFailure,
			AccountCreated: auditEventAccountCreated,
		},
		Errors: internalflows.OTPErrors{
			EngineNotReady:  ErrEngineNotReady,
			InvalidEmail:    ErrInvalidEmail,
			AccountDisabled: ErrAccountDisabled,
			InvalidOtpCode:  ErrInvalidOtpCode,
			OtpCodeExpired:  ErrOtpCodeExpired,
		},
	}
}
