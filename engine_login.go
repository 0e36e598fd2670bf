package authcore

import (
	"context"
	"time"

	internalflows "github.com/MrEthical07/authcore/internal/flows"
)

// Login authenticates an email and password and returns a new session.
//
// Login returns ErrInvalidCredentials for an unknown email or a wrong
// password, *AccountLockedError (matching ErrAccountLocked) while the account
// is locked, ErrEmailNotVerified and ErrAccountDisabled for accounts that may
// not sign in, and ErrTwoFactorRequired when a second factor is due and
// req.TwoFactorCode is empty. For the email method a fresh code is sent in
// that case. A wrong code returns ErrInvalidTwoFactorCode until
// TwoFactor.MaxAttempts failures, then ErrTooManyTwoFactorAttempts.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	issued, err := internalflows.RunLogin(ctx, internalflows.LoginInput{
		Email:         req.Email,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
	}, e.loginFlowDeps())
	if err != nil {
		return nil, err
	}
	return e.toSession(issued), nil
}

func (e *Engine) secondFactorConfig() internalflows.SecondFactorConfig {
	return internalflows.SecondFactorConfig{
		MaxAttempts:     e.config.TwoFactor.MaxAttempts,
		EmailCodeTTL:    e.config.TwoFactor.EmailCodeTTL,
		EmailCodeDigits: 6,
		VerifyTOTP:      e.totp.Verify,
	}
}

func (e *Engine) loginFlowDeps() internalflows.LoginDeps {
	return internalflows.LoginDeps{
		Common:                 e.flowCommon(),
		Lockout:                e.lockout,
		SecondFactor:           e.secondFactorConfig(),
		DummyHash:              e.dummyHash,
		PasswordUpgradeOnLogin: e.config.Password.UpgradeOnLogin,
		VerifyPassword:         e.passwordHash.Verify,
		NeedsUpgrade:           e.passwordNeedsUpgrade,
		HashPassword:           e.passwordHash.Hash,
		IssueSession:           e.issueSession,
		Metrics: internalflows.LoginMetrics{
			LoginSuccess:              int(MetricLoginSuccess),
			LoginFailure:              int(MetricLoginFailure),
			LoginLockedRejected:       int(MetricLoginLockedRejected),
			AccountLocked:             int(MetricAccountLocked),
			TwoFactorRequired:         int(MetricTwoFactorRequired),
			TwoFactorSuccess:          int(MetricTwoFactorSuccess),
			TwoFactorFailure:          int(MetricTwoFactorFailure),
			TwoFactorAttemptsExceeded: int(MetricTwoFactorAttemptsExceeded),
			TwoFactorEnabled:          int(MetricTwoFactorEnabled),
		},
		Events: internalflows.LoginEvents{
			LoginSuccess:      auditEventLoginSuccess,
			LoginFailure:      auditEventLoginFailure,
			LoginLocked:       auditEventLoginLocked,
			AccountLocked:     auditEventAccountLocked,
			TwoFactorRequired: auditEventTwoFactorRequired,
			TwoFactorSuccess:  auditEventTwoFactorSuccess,
			TwoFactorFailure:  auditEventTwoFactorFailure,
		},
		Errors: internalflows.LoginErrors{
			EngineNotReady:           ErrEngineNotReady,
			InvalidCredentials:       ErrInvalidCredentials,
			EmailNotVerified:         ErrEmailNotVerified,
			AccountDisabled:          ErrAccountDisabled,
			TwoFactorRequired:        ErrTwoFactorRequired,
			TooManyTwoFactorAttempts: ErrTooManyTwoFactorAttempts,
			InvalidTwoFactorCode:     ErrInvalidTwoFactorCode,
			Locked: func(retryAfter time.Duration) error {
				return &AccountLockedError{RetryAfter: retryAfter}
			},
		},
	}
}
