package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/account"
	internalflows "github.com/MrEthical07/authcore/internal/flows"
)

// Register creates an inactive, unverified account and emails a
// verification link. The account can log in with its password once the link
// is redeemed through VerifyEmail.
//
// It returns ErrInvalidEmail, ErrInvalidUsername or ErrPasswordPolicy for bad
// input and ErrAccountExists when the email or username is taken.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*UserView, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	acct, err := internalflows.RunRegister(ctx, internalflows.RegisterInput{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, e.accountFlowDeps())
	if err != nil {
		return nil, err
	}
	view := userView(acct)
	return &view, nil
}

// VerifyEmail redeems a verification token, marking the email verified and
// the account active.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (*UserView, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	acct, err := internalflows.RunVerifyEmail(ctx, token, e.accountFlowDeps())
	if err != nil {
		return nil, err
	}
	view := userView(acct)
	return &view, nil
}

// ResendVerification issues a fresh verification link. Like
// RequestPasswordReset it returns nil for unknown or already verified emails
// and inside EmailVerification.ResendCooldown.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return internalflows.RunResendVerification(ctx, email, e.accountFlowDeps())
}

// ResolveExternalIdentity returns the account for an identity verified by an
// external provider, linking it to an existing account with the same email or
// creating a verified, active account.
func (e *Engine) ResolveExternalIdentity(ctx context.Context, id ExternalIdentity) (*UserView, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	acct, err := e.resolveExternal(ctx, id)
	if err != nil {
		return nil, err
	}
	view := userView(acct)
	return &view, nil
}

// LoginExternal resolves an external identity like ResolveExternalIdentity
// and issues a session for it. Provider-asserted logins skip the password
// lockout and second factor.
func (e *Engine) LoginExternal(ctx context.Context, id ExternalIdentity) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	acct, err := e.resolveExternal(ctx, id)
	if err != nil {
		return nil, err
	}
	if !acct.IsActive {
		e.emitAudit(ctx, auditEventLoginFailure, false, acct.ID, ErrAccountDisabled, nil)
		return nil, ErrAccountDisabled
	}

	now := e.now()
	issued, err := e.issueSession(ctx, acct, func(a *account.Account) error {
		if !a.IsActive {
			return ErrAccountDisabled
		}
		a.LastLoginAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, acct.ID, nil, func() map[string]string {
		return map[string]string{"provider": id.Provider}
	})
	return e.toSession(issued), nil
}

// UserByID returns the public view of an account.
func (e *Engine) UserByID(ctx context.Context, accountID string) (*UserView, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	acct, err := e.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, storeError(err)
	}
	view := userView(acct)
	return &view, nil
}

func (e *Engine) resolveExternal(ctx context.Context, id ExternalIdentity) (*account.Account, error) {
	return internalflows.RunResolveExternalIdentity(ctx, internalflows.ExternalIdentityInput{
		Provider:  id.Provider,
		Subject:   id.Subject,
		Email:     id.Email,
		FirstName: id.FirstName,
		LastName:  id.LastName,
	}, e.accountFlowDeps())
}

func (e *Engine) accountFlowDeps() internalflows.AccountDeps {
	cfg := e.config.EmailVerification
	return internalflows.AccountDeps{
		Common:               e.flowCommon(),
		Creation:             e.accountCreation(),
		CheckPassword:        e.checkPassword,
		VerificationTTL:      cfg.TokenTTL,
		VerificationCooldown: cfg.ResendCooldown,
		LinkBaseURL:          cfg.LinkBaseURL,
		Metrics: internalflows.AccountMetrics{
			AccountCreated:           int(MetricAccountCreated),
			AccountCreationDuplicate: int(MetricAccountCreationDuplicate),
			EmailVerificationRequest: int(MetricEmailVerificationRequest),
			EmailVerificationSuccess: int(MetricEmailVerificationSuccess),
			EmailVerificationFailure: int(MetricEmailVerificationFailure),
			ExternalIdentityLinked:   int(MetricExternalIdentityLinked),
		},
		Events: internalflows.AccountEvents{
			AccountCreated:           auditEventAccountCreated,
			EmailVerificationRequest: auditEventEmailVerificationRequest,
			EmailVerificationSuccess: auditEventEmailVerificationSuccess,
			EmailVerificationFailure: auditEventEmailVerificationFailure,
			ExternalIdentityLinked:   auditEventExternalIdentityLinked,
		},
		Errors: internalflows.AccountErrors{
			EngineNotReady:           ErrEngineNotReady,
			InvalidEmail:             ErrInvalidEmail,
			InvalidUsername:          ErrInvalidUsername,
			AccountExists:            ErrAccountExists,
			InvalidVerificationToken: ErrInvalidVerificationToken,
			VerificationTokenExpired: ErrVerificationTokenExpired,
			InvalidExternalIdentity:  ErrInvalidExternalIdentity,
		},
	}
}
