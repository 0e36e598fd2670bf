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

// OTPMetrics carries metric IDs used by the passwordless flows.
type OTPMetrics struct {
	OTPSent        int
	OTPSuccess     int
	OTPFailure     int
	OTPExpired     int
	AccountCreated int
}

// OTPEvents carries audit event names used by the passwordless flows.
type OTPEvents struct {
	OTPSent        string
	OTPSuccess     string
	OTPFailure     string
	AccountCreated string
}

// OTPErrors carries host-level sentinel errors used by the passwordless flows.
type OTPErrors struct {
	EngineNotReady  error
	InvalidEmail    error
	AccountDisabled error
	InvalidOtpCode  error
	OtpCodeExpired  error
}

// OTPDeps captures send and verify dependencies of the passwordless flows.
type OTPDeps struct {
	Common
	Creation AccountCreation

	CodeTTL     time.Duration
	CodeDigits  int
	MaxAttempts int

	IssueSession IssueSessionFunc

	Metrics OTPMetrics
	Events  OTPEvents
	Errors  OTPErrors
}

// RunSendLoginCode emails a one-time login code. When no account exists for
// email one is created first, inactive and unverified with an unusable
// password, so the same flow serves login and signup.
func RunSendLoginCode(ctx context.Context, email string, deps OTPDeps) error {
	deps.Common.normalize()
	if !deps.ready() || deps.Accounts.FindByEmail == nil || deps.Creation.HashPassword == nil {
		return deps.Errors.EngineNotReady
	}

	email = account.NormalizeEmail(email)
	if !account.ValidEmail(email) {
		return deps.Errors.InvalidEmail
	}

	acct, err := deps.Accounts.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if acct.OperatorDisabled() {
			deps.EmitAudit(ctx, deps.Events.OTPSent, false, acct.ID, deps.Errors.AccountDisabled, withReason("account_disabled"))
			return deps.Errors.AccountDisabled
		}
	case deps.Accounts.IsNotFound(err):
		acct, err = createPasswordlessAccount(ctx, email, deps)
		if err != nil {
			return err
		}
	default:
		return err
	}

	code, err := internal.NewOTP(deps.CodeDigits)
	if err != nil {
		return err
	}
	codeHash := internal.HashToken(code)
	expiresAt := deps.Now().Add(deps.CodeTTL)

	acct, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
		a.OTPCodeHash = codeHash
		a.OTPExpiresAt = expiresAt
		a.OTPFailedAttempts = 0
		return true
	})
	if err != nil {
		return err
	}

	deps.send(ctx, acct.Email, "login_code", func() (mail.Content, error) {
		return mail.LoginCode(code, deps.CodeTTL)
	})

	deps.MetricInc(deps.Metrics.OTPSent)
	deps.EmitAudit(ctx, deps.Events.OTPSent, true, acct.ID, nil, nil)
	return nil
}

// createPasswordlessAccount is the implicit signup step of RunSendLoginCode.
// A concurrent signup for the same email wins and its row is returned.
func createPasswordlessAccount(ctx context.Context, email string, deps OTPDeps) (*account.Account, error) {
	secret, err := internal.NewUnusablePassword()
	if err != nil {
		return nil, err
	}

	hash, err := deps.Creation.HashPassword(secret)
	if err != nil {
		return nil, err
	}

	acct, err := deps.Creation.create(ctx, deps.Common, &account.Account{
		Email:        email,
		PasswordHash: hash,
	}, usernameBase(email))
	if err != nil {
		if deps.Accounts.IsDuplicate(err) {
			return deps.Accounts.FindByEmail(ctx, email)
		}
		return nil, err
	}

	deps.MetricInc(deps.Metrics.AccountCreated)
	deps.EmitAudit(ctx, deps.Events.AccountCreated, true, acct.ID, nil, withReason("passwordless_signup"))
	return acct, nil
}

// RunVerifyLoginCode redeems a one-time login code and issues a session. The
// first successful verification activates the account.
func RunVerifyLoginCode(ctx context.Context, email, code string, deps OTPDeps) (*IssuedSession, error) {
	deps.Common.normalize()
	if !deps.ready() || deps.Accounts.FindByEmail == nil || deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	fail := func(accountID string, err error, reason string) error {
		deps.MetricInc(deps.Metrics.OTPFailure)
		deps.EmitAudit(ctx, deps.Events.OTPFailure, false, accountID, err, withReason(reason))
		return err
	}

	email = account.NormalizeEmail(email)
	code = strings.TrimSpace(code)

	acct, err := deps.Accounts.FindByEmail(ctx, email)
	if err != nil {
		if deps.Accounts.IsNotFound(err) {
			return nil, fail("", deps.Errors.InvalidOtpCode, "unknown_email")
		}
		return nil, err
	}
	if acct.OTPCodeHash == "" {
		return nil, fail(acct.ID, deps.Errors.InvalidOtpCode, "no_pending_code")
	}
	if acct.OperatorDisabled() {
		return nil, fail(acct.ID, deps.Errors.AccountDisabled, "account_disabled")
	}

	now := deps.Now()
	if !now.Before(acct.OTPExpiresAt) {
		pending := acct.OTPCodeHash
		_, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
			if a.OTPCodeHash != pending {
				return false
			}
			a.ClearOTP()
			return true
		})
		if err != nil {
			return nil, err
		}
		deps.MetricInc(deps.Metrics.OTPExpired)
		return nil, fail(acct.ID, deps.Errors.OtpCodeExpired, "expired")
	}

	presented := internal.HashToken(code)
	if code == "" || !internal.EqualHash(presented, acct.OTPCodeHash) {
		budget := limiters.AttemptBudget{Max: deps.MaxAttempts}
		pending := acct.OTPCodeHash
		_, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
			if a.OTPCodeHash != pending {
				return false
			}
			a.OTPFailedAttempts++
			if budget.Exhausted(a.OTPFailedAttempts) {
				a.ClearOTP()
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		return nil, fail(acct.ID, deps.Errors.InvalidOtpCode, "mismatch")
	}

	issued, err := deps.IssueSession(ctx, acct, func(a *account.Account) error {
		if !internal.EqualHash(a.OTPCodeHash, presented) || !now.Before(a.OTPExpiresAt) {
			return deps.Errors.InvalidOtpCode
		}
		a.ClearOTP()
		if !a.EmailVerified {
			a.EmailVerified = true
			a.IsActive = true
		}
		a.LastLoginAt = now
		return nil
	})
	if err != nil {
		if err == deps.Errors.InvalidOtpCode {
			return nil, fail(acct.ID, err, "consumed")
		}
		return nil, err
	}

	deps.MetricInc(deps.Metrics.OTPSuccess)
	deps.EmitAudit(ctx, deps.Events.OTPSuccess, true, acct.ID, nil, nil)
	return issued, nil
}
