package flows

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/internal/limiters"
)

// LoginInput is the credential payload handled by RunLogin.
type LoginInput struct {
	Email         string
	Password      string
	TwoFactorCode string
}

// LoginMetrics carries metric IDs used by the password login flow.
type LoginMetrics struct {
	LoginSuccess              int
	LoginFailure              int
	LoginLockedRejected       int
	AccountLocked             int
	TwoFactorRequired         int
	TwoFactorSuccess          int
	TwoFactorFailure          int
	TwoFactorAttemptsExceeded int
	TwoFactorEnabled          int
}

// LoginEvents carries audit event names used by the password login flow.
type LoginEvents struct {
	LoginSuccess      string
	LoginFailure      string
	LoginLocked       string
	AccountLocked     string
	TwoFactorRequired string
	TwoFactorSuccess  string
	TwoFactorFailure  string
}

// LoginErrors carries host-level sentinel errors used by the password login
// flow.
type LoginErrors struct {
	EngineNotReady           error
	InvalidCredentials       error
	EmailNotVerified         error
	AccountDisabled          error
	TwoFactorRequired        error
	TooManyTwoFactorAttempts error
	InvalidTwoFactorCode     error
	Locked                   func(retryAfter time.Duration) error
}

// LoginDeps captures dependencies of the password login flow.
type LoginDeps struct {
	Common

	Lockout      *limiters.LockoutPolicy
	SecondFactor SecondFactorConfig

	// DummyHash is verified against when the email is unknown.
	DummyHash string

	PasswordUpgradeOnLogin bool
	VerifyPassword         func(password, hash string) (bool, error)
	NeedsUpgrade           func(hash string) bool
	HashPassword           func(password string) (string, error)

	IssueSession IssueSessionFunc

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin authenticates an email and password, enforces lockout and the
// second factor, and issues a session.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) (*IssuedSession, error) {
	deps.Common.normalize()
	if !deps.ready() || deps.Lockout == nil || deps.VerifyPassword == nil || deps.IssueSession == nil ||
		deps.Accounts.FindByEmail == nil || deps.Errors.Locked == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email := account.NormalizeEmail(in.Email)
	fail := func(accountID string, err error, reason string) error {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, accountID, err, withReason(reason))
		return err
	}

	acct, err := deps.Accounts.FindByEmail(ctx, email)
	if err != nil {
		if !deps.Accounts.IsNotFound(err) {
			return nil, err
		}
		if deps.DummyHash != "" {
			_, _ = deps.VerifyPassword(in.Password, deps.DummyHash)
		}
		return nil, fail("", deps.Errors.InvalidCredentials, "unknown_email")
	}

	now := deps.Now()

	// Auto-unlock is persisted before the lock is enforced.
	var retryAfter time.Duration
	locked := false
	acct, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
		var changed bool
		locked, retryAfter, changed = deps.Lockout.Check(lockoutState(a), now)
		return changed
	})
	if err != nil {
		return nil, err
	}
	if locked {
		lockErr := deps.Errors.Locked(retryAfter)
		deps.MetricInc(deps.Metrics.LoginLockedRejected)
		deps.EmitAudit(ctx, deps.Events.LoginLocked, false, acct.ID, lockErr, func() map[string]string {
			return map[string]string{"retry_after_seconds": secondsString(retryAfter)}
		})
		return nil, lockErr
	}

	ok, err := deps.VerifyPassword(in.Password, acct.PasswordHash)
	if err != nil || !ok {
		lockedNow := false
		acct, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
			lockedNow = deps.Lockout.RecordFailure(lockoutState(a), now)
			return true
		})
		if err != nil {
			return nil, err
		}
		if lockedNow {
			deps.MetricInc(deps.Metrics.AccountLocked)
			deps.EmitAudit(ctx, deps.Events.AccountLocked, false, acct.ID, deps.Errors.InvalidCredentials, nil)
		}
		return nil, fail(acct.ID, deps.Errors.InvalidCredentials, "bad_password")
	}

	if !acct.EmailVerified {
		return nil, fail(acct.ID, deps.Errors.EmailNotVerified, "email_not_verified")
	}
	if !acct.IsActive {
		return nil, fail(acct.ID, deps.Errors.AccountDisabled, "account_disabled")
	}

	upgraded := ""
	if deps.PasswordUpgradeOnLogin && deps.NeedsUpgrade != nil && deps.HashPassword != nil && deps.NeedsUpgrade(acct.PasswordHash) {
		if hash, err := deps.HashPassword(in.Password); err == nil {
			upgraded = hash
		} else {
			deps.Warn("authcore: password rehash failed", "account_id", acct.ID, "error", err)
		}
	}
	previousHash := acct.PasswordHash
	acct, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
		changed := deps.Lockout.RecordSuccess(lockoutState(a))
		if upgraded != "" && a.PasswordHash == previousHash {
			a.PasswordHash = upgraded
			changed = true
		}
		return changed
	})
	if err != nil {
		return nil, err
	}

	enabledNow := false
	if requiresSecondFactor(acct) {
		acct, enabledNow, err = runSecondFactor(ctx, acct, strings.TrimSpace(in.TwoFactorCode), now, deps)
		if err != nil {
			return nil, err
		}
	}

	issued, err := deps.IssueSession(ctx, acct, func(a *account.Account) error {
		a.LastLoginAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if enabledNow {
		deps.MetricInc(deps.Metrics.TwoFactorEnabled)
	}
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, acct.ID, nil, nil)
	return issued, nil
}

// runSecondFactor enforces the second factor during login. It reports
// whether a pending email factor was enabled by this verification.
func runSecondFactor(ctx context.Context, acct *account.Account, code string, now time.Time, deps LoginDeps) (*account.Account, bool, error) {
	if code == "" {
		if f, ok := acct.Factor().(account.EmailFactor); ok && !f.LiveAt(now) {
			var err error
			acct, err = sendEmailFactorCode(ctx, acct, deps.Common, deps.SecondFactor)
			if err != nil {
				return nil, false, err
			}
		}
		deps.MetricInc(deps.Metrics.TwoFactorRequired)
		deps.EmitAudit(ctx, deps.Events.TwoFactorRequired, false, acct.ID, deps.Errors.TwoFactorRequired, func() map[string]string {
			return map[string]string{"method": string(acct.Factor().Method())}
		})
		return nil, false, deps.Errors.TwoFactorRequired
	}

	budget := secondFactorBudget(deps.SecondFactor)
	var outcome error
	enabledNow := false
	saved, err := deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
		outcome, enabledNow = nil, false
		if budget.Exhausted(a.FailedTwoFactorAttempts) {
			outcome = deps.Errors.TooManyTwoFactorAttempts
			return false
		}
		if !verifySecondFactor(a, code, now, deps.SecondFactor) {
			a.FailedTwoFactorAttempts++
			outcome = deps.Errors.InvalidTwoFactorCode
			return true
		}
		a.FailedTwoFactorAttempts = 0
		if !a.TwoFactorEnabled {
			a.TwoFactorEnabled = true
			enabledNow = true
		}
		return true
	})
	if err != nil {
		return nil, false, err
	}

	switch outcome {
	case nil:
		deps.MetricInc(deps.Metrics.TwoFactorSuccess)
		deps.EmitAudit(ctx, deps.Events.TwoFactorSuccess, true, saved.ID, nil, nil)
		return saved, enabledNow, nil
	case deps.Errors.TooManyTwoFactorAttempts:
		deps.MetricInc(deps.Metrics.TwoFactorAttemptsExceeded)
	default:
		deps.MetricInc(deps.Metrics.TwoFactorFailure)
	}
	deps.EmitAudit(ctx, deps.Events.TwoFactorFailure, false, saved.ID, outcome, func() map[string]string {
		return map[string]string{"method": string(saved.Factor().Method())}
	})
	return nil, false, outcome
}

func secondsString(d time.Duration) string {
	return strconv.FormatInt(int64(d.Round(time.Second)/time.Second), 10)
}
