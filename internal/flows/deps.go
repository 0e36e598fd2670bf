package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/mail"
)

// AccountAccess is the store-facing surface used by every flow. The engine
// maps infrastructure failures before they reach a flow, so flows only need
// IsNotFound and IsDuplicate to tell outcomes apart.
type AccountAccess struct {
	FindByID                    func(context.Context, string) (*account.Account, error)
	FindByEmail                 func(context.Context, string) (*account.Account, error)
	FindByUsername              func(context.Context, string) (*account.Account, error)
	FindByRefreshTokenHash      func(context.Context, string) (*account.Account, error)
	FindByResetTokenHash        func(context.Context, string) (*account.Account, error)
	FindByVerificationTokenHash func(context.Context, string) (*account.Account, error)
	FindByExternalIdentity      func(context.Context, string, string) (*account.Account, error)
	Create                      func(context.Context, *account.Account) error

	// Mutate applies fn to a copy of acct and saves it with a conditional
	// write. On a version conflict the row is reloaded and fn re-applied.
	// When fn returns false nothing is written and the loaded row is
	// returned unchanged.
	Mutate func(ctx context.Context, acct *account.Account, fn func(*account.Account) bool) (*account.Account, error)

	IsNotFound  func(error) bool
	IsDuplicate func(error) bool
}

// Common carries the clock and side channels shared by every flow.
type Common struct {
	Accounts AccountAccess
	Now      func() time.Time

	// Notify delivers content to an address. It is best-effort and never
	// fails the calling flow.
	Notify func(ctx context.Context, to string, content mail.Content)

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, accountID string, err error, metadata func() map[string]string)
	Warn      func(msg string, keysAndValues ...any)
}

func (c *Common) normalize() {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Notify == nil {
		c.Notify = func(context.Context, string, mail.Content) {}
	}
	if c.MetricInc == nil {
		c.MetricInc = func(int) {}
	}
	if c.EmitAudit == nil {
		c.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if c.Warn == nil {
		c.Warn = func(string, ...any) {}
	}
	if c.Accounts.IsNotFound == nil {
		c.Accounts.IsNotFound = func(error) bool { return false }
	}
	if c.Accounts.IsDuplicate == nil {
		c.Accounts.IsDuplicate = func(error) bool { return false }
	}
}

func (c *Common) ready() bool {
	return c.Accounts.Mutate != nil
}

// send renders content with build and hands it to Notify. Render failures
// are logged and swallowed like delivery failures.
func (c *Common) send(ctx context.Context, to, kind string, build func() (mail.Content, error)) {
	content, err := build()
	if err != nil {
		c.Warn("authcore: email render failed", "kind", kind, "error", err)
		return
	}
	c.Notify(ctx, to, content)
}

// IssueSessionFunc issues a session for acct after applying mutate inside
// the same conditional save. A mutate error aborts issuance.
type IssueSessionFunc func(ctx context.Context, acct *account.Account, mutate func(*account.Account) error) (*IssuedSession, error)

// IssuedSession is the flow-local result of establishing or renewing a
// session.
type IssuedSession struct {
	Account           *account.Account
	AccessToken       string
	AccessExpiresAt   time.Time
	RefreshToken      string
	RefreshExpiresAt  time.Time
	LastHeartbeatAt   time.Time
	HeartbeatInterval time.Duration
}

func lockoutState(a *account.Account) limiters.LockoutState {
	return limiters.LockoutState{
		FailedAttempts: &a.FailedLoginAttempts,
		LockedUntil:    &a.LockedUntil,
	}
}

func withReason(reason string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"reason": reason}
	}
}
