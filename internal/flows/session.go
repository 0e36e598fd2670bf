package flows

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/internal"
)

// SessionMetrics carries metric IDs used by session flows.
type SessionMetrics struct {
	SessionCreated int
	RefreshSuccess int
	RefreshFailure int
	Heartbeat      int
	Logout         int
}

// SessionEvents carries audit event names used by session flows.
type SessionEvents struct {
	SessionCreated string
	RefreshSuccess string
	RefreshFailure string
	Heartbeat      string
	Logout         string
}

// SessionErrors carries host-level sentinel errors used by session flows.
type SessionErrors struct {
	EngineNotReady      error
	RefreshTokenInvalid error
	RefreshTokenExpired error
	AccountDisabled     error
}

// SessionDeps captures issue, refresh, heartbeat and logout dependencies.
type SessionDeps struct {
	Common

	RefreshTTL        time.Duration
	HeartbeatInterval time.Duration

	NewRefreshToken  func() (string, error)
	HashRefreshToken func(string) string
	IssueAccessToken func(*account.Account) (string, time.Time, error)

	Metrics SessionMetrics
	Events  SessionEvents
	Errors  SessionErrors
}

func normalizeSessionDeps(deps *SessionDeps) {
	deps.Common.normalize()
	if deps.NewRefreshToken == nil {
		deps.NewRefreshToken = internal.NewRefreshToken
	}
	if deps.HashRefreshToken == nil {
		deps.HashRefreshToken = func(token string) string { return internal.HashRefreshToken(nil, token) }
	}
}

// IssueSession mints a fresh refresh token, stores its keyed hash in place of
// any previous one, stamps the heartbeat and signs an access token. mutate
// runs inside the same conditional save; an error from it aborts issuance.
func IssueSession(ctx context.Context, acct *account.Account, mutate func(*account.Account) error, deps SessionDeps) (*IssuedSession, error) {
	normalizeSessionDeps(&deps)
	if !deps.ready() || deps.IssueAccessToken == nil {
		return nil, deps.Errors.EngineNotReady
	}

	refreshToken, err := deps.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	refreshHash := deps.HashRefreshToken(refreshToken)
	now := deps.Now()
	refreshExpiresAt := now.Add(deps.RefreshTTL)

	var mutateErr error
	saved, err := deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
		mutateErr = nil
		if mutate != nil {
			if mutateErr = mutate(a); mutateErr != nil {
				return false
			}
		}
		a.SetRefreshToken(refreshHash, refreshExpiresAt)
		a.LastHeartbeatAt = now
		return true
	})
	if err != nil {
		return nil, err
	}
	if mutateErr != nil {
		return nil, mutateErr
	}

	accessToken, accessExpiresAt, err := deps.IssueAccessToken(saved)
	if err != nil {
		return nil, err
	}

	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.EmitAudit(ctx, deps.Events.SessionCreated, true, saved.ID, nil, nil)

	return &IssuedSession{
		Account:           saved,
		AccessToken:       accessToken,
		AccessExpiresAt:   accessExpiresAt,
		RefreshToken:      refreshToken,
		RefreshExpiresAt:  refreshExpiresAt,
		LastHeartbeatAt:   now,
		HeartbeatInterval: deps.HeartbeatInterval,
	}, nil
}

// RunRefresh exchanges a live refresh token for a new access and refresh
// token pair. The presented token stops working.
func RunRefresh(ctx context.Context, refreshToken string, deps SessionDeps) (*IssuedSession, error) {
	normalizeSessionDeps(&deps)
	if !deps.ready() {
		return nil, deps.Errors.EngineNotReady
	}

	acct, hash, err := lookupRefresh(ctx, refreshToken, "refresh", deps)
	if err != nil {
		return nil, err
	}

	issued, err := IssueSession(ctx, acct, func(a *account.Account) error {
		if a.RefreshTokenHash != hash {
			return deps.Errors.RefreshTokenInvalid
		}
		return nil
	}, deps)
	if err != nil {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		deps.EmitAudit(ctx, deps.Events.RefreshFailure, false, acct.ID, err, withReason("rotation_failed"))
		return nil, err
	}

	deps.MetricInc(deps.Metrics.RefreshSuccess)
	deps.EmitAudit(ctx, deps.Events.RefreshSuccess, true, acct.ID, nil, nil)
	return issued, nil
}

// RunHeartbeat keeps a session alive without rotating the refresh token. It
// stamps LastHeartbeatAt and signs a new access token.
func RunHeartbeat(ctx context.Context, refreshToken string, deps SessionDeps) (*IssuedSession, error) {
	normalizeSessionDeps(&deps)
	if !deps.ready() || deps.IssueAccessToken == nil {
		return nil, deps.Errors.EngineNotReady
	}

	acct, hash, err := lookupRefresh(ctx, refreshToken, "heartbeat", deps)
	if err != nil {
		return nil, err
	}

	now := deps.Now()
	stale := false
	saved, err := deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
		stale = a.RefreshTokenHash != hash
		if stale {
			return false
		}
		a.LastHeartbeatAt = now
		return true
	})
	if err != nil {
		return nil, err
	}
	if stale {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		deps.EmitAudit(ctx, deps.Events.RefreshFailure, false, acct.ID, deps.Errors.RefreshTokenInvalid, withReason("rotated"))
		return nil, deps.Errors.RefreshTokenInvalid
	}

	accessToken, accessExpiresAt, err := deps.IssueAccessToken(saved)
	if err != nil {
		return nil, err
	}

	deps.MetricInc(deps.Metrics.Heartbeat)
	deps.EmitAudit(ctx, deps.Events.Heartbeat, true, saved.ID, nil, nil)

	return &IssuedSession{
		Account:           saved,
		AccessToken:       accessToken,
		AccessExpiresAt:   accessExpiresAt,
		RefreshToken:      strings.TrimSpace(refreshToken),
		RefreshExpiresAt:  saved.RefreshTokenExpiresAt,
		LastHeartbeatAt:   now,
		HeartbeatInterval: deps.HeartbeatInterval,
	}, nil
}

// RunLogout forgets the refresh token if it is the active one. Unknown
// tokens are ignored.
func RunLogout(ctx context.Context, refreshToken string, deps SessionDeps) error {
	normalizeSessionDeps(&deps)
	if !deps.ready() {
		return deps.Errors.EngineNotReady
	}

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	hash := deps.HashRefreshToken(refreshToken)
	acct, err := deps.Accounts.FindByRefreshTokenHash(ctx, hash)
	if err != nil {
		if deps.Accounts.IsNotFound(err) {
			return nil
		}
		return err
	}

	_, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
		if a.RefreshTokenHash != hash {
			return false
		}
		a.ClearRefreshToken()
		return true
	})
	if err != nil {
		return err
	}

	deps.MetricInc(deps.Metrics.Logout)
	deps.EmitAudit(ctx, deps.Events.Logout, true, acct.ID, nil, nil)
	return nil
}

// lookupRefresh resolves a presented refresh token to its account and
// enforces expiry and account status, clearing the token when it can no
// longer be used.
func lookupRefresh(ctx context.Context, refreshToken, op string, deps SessionDeps) (*account.Account, string, error) {
	fail := func(accountID string, err error, reason string) error {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		deps.EmitAudit(ctx, deps.Events.RefreshFailure, false, accountID, err, func() map[string]string {
			return map[string]string{"reason": reason, "operation": op}
		})
		return err
	}

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, "", fail("", deps.Errors.RefreshTokenInvalid, "empty_token")
	}
	hash := deps.HashRefreshToken(refreshToken)

	acct, err := deps.Accounts.FindByRefreshTokenHash(ctx, hash)
	if err != nil {
		if deps.Accounts.IsNotFound(err) {
			return nil, "", fail("", deps.Errors.RefreshTokenInvalid, "unknown_token")
		}
		return nil, "", err
	}
	if !internal.EqualHash(acct.RefreshTokenHash, hash) {
		return nil, "", fail(acct.ID, deps.Errors.RefreshTokenInvalid, "unknown_token")
	}

	var outcome error
	var reason string
	switch {
	case !deps.Now().Before(acct.RefreshTokenExpiresAt):
		outcome, reason = deps.Errors.RefreshTokenExpired, "expired"
	case !acct.IsActive:
		outcome, reason = deps.Errors.AccountDisabled, "account_disabled"
	default:
		return acct, hash, nil
	}

	_, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
		if a.RefreshTokenHash != hash {
			return false
		}
		a.ClearRefreshToken()
		return true
	})
	if err != nil {
		return nil, "", err
	}
	return nil, "", fail(acct.ID, outcome, reason)
}
