package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/account"
)

// SessionInfo is the safe introspection view of an account's session. It
// never exposes the refresh token hash.
type SessionInfo struct {
	AccountID        string
	Active           bool
	RefreshExpiresAt time.Time
	LastHeartbeatAt  time.Time
	LastLoginAt      time.Time
}

// LoginAttempts reports the lockout counters of an account.
type LoginAttempts struct {
	FailedLoginAttempts     int
	FailedTwoFactorAttempts int
	LockedUntil             time.Time
}

// HealthStatus is an on-demand store health result.
type HealthStatus struct {
	StoreAvailable bool
	StoreLatency   time.Duration
}

// GetSessionInfo returns the session state of accountID. Active is false when
// no refresh token is stored or it has expired.
func (e *Engine) GetSessionInfo(ctx context.Context, accountID string) (*SessionInfo, error) {
	acct, err := e.introspectAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &SessionInfo{
		AccountID:        acct.ID,
		Active:           acct.RefreshTokenHash != "" && e.now().Before(acct.RefreshTokenExpiresAt),
		RefreshExpiresAt: acct.RefreshTokenExpiresAt,
		LastHeartbeatAt:  acct.LastHeartbeatAt,
		LastLoginAt:      acct.LastLoginAt,
	}, nil
}

// GetLoginAttempts returns the failure counters of accountID. An elapsed lock
// is reported as it is stored; the next login clears it.
func (e *Engine) GetLoginAttempts(ctx context.Context, accountID string) (LoginAttempts, error) {
	acct, err := e.introspectAccount(ctx, accountID)
	if err != nil {
		return LoginAttempts{}, err
	}
	return LoginAttempts{
		FailedLoginAttempts:     acct.FailedLoginAttempts,
		FailedTwoFactorAttempts: acct.FailedTwoFactorAttempts,
		LockedUntil:             acct.LockedUntil,
	}, nil
}

// Health pings the store when it implements account.Pinger. Stores without
// a ping are reported available.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.store == nil {
		return HealthStatus{}
	}
	pinger, ok := e.store.(account.Pinger)
	if !ok {
		return HealthStatus{StoreAvailable: true}
	}

	start := time.Now()
	err := pinger.Ping(ctx)
	latency := time.Since(start)
	if err != nil {
		e.logger.Sugar().Warnw("authcore: store ping failed", "error", err)
	}
	return HealthStatus{
		StoreAvailable: err == nil,
		StoreLatency:   latency,
	}
}

func (e *Engine) introspectAccount(ctx context.Context, accountID string) (*account.Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if accountID == "" {
		return nil, ErrAccountNotFound
	}
	acct, err := e.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, storeError(err)
	}
	return acct, nil
}
