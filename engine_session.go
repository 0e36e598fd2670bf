package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/internal"
	internalflows "github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/jwt"
)

// Refresh exchanges a live refresh token for a new access and refresh token
// pair. The presented token stops working; presenting it again returns
// ErrRefreshTokenInvalid.
//
// An expired token returns ErrRefreshTokenExpired and a token belonging to a
// disabled account returns ErrAccountDisabled. Both are cleared.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	issued, err := internalflows.RunRefresh(ctx, refreshToken, e.sessionFlowDeps())
	if err != nil {
		return nil, err
	}
	return e.toSession(issued), nil
}

// Heartbeat keeps a session alive without rotating the refresh token. It
// returns a new access token alongside the unchanged refresh token and its
// stored expiry. It fails like Refresh for unknown, expired or disabled
// sessions.
func (e *Engine) Heartbeat(ctx context.Context, refreshToken string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	issued, err := internalflows.RunHeartbeat(ctx, refreshToken, e.sessionFlowDeps())
	if err != nil {
		return nil, err
	}
	return e.toSession(issued), nil
}

// Logout revokes the refresh token. Unknown tokens are ignored.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return internalflows.RunLogout(ctx, refreshToken, e.sessionFlowDeps())
}

// ValidateAccess verifies an access token's signature and time claims
// without touching the store. Every failure is reported as ErrTokenInvalid.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AccessClaims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}()
	}

	accessToken = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(accessToken), "Bearer "))
	if accessToken == "" {
		return nil, ErrTokenInvalid
	}
	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return nil, errors.Join(ErrTokenInvalid, err)
	}

	out := &AccessClaims{
		AccountID: claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func (e *Engine) issueAccessToken(a *account.Account) (string, time.Time, error) {
	return e.jwtManager.CreateAccess(jwt.Subject{
		ID:    a.ID,
		Email: a.Email,
		Role:  string(a.Role),
	})
}

// issueSession is the IssueSessionFunc handed to login and passwordless
// flows.
func (e *Engine) issueSession(ctx context.Context, acct *account.Account, mutate func(*account.Account) error) (*internalflows.IssuedSession, error) {
	return internalflows.IssueSession(ctx, acct, mutate, e.sessionFlowDeps())
}

func (e *Engine) sessionFlowDeps() internalflows.SessionDeps {
	key := e.config.Session.RefreshHashKey
	return internalflows.SessionDeps{
		Common:            e.flowCommon(),
		RefreshTTL:        e.config.Session.RefreshTTL,
		HeartbeatInterval: e.config.Session.HeartbeatInterval,
		NewRefreshToken:   internal.NewRefreshToken,
		HashRefreshToken: func(token string) string {
			return internal.HashRefreshToken(key, token)
		},
		IssueAccessToken: e.issueAccessToken,
		Metrics: internalflows.SessionMetrics{
			SessionCreated: int(MetricSessionCreated),
			RefreshSuccess: int(MetricRefreshSuccess),
			RefreshFailure: int(MetricRefreshFailure),
			Heartbeat:      int(MetricHeartbeat),
			Logout:         int(MetricLogout),
		},
		Events: internalflows.SessionEvents{
			SessionCreated: auditEventSessionCreated,
			RefreshSuccess: auditEventRefreshSuccess,
			RefreshFailure: auditEventRefreshFailure,
			Heartbeat:      auditEventHeartbeat,
			Logout:         auditEventLogout,
		},
		Errors: internalflows.SessionErrors{
			EngineNotReady:      ErrEngineNotReady,
			RefreshTokenInvalid: ErrRefreshTokenInvalid,
			RefreshTokenExpired: ErrRefreshTokenExpired,
			AccountDisabled:     ErrAccountDisabled,
		},
	}
}
