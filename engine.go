package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/internal/audit"
	internalflows "github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/mail"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"go.uber.org/zap"
)

// maxConflictRetries bounds how often a conditional save is re-applied after
// losing to a concurrent writer.
const maxConflictRetries = 4

// Engine runs every authentication and session flow against an identity
// store.
//
// Engine instances are immutable after Build and safe for concurrent use.
// The audit dispatcher is the only background goroutine; Close stops it.
type Engine struct {
	config   Config
	store    account.Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	audit        *audit.Dispatcher
	metrics      *Metrics
	passwordHash *password.Argon2
	policy       password.Policy
	dummyHash    string
	lockout      *limiters.LockoutPolicy
	totp         *totpManager
	jwtManager   *jwt.Manager
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of every counter. It is empty
// when metrics are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.store != nil && e.jwtManager != nil && e.passwordHash != nil
}

/*
====================================
STORE ACCESS
====================================
*/

// storeError passes the store sentinels through and wraps anything else as
// ErrStoreUnavailable.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, account.ErrNotFound), errors.Is(err, account.ErrDuplicate):
		return err
	case errors.Is(err, account.ErrConflict):
		return ErrStoreConflict
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func storeFind(find func(context.Context, string) (*account.Account, error)) func(context.Context, string) (*account.Account, error) {
	return func(ctx context.Context, key string) (*account.Account, error) {
		acct, err := find(ctx, key)
		if err != nil {
			return nil, storeError(err)
		}
		return acct, nil
	}
}

// mutateAccount applies fn to a copy of acct and saves it conditionally on
// its Version. A conflict reloads the row and re-applies fn, up to
// maxConflictRetries times. When fn reports no change nothing is written.
func (e *Engine) mutateAccount(ctx context.Context, acct *account.Account, fn func(*account.Account) bool) (*account.Account, error) {
	current := acct
	for attempt := 0; ; attempt++ {
		next := current.Clone()
		if !fn(next) {
			return current, nil
		}
		next.UpdatedAt = e.now()

		err := e.store.Save(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, account.ErrConflict) {
			return nil, storeError(err)
		}
		if attempt >= maxConflictRetries {
			e.logger.Warn("authcore: giving up after repeated store conflicts",
				zap.String("account_id", acct.ID),
				zap.Int("attempts", attempt+1),
			)
			return nil, ErrStoreConflict
		}

		e.metricInc(MetricStoreConflictRetry)
		e.logger.Debug("authcore: store conflict, retrying",
			zap.String("account_id", acct.ID),
			zap.Int("attempt", attempt+1),
		)
		current, err = e.store.FindByID(ctx, acct.ID)
		if err != nil {
			return nil, storeError(err)
		}
	}
}

func (e *Engine) accountAccess() internalflows.AccountAccess {
	return internalflows.AccountAccess{
		FindByID:                    storeFind(e.store.FindByID),
		FindByEmail:                 storeFind(e.store.FindByEmail),
		FindByUsername:              storeFind(e.store.FindByUsername),
		FindByRefreshTokenHash:      storeFind(e.store.FindByRefreshTokenHash),
		FindByResetTokenHash:        storeFind(e.store.FindByResetTokenHash),
		FindByVerificationTokenHash: storeFind(e.store.FindByVerificationTokenHash),
		FindByExternalIdentity: func(ctx context.Context, provider, subject string) (*account.Account, error) {
			acct, err := e.store.FindByExternalIdentity(ctx, provider, subject)
			if err != nil {
				return nil, storeError(err)
			}
			return acct, nil
		},
		Create: func(ctx context.Context, acct *account.Account) error {
			return storeError(e.store.Create(ctx, acct))
		},
		Mutate: e.mutateAccount,
		IsNotFound: func(err error) bool {
			return errors.Is(err, account.ErrNotFound)
		},
		IsDuplicate: func(err error) bool {
			return errors.Is(err, account.ErrDuplicate)
		},
	}
}

// flowCommon builds the side channels every flow shares. It must only be
// called on a ready engine.
func (e *Engine) flowCommon() internalflows.Common {
	return internalflows.Common{
		Accounts: e.accountAccess(),
		Now:      e.now,
		Notify:   e.notify,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Warn:      e.logger.Sugar().Warnw,
	}
}

/*
====================================
NOTIFICATIONS
====================================
*/

// notify hands content to the Notifier. Failures are logged and counted,
// never returned.
func (e *Engine) notify(ctx context.Context, to string, content mail.Content) {
	if e.notifier == nil {
		return
	}
	err := e.notifier.Send(ctx, Message{
		To:      to,
		Subject: content.Subject,
		HTML:    content.HTML,
		Text:    content.Text,
	})
	if err != nil {
		e.metricInc(MetricNotifierFailure)
		e.logger.Warn("authcore: notification delivery failed",
			zap.String("subject", content.Subject),
			zap.Error(err),
		)
	}
}

/*
====================================
RESULT MAPPING
====================================
*/

func (e *Engine) toSession(issued *internalflows.IssuedSession) *Session {
	return &Session{
		AccessToken:      issued.AccessToken,
		RefreshToken:     issued.RefreshToken,
		ExpiresAt:        issued.AccessExpiresAt,
		RefreshExpiresAt: issued.RefreshExpiresAt,
		User:             userView(issued.Account),
		Session: SessionMeta{
			LastHeartbeatAt:          issued.LastHeartbeatAt,
			HeartbeatIntervalSeconds: int(issued.HeartbeatInterval / time.Second),
		},
	}
}

func (e *Engine) passwordNeedsUpgrade(hash string) bool {
	upgrade, err := e.passwordHash.NeedsUpgrade(hash)
	return err == nil && upgrade
}

func (e *Engine) checkPassword(pw string) error {
	if len(pw) > password.DefaultMaxPasswordBytes {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, password.ErrPasswordTooLong)
	}
	if err := e.policy.Check(pw); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	return nil
}
