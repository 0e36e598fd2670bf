package flows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/mail"
)

// SecondFactorConfig holds the knobs shared by login and the two-factor
// management flows.
type SecondFactorConfig struct {
	MaxAttempts     int
	EmailCodeTTL    time.Duration
	EmailCodeDigits int

	VerifyTOTP func(secret, code string, now time.Time) bool
}

// TOTPKey is a freshly generated authenticator secret.
type TOTPKey struct {
	Secret          string
	ProvisioningURI string
	QRCodeDataURL   string
}

// TwoFactorEnrollment is the flow-local enrollment result.
type TwoFactorEnrollment struct {
	Method account.Method
	Key    *TOTPKey
}

// TwoFactorMetrics carries metric IDs used by two-factor management flows.
type TwoFactorMetrics struct {
	TwoFactorEnrolled int
	TwoFactorEnabled  int
	TwoFactorDisabled int
	TwoFactorFailure  int
}

// TwoFactorEvents carries audit event names used by two-factor management flows.
type TwoFactorEvents struct {
	TwoFactorEnrolled string
	TwoFactorEnabled  string
	TwoFactorDisabled string
	TwoFactorFailure  string
}

// TwoFactorErrors carries host-level sentinel errors used by two-factor flows.
type TwoFactorErrors struct {
	EngineNotReady       error
	AccountNotFound      error
	AlreadyEnabled       error
	NotEnabled           error
	UnsupportedMethod    error
	InvalidTwoFactorCode error
}

// TwoFactorDeps captures enroll, confirm and disable dependencies.
type TwoFactorDeps struct {
	Common

	SecondFactor SecondFactorConfig
	GenerateTOTP func(accountName string) (*TOTPKey, error)

	Metrics TwoFactorMetrics
	Events  TwoFactorEvents
	Errors  TwoFactorErrors
}

// ParseMethod maps a client-supplied method name to a second-factor method.
// "app" is accepted for totp. It returns false for sms and anything unknown.
func ParseMethod(method string) (account.Method, bool) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "totp", "app":
		return account.MethodTOTP, true
	case "email":
		return account.MethodEmail, true
	default:
		return "", false
	}
}

// RunEnrollTwoFactor stores a pending second factor. TOTP returns the new
// secret for the authenticator app; email sends a code. Neither enables 2FA.
func RunEnrollTwoFactor(ctx context.Context, accountID, method string, deps TwoFactorDeps) (*TwoFactorEnrollment, error) {
	deps.Common.normalize()
	if !deps.ready() || deps.Accounts.FindByID == nil {
		return nil, deps.Errors.EngineNotReady
	}

	parsed, ok := ParseMethod(method)
	if !ok {
		requested := strings.ToLower(strings.TrimSpace(method))
		deps.EmitAudit(ctx, deps.Events.TwoFactorEnrolled, false, accountID, deps.Errors.UnsupportedMethod, func() map[string]string {
			return map[string]string{"method": requested}
		})
		if requested == "sms" {
			return nil, fmt.Errorf("%w: sms is refused because SIM-swap attacks can hijack the code, use totp or email", deps.Errors.UnsupportedMethod)
		}
		return nil, deps.Errors.UnsupportedMethod
	}

	acct, err := findByID(ctx, accountID, deps.Common, deps.Errors.AccountNotFound)
	if err != nil {
		return nil, err
	}
	if acct.TwoFactorEnabled {
		return nil, deps.Errors.AlreadyEnabled
	}

	enrollment := &TwoFactorEnrollment{Method: parsed}
	alreadyEnabled := false

	switch parsed {
	case account.MethodTOTP:
		if deps.GenerateTOTP == nil {
			return nil, deps.Errors.EngineNotReady
		}
		key, err := deps.GenerateTOTP(acct.Email)
		if err != nil {
			return nil, err
		}
		acct, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
			alreadyEnabled = a.TwoFactorEnabled
			if alreadyEnabled {
				return false
			}
			a.SecondFactor = account.TOTPFactor{Secret: key.Secret}
			a.FailedTwoFactorAttempts = 0
			return true
		})
		if err != nil {
			return nil, err
		}
		enrollment.Key = key

	case account.MethodEmail:
		code, err := internal.NewOTP(deps.SecondFactor.EmailCodeDigits)
		if err != nil {
			return nil, err
		}
		codeHash := internal.HashToken(code)
		expiresAt := deps.Now().Add(deps.SecondFactor.EmailCodeTTL)
		acct, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
			alreadyEnabled = a.TwoFactorEnabled
			if alreadyEnabled {
				return false
			}
			a.SecondFactor = account.EmailFactor{CodeHash: codeHash, ExpiresAt: expiresAt}
			a.FailedTwoFactorAttempts = 0
			return true
		})
		if err != nil {
			return nil, err
		}
		if !alreadyEnabled {
			deps.send(ctx, acct.Email, "two_factor_code", func() (mail.Content, error) {
				return mail.TwoFactorCode(code, deps.SecondFactor.EmailCodeTTL)
			})
		}
	}
	if alreadyEnabled {
		return nil, deps.Errors.AlreadyEnabled
	}

	deps.MetricInc(deps.Metrics.TwoFactorEnrolled)
	deps.EmitAudit(ctx, deps.Events.TwoFactorEnrolled, true, acct.ID, nil, func() map[string]string {
		return map[string]string{"method": string(parsed)}
	})
	return enrollment, nil
}

// RunConfirmTwoFactor checks a code against the pending factor and enables
// 2FA when it matches.
func RunConfirmTwoFactor(ctx context.Context, accountID, code string, deps TwoFactorDeps) error {
	deps.Common.normalize()
	if !deps.ready() || deps.Accounts.FindByID == nil {
		return deps.Errors.EngineNotReady
	}

	acct, err := findByID(ctx, accountID, deps.Common, deps.Errors.AccountNotFound)
	if err != nil {
		return err
	}
	if acct.TwoFactorEnabled {
		return deps.Errors.AlreadyEnabled
	}
	if acct.Factor().Method() == account.MethodNone {
		return deps.Errors.NotEnabled
	}

	code = strings.TrimSpace(code)
	now := deps.Now()
	var outcome error
	_, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
		outcome = nil
		switch {
		case a.TwoFactorEnabled:
			outcome = deps.Errors.AlreadyEnabled
			return false
		case a.Factor().Method() == account.MethodNone:
			outcome = deps.Errors.NotEnabled
			return false
		case code == "" || !verifySecondFactor(a, code, now, deps.SecondFactor):
			outcome = deps.Errors.InvalidTwoFactorCode
			return false
		}
		a.TwoFactorEnabled = true
		a.FailedTwoFactorAttempts = 0
		return true
	})
	if err != nil {
		return err
	}
	if outcome != nil {
		deps.MetricInc(deps.Metrics.TwoFactorFailure)
		deps.EmitAudit(ctx, deps.Events.TwoFactorFailure, false, acct.ID, outcome, withReason("confirm"))
		return outcome
	}

	deps.MetricInc(deps.Metrics.TwoFactorEnabled)
	deps.EmitAudit(ctx, deps.Events.TwoFactorEnabled, true, acct.ID, nil, func() map[string]string {
		return map[string]string{"method": string(acct.Factor().Method())}
	})
	return nil
}

// RunDisableTwoFactor removes an enabled second factor and its failure
// counter.
func RunDisableTwoFactor(ctx context.Context, accountID string, deps TwoFactorDeps) error {
	deps.Common.normalize()
	if !deps.ready() || deps.Accounts.FindByID == nil {
		return deps.Errors.EngineNotReady
	}

	acct, err := findByID(ctx, accountID, deps.Common, deps.Errors.AccountNotFound)
	if err != nil {
		return err
	}
	if !acct.TwoFactorEnabled {
		return deps.Errors.NotEnabled
	}

	notEnabled := false
	_, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
		notEnabled = !a.TwoFactorEnabled
		if notEnabled {
			return false
		}
		a.TwoFactorEnabled = false
		a.SecondFactor = account.NoFactor{}
		a.FailedTwoFactorAttempts = 0
		return true
	})
	if err != nil {
		return err
	}
	if notEnabled {
		return deps.Errors.NotEnabled
	}

	deps.MetricInc(deps.Metrics.TwoFactorDisabled)
	deps.EmitAudit(ctx, deps.Events.TwoFactorDisabled, true, acct.ID, nil, nil)
	return nil
}

// requiresSecondFactor reports whether login must collect a code: 2FA is
// enabled, or an emailed factor is still pending its first verification.
func requiresSecondFactor(a *account.Account) bool {
	if a.TwoFactorEnabled {
		return true
	}
	_, pendingEmail := a.Factor().(account.EmailFactor)
	return pendingEmail
}

// verifySecondFactor checks code against the factor on a. A matching emailed
// code is consumed.
func verifySecondFactor(a *account.Account, code string, now time.Time, cfg SecondFactorConfig) bool {
	switch f := a.Factor().(type) {
	case account.TOTPFactor:
		if cfg.VerifyTOTP == nil {
			return false
		}
		return cfg.VerifyTOTP(f.Secret, code, now)
	case account.EmailFactor:
		if !f.LiveAt(now) {
			return false
		}
		if !internal.EqualHash(internal.HashToken(code), f.CodeHash) {
			return false
		}
		a.SecondFactor = account.EmailFactor{}
		return true
	default:
		return false
	}
}

// secondFactorBudget is the per-account cap on consecutive failed codes.
func secondFactorBudget(cfg SecondFactorConfig) limiters.AttemptBudget {
	return limiters.AttemptBudget{Max: cfg.MaxAttempts}
}

// sendEmailFactorCode replaces the outstanding emailed code with a fresh one
// and sends it. It does nothing unless the factor is the email method.
func sendEmailFactorCode(ctx context.Context, acct *account.Account, c Common, cfg SecondFactorConfig) (*account.Account, error) {
	code, err := internal.NewOTP(cfg.EmailCodeDigits)
	if err != nil {
		return nil, err
	}
	codeHash := internal.HashToken(code)
	expiresAt := c.Now().Add(cfg.EmailCodeTTL)

	sent := false
	saved, err := c.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
		_, sent = a.Factor().(account.EmailFactor)
		if !sent {
			return false
		}
		a.SecondFactor = account.EmailFactor{CodeHash: codeHash, ExpiresAt: expiresAt}
		return true
	})
	if err != nil {
		return nil, err
	}
	if sent {
		c.send(ctx, saved.Email, "two_factor_code", func() (mail.Content, error) {
			return mail.TwoFactorCode(code, cfg.EmailCodeTTL)
		})
	}
	return saved, nil
}

func findByID(ctx context.Context, accountID string, c Common, notFound error) (*account.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, notFound
	}
	acct, err := c.Accounts.FindByID(ctx, accountID)
	if err != nil {
		if c.Accounts.IsNotFound(err) {
			return nil, notFound
		}
		return nil, err
	}
	return acct, nil
}
