package flows

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/mail"
)

const (
	maxUsernameProbes = 1000
	maxCreateAttempts = 3
	fallbackUsername  = "user"
	verifyEmailPath   = "verify-email"
	resetPasswordPath = "reset-password"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,30}$`)

var errUsernameSpaceExhausted = errors.New("no free username for base")

// ValidUsername reports whether name is 3 to 30 letters, digits, dots,
// underscores or hyphens.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// AccountCreation carries what is needed to insert a new account row.
type AccountCreation struct {
	NewID        func() (string, error)
	HashPassword func(password string) (string, error)
	DefaultRole  account.Role
}

// create inserts acct. When base is non-empty a free username derived from it
// is assigned, and a username collision at insert time is retried with the
// next candidate. A duplicate email is returned to the caller as is.
func (c AccountCreation) create(ctx context.Context, common Common, acct *account.Account, base string) (*account.Account, error) {
	if c.NewID == nil || common.Accounts.Create == nil {
		return nil, errors.New("account creation not configured")
	}
	now := common.Now()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	if acct.SecondFactor == nil {
		acct.SecondFactor = account.NoFactor{}
	}
	if acct.Role == "" {
		acct.Role = c.DefaultRole
	}
	if acct.Role == "" {
		acct.Role = account.RoleClient
	}

	var lastErr error
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, err := c.NewID()
		if err != nil {
			return nil, err
		}
		acct.ID = id

		if base != "" {
			name, err := UniqueUsername(ctx, base, common.Accounts.FindByUsername, common.Accounts.IsNotFound)
			if err != nil {
				return nil, err
			}
			acct.Username = name
		}

		lastErr = common.Accounts.Create(ctx, acct)
		if lastErr == nil {
			return acct, nil
		}
		if base == "" || !common.Accounts.IsDuplicate(lastErr) {
			return nil, lastErr
		}
		if _, err := common.Accounts.FindByEmail(ctx, acct.Email); err == nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// usernameBase derives a username stem from the local part of email:
// lower-cased with everything but letters and digits removed.
func usernameBase(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return fallbackUsername
	}
	name := b.String()
	if len(name) > 24 {
		name = name[:24]
	}
	return name
}

// UniqueUsername returns base, or base followed by the smallest positive
// counter, that no account uses yet.
func UniqueUsername(ctx context.Context, base string, find func(context.Context, string) (*account.Account, error), isNotFound func(error) bool) (string, error) {
	if find == nil {
		return base, nil
	}
	candidate := base
	for i := 1; i <= maxUsernameProbes; i++ {
		_, err := find(ctx, candidate)
		if err != nil {
			if isNotFound != nil && isNotFound(err) {
				return candidate, nil
			}
			return "", err
		}
		candidate = base + strconv.Itoa(i)
	}
	return "", errUsernameSpaceExhausted
}

/* ==================================
   REGISTRATION AND EMAIL VERIFICATION
   ================================== */

// RegisterInput is the self-service signup payload.
type RegisterInput struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// AccountMetrics carries metric IDs used by registration, verification and
// external identity flows.
type AccountMetrics struct {
	AccountCreated           int
	AccountCreationDuplicate int
	EmailVerificationRequest int
	EmailVerificationSuccess int
	EmailVerificationFailure int
	ExternalIdentityLinked   int
}

// AccountEvents carries audit event names used by registration, verification
// and external identity flows.
type AccountEvents struct {
	AccountCreated           string
	EmailVerificationRequest string
	EmailVerificationSuccess string
	EmailVerificationFailure string
	ExternalIdentityLinked   string
}

// AccountErrors carries host-level sentinel errors used by registration,
// verification and external identity flows.
type AccountErrors struct {
	EngineNotReady           error
	InvalidEmail             error
	InvalidUsername          error
	AccountExists            error
	InvalidVerificationToken error
	VerificationTokenExpired error
	InvalidExternalIdentity  error
}

// AccountDeps captures registration, verification and external identity
// dependencies.
type AccountDeps struct {
	Common
	Creation AccountCreation

	CheckPassword func(password string) error

	VerificationTTL      time.Duration
	VerificationCooldown time.Duration
	LinkBaseURL          string

	Metrics AccountMetrics
	Events  AccountEvents
	Errors  AccountErrors
}

// RunRegister creates an inactive, unverified account and emails a
// verification link.
func RunRegister(ctx context.Context, in RegisterInput, deps AccountDeps) (*account.Account, error) {
	deps.Common.normalize()
	if !deps.ready() || deps.Creation.HashPassword == nil || deps.Accounts.FindByEmail == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email := account.NormalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	if !account.ValidEmail(email) {
		return nil, deps.Errors.InvalidEmail
	}
	if !ValidUsername(username) {
		return nil, deps.Errors.InvalidUsername
	}
	if deps.CheckPassword != nil {
		if err := deps.CheckPassword(in.Password); err != nil {
			return nil, err
		}
	}

	duplicate := func() error {
		deps.MetricInc(deps.Metrics.AccountCreationDuplicate)
		deps.EmitAudit(ctx, deps.Events.AccountCreated, false, "", deps.Errors.AccountExists, withReason("duplicate"))
		return deps.Errors.AccountExists
	}
	if _, err := deps.Accounts.FindByEmail(ctx, email); err == nil {
		return nil, duplicate()
	} else if !deps.Accounts.IsNotFound(err) {
		return nil, err
	}
	if deps.Accounts.FindByUsername != nil {
		if _, err := deps.Accounts.FindByUsername(ctx, username); err == nil {
			return nil, duplicate()
		} else if !deps.Accounts.IsNotFound(err) {
			return nil, err
		}
	}

	hash, err := deps.Creation.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	token, tokenHash, err := newOpaque()
	if err != nil {
		return nil, err
	}

	acct, err := deps.Creation.create(ctx, deps.Common, &account.Account{
		Email:                      email,
		Username:                   username,
		PasswordHash:               hash,
		FirstName:                  strings.TrimSpace(in.FirstName),
		LastName:                   strings.TrimSpace(in.LastName),
		EmailVerificationTokenHash: tokenHash,
		EmailVerificationExpiresAt: deps.Now().Add(deps.VerificationTTL),
	}, "")
	if err != nil {
		if deps.Accounts.IsDuplicate(err) {
			return nil, duplicate()
		}
		return nil, err
	}

	sendVerification(ctx, acct, token, deps)

	deps.MetricInc(deps.Metrics.AccountCreated)
	deps.EmitAudit(ctx, deps.Events.AccountCreated, true, acct.ID, nil, withReason("register"))
	return acct, nil
}

// RunVerifyEmail redeems a verification token, marking the email verified
// and the account active.
func RunVerifyEmail(ctx context.Context, token string, deps AccountDeps) (*account.Account, error) {
	deps.Common.normalize()
	if !deps.ready() || deps.Accounts.FindByVerificationTokenHash == nil {
		return nil, deps.Errors.EngineNotReady
	}

	fail := func(accountID string, err error, reason string) error {
		deps.MetricInc(deps.Metrics.EmailVerificationFailure)
		deps.EmitAudit(ctx, deps.Events.EmailVerificationFailure, false, accountID, err, withReason(reason))
		return err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fail("", deps.Errors.InvalidVerificationToken, "empty_token")
	}
	hash := internal.HashToken(token)
	acct, err := deps.Accounts.FindByVerificationTokenHash(ctx, hash)
	if err != nil {
		if deps.Accounts.IsNotFound(err) {
			return nil, fail("", deps.Errors.InvalidVerificationToken, "unknown_token")
		}
		return nil, err
	}

	now := deps.Now()
	if !now.Before(acct.EmailVerificationExpiresAt) {
		return nil, fail(acct.ID, deps.Errors.VerificationTokenExpired, "expired")
	}

	stale := false
	acct, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
		stale = !internal.EqualHash(a.EmailVerificationTokenHash, hash)
		if stale {
			return false
		}
		a.EmailVerified = true
		a.IsActive = true
		a.EmailVerificationTokenHash = ""
		a.EmailVerificationExpiresAt = time.Time{}
		return true
	})
	if err != nil {
		return nil, err
	}
	if stale {
		return nil, fail(acct.ID, deps.Errors.InvalidVerificationToken, "consumed")
	}

	deps.MetricInc(deps.Metrics.EmailVerificationSuccess)
	deps.EmitAudit(ctx, deps.Events.EmailVerificationSuccess, true, acct.ID, nil, nil)
	return acct, nil
}

// RunResendVerification issues a new verification link. Unknown and already
// verified addresses, and requests inside the cooldown, succeed silently.
func RunResendVerification(ctx context.Context, email string, deps AccountDeps) error {
	deps.Common.normalize()
	if !deps.ready() || deps.Accounts.FindByEmail == nil {
		return deps.Errors.EngineNotReady
	}

	email = account.NormalizeEmail(email)
	acct, err := deps.Accounts.FindByEmail(ctx, email)
	if err != nil {
		if deps.Accounts.IsNotFound(err) {
			_, _, _ = newOpaque()
			return nil
		}
		return err
	}
	if acct.EmailVerified {
		return nil
	}

	now := deps.Now()
	cooldown := limiters.Cooldown{Window: deps.VerificationCooldown}
	if cooldown.Active(verificationIssuedAt(acct, deps.VerificationTTL), now) {
		return nil
	}

	token, tokenHash, err := newOpaque()
	if err != nil {
		return err
	}
	skipped := false
	acct, err = deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
		skipped = a.EmailVerified || cooldown.Active(verificationIssuedAt(a, deps.VerificationTTL), now)
		if skipped {
			return false
		}
		a.EmailVerificationTokenHash = tokenHash
		a.EmailVerificationExpiresAt = now.Add(deps.VerificationTTL)
		return true
	})
	if err != nil {
		return err
	}
	if skipped {
		return nil
	}

	sendVerification(ctx, acct, token, deps)
	return nil
}

// verificationIssuedAt recovers when the outstanding token was issued from its
// expiry. It returns the zero time when no token is outstanding.
func verificationIssuedAt(a *account.Account, ttl time.Duration) time.Time {
	if a.EmailVerificationTokenHash == "" || a.EmailVerificationExpiresAt.IsZero() {
		return time.Time{}
	}
	return a.EmailVerificationExpiresAt.Add(-ttl)
}

func sendVerification(ctx context.Context, acct *account.Account, token string, deps AccountDeps) {
	deps.send(ctx, acct.Email, "verification", func() (mail.Content, error) {
		return mail.Verification(mail.Link(deps.LinkBaseURL, verifyEmailPath, token), deps.VerificationTTL)
	})
	deps.MetricInc(deps.Metrics.EmailVerificationRequest)
	deps.EmitAudit(ctx, deps.Events.EmailVerificationRequest, true, acct.ID, nil, nil)
}

/* ==================================
   EXTERNAL IDENTITY
   ================================== */

// ExternalIdentityInput is a verified identity asserted by a social or
// government provider.
type ExternalIdentityInput struct {
	Provider  string
	Subject   string
	Email     string
	FirstName string
	LastName  string
}

// RunResolveExternalIdentity finds the account linked to the identity, links
// it to the account with the same email, or creates a verified active
// account for it. Linking an unverified account verifies it and replaces its
// password with an unusable one.
func RunResolveExternalIdentity(ctx context.Context, in ExternalIdentityInput, deps AccountDeps) (*account.Account, error) {
	deps.Common.normalize()
	if !deps.ready() || deps.Accounts.FindByExternalIdentity == nil || deps.Accounts.FindByEmail == nil ||
		deps.Creation.HashPassword == nil {
		return nil, deps.Errors.EngineNotReady
	}

	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	subject := strings.TrimSpace(in.Subject)
	email := account.NormalizeEmail(in.Email)
	if provider == "" || subject == "" || !account.ValidEmail(email) {
		return nil, deps.Errors.InvalidExternalIdentity
	}
	identity := account.ExternalIdentity{Provider: provider, Subject: subject}

	acct, err := deps.Accounts.FindByExternalIdentity(ctx, provider, subject)
	if err == nil {
		return acct, nil
	}
	if !deps.Accounts.IsNotFound(err) {
		return nil, err
	}

	link := func(acct *account.Account) (*account.Account, error) {
		var unusableHash string
		if !acct.EmailVerified {
			secret, err := internal.NewUnusablePassword()
			if err != nil {
				return nil, err
			}
			if unusableHash, err = deps.Creation.HashPassword(secret); err != nil {
				return nil, err
			}
		}

		acct, err := deps.Accounts.Mutate(ctx, acct, func(a *account.Account) bool {
			if a.HasIdentity(provider, subject) {
				return false
			}
			a.Identities = append(a.Identities, identity)
			if !a.EmailVerified && unusableHash != "" {
				claimUnverified(a, unusableHash)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		deps.MetricInc(deps.Metrics.ExternalIdentityLinked)
		deps.EmitAudit(ctx, deps.Events.ExternalIdentityLinked, true, acct.ID, nil, func() map[string]string {
			return map[string]string{"provider": provider}
		})
		return acct, nil
	}

	acct, err = deps.Accounts.FindByEmail(ctx, email)
	if err == nil {
		return link(acct)
	}
	if !deps.Accounts.IsNotFound(err) {
		return nil, err
	}

	secret, err := internal.NewUnusablePassword()
	if err != nil {
		return nil, err
	}
	hash, err := deps.Creation.HashPassword(secret)
	if err != nil {
		return nil, err
	}
	acct, err = deps.Creation.create(ctx, deps.Common, &account.Account{
		Email:         email,
		PasswordHash:  hash,
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		IsActive:      true,
		EmailVerified: true,
		Identities:    []account.ExternalIdentity{identity},
	}, usernameBase(email))
	if err != nil {
		if deps.Accounts.IsDuplicate(err) {
			if existing, ferr := deps.Accounts.FindByEmail(ctx, email); ferr == nil {
				return link(existing)
			}
		}
		return nil, err
	}

	deps.MetricInc(deps.Metrics.AccountCreated)
	deps.EmitAudit(ctx, deps.Events.AccountCreated, true, acct.ID, nil, func() map[string]string {
		return map[string]string{"reason": "external_identity", "provider": provider}
	})
	return acct, nil
}

// claimUnverified hands an unverified registration to the provider-verified
// owner of its email. The registrant's password and every pending token or
// factor are discarded.
func claimUnverified(a *account.Account, passwordHash string) {
	a.PasswordHash = passwordHash
	a.EmailVerified = true
	a.IsActive = true
	a.EmailVerificationTokenHash = ""
	a.EmailVerificationExpiresAt = time.Time{}
	a.FailedLoginAttempts = 0
	a.LockedUntil = time.Time{}
	a.TwoFactorEnabled = false
	a.SecondFactor = account.NoFactor{}
	a.FailedTwoFactorAttempts = 0
	a.ClearOTP()
	a.ClearPasswordReset()
	a.ClearRefreshToken()
}

func newOpaque() (token, hash string, err error) {
	token, err = internal.NewOpaqueToken()
	if err != nil {
		return "", "", err
	}
	return token, internal.HashToken(token), nil
}
