package account

import (
	"net/mail"
	"strings"
	"time"
)

// Role is the coarse authorization role embedded in access tokens.
type Role string

const (
	RoleClient Role = "client"
	RoleAgent  Role = "agent"
	RoleAdmin  Role = "admin"
)

// ExternalIdentity links an account to a subject at a social or government
// identity provider.
type ExternalIdentity struct {
	Provider string
	Subject  string
}

// Account is the single per-user record mutated by every authentication flow.
// Zero time values mean "not set".
type Account struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         Role

	IsActive      bool
	EmailVerified bool

	EmailVerificationTokenHash string
	EmailVerificationExpiresAt time.Time

	FailedLoginAttempts int
	LockedUntil         time.Time

	TwoFactorEnabled        bool
	SecondFactor            SecondFactor
	FailedTwoFactorAttempts int

	OTPCodeHash       string
	OTPExpiresAt      time.Time
	OTPFailedAttempts int

	PasswordResetTokenHash   string
	PasswordResetExpiresAt   time.Time
	PasswordResetRequestedAt time.Time
	UsedResetTokenHashes     []string

	RefreshTokenHash      string
	RefreshTokenExpiresAt time.Time
	LastHeartbeatAt       time.Time
	LastLoginAt           time.Time

	Identities []ExternalIdentity

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// NormalizeEmail lower-cases and trims an address before lookup or storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email is a bare address with a domain part.
// Display names and angle brackets are rejected.
func ValidEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil || parsed.Name != "" || parsed.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && at < len(email)-1
}

// Factor returns the second factor, never nil.
func (a *Account) Factor() SecondFactor {
	if a.SecondFactor == nil {
		return NoFactor{}
	}
	return a.SecondFactor
}

// SetRefreshToken records the hash and expiry of the single active refresh
// token, replacing any previous one.
func (a *Account) SetRefreshToken(hash string, expiresAt time.Time) {
	a.RefreshTokenHash = hash
	a.RefreshTokenExpiresAt = expiresAt
}

// ClearRefreshToken forgets the active refresh token.
func (a *Account) ClearRefreshToken() {
	a.RefreshTokenHash = ""
	a.RefreshTokenExpiresAt = time.Time{}
}

// ClearOTP discards any outstanding passwordless login code.
func (a *Account) ClearOTP() {
	a.OTPCodeHash = ""
	a.OTPExpiresAt = time.Time{}
	a.OTPFailedAttempts = 0
}

// ClearPasswordReset discards the active reset token but keeps the used list.
func (a *Account) ClearPasswordReset() {
	a.PasswordResetTokenHash = ""
	a.PasswordResetExpiresAt = time.Time{}
	a.PasswordResetRequestedAt = time.Time{}
}

// RememberResetHash appends hash to the used reset token list, keeping only
// the newest limit entries.
func (a *Account) RememberResetHash(hash string, limit int) {
	a.UsedResetTokenHashes = append(a.UsedResetTokenHashes, hash)
	if limit > 0 && len(a.UsedResetTokenHashes) > limit {
		a.UsedResetTokenHashes = append([]string(nil), a.UsedResetTokenHashes[len(a.UsedResetTokenHashes)-limit:]...)
	}
}

// ResetHashUsed reports whether hash is in the used reset token list.
func (a *Account) ResetHashUsed(hash string) bool {
	for _, used := range a.UsedResetTokenHashes {
		if used == hash {
			return true
		}
	}
	return false
}

// HasIdentity reports whether the account is linked to provider/subject.
func (a *Account) HasIdentity(provider, subject string) bool {
	for _, id := range a.Identities {
		if id.Provider == provider && id.Subject == subject {
			return true
		}
	}
	return false
}

// OperatorDisabled reports an account whose email was verified but which has
// since been switched off.
func (a *Account) OperatorDisabled() bool {
	return a.EmailVerified && !a.IsActive
}

// Clone returns a deep copy so stores never share slices with callers.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.UsedResetTokenHashes != nil {
		c.UsedResetTokenHashes = append([]string(nil), a.UsedResetTokenHashes...)
	}
	if a.Identities != nil {
		c.Identities = append([]ExternalIdentity(nil), a.Identities...)
	}
	return &c
}
