package redisstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/account"
)

const recordFormatVersionCurrent = 1

// ErrRecordCorrupt is returned when a stored account document cannot be
// decoded.
var ErrRecordCorrupt = errors.New("account record corrupt")

type identityRecord struct {
	Provider string `json:"p"`
	Subject  string `json:"s"`
}

// record is the JSON document kept in the "doc" field of an account hash.
// Zero times are omitted by storing them as nil.
type record struct {
	Format int `json:"format"`

	ID           string `json:"id"`
	Email        string `json:"email"`
	Username     string `json:"username,omitempty"`
	PasswordHash string `json:"password_hash"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Role         string `json:"role"`

	IsActive      bool `json:"is_active"`
	EmailVerified bool `json:"email_verified"`

	VerificationTokenHash string     `json:"verification_token_hash,omitempty"`
	VerificationExpiresAt *time.Time `json:"verification_expires_at,omitempty"`

	FailedLoginAttempts int        `json:"failed_login_attempts,omitempty"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`

	TwoFactorEnabled        bool       `json:"two_factor_enabled"`
	FactorMethod            string     `json:"factor_method"`
	FactorSecret            string     `json:"factor_secret,omitempty"`
	FactorCodeHash          string     `json:"factor_code_hash,omitempty"`
	FactorCodeExpiresAt     *time.Time `json:"factor_code_expires_at,omitempty"`
	FailedTwoFactorAttempts int        `json:"failed_two_factor_attempts,omitempty"`

	OTPCodeHash       string     `json:"otp_code_hash,omitempty"`
	OTPExpiresAt      *time.Time `json:"otp_expires_at,omitempty"`
	OTPFailedAttempts int        `json:"otp_failed_attempts,omitempty"`

	ResetTokenHash   string     `json:"reset_token_hash,omitempty"`
	ResetExpiresAt   *time.Time `json:"reset_expires_at,omitempty"`
	ResetRequestedAt *time.Time `json:"reset_requested_at,omitempty"`
	UsedResetHashes  []string   `json:"used_reset_hashes,omitempty"`

	RefreshTokenHash      string     `json:"refresh_token_hash,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at,omitempty"`
	LastHeartbeatAt       *time.Time `json:"last_heartbeat_at,omitempty"`
	LastLoginAt           *time.Time `json:"last_login_at,omitempty"`

	Identities []identityRecord `json:"identities,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

func encodeAccount(a *account.Account) ([]byte, error) {
	factor := account.EncodeSecondFactor(a.SecondFactor)
	r := record{
		Format:                  recordFormatVersionCurrent,
		ID:                      a.ID,
		Email:                   a.Email,
		Username:                a.Username,
		PasswordHash:            a.PasswordHash,
		FirstName:               a.FirstName,
		LastName:                a.LastName,
		Role:                    string(a.Role),
		IsActive:                a.IsActive,
		EmailVerified:           a.EmailVerified,
		VerificationTokenHash:   a.EmailVerificationTokenHash,
		VerificationExpiresAt:   timePtr(a.EmailVerificationExpiresAt),
		FailedLoginAttempts:     a.FailedLoginAttempts,
		LockedUntil:             timePtr(a.LockedUntil),
		TwoFactorEnabled:        a.TwoFactorEnabled,
		FactorMethod:            string(factor.Method),
		FactorSecret:            factor.Secret,
		FactorCodeHash:          factor.CodeHash,
		FactorCodeExpiresAt:     timePtr(factor.CodeExpiresAt),
		FailedTwoFactorAttempts: a.FailedTwoFactorAttempts,
		OTPCodeHash:             a.OTPCodeHash,
		OTPExpiresAt:            timePtr(a.OTPExpiresAt),
		OTPFailedAttempts:       a.OTPFailedAttempts,
		ResetTokenHash:          a.PasswordResetTokenHash,
		ResetExpiresAt:          timePtr(a.PasswordResetExpiresAt),
		ResetRequestedAt:        timePtr(a.PasswordResetRequestedAt),
		UsedResetHashes:         a.UsedResetTokenHashes,
		RefreshTokenHash:        a.RefreshTokenHash,
		RefreshTokenExpiresAt:   timePtr(a.RefreshTokenExpiresAt),
		LastHeartbeatAt:         timePtr(a.LastHeartbeatAt),
		LastLoginAt:             timePtr(a.LastLoginAt),
		CreatedAt:               a.CreatedAt.UTC(),
		UpdatedAt:               a.UpdatedAt.UTC(),
		Version:                 a.Version,
	}
	for _, id := range a.Identities {
		r.Identities = append(r.Identities, identityRecord{Provider: id.Provider, Subject: id.Subject})
	}
	return json.Marshal(r)
}

func decodeAccount(data []byte) (*account.Account, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecordCorrupt, err)
	}
	if r.Format < 1 || r.Format > recordFormatVersionCurrent {
		return nil, fmt.Errorf("%w: unsupported format %d", ErrRecordCorrupt, r.Format)
	}

	factor, err := account.DecodeSecondFactor(account.EncodedFactor{
		Method:        account.Method(r.FactorMethod),
		Secret:        r.FactorSecret,
		CodeHash:      r.FactorCodeHash,
		CodeExpiresAt: timeVal(r.FactorCodeExpiresAt),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecordCorrupt, err)
	}

	a := &account.Account{
		ID:                         r.ID,
		Email:                      r.Email,
		Username:                   r.Username,
		PasswordHash:               r.PasswordHash,
		FirstName:                  r.FirstName,
		LastName:                   r.LastName,
		Role:                       account.Role(r.Role),
		IsActive:                   r.IsActive,
		EmailVerified:              r.EmailVerified,
		EmailVerificationTokenHash: r.VerificationTokenHash,
		EmailVerificationExpiresAt: timeVal(r.VerificationExpiresAt),
		FailedLoginAttempts:        r.FailedLoginAttempts,
		LockedUntil:                timeVal(r.LockedUntil),
		TwoFactorEnabled:           r.TwoFactorEnabled,
		SecondFactor:               factor,
		FailedTwoFactorAttempts:    r.FailedTwoFactorAttempts,
		OTPCodeHash:                r.OTPCodeHash,
		OTPExpiresAt:               timeVal(r.OTPExpiresAt),
		OTPFailedAttempts:          r.OTPFailedAttempts,
		PasswordResetTokenHash:     r.ResetTokenHash,
		PasswordResetExpiresAt:     timeVal(r.ResetExpiresAt),
		PasswordResetRequestedAt:   timeVal(r.ResetRequestedAt),
		UsedResetTokenHashes:       r.UsedResetHashes,
		RefreshTokenHash:           r.RefreshTokenHash,
		RefreshTokenExpiresAt:      timeVal(r.RefreshTokenExpiresAt),
		LastHeartbeatAt:            timeVal(r.LastHeartbeatAt),
		LastLoginAt:                timeVal(r.LastLoginAt),
		CreatedAt:                  r.CreatedAt,
		UpdatedAt:                  r.UpdatedAt,
		Version:                    r.Version,
	}
	for _, id := range r.Identities {
		a.Identities = append(a.Identities, account.ExternalIdentity{Provider: id.Provider, Subject: id.Subject})
	}
	return a, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
