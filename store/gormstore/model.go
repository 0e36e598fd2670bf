package gormstore

import (
	"time"

	"github.com/MrEthical07/authcore/account"
)

type accountModel struct {
	ID           string  `gorm:"primaryKey;size:64"`
	Email        string  `gorm:"uniqueIndex;not null"`
	Username     *string `gorm:"uniqueIndex"`
	PasswordHash string  `gorm:"not null"`
	FirstName    string
	LastName     string
	Role         string `gorm:"not null;default:client"`

	IsActive      bool
	EmailVerified bool

	VerificationTokenHash *string `gorm:"index"`
	VerificationExpiresAt *time.Time

	FailedLoginAttempts int
	LockedUntil         *time.Time

	TwoFactorEnabled        bool
	FactorMethod            string `gorm:"not null;default:none"`
	FactorSecret            string
	FactorCodeHash          string
	FactorCodeExpiresAt     *time.Time
	FailedTwoFactorAttempts int

	OTPCodeHash       string
	OTPExpiresAt      *time.Time
	OTPFailedAttempts int

	ResetTokenHash   *string `gorm:"index"`
	ResetExpiresAt   *time.Time
	ResetRequestedAt *time.Time

	RefreshTokenHash      *string `gorm:"index"`
	RefreshTokenExpiresAt *time.Time
	LastHeartbeatAt       *time.Time
	LastLoginAt           *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
	Version   int64     `gorm:"not null"`
}

func (accountModel) TableName() string { return "accounts" }

type usedResetTokenModel struct {
	AccountID string `gorm:"primaryKey;size:64"`
	Position  int    `gorm:"primaryKey"`
	TokenHash string `gorm:"index;not null"`
}

func (usedResetTokenModel) TableName() string { return "account_used_reset_tokens" }

type identityModel struct {
	Provider  string `gorm:"primaryKey"`
	Subject   string `gorm:"primaryKey"`
	AccountID string `gorm:"index;size:64;not null"`
	Position  int
}

func (identityModel) TableName() string { return "account_identities" }

func toModel(a *account.Account, version int64) accountModel {
	factor := account.EncodeSecondFactor(a.SecondFactor)
	return accountModel{
		ID:                      a.ID,
		Email:                   a.Email,
		Username:                strPtr(a.Username),
		PasswordHash:            a.PasswordHash,
		FirstName:               a.FirstName,
		LastName:                a.LastName,
		Role:                    string(a.Role),
		IsActive:                a.IsActive,
		EmailVerified:           a.EmailVerified,
		VerificationTokenHash:   strPtr(a.EmailVerificationTokenHash),
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
		ResetTokenHash:          strPtr(a.PasswordResetTokenHash),
		ResetExpiresAt:          timePtr(a.PasswordResetExpiresAt),
		ResetRequestedAt:        timePtr(a.PasswordResetRequestedAt),
		RefreshTokenHash:        strPtr(a.RefreshTokenHash),
		RefreshTokenExpiresAt:   timePtr(a.RefreshTokenExpiresAt),
		LastHeartbeatAt:         timePtr(a.LastHeartbeatAt),
		LastLoginAt:             timePtr(a.LastLoginAt),
		CreatedAt:               a.CreatedAt.UTC(),
		UpdatedAt:               a.UpdatedAt.UTC(),
		Version:                 version,
	}
}

func (m accountModel) toAccount() (*account.Account, error) {
	factor, err := account.DecodeSecondFactor(account.EncodedFactor{
		Method:        account.Method(m.FactorMethod),
		Secret:        m.FactorSecret,
		CodeHash:      m.FactorCodeHash,
		CodeExpiresAt: timeVal(m.FactorCodeExpiresAt),
	})
	if err != nil {
		return nil, err
	}
	return &account.Account{
		ID:                         m.ID,
		Email:                      m.Email,
		Username:                   strVal(m.Username),
		PasswordHash:               m.PasswordHash,
		FirstName:                  m.FirstName,
		LastName:                   m.LastName,
		Role:                       account.Role(m.Role),
		IsActive:                   m.IsActive,
		EmailVerified:              m.EmailVerified,
		EmailVerificationTokenHash: strVal(m.VerificationTokenHash),
		EmailVerificationExpiresAt: timeVal(m.VerificationExpiresAt),
		FailedLoginAttempts:        m.FailedLoginAttempts,
		LockedUntil:                timeVal(m.LockedUntil),
		TwoFactorEnabled:           m.TwoFactorEnabled,
		SecondFactor:               factor,
		FailedTwoFactorAttempts:    m.FailedTwoFactorAttempts,
		OTPCodeHash:                m.OTPCodeHash,
		OTPExpiresAt:               timeVal(m.OTPExpiresAt),
		OTPFailedAttempts:          m.OTPFailedAttempts,
		PasswordResetTokenHash:     strVal(m.ResetTokenHash),
		PasswordResetExpiresAt:     timeVal(m.ResetExpiresAt),
		PasswordResetRequestedAt:   timeVal(m.ResetRequestedAt),
		RefreshTokenHash:           strVal(m.RefreshTokenHash),
		RefreshTokenExpiresAt:      timeVal(m.RefreshTokenExpiresAt),
		LastHeartbeatAt:            timeVal(m.LastHeartbeatAt),
		LastLoginAt:                timeVal(m.LastLoginAt),
		CreatedAt:                  m.CreatedAt.UTC(),
		UpdatedAt:                  m.UpdatedAt.UTC(),
		Version:                    m.Version,
	}, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
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
	return t.UTC()
}
