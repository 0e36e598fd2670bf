package authcore

import "time"

// SecurityReport summarizes the security-relevant configuration of an
// Engine. It carries no key material.
type SecurityReport struct {
	ProductionMode       bool
	SigningAlgorithm     string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	RefreshHashKeyed     bool
	Argon2               PasswordConfigReport
	PasswordPolicy       PasswordPolicyReport
	LockoutThreshold     int
	LockoutDuration      time.Duration
	TwoFactorMaxAttempts int
	OTPMaxAttempts       int
	ResetRequestCooldown time.Duration
	AuditEnabled         bool
	MetricsEnabled       bool
}

// PasswordConfigReport mirrors the argon2id cost parameters.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// PasswordPolicyReport mirrors the password policy applied to new passwords.
type PasswordPolicyReport struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// SecurityReport returns the effective security posture for startup logging
// and operator review.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	cfg := e.config
	return SecurityReport{
		ProductionMode:   cfg.Security.ProductionMode,
		SigningAlgorithm: cfg.JWT.SigningMethod,
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.Session.RefreshTTL,
		RefreshHashKeyed: len(cfg.Session.RefreshHashKey) > 0,
		Argon2: PasswordConfigReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		PasswordPolicy: PasswordPolicyReport{
			MinLength:      cfg.Password.MinLength,
			RequireUpper:   cfg.Password.RequireUpper,
			RequireLower:   cfg.Password.RequireLower,
			RequireDigit:   cfg.Password.RequireDigit,
			RequireSpecial: cfg.Password.RequireSpecial,
		},
		LockoutThreshold:     cfg.Lockout.Threshold,
		LockoutDuration:      cfg.Lockout.Duration,
		TwoFactorMaxAttempts: cfg.TwoFactor.MaxAttempts,
		OTPMaxAttempts:       cfg.OTP.MaxAttempts,
		ResetRequestCooldown: cfg.PasswordReset.RequestCooldown,
		AuditEnabled:         cfg.Audit.Enabled,
		MetricsEnabled:       cfg.Metrics.Enabled,
	}
}
