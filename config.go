package authcore

import (
	"errors"
	"strings"
	"time"
)

// Config holds every tunable of the engine. Obtain one from DefaultConfig,
// adjust it, and pass it to Builder.WithConfig.
type Config struct {
	JWT               JWTConfig
	Session           SessionConfig
	Password          PasswordConfig
	Lockout           LockoutConfig
	TwoFactor         TwoFactorConfig
	OTP               OTPConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
	Security          SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig defines access-token signing. SigningMethod is "ed25519"
// (default) or "hs256".
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines refresh-token lifetime and the heartbeat interval
// advertised to clients.
//
// RefreshHashKey keys the HMAC under which refresh tokens are stored. It is
// required in production mode. When empty, Build generates an ephemeral key,
// so issued refresh tokens are only valid for the life of that Engine.
type SessionConfig struct {
	RefreshTTL        time.Duration
	HeartbeatInterval time.Duration
	RefreshHashKey    []byte
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id cost parameters and the policy applied to
// new passwords.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool

	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig defines brute-force protection on password login.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig defines TOTP parameters and the emailed-code fallback.
type TwoFactorConfig struct {
	Issuer       string
	Period       uint
	Digits       int
	Skew         uint
	SecretSize   uint
	QRCodeSize   int
	EmailCodeTTL time.Duration
	MaxAttempts  int
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig defines passwordless login codes.
type OTPConfig struct {
	Digits      int
	CodeTTL     time.Duration
	MaxAttempts int
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig defines reset-link lifetime, the quiet period between
// requests and the size of the used-token history.
type PasswordResetConfig struct {
	TokenTTL        time.Duration
	RequestCooldown time.Duration
	UsedTokenLimit  int
	LinkBaseURL     string
}

/*
====================================
EMAIL VERIFICATION CONFIG
====================================
*/

// EmailVerificationConfig defines registration verification links.
type EmailVerificationConfig struct {
	TokenTTL       time.Duration
	ResendCooldown time.Duration
	LinkBaseURL    string
}

/*
====================================
AUDIT / METRICS / SECURITY
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher. SinkTimeout bounds
// each sink call through its context.
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	DropIfFull  bool
	SinkTimeout time.Duration
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// SecurityConfig holds deployment-wide hardening switches.
type SecurityConfig struct {
	ProductionMode bool
	DefaultRole    string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. Signing keys and the
// refresh hash key must still be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     24 * time.Hour,
			SigningMethod: "ed25519",
		},
		Session: SessionConfig{
			RefreshTTL:        30 * 24 * time.Hour,
			HeartbeatInterval: 240 * time.Second,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
			MinLength:      8,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			RequireSpecial: true,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:       "authcore",
			Period:       30,
			Digits:       6,
			Skew:         2,
			SecretSize:   20,
			QRCodeSize:   200,
			EmailCodeTTL: 10 * time.Minute,
			MaxAttempts:  3,
		},
		OTP: OTPConfig{
			Digits:      6,
			CodeTTL:     10 * time.Minute,
			MaxAttempts: 5,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL:        time.Hour,
			RequestCooldown: 15 * time.Minute,
			UsedTokenLimit:  10,
			LinkBaseURL:     "http://localhost:3000",
		},
		EmailVerification: EmailVerificationConfig{
			TokenTTL:       24 * time.Hour,
			ResendCooldown: time.Minute,
			LinkBaseURL:    "http://localhost:3000",
		},
		Audit: AuditConfig{
			Enabled:     false,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			ProductionMode: false,
			DefaultRole:    "client",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Session.RefreshHashKey = cloneBytes(cfg.Session.RefreshHashKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistent or unsafe setting in c.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
		return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.RefreshTTL <= 0 {
		return errors.New("Session RefreshTTL must be > 0")
	}
	if c.Session.RefreshTTL <= c.JWT.AccessTTL && c.Security.ProductionMode {
		return errors.New("Session RefreshTTL must exceed JWT AccessTTL in production mode")
	}
	if c.Session.HeartbeatInterval <= 0 {
		return errors.New("Session HeartbeatInterval must be > 0")
	}
	if c.Security.ProductionMode && len(c.Session.RefreshHashKey) < 32 {
		return errors.New("Session RefreshHashKey of at least 32 bytes is required in production mode")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// Two-factor
	if strings.TrimSpace(c.TwoFactor.Issuer) == "" {
		return errors.New("TwoFactor Issuer must not be empty")
	}
	if c.TwoFactor.Period == 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}
	if c.TwoFactor.Skew > 5 {
		return errors.New("TwoFactor Skew must be <= 5")
	}
	if c.TwoFactor.SecretSize < 16 {
		return errors.New("TwoFactor SecretSize must be >= 16")
	}
	if c.TwoFactor.QRCodeSize < 64 {
		return errors.New("TwoFactor QRCodeSize must be >= 64")
	}
	if c.TwoFactor.EmailCodeTTL <= 0 {
		return errors.New("TwoFactor EmailCodeTTL must be > 0")
	}
	if c.TwoFactor.MaxAttempts <= 0 {
		return errors.New("TwoFactor MaxAttempts must be > 0")
	}

	// OTP
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.CodeTTL <= 0 {
		return errors.New("OTP CodeTTL must be > 0")
	}
	if c.OTP.MaxAttempts < 0 {
		return errors.New("OTP MaxAttempts must be >= 0")
	}

	// Password reset
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0")
	}
	if c.PasswordReset.RequestCooldown < 0 {
		return errors.New("PasswordReset RequestCooldown must be >= 0")
	}
	if c.PasswordReset.UsedTokenLimit <= 0 {
		return errors.New("PasswordReset UsedTokenLimit must be > 0")
	}

	// Email verification
	if c.EmailVerification.TokenTTL <= 0 {
		return errors.New("EmailVerification TokenTTL must be > 0")
	}
	if c.EmailVerification.ResendCooldown < 0 {
		return errors.New("EmailVerification ResendCooldown must be >= 0")
	}

	// Audit
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Security
	switch c.Security.DefaultRole {
	case "client", "agent", "admin":
	default:
		return errors.New("Security DefaultRole must be client, agent or admin")
	}

	return nil
}
