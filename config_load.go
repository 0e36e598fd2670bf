package authcore

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ParseDuration parses a Go duration string and additionally accepts a
// whole-day suffix such as "30d".
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasSuffix(value, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(value, "d"))
		if err != nil || days < 0 {
			return 0, fmt.Errorf("invalid day duration %q", value)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(value)
}

type fileConfig struct {
	JWT struct {
		AccessTTL      string `toml:"access_ttl"`
		SigningMethod  string `toml:"signing_method"`
		PrivateKeyFile string `toml:"private_key_file"`
		PublicKeyFile  string `toml:"public_key_file"`
		Secret         string `toml:"secret"`
		Issuer         string `toml:"issuer"`
		Audience       string `toml:"audience"`
		Leeway         string `toml:"leeway"`
		KeyID          string `toml:"key_id"`
	} `toml:"jwt"`
	Session struct {
		RefreshTTL        string `toml:"refresh_ttl"`
		HeartbeatInterval string `toml:"heartbeat_interval"`
		RefreshHashKey    string `toml:"refresh_hash_key"`
	} `toml:"session"`
	Lockout struct {
		Threshold int    `toml:"threshold"`
		Duration  string `toml:"duration"`
	} `toml:"lockout"`
	TwoFactor struct {
		Issuer       string `toml:"issuer"`
		Skew         *uint  `toml:"skew"`
		EmailCodeTTL string `toml:"email_code_ttl"`
		MaxAttempts  int    `toml:"max_attempts"`
	} `toml:"two_factor"`
	OTP struct {
		CodeTTL     string `toml:"code_ttl"`
		MaxAttempts *int   `toml:"max_attempts"`
	} `toml:"otp"`
	PasswordReset struct {
		TokenTTL        string `toml:"token_ttl"`
		RequestCooldown string `toml:"request_cooldown"`
		UsedTokenLimit  int    `toml:"used_token_limit"`
		LinkBaseURL     string `toml:"link_base_url"`
	} `toml:"password_reset"`
	EmailVerification struct {
		TokenTTL    string `toml:"token_ttl"`
		LinkBaseURL string `toml:"link_base_url"`
	} `toml:"email_verification"`
	Audit struct {
		Enabled     *bool  `toml:"enabled"`
		BufferSize  int    `toml:"buffer_size"`
		DropIfFull  *bool  `toml:"drop_if_full"`
		SinkTimeout string `toml:"sink_timeout"`
	} `toml:"audit"`
	Metrics struct {
		Enabled *bool `toml:"enabled"`
	} `toml:"metrics"`
	Security struct {
		ProductionMode *bool  `toml:"production_mode"`
		DefaultRole    string `toml:"default_role"`
	} `toml:"security"`
}

// LoadConfigFile decodes the TOML file at path over DefaultConfig. Unset
// keys keep their defaults. Key files named in the [jwt] table are read
// from disk.
func LoadConfigFile(path string) (Config, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg := defaultConfig()
	set := durationSetter{}

	set.apply(&cfg.JWT.AccessTTL, fc.JWT.AccessTTL, "jwt.access_ttl")
	set.apply(&cfg.JWT.Leeway, fc.JWT.Leeway, "jwt.leeway")
	set.apply(&cfg.Session.RefreshTTL, fc.Session.RefreshTTL, "session.refresh_ttl")
	set.apply(&cfg.Session.HeartbeatInterval, fc.Session.HeartbeatInterval, "session.heartbeat_interval")
	set.apply(&cfg.Lockout.Duration, fc.Lockout.Duration, "lockout.duration")
	set.apply(&cfg.TwoFactor.EmailCodeTTL, fc.TwoFactor.EmailCodeTTL, "two_factor.email_code_ttl")
	set.apply(&cfg.OTP.CodeTTL, fc.OTP.CodeTTL, "otp.code_ttl")
	set.apply(&cfg.PasswordReset.TokenTTL, fc.PasswordReset.TokenTTL, "password_reset.token_ttl")
	set.apply(&cfg.PasswordReset.RequestCooldown, fc.PasswordReset.RequestCooldown, "password_reset.request_cooldown")
	set.apply(&cfg.EmailVerification.TokenTTL, fc.EmailVerification.TokenTTL, "email_verification.token_ttl")
	set.apply(&cfg.Audit.SinkTimeout, fc.Audit.SinkTimeout, "audit.sink_timeout")
	if set.err != nil {
		return Config{}, set.err
	}

	setString(&cfg.JWT.SigningMethod, fc.JWT.SigningMethod)
	setString(&cfg.JWT.Issuer, fc.JWT.Issuer)
	setString(&cfg.JWT.Audience, fc.JWT.Audience)
	setString(&cfg.JWT.KeyID, fc.JWT.KeyID)
	if fc.JWT.Secret != "" {
		cfg.JWT.PrivateKey = []byte(fc.JWT.Secret)
	}
	if fc.JWT.PrivateKeyFile != "" {
		key, err := os.ReadFile(fc.JWT.PrivateKeyFile)
		if err != nil {
			return Config{}, fmt.Errorf("read jwt private key: %w", err)
		}
		cfg.JWT.PrivateKey = key
	}
	if fc.JWT.PublicKeyFile != "" {
		key, err := os.ReadFile(fc.JWT.PublicKeyFile)
		if err != nil {
			return Config{}, fmt.Errorf("read jwt public key: %w", err)
		}
		cfg.JWT.PublicKey = key
	}
	if fc.Session.RefreshHashKey != "" {
		cfg.Session.RefreshHashKey = []byte(fc.Session.RefreshHashKey)
	}

	setInt(&cfg.Lockout.Threshold, fc.Lockout.Threshold)
	setString(&cfg.TwoFactor.Issuer, fc.TwoFactor.Issuer)
	if fc.TwoFactor.Skew != nil {
		cfg.TwoFactor.Skew = *fc.TwoFactor.Skew
	}
	setInt(&cfg.TwoFactor.MaxAttempts, fc.TwoFactor.MaxAttempts)
	if fc.OTP.MaxAttempts != nil {
		cfg.OTP.MaxAttempts = *fc.OTP.MaxAttempts
	}
	setInt(&cfg.PasswordReset.UsedTokenLimit, fc.PasswordReset.UsedTokenLimit)
	setString(&cfg.PasswordReset.LinkBaseURL, fc.PasswordReset.LinkBaseURL)
	setString(&cfg.EmailVerification.LinkBaseURL, fc.EmailVerification.LinkBaseURL)
	if fc.Audit.Enabled != nil {
		cfg.Audit.Enabled = *fc.Audit.Enabled
	}
	setInt(&cfg.Audit.BufferSize, fc.Audit.BufferSize)
	if fc.Audit.DropIfFull != nil {
		cfg.Audit.DropIfFull = *fc.Audit.DropIfFull
	}
	if fc.Metrics.Enabled != nil {
		cfg.Metrics.Enabled = *fc.Metrics.Enabled
	}
	if fc.Security.ProductionMode != nil {
		cfg.Security.ProductionMode = *fc.Security.ProductionMode
	}
	setString(&cfg.Security.DefaultRole, fc.Security.DefaultRole)

	return cfg, nil
}

// ConfigFromEnv overlays AUTHCORE_* environment variables on base. Unset
// variables leave base untouched.
//
//	AUTHCORE_JWT_SIGNING_METHOD      ed25519 | hs256
//	AUTHCORE_JWT_SECRET              hs256 shared secret
//	AUTHCORE_JWT_PRIVATE_KEY_FILE    PEM or raw ed25519 private key
//	AUTHCORE_JWT_PUBLIC_KEY_FILE     PEM or raw ed25519 public key
//	AUTHCORE_JWT_ISSUER
//	AUTHCORE_ACCESS_TTL              e.g. 24h
//	AUTHCORE_REFRESH_TTL             e.g. 30d
//	AUTHCORE_REFRESH_HASH_KEY
//	AUTHCORE_HEARTBEAT_INTERVAL      e.g. 240s
//	AUTHCORE_APP_URL                 base for reset and verification links
//	AUTHCORE_TOTP_ISSUER
//	AUTHCORE_PRODUCTION              1 | true
func ConfigFromEnv(base Config) (Config, error) {
	cfg := cloneConfig(base)
	set := durationSetter{}

	set.apply(&cfg.JWT.AccessTTL, os.Getenv("AUTHCORE_ACCESS_TTL"), "AUTHCORE_ACCESS_TTL")
	set.apply(&cfg.Session.RefreshTTL, os.Getenv("AUTHCORE_REFRESH_TTL"), "AUTHCORE_REFRESH_TTL")
	set.apply(&cfg.Session.HeartbeatInterval, os.Getenv("AUTHCORE_HEARTBEAT_INTERVAL"), "AUTHCORE_HEARTBEAT_INTERVAL")
	if set.err != nil {
		return Config{}, set.err
	}

	setString(&cfg.JWT.SigningMethod, envOrDefault("AUTHCORE_JWT_SIGNING_METHOD", ""))
	setString(&cfg.JWT.Issuer, envOrDefault("AUTHCORE_JWT_ISSUER", ""))
	if secret := envOrDefault("AUTHCORE_JWT_SECRET", ""); secret != "" {
		cfg.JWT.PrivateKey = []byte(secret)
	}
	if path := envOrDefault("AUTHCORE_JWT_PRIVATE_KEY_FILE", ""); path != "" {
		key, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read jwt private key: %w", err)
		}
		cfg.JWT.PrivateKey = key
	}
	if path := envOrDefault("AUTHCORE_JWT_PUBLIC_KEY_FILE", ""); path != "" {
		key, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read jwt public key: %w", err)
		}
		cfg.JWT.PublicKey = key
	}
	if key := envOrDefault("AUTHCORE_REFRESH_HASH_KEY", ""); key != "" {
		cfg.Session.RefreshHashKey = []byte(key)
	}
	if appURL := envOrDefault("AUTHCORE_APP_URL", ""); appURL != "" {
		cfg.PasswordReset.LinkBaseURL = appURL
		cfg.EmailVerification.LinkBaseURL = appURL
	}
	setString(&cfg.TwoFactor.Issuer, envOrDefault("AUTHCORE_TOTP_ISSUER", ""))
	switch strings.ToLower(envOrDefault("AUTHCORE_PRODUCTION", "")) {
	case "1", "true", "yes":
		cfg.Security.ProductionMode = true
	case "0", "false", "no":
		cfg.Security.ProductionMode = false
	}

	return cfg, nil
}

type durationSetter struct {
	err error
}

func (s *durationSetter) apply(dst *time.Duration, raw, name string) {
	if s.err != nil || strings.TrimSpace(raw) == "" {
		return
	}
	d, err := ParseDuration(raw)
	if err != nil {
		s.err = fmt.Errorf("%s: %w", name, err)
		return
	}
	*dst = d
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

func setInt(dst *int, value int) {
	if value > 0 {
		*dst = value
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
