package authcore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "test config valid",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "jwt leeway valid",
			mutate: func(c *Config) {
				c.JWT.Leeway = 45 * time.Second
			},
			wantValid: true,
		},
		{
			name: "jwt leeway invalid",
			mutate: func(c *Config) {
				c.JWT.Leeway = 3 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "jwt signing invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "hs256 short key invalid",
			mutate: func(c *Config) {
				c.JWT.PrivateKey = []byte("short")
			},
			wantValid: false,
		},
		{
			name: "ed25519 without public key invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PublicKey = nil
			},
			wantValid: false,
		},
		{
			name: "production requires refresh hash key",
			mutate: func(c *Config) {
				c.Security.ProductionMode = true
				c.Session.RefreshHashKey = nil
			},
			wantValid: false,
		},
		{
			name: "production requires refresh ttl above access ttl",
			mutate: func(c *Config) {
				c.Security.ProductionMode = true
				c.Session.RefreshTTL = c.JWT.AccessTTL
			},
			wantValid: false,
		},
		{
			name: "argon2 memory too low",
			mutate: func(c *Config) {
				c.Password.Memory = 1024
			},
			wantValid: false,
		},
		{
			name: "password min length too low",
			mutate: func(c *Config) {
				c.Password.MinLength = 6
			},
			wantValid: false,
		},
		{
			name: "lockout threshold zero",
			mutate: func(c *Config) {
				c.Lockout.Threshold = 0
			},
			wantValid: false,
		},
		{
			name: "two-factor digits 8 valid",
			mutate: func(c *Config) {
				c.TwoFactor.Digits = 8
			},
			wantValid: true,
		},
		{
			name: "two-factor digits 7 invalid",
			mutate: func(c *Config) {
				c.TwoFactor.Digits = 7
			},
			wantValid: false,
		},
		{
			name: "two-factor issuer blank",
			mutate: func(c *Config) {
				c.TwoFactor.Issuer = "  "
			},
			wantValid: false,
		},
		{
			name: "otp attempts unlimited valid",
			mutate: func(c *Config) {
				c.OTP.MaxAttempts = 0
			},
			wantValid: true,
		},
		{
			name: "otp digits out of range",
			mutate: func(c *Config) {
				c.OTP.Digits = 4
			},
			wantValid: false,
		},
		{
			name: "reset cooldown disabled valid",
			mutate: func(c *Config) {
				c.PasswordReset.RequestCooldown = 0
			},
			wantValid: true,
		},
		{
			name: "reset used token limit zero",
			mutate: func(c *Config) {
				c.PasswordReset.UsedTokenLimit = 0
			},
			wantValid: false,
		},
		{
			name: "negative audit sink timeout",
			mutate: func(c *Config) {
				c.Audit.SinkTimeout = -time.Second
			},
			wantValid: false,
		},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "default role agent valid",
			mutate: func(c *Config) {
				c.Security.DefaultRole = "agent"
			},
			wantValid: true,
		},
		{
			name: "default role unknown",
			mutate: func(c *Config) {
				c.Security.DefaultRole = "owner"
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.JWT.AccessTTL != 24*time.Hour || cfg.Session.RefreshTTL != 30*24*time.Hour {
		t.Fatalf("unexpected token lifetimes %v / %v", cfg.JWT.AccessTTL, cfg.Session.RefreshTTL)
	}
	if cfg.Session.HeartbeatInterval != 240*time.Second {
		t.Fatalf("unexpected heartbeat interval %v", cfg.Session.HeartbeatInterval)
	}
	if cfg.Lockout.Threshold != 5 || cfg.Lockout.Duration != 30*time.Minute {
		t.Fatalf("unexpected lockout %+v", cfg.Lockout)
	}
	if cfg.TwoFactor.MaxAttempts != 3 || cfg.OTP.MaxAttempts != 5 || cfg.OTP.CodeTTL != 10*time.Minute {
		t.Fatalf("unexpected code budgets %+v / %+v", cfg.TwoFactor, cfg.OTP)
	}
	if cfg.PasswordReset.TokenTTL != time.Hour || cfg.PasswordReset.RequestCooldown != 15*time.Minute {
		t.Fatalf("unexpected reset config %+v", cfg.PasswordReset)
	}
	if cfg.Security.DefaultRole != "client" {
		t.Fatalf("unexpected default role %q", cfg.Security.DefaultRole)
	}

	// Keys are deployment specific, so the bare default does not validate.
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected default config without keys to be invalid")
	}
}

func TestWithConfigClonesKeys(t *testing.T) {
	cfg := testConfig()
	b := New().WithConfig(cfg)
	cfg.JWT.PrivateKey[0] = 'x'

	if b.config.JWT.PrivateKey[0] != 's' {
		t.Fatal("expected builder to hold its own copy of the signing key")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "30d", want: 30 * 24 * time.Hour},
		{in: " 1d ", want: 24 * time.Hour},
		{in: "240s", want: 240 * time.Second},
		{in: "1h30m", want: 90 * time.Minute},
		{in: "", wantErr: true},
		{in: "-1d", wantErr: true},
		{in: "xd", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseDuration(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseDuration(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseDuration(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authcore.toml")
	contents := `
[jwt]
signing_method = "hs256"
secret = "0123456789abcdef0123456789abcdef"
issuer = "authcore-test"
access_ttl = "15m"

[session]
refresh_ttl = "7d"
refresh_hash_key = "fedcba9876543210fedcba9876543210"

[lockout]
threshold = 3
duration = "10m"

[otp]
max_attempts = 0

[password_reset]
link_base_url = "https://app.example.com"

[audit]
enabled = true
drop_if_full = false
sink_timeout = "2s"

[security]
production_mode = true
default_role = "agent"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if cfg.JWT.SigningMethod != "hs256" || cfg.JWT.Issuer != "authcore-test" || cfg.JWT.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected jwt config %+v", cfg.JWT)
	}
	if cfg.Session.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected refresh ttl %v", cfg.Session.RefreshTTL)
	}
	if cfg.Lockout.Threshold != 3 || cfg.Lockout.Duration != 10*time.Minute {
		t.Fatalf("unexpected lockout %+v", cfg.Lockout)
	}
	if cfg.OTP.MaxAttempts != 0 {
		t.Fatalf("expected explicit zero otp attempts, got %d", cfg.OTP.MaxAttempts)
	}
	if cfg.PasswordReset.LinkBaseURL != "https://app.example.com" {
		t.Fatalf("unexpected reset link base %q", cfg.PasswordReset.LinkBaseURL)
	}
	if cfg.EmailVerification.LinkBaseURL != "http://localhost:3000" {
		t.Fatalf("expected untouched verification link base, got %q", cfg.EmailVerification.LinkBaseURL)
	}
	if cfg.Audit.DropIfFull || cfg.Audit.SinkTimeout != 2*time.Second {
		t.Fatalf("unexpected audit delivery drop=%v timeout=%v", cfg.Audit.DropIfFull, cfg.Audit.SinkTimeout)
	}
	if !cfg.Audit.Enabled || !cfg.Security.ProductionMode || cfg.Security.DefaultRole != "agent" {
		t.Fatalf("unexpected switches audit=%v production=%v role=%q", cfg.Audit.Enabled, cfg.Security.ProductionMode, cfg.Security.DefaultRole)
	}
	if cfg.Password.Memory != DefaultConfig().Password.Memory {
		t.Fatal("expected unset keys to keep defaults")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config should validate: %v", err)
	}
}

func TestLoadConfigFileRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[lockout]\nduration = \"forever\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected bad duration to fail")
	}
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected missing file to fail")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("AUTHCORE_JWT_SIGNING_METHOD", "hs256")
	t.Setenv("AUTHCORE_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("AUTHCORE_REFRESH_TTL", "14d")
	t.Setenv("AUTHCORE_APP_URL", "https://app.example.com")
	t.Setenv("AUTHCORE_PRODUCTION", "true")

	base := DefaultConfig()
	cfg, err := ConfigFromEnv(base)
	if err != nil {
		t.Fatalf("ConfigFromEnv failed: %v", err)
	}
	if cfg.JWT.SigningMethod != "hs256" || string(cfg.JWT.PrivateKey) != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("unexpected jwt config %+v", cfg.JWT)
	}
	if cfg.Session.RefreshTTL != 14*24*time.Hour {
		t.Fatalf("unexpected refresh ttl %v", cfg.Session.RefreshTTL)
	}
	if cfg.PasswordReset.LinkBaseURL != "https://app.example.com" || cfg.EmailVerification.LinkBaseURL != "https://app.example.com" {
		t.Fatal("expected app url applied to both link bases")
	}
	if !cfg.Security.ProductionMode {
		t.Fatal("expected production mode")
	}
	if cfg.JWT.AccessTTL != base.JWT.AccessTTL {
		t.Fatal("expected unset variables to keep base values")
	}

	t.Setenv("AUTHCORE_ACCESS_TTL", "later")
	if _, err := ConfigFromEnv(base); err == nil {
		t.Fatal("expected invalid duration to fail")
	}
}
