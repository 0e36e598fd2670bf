package authcore

import (
	"errors"
	"time"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"go.uber.org/zap"
)

const generatedRefreshKeySize = 32

// Builder assembles an Engine. Configure it during initialization, call
// Build once and discard it.
type Builder struct {
	config Config
	store  account.Store

	notifier  Notifier
	auditSink AuditSink
	logger    *zap.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the identity store. It is required.
func (b *Builder) WithStore(store account.Store) *Builder {
	b.store = store
	return b
}

// WithNotifier sets the delivery channel for codes and links. Without one,
// messages are dropped.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets the audit destination. Audit.Enabled must also be set
// for events to flow.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger used for best-effort failures. The default
// discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every expiry, lock and token timestamp.
// It exists for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the ValidateAccess latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine. A Builder
// can only be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("identity store required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(cfg.Session.RefreshHashKey) == 0 {
		key, err := internal.NewKey(generatedRefreshKeySize)
		if err != nil {
			return nil, err
		}
		cfg.Session.RefreshHashKey = key
		logger.Warn("authcore: no refresh hash key configured, using an ephemeral key; refresh tokens will not survive a restart or be shared across instances")
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:   cloneConfig(cfg),
		store:    b.store,
		notifier: b.notifier,
		logger:   logger,
		now:      now,
	}

	engine.metrics = NewMetrics(cfg.Metrics)

	// -------- CREDENTIALS --------
	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph
	engine.policy = password.Policy{
		MinLength:      cfg.Password.MinLength,
		RequireUpper:   cfg.Password.RequireUpper,
		RequireLower:   cfg.Password.RequireLower,
		RequireDigit:   cfg.Password.RequireDigit,
		RequireSpecial: cfg.Password.RequireSpecial,
	}

	// Login verifies against dummyHash when the email is unknown.
	dummySecret, err := internal.NewUnusablePassword()
	if err != nil {
		return nil, err
	}
	if engine.dummyHash, err = ph.Hash(dummySecret); err != nil {
		return nil, err
	}

	engine.lockout = limiters.NewLockoutPolicy(limiters.LockoutConfig{
		Threshold: cfg.Lockout.Threshold,
		Duration:  cfg.Lockout.Duration,
	})
	engine.totp = newTOTPManager(cfg.TwoFactor)

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	// -------- AUDIT --------
	// Started last so a failed Build leaves no goroutine behind.
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: cfg.Audit.SinkTimeout,
		OnDrop: func(event audit.Event) {
			logger.Warn("authcore: audit event dropped", zap.String("event", event.EventType))
		},
		OnSinkPanic: func(event audit.Event, r any) {
			logger.Error("authcore: audit sink panicked",
				zap.String("event", event.EventType),
				zap.Any("panic", r),
			)
		},
	}, b.auditSink)

	b.built = true

	return engine, nil
}
