package chatauth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/chatauth/internal/audit"
	"github.com/MrEthical07/chatauth/internal/limiters"
	"github.com/MrEthical07/chatauth/internal/rate"
	"github.com/MrEthical07/chatauth/jwt"
	"github.com/MrEthical07/chatauth/kv"
	"github.com/MrEthical07/chatauth/password"
	"github.com/MrEthical07/chatauth/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Configure it during initialization and call
// Build once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts  AccountRepository
	auditSink AuditSink
	logger    *slog.Logger
	clock     func() time.Time

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared store client. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccounts sets the account repository used by Login. Required. When the
// repository also implements [LockoutMirror] the lockout state is mirrored
// onto it, and when it implements [HashUpgrader] stale password hashes are
// replaced on successful login.
func (b *Builder) WithAccounts(repo AccountRepository) *Builder {
	b.accounts = repo
	return b
}

// WithAuditSink sets the audit event consumer. It only receives events when
// Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the wall clock used for token timestamps, session
// creation times and lock expiries.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the validate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component. A Builder
// can only be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account repository required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// -------- TOKEN CODEC --------
	codec, err := jwt.NewCodec(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Leeway:        cfg.JWT.Leeway,
		Now:           clock,
	})
	if err != nil {
		return nil, err
	}

	// -------- PASSWORD HASHER --------
	hasher, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}

	// -------- SHARED STORE --------
	store := kv.New(b.redis, kv.Config{
		Timeout:      cfg.Store.Timeout,
		RetryDelay:   cfg.Store.RetryDelay,
		DisableRetry: cfg.Store.DisableRetry,
	})

	var cache *session.RevokedCache
	if cfg.Session.RevokedCacheSize > 0 {
		cache, err = session.NewRevokedCache(cfg.Session.RevokedCacheSize, cfg.Session.RevokedCacheTTL)
		if err != nil {
			return nil, err
		}
	}

	engine := &Engine{
		config:   cfg,
		logger:   logger,
		clock:    clock,
		store:    store,
		cache:    cache,
		registry: session.NewRegistry(store, cfg.JWT.RefreshTTL, cache),
		lockout: limiters.NewLockoutLimiter(store, limiters.LockoutConfig{
			MaxFailedAttempts: cfg.Lockout.MaxFailedAttempts,
			Duration:          cfg.Lockout.Duration,
			Now:               clock,
		}),
		limiter:  rate.New(store),
		codec:    codec,
		hasher:   hasher,
		accounts: b.accounts,
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Retain:     []string{EventAccountLocked, EventRefreshReuseDetected},
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
	}
	if mirror, ok := b.accounts.(LockoutMirror); ok {
		engine.mirror = mirror
	}
	if upgrader, ok := b.accounts.(HashUpgrader); ok {
		engine.upgrader = upgrader
	}
	engine.flow = engine.buildFlows()

	b.built = true

	return engine, nil
}
