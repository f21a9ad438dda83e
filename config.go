package chatauth

import (
	"errors"
	"fmt"
	"time"
)

// Config is the full Engine configuration. Start from [DefaultConfig] and
// override fields; [Builder.Build] validates the result.
type Config struct {
	JWT        JWTConfig
	Session    SessionConfig
	Lockout    LockoutConfig
	RateLimits RateLimitConfig
	Store      StoreConfig
	Password   PasswordConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Security   SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing and lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the session registry.
type SessionConfig struct {
	// RevokedCacheSize bounds the in-process cache of revoked sessions.
	// Zero disables the cache.
	RevokedCacheSize int64
	RevokedCacheTTL  time.Duration
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls failed-login account lockout.
type LockoutConfig struct {
	MaxFailedAttempts int
	Duration          time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateRule is the budget for one [Action].
type RateRule struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

// RateLimitConfig holds one rule per action. A rule with MaxAttempts 0
// disables limiting for that action.
type RateLimitConfig struct {
	Login         RateRule
	Refresh       RateRule
	PasswordReset RateRule
	API           RateRule
}

// Rule returns the rule configured for action.
func (c RateLimitConfig) Rule(action Action) (RateRule, bool) {
	switch action {
	case ActionLogin:
		return c.Login, true
	case ActionRefresh:
		return c.Refresh, true
	case ActionPasswordReset:
		return c.PasswordReset, true
	case ActionAPI:
		return c.API, true
	default:
		return RateRule{}, false
	}
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig controls calls to the shared key-value store.
type StoreConfig struct {
	Timeout      time.Duration
	RetryDelay   time.Duration
	DisableRetry bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters for credential verification.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MaxPasswordBytes caps the input fed to Argon2id. Longer passwords are
	// rejected before hashing. Zero uses the hasher default of 1024.
	MaxPasswordBytes int
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls asynchronous audit event delivery.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds deployment-wide hardening switches.
type SecurityConfig struct {
	ProductionMode bool
}

// DefaultConfig returns the baseline configuration: 15 minute access
// tokens, 7 day refresh tokens, lockout after 5 failures for 30 minutes.
// JWT.PrivateKey must still be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "chatauth",
		},
		Session: SessionConfig{
			RevokedCacheSize: 10000,
			RevokedCacheTTL:  time.Minute,
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts: 5,
			Duration:          30 * time.Minute,
		},
		RateLimits: RateLimitConfig{
			Login:         RateRule{MaxAttempts: 10, Window: time.Minute, Block: 15 * time.Minute},
			Refresh:       RateRule{MaxAttempts: 30, Window: time.Minute, Block: 5 * time.Minute},
			PasswordReset: RateRule{MaxAttempts: 3, Window: time.Hour, Block: time.Hour},
			API:           RateRule{MaxAttempts: 100, Window: time.Minute, Block: time.Minute},
		},
		Store: StoreConfig{
			Timeout:    250 * time.Millisecond,
			RetryDelay: 25 * time.Millisecond,
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 1024,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
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

// Validate reports the first invalid or unsafe setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.RevokedCacheSize < 0 {
		return errors.New("Session RevokedCacheSize must be >= 0")
	}
	if c.Session.RevokedCacheTTL < 0 {
		return errors.New("Session RevokedCacheTTL must be >= 0")
	}

	// Lockout
	if c.Lockout.MaxFailedAttempts <= 0 {
		return errors.New("Lockout MaxFailedAttempts must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// Rate limits
	for _, action := range []Action{ActionLogin, ActionRefresh, ActionPasswordReset, ActionAPI} {
		rule, _ := c.RateLimits.Rule(action)
		if err := validateRule(action, rule); err != nil {
			return err
		}
	}

	// Store
	if c.Store.Timeout < 0 || c.Store.RetryDelay < 0 {
		return errors.New("Store Timeout and RetryDelay must be >= 0")
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
	if c.Password.MaxPasswordBytes < 0 {
		return errors.New("Password MaxPasswordBytes must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Security.ProductionMode {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires JWT AccessTTL <= 15m")
		}
		if c.JWT.RefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires JWT RefreshTTL <= 30d")
		}
		if c.JWT.Issuer == "" {
			return errors.New("ProductionMode requires JWT Issuer")
		}
		if c.Password.Memory < 64*1024 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB")
		}
		if c.Password.Time < 2 {
			return errors.New("ProductionMode requires Password Time >= 2")
		}
		if c.RateLimits.Login.MaxAttempts <= 0 {
			return errors.New("ProductionMode requires a login rate limit")
		}
	}

	return nil
}

func validateRule(action Action, r RateRule) error {
	if r.MaxAttempts < 0 {
		return fmt.Errorf("RateLimits %s MaxAttempts must be >= 0", action)
	}
	if r.MaxAttempts == 0 {
		return nil
	}
	if r.Window <= 0 {
		return fmt.Errorf("RateLimits %s Window must be > 0", action)
	}
	if r.Block <= 0 {
		return fmt.Errorf("RateLimits %s Block must be > 0", action)
	}
	return nil
}
