package config

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/MrEthical07/chatauth"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// RateRule is one action budget as read from the environment.
type RateRule struct {
	MaxAttempts   int `env:"MAX_ATTEMPTS"`
	WindowSeconds int `env:"WINDOW_SECONDS"`
	BlockSeconds  int `env:"BLOCK_SECONDS"`
}

// Config holds all environment-based configuration for chatauth-server.
type Config struct {
	// Environment controls log format and production hardening.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	JWTSecret     string        `env:"JWT_SECRET"`
	JWTIssuer     string        `env:"JWT_ISSUER" envDefault:"chatauth"`
	JWTAccessTTL  time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	JWTRefreshTTL time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`

	MaxFailedAttempts      int `env:"MAX_FAILED_ATTEMPTS" envDefault:"5"`
	LockoutDurationMinutes int `env:"LOCKOUT_DURATION_MINUTES" envDefault:"30"`

	RateLimitLogin         RateRule `envPrefix:"RATE_LIMIT_LOGIN_"`
	RateLimitRefresh       RateRule `envPrefix:"RATE_LIMIT_REFRESH_"`
	RateLimitPasswordReset RateRule `envPrefix:"RATE_LIMIT_PASSWORD_RESET_"`
	RateLimitAPI           RateRule `envPrefix:"RATE_LIMIT_API_"`

	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	StoreTimeout  time.Duration `env:"STORE_TIMEOUT" envDefault:"250ms"`

	RevokedCacheSize int64 `env:"REVOKED_CACHE_SIZE" envDefault:"10000"`

	// DatabaseURL points at the Postgres account store.
	DatabaseURL string `env:"DATABASE_URL"`

	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaAuditTopic string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"chatauth.audit"`

	// OTLPEndpoint enables OTLP/gRPC metric export when set.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// warnInsecureEnvFile flags a .env file readable by group or others, since
// it holds the signing secret.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return
	}

	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables after loading a .env
// file if one is present. Rate-limit budgets left unset keep the library
// defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	return load(env.Options{})
}

func load(opts env.Options) (*Config, error) {
	cfg := withRateDefaults(chatauth.DefaultConfig().RateLimits)
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func withRateDefaults(d chatauth.RateLimitConfig) *Config {
	from := func(r chatauth.RateRule) RateRule {
		return RateRule{
			MaxAttempts:   r.MaxAttempts,
			WindowSeconds: int(r.Window / time.Second),
			BlockSeconds:  int(r.Block / time.Second),
		}
	}
	return &Config{
		RateLimitLogin:         from(d.Login),
		RateLimitRefresh:       from(d.Refresh),
		RateLimitPasswordReset: from(d.PasswordReset),
		RateLimitAPI:           from(d.API),
	}
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}

	if c.MaxFailedAttempts <= 0 {
		return fmt.Errorf("MAX_FAILED_ATTEMPTS must be > 0")
	}

	if c.LockoutDurationMinutes <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION_MINUTES must be > 0")
	}

	if c.IsProduction() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
	}

	return nil
}

// IsProduction reports whether ENVIRONMENT is "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Engine converts the process configuration into the library configuration.
// The result still goes through chatauth.Config.Validate at build time.
func (c *Config) Engine() chatauth.Config {
	cfg := chatauth.DefaultConfig()

	cfg.JWT.PrivateKey = []byte(c.JWTSecret)
	cfg.JWT.Issuer = c.JWTIssuer
	cfg.JWT.AccessTTL = c.JWTAccessTTL
	cfg.JWT.RefreshTTL = c.JWTRefreshTTL

	cfg.Lockout.MaxFailedAttempts = c.MaxFailedAttempts
	cfg.Lockout.Duration = time.Duration(c.LockoutDurationMinutes) * time.Minute

	cfg.RateLimits = chatauth.RateLimitConfig{
		Login:         c.RateLimitLogin.rule(),
		Refresh:       c.RateLimitRefresh.rule(),
		PasswordReset: c.RateLimitPasswordReset.rule(),
		API:           c.RateLimitAPI.rule(),
	}

	cfg.Store.Timeout = c.StoreTimeout
	cfg.Session.RevokedCacheSize = c.RevokedCacheSize

	cfg.Audit.Enabled = len(c.KafkaBrokers) > 0
	cfg.Security.ProductionMode = c.IsProduction()

	return cfg
}

func (r RateRule) rule() chatauth.RateRule {
	return chatauth.RateRule{
		MaxAttempts: r.MaxAttempts,
		Window:      time.Duration(r.WindowSeconds) * time.Second,
		Block:       time.Duration(r.BlockSeconds) * time.Second,
	}
}
