package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/rbacadmin/pkg/cryptox"
	"github.com/aussiebroadwan/rbacadmin/pkg/httpx"
	"github.com/kelseyhightower/envconfig"
)

// Session record drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Config holds runtime configuration for the console.
type Config struct {
	Env       string `envconfig:"ENV" default:"dev"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// APIURL is the resource API root; any path prefix belongs here.
	APIURL         string        `envconfig:"RBAC_API_URL" default:"http://localhost:5000"`
	IdentityURL    string        `envconfig:"RBAC_IDP_URL"` // defaults to APIURL
	ClientID       string        `envconfig:"RBAC_CLIENT_ID" default:"rbacadmin"`
	RequestTimeout time.Duration `envconfig:"RBAC_REQUEST_TIMEOUT" default:"10s"`
	RatePerMinute  int           `envconfig:"RBAC_RATE_LIMIT" default:"600"`
	LogRequests    bool          `envconfig:"RBAC_LOG_REQUESTS" default:"false"`

	SessionDriver string        `envconfig:"RBAC_SESSION_DRIVER" default:"sqlite"`
	SessionKey    string        `envconfig:"RBAC_SESSION_KEY" default:"rbacadmin:session"`
	SessionDSN    string        `envconfig:"RBAC_SESSION_DSN" default:"file:rbacadmin.db?_pragma=busy_timeout(5000)"`
	RedisAddr     string        `envconfig:"RBAC_REDIS_ADDR" default:"localhost:6379"`
	RedisTTL      time.Duration `envconfig:"RBAC_REDIS_TTL" default:"24h"`
	SessionSecret string        `envconfig:"RBAC_SESSION_SECRET"`

	IdleTimeout   time.Duration `envconfig:"RBAC_IDLE_TIMEOUT" default:"5m"`
	WarningBefore time.Duration `envconfig:"RBAC_IDLE_WARNING" default:"1m"`
	RefreshBuffer time.Duration `envconfig:"RBAC_REFRESH_BUFFER" default:"30s"`

	// TOTPSecret answers MFA challenges without prompting.
	TOTPSecret string `envconfig:"RBAC_TOTP_SECRET"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load console config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the console cannot run with.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("api url must be provided")
	}
	switch c.SessionDriver {
	case DriverSQLite, DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("unknown session driver %q (want sqlite, redis or memory)", c.SessionDriver)
	}
	if c.IdleTimeout <= 0 {
		return errors.New("idle timeout must be positive")
	}
	if c.WarningBefore >= c.IdleTimeout {
		return errors.New("idle warning must come before the timeout")
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < cryptox.MinSecretLen {
		return fmt.Errorf("session secret must be at least %d bytes", cryptox.MinSecretLen)
	}
	return nil
}

// IdentityBaseURL is where the OAuth2 endpoints live.
func (c *Config) IdentityBaseURL() string {
	if c.IdentityURL != "" {
		return c.IdentityURL
	}
	return c.APIURL
}

// RateLimit is the client-side request budget.
func (c *Config) RateLimit() httpx.RateLimitConfig {
	if c.RatePerMinute <= 0 {
		return httpx.APILimit
	}
	return httpx.RateLimitConfig{RequestsPerWindow: c.RatePerMinute, Window: time.Minute, Burst: max(c.RatePerMinute/6, 1)}
}
