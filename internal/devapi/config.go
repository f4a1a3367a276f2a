package devapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/rbacadmin/pkg/httpx"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the development API.
type Config struct {
	Env       string `envconfig:"ENV" default:"dev"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	Addr                string        `envconfig:"DEVAPI_ADDR" default:":5000"`
	ReadTimeout         time.Duration `envconfig:"DEVAPI_READ_TIMEOUT" default:"15s"`
	WriteTimeout        time.Duration `envconfig:"DEVAPI_WRITE_TIMEOUT" default:"15s"`
	ShutdownGracePeriod time.Duration `envconfig:"DEVAPI_SHUTDOWN_GRACE_PERIOD" default:"10s"`
	SweepInterval       time.Duration `envconfig:"DEVAPI_SWEEP_INTERVAL" default:"1m"`
	Seed                bool          `envconfig:"DEVAPI_SEED" default:"true"`
	RequireAuth         bool          `envconfig:"DEVAPI_REQUIRE_AUTH" default:"true"`

	Issuer     string        `envconfig:"DEVAPI_ISSUER" default:"rbac-devapi"`
	Audience   []string      `envconfig:"DEVAPI_AUDIENCE" default:"rbac-api"`
	JWTSecret  string        `envconfig:"DEVAPI_JWT_SECRET"`
	AccessTTL  time.Duration `envconfig:"DEVAPI_ACCESS_TTL" default:"15m"`
	RefreshTTL time.Duration `envconfig:"DEVAPI_REFRESH_TTL" default:"24h"`
	Pepper     string        `envconfig:"DEVAPI_PEPPER"`

	AdminUsername   string `envconfig:"DEVAPI_ADMIN_USERNAME" default:"admin"`
	AdminPassword   string `envconfig:"DEVAPI_ADMIN_PASSWORD"`
	AdminTOTPSecret string `envconfig:"DEVAPI_ADMIN_TOTP_SECRET"`

	LoginRatePerMinute int `envconfig:"DEVAPI_LOGIN_RATE" default:"10"`
	APIRatePerMinute   int `envconfig:"DEVAPI_API_RATE" default:"600"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load devapi config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.AdminUsername == "" {
		return errors.New("admin username must be provided")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return errors.New("jwt secret must be at least 32 bytes")
	}
	return nil
}

// LoginLimit is the token endpoint rate limit.
func (c *Config) LoginLimit() httpx.RateLimitConfig {
	if c.LoginRatePerMinute <= 0 {
		return httpx.LoginLimit
	}
	return httpx.RateLimitConfig{RequestsPerWindow: c.LoginRatePerMinute, Window: time.Minute, Burst: c.LoginRatePerMinute}
}

// APILimit is the resource route rate limit.
func (c *Config) APILimit() httpx.RateLimitConfig {
	if c.APIRatePerMinute <= 0 {
		return httpx.APILimit
	}
	return httpx.RateLimitConfig{RequestsPerWindow: c.APIRatePerMinute, Window: time.Minute, Burst: max(c.APIRatePerMinute/6, 1)}
}

// IsProduction reports whether Env is "prod".
func (c *Config) IsProduction() bool {
	return c != nil && c.Env == "prod"
}
