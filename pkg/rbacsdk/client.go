package rbacsdk

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/rbacadmin/pkg/httpx"
	"github.com/aussiebroadwan/rbacadmin/pkg/slogx"
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

func (f TokenSourceFunc) AccessToken(ctx context.Context) (string, error) { return f(ctx) }

// Client talks to the RBAC REST API. Every resource lives directly under
// BaseURL (BaseURL + "/users", "/roles", "/permissions"); deployments that
// mount the API under a prefix such as "/api" put it in BaseURL.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// Tokens, when set, is asked for a bearer token before every request.
	Tokens TokenSource

	users       *UsersAPI
	roles       *RolesAPI
	permissions *PermissionsAPI
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithTokenSource attaches a bearer token source.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.Tokens = ts }
}

// WithRequestLogging logs every request through logger at debug level.
func WithRequestLogging(logger *slog.Logger) Option {
	return func(c *Client) {
		c.HTTPClient.Transport = slogx.NewTransport(c.HTTPClient.Transport, logger)
	}
}

// WithRateLimit caps the request rate; callers wait for a token instead of
// being rejected.
func WithRateLimit(cfg httpx.RateLimitConfig) Option {
	return func(c *Client) {
		c.HTTPClient.Transport = httpx.NewRateLimitedTransport(c.HTTPClient.Transport, cfg)
	}
}

// NewClient creates an API client. Options apply in order, so pass
// WithHTTPClient before any transport-wrapping option.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.users = &UsersAPI{resource[User, UserFields]{c: c, path: "/users"}}
	c.roles = &RolesAPI{resource[Role, RoleFields]{c: c, path: "/roles"}}
	c.permissions = &PermissionsAPI{resource[Permission, PermissionFields]{c: c, path: "/permissions"}}
	return c
}

func (c *Client) Users() *UsersAPI             { return c.users }
func (c *Client) Roles() *RolesAPI             { return c.roles }
func (c *Client) Permissions() *PermissionsAPI { return c.permissions }
