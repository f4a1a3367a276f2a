// Package session owns the console's login state: delegating login to the
// identity provider, the sliding idle timeout with its early warning, the
// durable record that lets a restart pick the session back up, and the
// bearer token handed to the resource client.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
)

const (
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultWarningBefore = time.Minute
	DefaultRefreshBuffer = 30 * time.Second
)

// ErrNotAuthenticated is returned by AccessToken when no one is logged in.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// State is the session state machine.
type State int

const (
	LoggedOut State = iota
	LoggedIn
)

func (s State) String() string {
	if s == LoggedIn {
		return "logged_in"
	}
	return "logged_out"
}

// ActivityKind is the sort of interaction that keeps a session alive.
type ActivityKind string

const (
	ActivityPointer ActivityKind = "pointer"
	ActivityKey     ActivityKind = "key"
	ActivityClick   ActivityKind = "click"
	ActivityCommand ActivityKind = "command"
)

// Reason says why a session ended.
type Reason string

const (
	ReasonLogout  Reason = "logout"
	ReasonExpired Reason = "expired"
	// ReasonRevoked means the session's credentials stopped working: the
	// identity provider refused the refresh token, or there was none.
	ReasonRevoked Reason = "revoked"
)

// EventKind is what happened to the session.
type EventKind string

const (
	EventLoggedIn  EventKind = "logged_in"
	EventRestored  EventKind = "restored"
	EventWarning   EventKind = "warning"
	EventLoggedOut EventKind = "logged_out"
)

// Event is delivered to listeners. Reason is set for EventLoggedOut;
// Deadline is the idle deadline at the time of the event.
type Event struct {
	Kind     EventKind
	Reason   Reason
	Username string
	Deadline time.Time
}

// Snapshot is a copy of the session state. Deadline is zero unless
// Authenticated.
type Snapshot struct {
	State         State
	Authenticated bool
	Deadline      time.Time
	Username      string
	Subject       string
	SessionID     string
	LastActivity  ActivityKind
}

// IdentityProvider performs the OAuth2 grants. *rbacsdk.IdentityClient
// satisfies it.
type IdentityProvider interface {
	Login(ctx context.Context, creds rbacsdk.Credentials) (rbacsdk.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (rbacsdk.Tokens, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// Config tunes the timers. Zero values take the defaults.
type Config struct {
	IdleTimeout   time.Duration
	WarningBefore time.Duration
	RefreshBuffer time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.WarningBefore <= 0 {
		c.WarningBefore = DefaultWarningBefore
	}
	if c.RefreshBuffer <= 0 {
		c.RefreshBuffer = DefaultRefreshBuffer
	}
	return c
}

type ctxKey struct{}

// WithContext returns a copy of ctx carrying m.
func WithContext(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, ctxKey{}, m)
}

// FromContext returns the Manager stored by WithContext, or nil.
func FromContext(ctx context.Context) *Manager {
	m, _ := ctx.Value(ctxKey{}).(*Manager)
	return m
}
