package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/rbacadmin/internal/console/persist"
	"github.com/aussiebroadwan/rbacadmin/pkg/cryptox"
	"github.com/aussiebroadwan/rbacadmin/pkg/idx"
	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
)

// recordTimeout bounds durable record writes made from timer callbacks,
// which have no caller context.
const recordTimeout = 5 * time.Second

// Manager is the session state machine. It is safe for concurrent use; pass
// it around explicitly or through WithContext.
type Manager struct {
	idp     IdentityProvider
	records persist.Store
	sealer  *cryptox.Sealer
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	// refreshMu keeps concurrent AccessToken calls to one refresh grant.
	refreshMu sync.Mutex

	mu           sync.Mutex
	state        State
	sid          string
	subject      string
	username     string
	access       string
	accessExp    time.Time
	refresh      string
	deadline     time.Time
	lastActivity ActivityKind
	idle         *time.Timer
	warn         *time.Timer
	generation   uint64

	lmu       sync.Mutex
	listeners map[int]func(Event)
	nextID    int
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig sets the timer durations.
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg.withDefaults() }
}

// WithSealer encrypts the refresh token in the durable record. Without a
// sealer the refresh token is kept in memory only and a restored session
// cannot call the API until the operator logs in again.
func WithSealer(s *cryptox.Sealer) Option {
	return func(m *Manager) { m.sealer = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a logged-out Manager. Call Restore to pick up a previous
// session.
func New(idp IdentityProvider, records persist.Store, opts ...Option) *Manager {
	m := &Manager{
		idp:       idp,
		records:   records,
		logger:    slog.Default(),
		cfg:       Config{}.withDefaults(),
		now:       time.Now,
		listeners: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session")
	return m
}

// Subscribe registers fn for session events. fn runs on the goroutine that
// caused the event (a timer for warnings and expiry) and must not call back
// into the Manager synchronously in a way that blocks.
func (m *Manager) Subscribe(fn func(Event)) (cancel func()) {
	m.lmu.Lock()
	defer m.lmu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.lmu.Lock()
		delete(m.listeners, id)
		m.lmu.Unlock()
	}
}

func (m *Manager) emit(ev Event) {
	m.lmu.Lock()
	fns := make([]func(Event), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.lmu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

// Login authenticates with the identity provider. On success the session is
// logged in, the durable record written and the idle deadline armed. Empty
// credentials fail validation without a request.
func (m *Manager) Login(ctx context.Context, creds rbacsdk.Credentials) error {
	if err := rbacsdk.Validate(creds); err != nil {
		return err
	}

	tok, err := m.idp.Login(ctx, creds)
	if err != nil {
		return err
	}

	username := tok.Username
	if username == "" {
		username = creds.Username
	}

	m.mu.Lock()
	m.stopTimersLocked()
	m.state = LoggedIn
	m.sid = idx.NewPrefixed("sess")
	m.subject = tok.Subject
	m.username = username
	m.access = tok.AccessToken
	m.accessExp = tok.ExpiresAt
	m.refresh = tok.RefreshToken
	m.armLocked()
	m.saveLocked(ctx)
	ev := Event{Kind: EventLoggedIn, Username: m.username, Deadline: m.deadline}
	m.mu.Unlock()

	m.logger.Info("session started", "username", ev.Username, "deadline", ev.Deadline)
	m.emit(ev)
	return nil
}

// Restore resumes a session from the durable record, arming the idle
// deadline straight away. It reports whether a session was resumed. A record
// whose refresh token cannot be unsealed is discarded.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	rec, err := m.records.Load(ctx)
	if errors.Is(err, persist.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session: load record: %w", err)
	}
	if !rec.Authenticated {
		return false, nil
	}

	var refresh string
	if rec.RefreshToken != "" && m.sealer != nil {
		plain, err := m.sealer.Open(rec.RefreshToken, []byte(rec.SessionID))
		if err != nil {
			m.logger.Warn("discarding unreadable session record", "error", err)
			if err := m.records.Clear(ctx); err != nil {
				m.logger.Error("failed to clear session record", "error", err)
			}
			return false, nil
		}
		refresh = string(plain)
	}

	m.mu.Lock()
	if m.state == LoggedIn {
		m.mu.Unlock()
		return true, nil
	}
	m.state = LoggedIn
	m.sid = rec.SessionID
	m.subject = rec.Subject
	m.username = rec.Username
	m.access = ""
	m.accessExp = time.Time{}
	m.refresh = refresh
	m.armLocked()
	ev := Event{Kind: EventRestored, Username: m.username, Deadline: m.deadline}
	m.mu.Unlock()

	m.logger.Info("session restored", "username", ev.Username, "deadline", ev.Deadline)
	m.emit(ev)
	return true, nil
}

// Logout ends the session at once, clears the durable record and cancels
// the timers. The refresh token is revoked at the identity provider on a
// best-effort basis; failures are logged, never returned.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	wasIn := m.state == LoggedIn
	refresh := m.refresh
	ev := m.endLocked(ctx, ReasonLogout)
	m.mu.Unlock()

	if wasIn {
		m.logger.Info("session ended", "reason", ReasonLogout, "username", ev.Username)
		m.emit(ev)
	}

	if refresh != "" {
		if err := m.idp.Revoke(ctx, refresh); err != nil {
			m.logger.Warn("failed to revoke refresh token", "error", err)
		}
	}
}

// RecordActivity slides the idle deadline forward. It does nothing while
// logged out, or once the deadline has passed.
func (m *Manager) RecordActivity(kind ActivityKind) {
	m.mu.Lock()
	if ev, expired := m.expireIfDueLocked(); expired {
		m.mu.Unlock()
		m.emit(ev)
		return
	}
	if m.state != LoggedIn {
		m.mu.Unlock()
		return
	}
	m.lastActivity = kind
	m.stopTimersLocked()
	m.armLocked()
	m.mu.Unlock()
}

// State returns a copy of the session state.
func (m *Manager) State() Snapshot {
	m.mu.Lock()
	ev, expired := m.expireIfDueLocked()
	s := Snapshot{
		State:         m.state,
		Authenticated: m.state == LoggedIn,
		Username:      m.username,
		Subject:       m.subject,
		SessionID:     m.sid,
		LastActivity:  m.lastActivity,
	}
	if s.Authenticated {
		s.Deadline = m.deadline
	}
	m.mu.Unlock()

	if expired {
		m.emit(ev)
	}
	return s
}

// Close stops the timers without ending the session, so the durable record
// survives for the next Restore.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimersLocked()
}

// ============================================================================
// Tokens
// ============================================================================

// AccessToken returns a bearer token for the resource API, refreshing it
// when it is within the refresh buffer of expiring. If the identity provider
// rejects the refresh token the session ends with ReasonRevoked.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.Lock()
	if ev, expired := m.expireIfDueLocked(); expired {
		m.mu.Unlock()
		m.emit(ev)
		return "", ErrNotAuthenticated
	}
	if m.state != LoggedIn {
		m.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	if m.access != "" && m.now().Add(m.cfg.RefreshBuffer).Before(m.accessExp) {
		tok := m.access
		m.mu.Unlock()
		return tok, nil
	}
	refresh, sid := m.refresh, m.sid
	m.mu.Unlock()

	if refresh == "" {
		return "", m.revoked(ctx, sid, rbacsdk.ErrNoRefreshToken)
	}

	tok, err := m.idp.Refresh(ctx, refresh)
	if err != nil {
		var apiErr *rbacsdk.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == rbacsdk.ErrorCodeInvalidGrant || apiErr.StatusCode == http.StatusUnauthorized) {
			return "", m.revoked(ctx, sid, err)
		}
		return "", fmt.Errorf("session: refresh access token: %w", err)
	}

	m.mu.Lock()
	if m.state != LoggedIn || m.sid != sid {
		m.mu.Unlock()
		// The session ended while the grant was in flight; nobody holds the
		// rotated refresh token now.
		if tok.RefreshToken != "" {
			if err := m.idp.Revoke(ctx, tok.RefreshToken); err != nil {
				m.logger.Warn("failed to revoke rotated refresh token", "error", err)
			}
		}
		return "", ErrNotAuthenticated
	}
	m.access = tok.AccessToken
	m.accessExp = tok.ExpiresAt
	m.refresh = tok.RefreshToken
	m.saveLocked(ctx)
	m.mu.Unlock()

	m.logger.Debug("access token refreshed", "expires_at", tok.ExpiresAt)
	return tok.AccessToken, nil
}

// revoked ends session sid because its credentials stopped working.
func (m *Manager) revoked(ctx context.Context, sid string, cause error) error {
	m.mu.Lock()
	if m.state != LoggedIn || m.sid != sid {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	ev := m.endLocked(ctx, ReasonRevoked)
	m.mu.Unlock()

	m.logger.Warn("session ended", "reason", ReasonRevoked, "username", ev.Username, "error", cause)
	m.emit(ev)
	return fmt.Errorf("%w: %v", ErrNotAuthenticated, cause)
}

// ============================================================================
// Timers
// ============================================================================

// armLocked sets the deadline IdleTimeout from now and starts the expiry and
// warning timers. Callbacks from older generations are ignored.
func (m *Manager) armLocked() {
	m.generation++
	gen := m.generation

	m.deadline = m.now().Add(m.cfg.IdleTimeout)
	m.idle = time.AfterFunc(m.cfg.IdleTimeout, func() { m.expire(gen) })
	if lead := m.cfg.IdleTimeout - m.cfg.WarningBefore; lead > 0 {
		m.warn = time.AfterFunc(lead, func() { m.warning(gen) })
	}
}

func (m *Manager) stopTimersLocked() {
	if m.idle != nil {
		m.idle.Stop()
		m.idle = nil
	}
	if m.warn != nil {
		m.warn.Stop()
		m.warn = nil
	}
}

func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	if m.state != LoggedIn || gen != m.generation {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	ev := m.endLocked(ctx, ReasonExpired)
	cancel()
	m.mu.Unlock()

	m.logger.Info("session ended", "reason", ReasonExpired, "username", ev.Username)
	m.emit(ev)
}

func (m *Manager) warning(gen uint64) {
	m.mu.Lock()
	if m.state != LoggedIn || gen != m.generation {
		m.mu.Unlock()
		return
	}
	ev := Event{Kind: EventWarning, Username: m.username, Deadline: m.deadline}
	m.mu.Unlock()

	m.emit(ev)
}

// expireIfDueLocked ends the session if its deadline has passed but the
// timer has not fired yet.
func (m *Manager) expireIfDueLocked() (Event, bool) {
	if m.state != LoggedIn || m.now().Before(m.deadline) {
		return Event{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	return m.endLocked(ctx, ReasonExpired), true
}

// ============================================================================
// State helpers
// ============================================================================

// endLocked moves to LoggedOut and clears everything, including the durable
// record. It returns the logged-out event for the caller to emit.
func (m *Manager) endLocked(ctx context.Context, reason Reason) Event {
	ev := Event{Kind: EventLoggedOut, Reason: reason, Username: m.username}

	m.stopTimersLocked()
	m.generation++
	m.state = LoggedOut
	m.sid, m.subject, m.username = "", "", ""
	m.access, m.refresh = "", ""
	m.accessExp, m.deadline = time.Time{}, time.Time{}
	m.lastActivity = ""

	if err := m.records.Clear(ctx); err != nil {
		m.logger.Error("failed to clear session record", "error", err)
	}
	return ev
}

// saveLocked writes the durable record. A failed write is logged: the
// session still works, it just will not survive a restart.
func (m *Manager) saveLocked(ctx context.Context) {
	rec := persist.Record{
		Authenticated: m.state == LoggedIn,
		SessionID:     m.sid,
		Subject:       m.subject,
		Username:      m.username,
		UpdatedAt:     m.now().UTC(),
	}

	if m.sealer != nil && m.refresh != "" {
		sealed, err := m.sealer.Seal([]byte(m.refresh), []byte(m.sid))
		if err != nil {
			m.logger.Error("failed to seal refresh token", "error", err)
		} else {
			rec.RefreshToken = sealed
		}
	}

	if err := m.records.Save(ctx, rec); err != nil {
		m.logger.Error("failed to save session record", "error", err)
	}
}
