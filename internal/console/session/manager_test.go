package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/rbacadmin/internal/console/persist"
	"github.com/aussiebroadwan/rbacadmin/internal/console/session"
	"github.com/aussiebroadwan/rbacadmin/pkg/cryptox"
	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
	"github.com/aussiebroadwan/rbacadmin/pkg/slogx"
	"github.com/stretchr/testify/require"
)

var creds = rbacsdk.Credentials{Username: "admin", Password: "hunter22"}

type fakeIDP struct {
	mu sync.Mutex

	login      rbacsdk.Tokens
	loginErr   error
	refreshed  rbacsdk.Tokens
	refreshErr error
	revokeErr  error

	// When set, Refresh reports on refreshing and then waits for gate.
	refreshing chan struct{}
	gate       chan struct{}

	logins    int
	refreshes []string
	revoked   []string
}

func newIDP(accessTTL time.Duration) *fakeIDP {
	return &fakeIDP{
		login: rbacsdk.Tokens{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresAt:    time.Now().Add(accessTTL),
			Subject:      "1",
			Username:     "admin",
		},
		refreshed: rbacsdk.Tokens{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}
}

func (f *fakeIDP) Login(context.Context, rbacsdk.Credentials) (rbacsdk.Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return f.login, f.loginErr
}

func (f *fakeIDP) Refresh(_ context.Context, rt string) (rbacsdk.Tokens, error) {
	if f.gate != nil {
		f.refreshing <- struct{}{}
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, rt)
	return f.refreshed, f.refreshErr
}

func (f *fakeIDP) Revoke(_ context.Context, rt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, rt)
	return f.revokeErr
}

func newSealer(t *testing.T, secret string) *cryptox.Sealer {
	t.Helper()
	s, err := cryptox.NewSealer([]byte(secret), "session-record")
	require.NoError(t, err)
	return s
}

type harness struct {
	m       *session.Manager
	idp     *fakeIDP
	records *persist.Memory
	sealer  *cryptox.Sealer
	events  chan session.Event
}

func newHarness(t *testing.T, cfg session.Config) *harness {
	t.Helper()

	h := &harness{
		idp:     newIDP(time.Hour),
		records: persist.NewMemory(),
		sealer:  newSealer(t, "0123456789abcdef-session-secret"),
		events:  make(chan session.Event, 16),
	}
	h.m = session.New(h.idp, h.records,
		session.WithConfig(cfg),
		session.WithSealer(h.sealer),
		session.WithLogger(slogx.Discard()),
	)
	h.m.Subscribe(func(ev session.Event) { h.events <- ev })
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) next(t *testing.T, within time.Duration) session.Event {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(within):
		t.Fatalf("no session event within %s", within)
		return session.Event{}
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	ctx := context.Background()

	before := time.Now()
	require.NoError(t, h.m.Login(ctx, creds))

	s := h.m.State()
	require.Equal(t, session.LoggedIn, s.State)
	require.True(t, s.Authenticated)
	require.Equal(t, "admin", s.Username)
	require.Equal(t, "1", s.Subject)
	require.WithinDuration(t, before.Add(session.DefaultIdleTimeout), s.Deadline, time.Second)

	ev := h.next(t, time.Second)
	require.Equal(t, session.EventLoggedIn, ev.Kind)

	rec, err := h.records.Load(ctx)
	require.NoError(t, err)
	require.True(t, rec.Authenticated)
	require.Equal(t, s.SessionID, rec.SessionID)
	require.NotEqual(t, "refresh-1", rec.RefreshToken, "refresh token is sealed")

	plain, err := h.sealer.Open(rec.RefreshToken, []byte(rec.SessionID))
	require.NoError(t, err)
	require.Equal(t, "refresh-1", string(plain))
}

func TestLoginValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})

	err := h.m.Login(context.Background(), rbacsdk.Credentials{Username: "admin"})
	var verr *rbacsdk.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "password")

	err = h.m.Login(context.Background(), rbacsdk.Credentials{Username: "admin", Password: "x", OTP: "12ab"})
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "otp")

	require.Zero(t, h.idp.logins)
	require.False(t, h.m.State().Authenticated)
}

func TestLoginFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.idp.loginErr = &rbacsdk.APIError{StatusCode: 401, Code: rbacsdk.ErrorCodeInvalidGrant}

	err := h.m.Login(context.Background(), creds)
	var apiErr *rbacsdk.APIError
	require.ErrorAs(t, err, &apiErr)

	require.False(t, h.m.State().Authenticated)
	_, err = h.records.Load(context.Background())
	require.ErrorIs(t, err, persist.ErrNotFound)
}

func TestIdleExpiry(t *testing.T) {
	t.Parallel()

	const timeout = 150 * time.Millisecond
	h := newHarness(t, session.Config{IdleTimeout: timeout, WarningBefore: 75 * time.Millisecond})

	start := time.Now()
	require.NoError(t, h.m.Login(context.Background(), creds))
	require.Equal(t, session.EventLoggedIn, h.next(t, time.Second).Kind)

	warn := h.next(t, 2*time.Second)
	require.Equal(t, session.EventWarning, warn.Kind)
	require.True(t, h.m.State().Authenticated, "the warning does not change state")

	out := h.next(t, 2*time.Second)
	require.Equal(t, session.EventLoggedOut, out.Kind)
	require.Equal(t, session.ReasonExpired, out.Reason)
	require.GreaterOrEqual(t, time.Since(start), timeout)

	s := h.m.State()
	require.False(t, s.Authenticated)
	require.True(t, s.Deadline.IsZero())

	_, err := h.records.Load(context.Background())
	require.ErrorIs(t, err, persist.ErrNotFound)
}

func TestActivitySlidesDeadline(t *testing.T) {
	t.Parallel()

	const timeout = 300 * time.Millisecond
	h := newHarness(t, session.Config{IdleTimeout: timeout, WarningBefore: time.Hour})

	require.NoError(t, h.m.Login(context.Background(), creds))
	first := h.m.State().Deadline

	time.Sleep(timeout / 2)
	h.m.RecordActivity(session.ActivityKey)

	s := h.m.State()
	require.True(t, s.Deadline.After(first))
	require.Equal(t, session.ActivityKey, s.LastActivity)

	// Past the original deadline, inside the new one.
	time.Sleep(timeout/2 + timeout/4)
	require.True(t, h.m.State().Authenticated)

	require.Eventually(t, func() bool { return !h.m.State().Authenticated }, 2*time.Second, 10*time.Millisecond)
}

func TestActivityWhileLoggedOutIsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	h.m.RecordActivity(session.ActivityPointer)

	s := h.m.State()
	require.False(t, s.Authenticated)
	require.True(t, s.Deadline.IsZero())
}

func TestLogout(t *testing.T) {
	t.Parallel()

	t.Run("while logged in", func(t *testing.T) {
		t.Parallel()

		const timeout = 100 * time.Millisecond
		h := newHarness(t, session.Config{IdleTimeout: timeout, WarningBefore: 50 * time.Millisecond})
		ctx := context.Background()

		require.NoError(t, h.m.Login(ctx, creds))
		h.next(t, time.Second)

		h.m.Logout(ctx)

		ev := h.next(t, time.Second)
		require.Equal(t, session.EventLoggedOut, ev.Kind)
		require.Equal(t, session.ReasonLogout, ev.Reason)
		require.False(t, h.m.State().Authenticated)
		require.Equal(t, []string{"refresh-1"}, h.idp.revoked)

		_, err := h.records.Load(ctx)
		require.ErrorIs(t, err, persist.ErrNotFound)

		// Timers were cancelled: no warning or expiry follows.
		select {
		case ev := <-h.events:
			t.Fatalf("unexpected event after logout: %+v", ev)
		case <-time.After(2 * timeout):
		}
	})

	t.Run("while logged out", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, session.Config{})
		h.m.Logout(context.Background())

		require.False(t, h.m.State().Authenticated)
		require.Empty(t, h.idp.revoked)
	})

	t.Run("revoke failure is not fatal", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, session.Config{})
		h.idp.revokeErr = &rbacsdk.NetworkError{Method: "POST", URL: "http://idp", Err: errors.New("refused")}

		require.NoError(t, h.m.Login(context.Background(), creds))
		h.m.Logout(context.Background())
		require.False(t, h.m.State().Authenticated)
	})
}

func TestRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const timeout = 150 * time.Millisecond

	first := newHarness(t, session.Config{IdleTimeout: timeout, WarningBefore: time.Hour})
	require.NoError(t, first.m.Login(ctx, creds))
	sid := first.m.State().SessionID
	first.m.Close()

	// A new process over the same durable record.
	idp := newIDP(time.Hour)
	m := session.New(idp, first.records,
		session.WithConfig(session.Config{IdleTimeout: timeout, WarningBefore: time.Hour}),
		session.WithSealer(first.sealer),
		session.WithLogger(slogx.Discard()),
	)
	t.Cleanup(m.Close)

	restoredAt := time.Now()
	ok, err := m.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	s := m.State()
	require.True(t, s.Authenticated)
	require.Equal(t, sid, s.SessionID)
	require.Equal(t, "admin", s.Username)
	require.WithinDuration(t, restoredAt.Add(timeout), s.Deadline, 50*time.Millisecond, "deadline is armed on restore")

	// No access token survives a restart; the sealed refresh token gets one.
	tok, err := m.AccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-2", tok)
	require.Equal(t, []string{"refresh-1"}, idp.refreshes)

	// Without any interaction the restored session still expires.
	require.Eventually(t, func() bool { return !m.State().Authenticated }, 2*time.Second, 10*time.Millisecond)
}

func TestRestoreWithoutRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	ok, err := h.m.Restore(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, h.m.State().Authenticated)
}

func TestRestoreDiscardsUnreadableRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	first := newHarness(t, session.Config{})
	require.NoError(t, first.m.Login(ctx, creds))
	first.m.Close()

	m := session.New(newIDP(time.Hour), first.records,
		session.WithSealer(newSealer(t, "a-different-secret-entirely")),
		session.WithLogger(slogx.Discard()),
	)
	t.Cleanup(m.Close)

	ok, err := m.Restore(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = first.records.Load(ctx)
	require.ErrorIs(t, err, persist.ErrNotFound)
}

func TestAccessToken(t *testing.T) {
	t.Parallel()

	t.Run("logged out", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, session.Config{})
		_, err := h.m.AccessToken(context.Background())
		require.ErrorIs(t, err, session.ErrNotAuthenticated)
	})

	t.Run("fresh token is reused", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, session.Config{})
		require.NoError(t, h.m.Login(context.Background(), creds))

		tok, err := h.m.AccessToken(context.Background())
		require.NoError(t, err)
		require.Equal(t, "access-1", tok)
		require.Empty(t, h.idp.refreshes)
	})

	t.Run("refreshed inside the buffer", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		h := newHarness(t, session.Config{})
		h.idp.login.ExpiresAt = time.Now().Add(10 * time.Second)
		require.NoError(t, h.m.Login(ctx, creds))

		tok, err := h.m.AccessToken(ctx)
		require.NoError(t, err)
		require.Equal(t, "access-2", tok)
		require.Equal(t, []string{"refresh-1"}, h.idp.refreshes)

		rec, err := h.records.Load(ctx)
		require.NoError(t, err)
		plain, err := h.sealer.Open(rec.RefreshToken, []byte(rec.SessionID))
		require.NoError(t, err)
		require.Equal(t, "refresh-2", string(plain), "rotated token is persisted")
	})

	t.Run("logout during refresh revokes the rotated token", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		h := newHarness(t, session.Config{})
		h.idp.login.ExpiresAt = time.Now()
		h.idp.refreshing = make(chan struct{}, 1)
		h.idp.gate = make(chan struct{})
		require.NoError(t, h.m.Login(ctx, creds))

		done := make(chan error, 1)
		go func() {
			_, err := h.m.AccessToken(ctx)
			done <- err
		}()

		<-h.idp.refreshing
		h.m.Logout(ctx)
		close(h.idp.gate)

		require.ErrorIs(t, <-done, session.ErrNotAuthenticated)
		require.False(t, h.m.State().Authenticated)

		h.idp.mu.Lock()
		defer h.idp.mu.Unlock()
		require.Equal(t, []string{"refresh-1", "refresh-2"}, h.idp.revoked)
	})

	t.Run("rejected refresh ends the session", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		h := newHarness(t, session.Config{})
		h.idp.login.ExpiresAt = time.Now()
		h.idp.refreshErr = &rbacsdk.APIError{StatusCode: 401, Code: rbacsdk.ErrorCodeInvalidGrant}
		require.NoError(t, h.m.Login(ctx, creds))
		h.next(t, time.Second)

		_, err := h.m.AccessToken(ctx)
		require.ErrorIs(t, err, session.ErrNotAuthenticated)
		require.False(t, h.m.State().Authenticated)

		ev := h.next(t, time.Second)
		require.Equal(t, session.ReasonRevoked, ev.Reason)
	})

	t.Run("network failure keeps the session", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		h := newHarness(t, session.Config{})
		h.idp.login.ExpiresAt = time.Now()
		h.idp.refreshErr = &rbacsdk.NetworkError{Method: "POST", URL: "http://idp", Err: errors.New("refused")}
		require.NoError(t, h.m.Login(ctx, creds))

		_, err := h.m.AccessToken(ctx)
		var netErr *rbacsdk.NetworkError
		require.ErrorAs(t, err, &netErr)
		require.True(t, h.m.State().Authenticated)
	})
}

func TestContext(t *testing.T) {
	t.Parallel()

	require.Nil(t, session.FromContext(context.Background()))

	m := session.New(newIDP(time.Hour), persist.NewMemory())
	ctx := session.WithContext(context.Background(), m)
	require.Same(t, m, session.FromContext(ctx))
}
