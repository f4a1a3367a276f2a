// Package devapitest starts an in-process development API for tests.
package devapitest

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/rbacadmin/internal/devapi"
	"github.com/aussiebroadwan/rbacadmin/pkg/cryptox"
	"github.com/aussiebroadwan/rbacadmin/pkg/jwtx"
	"github.com/aussiebroadwan/rbacadmin/pkg/slogx"
)

const (
	Username = "admin"
	Password = "correct horse battery staple"
	Issuer   = "rbac-devapi-test"
	Audience = "rbac-api"
)

var secret = []byte("devapitest-secret-0123456789abcdef")

// Server is a running test API.
type Server struct {
	*httptest.Server

	Store    *devapi.Store
	Identity *devapi.Identity
	Signer   jwtx.Signer
}

type options struct {
	requireAuth bool
	seed        bool
	totpSecret  string
	accessTTL   time.Duration
}

// Option tweaks the test server.
type Option func(*options)

// WithAuth requires bearer tokens on resource routes.
func WithAuth() Option { return func(o *options) { o.requireAuth = true } }

// WithSeed loads the demo data set.
func WithSeed() Option { return func(o *options) { o.seed = true } }

// WithTOTP enables MFA for the admin account.
func WithTOTP(secret string) Option { return func(o *options) { o.totpSecret = secret } }

// WithAccessTTL shortens access token lifetimes.
func WithAccessTTL(d time.Duration) Option { return func(o *options) { o.accessTTL = d } }

// Start runs a server that is closed when the test ends.
func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()

	o := options{accessTTL: time.Minute}
	for _, opt := range opts {
		opt(&o)
	}

	signer, err := jwtx.NewSignerHS256("test", secret)
	if err != nil {
		t.Fatalf("devapitest: signer: %v", err)
	}

	hash, err := cryptox.HashPassword(Password, "")
	if err != nil {
		t.Fatalf("devapitest: hash: %v", err)
	}

	identity := devapi.NewIdentity(devapi.IdentityConfig{
		Account: devapi.Account{
			Subject:      "1",
			Username:     Username,
			PasswordHash: hash,
			TOTPSecret:   o.totpSecret,
		},
		Signer:     signer,
		Issuer:     Issuer,
		Audience:   []string{Audience},
		AccessTTL:  o.accessTTL,
		RefreshTTL: time.Hour,
	})

	store := devapi.NewStore()
	if o.seed {
		store.Seed()
	}

	cfg := &devapi.Config{
		Env:                "test",
		RequireAuth:        o.requireAuth,
		LoginRatePerMinute: 10_000,
		APIRatePerMinute:   100_000,
	}

	handler := devapi.NewRouter(devapi.RouterParams{
		Config:   cfg,
		Store:    store,
		Identity: identity,
		Verifier: jwtx.NewVerifierHS256(secret, jwtx.VerifyOptions{Issuer: Issuer, Audience: []string{Audience}}),
		Logger:   slogx.Discard(),
		Version:  "test",
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &Server{Server: srv, Store: store, Identity: identity, Signer: signer}
}

// Token mints a valid access token without going through a grant.
func (s *Server) Token(t testing.TB) string {
	t.Helper()

	tok, err := s.Signer.Sign(jwtx.NewAccessClaims("1", "sess_test", Username, []string{"pwd"}, time.Minute, Issuer, []string{Audience}, time.Now()))
	if err != nil {
		t.Fatalf("devapitest: sign: %v", err)
	}
	return tok
}
