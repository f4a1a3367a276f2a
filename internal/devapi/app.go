package devapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/rbacadmin/pkg/cryptox"
	"github.com/aussiebroadwan/rbacadmin/pkg/idx"
	"github.com/aussiebroadwan/rbacadmin/pkg/jwtx"
	"github.com/aussiebroadwan/rbacadmin/pkg/slogx"
	"golang.org/x/sync/errgroup"
)

// BuildVersion is overridden at build time via ldflags.
var BuildVersion = "v0.1.0"

// Application is the development API server with all its dependencies.
type Application struct {
	cfg    *Config
	logger *slog.Logger

	store        *Store
	identity     *Identity
	housekeeping *Housekeeping

	server *http.Server
}

// New wires the application. Missing secrets are generated and, for the
// admin password, logged once so a developer can log in.
func New(cfg *Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "rbac-devapi",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initIdentity(); err != nil {
		return nil, err
	}
	app.initStore()
	app.initHTTP()

	return app, nil
}

func (app *Application) initIdentity() error {
	secret := []byte(app.cfg.JWTSecret)
	if len(secret) == 0 {
		generated, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return fmt.Errorf("generate jwt secret: %w", err)
		}
		secret = []byte(generated)
		app.logger.Warn("DEVAPI_JWT_SECRET not set, tokens will not survive a restart")
	}

	signer, err := jwtx.NewSignerHS256("devapi-1", secret)
	if err != nil {
		return fmt.Errorf("create signer: %w", err)
	}

	password := app.cfg.AdminPassword
	if password == "" {
		if password, err = cryptox.GenerateToken(12); err != nil {
			return fmt.Errorf("generate admin password: %w", err)
		}
		app.logger.Warn("DEVAPI_ADMIN_PASSWORD not set, generated one", "username", app.cfg.AdminUsername, "password", password)
	}

	hash, err := cryptox.HashPassword(password, app.cfg.Pepper)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	app.identity = NewIdentity(IdentityConfig{
		Account: Account{
			Subject:      idx.New().String(),
			Username:     app.cfg.AdminUsername,
			PasswordHash: hash,
			TOTPSecret:   app.cfg.AdminTOTPSecret,
		},
		Pepper:     app.cfg.Pepper,
		Signer:     signer,
		Issuer:     app.cfg.Issuer,
		Audience:   app.cfg.Audience,
		AccessTTL:  app.cfg.AccessTTL,
		RefreshTTL: app.cfg.RefreshTTL,
	})
	app.housekeeping = NewHousekeeping(app.identity, app.logger, app.cfg.SweepInterval)

	app.cfg.JWTSecret = string(secret)
	return nil
}

func (app *Application) initStore() {
	app.store = NewStore()
	if app.cfg.Seed {
		app.store.Seed()
		app.logger.Info("seeded demo data")
	}
}

func (app *Application) initHTTP() {
	verifier := jwtx.NewVerifierHS256([]byte(app.cfg.JWTSecret), jwtx.VerifyOptions{
		Issuer:   app.cfg.Issuer,
		Audience: app.cfg.Audience,
	})

	app.server = &http.Server{
		Addr: app.cfg.Addr,
		Handler: NewRouter(RouterParams{
			Config:   app.cfg,
			Store:    app.store,
			Identity: app.identity,
			Verifier: verifier,
			Logger:   app.logger,
			Version:  BuildVersion,
		}),
		ReadTimeout:  app.cfg.ReadTimeout,
		WriteTimeout: app.cfg.WriteTimeout,
	}
}

// Handler exposes the HTTP handler, mainly for httptest servers.
func (app *Application) Handler() http.Handler {
	return app.server.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (app *Application) Run(ctx context.Context) error {
	app.housekeeping.Start()
	defer app.housekeeping.Stop()

	app.logger.Info("devapi starting", "addr", app.cfg.Addr, "version", BuildVersion, "require_auth", app.cfg.RequireAuth)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.shutdown()
	})

	return g.Wait()
}

func (app *Application) shutdown() error {
	app.logger.Info("shutting down devapi")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		_ = app.server.Close()
		return err
	}

	app.logger.Info("devapi stopped")
	return nil
}
