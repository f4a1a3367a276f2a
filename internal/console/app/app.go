// Package app wires the console together: the durable session record, the
// session manager, the resource client and the collection stores.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/rbacadmin/internal/console/matrix"
	"github.com/aussiebroadwan/rbacadmin/internal/console/persist"
	redisstore "github.com/aussiebroadwan/rbacadmin/internal/console/persist/drivers/redis"
	sqlitestore "github.com/aussiebroadwan/rbacadmin/internal/console/persist/drivers/sqlite"
	"github.com/aussiebroadwan/rbacadmin/internal/console/session"
	"github.com/aussiebroadwan/rbacadmin/internal/console/store"
	"github.com/aussiebroadwan/rbacadmin/pkg/cryptox"
	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
	"github.com/aussiebroadwan/rbacadmin/pkg/slogx"
	"golang.org/x/sync/errgroup"
)

// BuildVersion is overridden at build time via ldflags.
var BuildVersion = "v0.1.0"

// Application is the console with all its dependencies.
type Application struct {
	cfg    *Config
	logger *slog.Logger

	records persist.Store
	session *session.Manager
	client  *rbacsdk.Client

	users  *store.Users
	roles  *store.Roles
	perms  *store.Permissions
	matrix *matrix.View
}

// Option configures an Application.
type Option func(*Application)

// WithLogger replaces the logger built from the config.
func WithLogger(l *slog.Logger) Option {
	return func(app *Application) { app.logger = l }
}

// WithRecords replaces the configured session record driver.
func WithRecords(s persist.Store) Option {
	return func(app *Application) { app.records = s }
}

// New wires the application. Nothing talks to the API until Start or Login.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Application, error) {
	app := &Application{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger = slogx.New(slogx.Config{
			Service: "rbacadmin",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		})
	}

	if err := app.initRecords(ctx); err != nil {
		return nil, err
	}
	if err := app.initSession(); err != nil {
		_ = app.records.Close()
		return nil, err
	}
	app.initClient()
	app.initStores()

	return app, nil
}

func (app *Application) initRecords(ctx context.Context) error {
	if app.records != nil {
		return nil
	}

	switch app.cfg.SessionDriver {
	case DriverMemory:
		app.records = persist.NewMemory()
		app.logger.Warn("session record kept in memory, logins will not survive a restart")
	case DriverRedis:
		client, err := redisstore.Connect(ctx, app.cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect session redis: %w", err)
		}
		app.records = redisstore.NewStore(client, app.cfg.SessionKey, app.cfg.RedisTTL)
	default:
		s, err := sqlitestore.NewStore(app.cfg.SessionDSN, app.cfg.SessionKey)
		if err != nil {
			return fmt.Errorf("failed to open session database: %w", err)
		}
		app.records = s
	}

	app.logger.Info("session record store ready", "driver", app.cfg.SessionDriver)
	return nil
}

func (app *Application) initSession() error {
	var sealer *cryptox.Sealer
	if app.cfg.SessionSecret != "" {
		s, err := cryptox.NewSealer([]byte(app.cfg.SessionSecret), "session-record")
		if err != nil {
			return fmt.Errorf("create session sealer: %w", err)
		}
		sealer = s
	} else {
		app.logger.Warn("RBAC_SESSION_SECRET not set, a restored session must log in again before calling the API")
	}

	idp := rbacsdk.NewIdentityClient(app.cfg.IdentityBaseURL(), app.cfg.ClientID)
	if app.cfg.RequestTimeout > 0 {
		idp.HTTPClient.Timeout = app.cfg.RequestTimeout
	}
	if app.cfg.LogRequests {
		idp.HTTPClient.Transport = slogx.NewTransport(idp.HTTPClient.Transport, app.logger)
	}

	app.session = session.New(idp, app.records,
		session.WithConfig(session.Config{
			IdleTimeout:   app.cfg.IdleTimeout,
			WarningBefore: app.cfg.WarningBefore,
			RefreshBuffer: app.cfg.RefreshBuffer,
		}),
		session.WithSealer(sealer),
		session.WithLogger(app.logger),
	)
	return nil
}

func (app *Application) initClient() {
	hc := &http.Client{Timeout: app.cfg.RequestTimeout}

	opts := []rbacsdk.Option{
		rbacsdk.WithHTTPClient(hc),
		rbacsdk.WithTokenSource(app.session),
		rbacsdk.WithRateLimit(app.cfg.RateLimit()),
	}
	if app.cfg.LogRequests {
		opts = append(opts, rbacsdk.WithRequestLogging(app.logger))
	}
	app.client = rbacsdk.NewClient(app.cfg.APIURL, opts...)
}

func (app *Application) initStores() {
	perms := app.client.Permissions()

	app.perms = store.NewPermissions(perms, app.logger)
	app.roles = store.NewRoles(app.client.Roles(), perms, app.perms, app.logger)
	app.users = store.NewUsers(app.client.Users(), app.logger)
	app.matrix = matrix.New(app.roles, app.perms, app.logger)
}

func (app *Application) Config() *Config                 { return app.cfg }
func (app *Application) Logger() *slog.Logger            { return app.logger }
func (app *Application) Session() *session.Manager       { return app.session }
func (app *Application) Users() *store.Users             { return app.users }
func (app *Application) Roles() *store.Roles             { return app.roles }
func (app *Application) Permissions() *store.Permissions { return app.perms }
func (app *Application) Matrix() *matrix.View            { return app.matrix }

// Start resumes a previous session from the durable record and, if one
// was found, loads the collections. It reports whether a session resumed.
func (app *Application) Start(ctx context.Context) (bool, error) {
	restored, err := app.session.Restore(ctx)
	if err != nil || !restored {
		return false, err
	}
	return true, app.Sync(ctx)
}

// Login authenticates and loads the collections. The configured TOTP
// secret answers an MFA challenge when otp is empty.
func (app *Application) Login(ctx context.Context, username, password, otp string) error {
	creds := rbacsdk.Credentials{
		Username:   username,
		Password:   password,
		OTP:        otp,
		TOTPSecret: app.cfg.TOTPSecret,
	}
	if err := app.session.Login(ctx, creds); err != nil {
		return err
	}
	return app.Sync(ctx)
}

// Logout ends the session.
func (app *Application) Logout(ctx context.Context) {
	app.session.Logout(ctx)
}

// Sync fetches every collection concurrently. Each store records its own
// outcome; one failing fetch does not cancel the others.
func (app *Application) Sync(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return ignoreStale(app.users.Fetch(ctx)) })
	g.Go(func() error { return app.matrix.Load(ctx) })

	if err := g.Wait(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// Close stops the session timers, leaving the durable record in place,
// and releases the record store.
func (app *Application) Close() error {
	app.session.Close()
	if err := app.records.Close(); err != nil {
		app.logger.Error("error closing session record store", "error", err)
		return err
	}
	return nil
}

func ignoreStale(err error) error {
	if errors.Is(err, store.ErrStale) {
		return nil
	}
	return err
}
