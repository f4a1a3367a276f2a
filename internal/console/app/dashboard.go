package app

import "time"

// Dashboard is the landing page summary.
type Dashboard struct {
	Username    string
	Deadline    time.Time
	Users       int
	ActiveUsers int
	Roles       int
	Permissions int
}

// Remaining is the idle time left before the session expires.
func (d Dashboard) Remaining(now time.Time) time.Duration {
	if d.Deadline.IsZero() {
		return 0
	}
	return max(d.Deadline.Sub(now), 0)
}

// Dashboard summarises the current collections and session.
func (app *Application) Dashboard() Dashboard {
	s := app.session.State()
	return Dashboard{
		Username:    s.Username,
		Deadline:    s.Deadline,
		Users:       len(app.users.Snapshot().Data),
		ActiveUsers: app.users.ActiveCount(),
		Roles:       len(app.roles.Snapshot().Data),
		Permissions: len(app.perms.Snapshot().Data),
	}
}
