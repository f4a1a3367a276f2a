package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aussiebroadwan/rbacadmin/internal/console/matrix"
	"github.com/aussiebroadwan/rbacadmin/internal/console/session"
	"github.com/aussiebroadwan/rbacadmin/internal/console/store"
	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
)

const helpText = `commands:
  login [username]                              log in (prompts for the password)
  logout                                        end the session
  status                                        session state and idle deadline
  dashboard                                     collection counts
  fetch                                         reload every collection
  users [list]                                  list users
  users add name=.. email=.. role=.. [status=]  create a user
  users update <id> [name=..] [email=..] [role=..] [status=..]
  users status <id> active|inactive|toggle      change a user's status
  users delete <id>
  roles [list]                                  list roles with their permissions
  roles add name=.. perms=a,b                   create a role
  roles update <id> [name=..] [perms=a,b]
  roles delete <id>
  perms [list]                                  list permissions
  perms add <name>                              create a permission
  matrix [show]                                 role x permission grid
  matrix toggle <role> <permission>             grant or revoke (ids or names)
  help
  quit
`

// Exec runs one command line. quit reports that the console should exit.
func (c *Console) Exec(ctx context.Context, line string) (quit bool, err error) {
	args, err := splitArgs(line)
	if err != nil {
		return false, err
	}
	if len(args) == 0 {
		return false, nil
	}
	name, args := strings.ToLower(args[0]), args[1:]

	switch name {
	case "quit", "exit":
		return true, nil
	case "help", "?":
		c.printf("%s", helpText)
		return false, nil
	case "login":
		return false, c.login(ctx, args)
	case "status":
		c.status()
		return false, nil
	}

	if !c.app.Session().State().Authenticated {
		return false, session.ErrNotAuthenticated
	}

	switch name {
	case "logout":
		c.app.Logout(ctx)
		c.printf("logged out\n")
		return false, nil
	case "dashboard":
		c.dashboard()
		return false, nil
	case "fetch":
		return false, c.app.Sync(ctx)
	case "users":
		return false, c.users(ctx, args)
	case "roles":
		return false, c.roles(ctx, args)
	case "perms", "permissions":
		return false, c.perms(ctx, args)
	case "matrix":
		return false, c.matrix(ctx, args)
	default:
		return false, fmt.Errorf("unknown command %q, type help", name)
	}
}

// ============================================================================
// Session
// ============================================================================

func (c *Console) login(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return usage("login [username]")
	}

	var (
		username string
		err      error
	)
	if len(args) == 1 {
		username = args[0]
	} else if username, err = c.in.Prompt("username: "); err != nil {
		return err
	}
	password, err := c.in.PasswordPrompt("password: ")
	if err != nil {
		return err
	}

	err = c.app.Login(ctx, strings.TrimSpace(username), password, "")
	var mfa *rbacsdk.MFARequiredError
	if errors.As(err, &mfa) {
		otp, perr := c.in.Prompt("one-time code: ")
		if perr != nil {
			return perr
		}
		err = c.app.Login(ctx, strings.TrimSpace(username), password, strings.TrimSpace(otp))
	}

	if s := c.app.Session().State(); s.Authenticated {
		c.printf("logged in as %s\n", s.Username)
	}
	return err
}

func (c *Console) status() {
	s := c.app.Session().State()
	if !s.Authenticated {
		c.printf("logged out\n")
		return
	}
	c.printf("logged in as %s, idle deadline %s (%s left)\n",
		s.Username, s.Deadline.Format(time.TimeOnly), s.Deadline.Sub(c.now()).Round(time.Second))
}

func (c *Console) dashboard() {
	d := c.app.Dashboard()
	c.table("", func(w io.Writer) {
		fmt.Fprintf(w, "users\t%d\t(%d active)\n", d.Users, d.ActiveUsers)
		fmt.Fprintf(w, "roles\t%d\t\n", d.Roles)
		fmt.Fprintf(w, "permissions\t%d\t\n", d.Permissions)
		fmt.Fprintf(w, "session\t%s\t(%s left)\n", d.Username, d.Remaining(c.now()).Round(time.Second))
	})
}

// ============================================================================
// Users
// ============================================================================

func (c *Console) users(ctx context.Context, args []string) error {
	users := c.app.Users()
	sub, args := subcommand(args)

	switch sub {
	case "list":
		s := users.Snapshot()
		c.table("ID\tNAME\tEMAIL\tROLE\tSTATUS", func(w io.Writer) {
			for _, u := range s.Data {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Role, u.Status)
			}
		})
		c.collectionStatus(s.Status, s.Error)
		return nil

	case "add":
		kv, err := keyValues(args, "name", "email", "role", "status")
		if err != nil {
			return err
		}
		fields := rbacsdk.UserFields{
			Name:   kv["name"],
			Email:  kv["email"],
			Role:   kv["role"],
			Status: rbacsdk.Status(kv["status"]),
		}
		if fields.Status == "" {
			fields.Status = rbacsdk.StatusActive
		}
		u, err := users.Create(ctx, fields)
		if err != nil {
			return err
		}
		c.printf("created user %s\n", u.ID)
		return nil

	case "update":
		if len(args) < 2 {
			return usage("users update <id> field=value...")
		}
		id := rbacsdk.ID(args[0])
		u, ok := users.Find(id)
		if !ok {
			return fmt.Errorf("%w: users %s", store.ErrNotFoundOnUpdate, id)
		}
		kv, err := keyValues(args[1:], "name", "email", "role", "status")
		if err != nil {
			return err
		}
		fields := u.Fields()
		if v, ok := kv["name"]; ok {
			fields.Name = v
		}
		if v, ok := kv["email"]; ok {
			fields.Email = v
		}
		if v, ok := kv["role"]; ok {
			fields.Role = v
		}
		if v, ok := kv["status"]; ok {
			fields.Status = rbacsdk.Status(v)
		}
		if _, err := users.Update(ctx, id, fields); err != nil {
			return err
		}
		c.printf("updated user %s\n", id)
		return nil

	case "status":
		if len(args) != 2 {
			return usage("users status <id> active|inactive|toggle")
		}
		id := rbacsdk.ID(args[0])
		status := rbacsdk.Status(strings.ToLower(args[1]))
		if status == "toggle" {
			u, ok := users.Find(id)
			if !ok {
				return fmt.Errorf("%w: users %s", store.ErrNotFoundOnUpdate, id)
			}
			status = u.Status.Toggle()
		}
		u, err := users.SetStatus(ctx, id, status)
		if err != nil {
			return err
		}
		c.printf("user %s is %s\n", u.ID, u.Status)
		return nil

	case "delete":
		if len(args) != 1 {
			return usage("users delete <id>")
		}
		id, err := users.Delete(ctx, rbacsdk.ID(args[0]))
		if err != nil {
			return err
		}
		c.printf("deleted user %s\n", id)
		return nil
	}

	return usage("users [list|add|update|status|delete]")
}

// ============================================================================
// Roles and permissions
// ============================================================================

func (c *Console) roles(ctx context.Context, args []string) error {
	roles := c.app.Roles()
	sub, args := subcommand(args)

	switch sub {
	case "list":
		s := roles.Snapshot()
		c.table("ID\tNAME\tPERMISSIONS", func(w io.Writer) {
			for _, r := range s.Data {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.Name, strings.Join(roles.PermissionLabels(r), ", "))
			}
		})
		c.collectionStatus(s.Status, s.Error)
		return nil

	case "add":
		kv, err := keyValues(args, "name", "perms")
		if err != nil {
			return err
		}
		r, err := roles.Create(ctx, rbacsdk.RoleFields{Name: kv["name"], Permissions: c.refs(kv["perms"])})
		if err != nil {
			return err
		}
		c.printf("created role %s\n", r.ID)
		return nil

	case "update":
		if len(args) < 2 {
			return usage("roles update <id> [name=..] [perms=a,b]")
		}
		id := rbacsdk.ID(args[0])
		r, ok := roles.Find(id)
		if !ok {
			return fmt.Errorf("%w: roles %s", store.ErrNotFoundOnUpdate, id)
		}
		kv, err := keyValues(args[1:], "name", "perms")
		if err != nil {
			return err
		}
		fields := r.Fields()
		if v, ok := kv["name"]; ok {
			fields.Name = v
		}
		if v, ok := kv["perms"]; ok {
			fields.Permissions = c.refs(v)
		}
		if _, err := roles.Update(ctx, id, fields); err != nil {
			return err
		}
		c.printf("updated role %s\n", id)
		return nil

	case "delete":
		if len(args) != 1 {
			return usage("roles delete <id>")
		}
		id, err := roles.Delete(ctx, rbacsdk.ID(args[0]))
		if err != nil {
			return err
		}
		c.printf("deleted role %s\n", id)
		return nil
	}

	return usage("roles [list|add|update|delete]")
}

// refs turns a comma separated list of permission ids or names into refs.
// Unknown names are kept; the store resolves them when the catalog has them.
func (c *Console) refs(list string) []rbacsdk.PermissionRef {
	items := splitList(list)
	out := make([]rbacsdk.PermissionRef, 0, len(items))
	for _, item := range items {
		if p, ok := c.permission(item); ok {
			out = append(out, p.Ref())
			continue
		}
		out = append(out, rbacsdk.PermissionRef{Name: item})
	}
	return out
}

func (c *Console) permission(key string) (rbacsdk.Permission, bool) {
	catalog := c.app.Permissions().Catalog()
	for _, p := range catalog {
		if p.ID.String() == key {
			return p, true
		}
	}
	for _, p := range catalog {
		if strings.EqualFold(p.Name, key) {
			return p, true
		}
	}
	return rbacsdk.Permission{}, false
}

func (c *Console) role(key string) (rbacsdk.Role, bool) {
	data := c.app.Roles().Snapshot().Data
	for _, r := range data {
		if r.ID.String() == key {
			return r, true
		}
	}
	for _, r := range data {
		if strings.EqualFold(r.Name, key) {
			return r, true
		}
	}
	return rbacsdk.Role{}, false
}

func (c *Console) perms(ctx context.Context, args []string) error {
	sub, args := subcommand(args)

	switch sub {
	case "list":
		s := c.app.Permissions().Snapshot()
		c.table("ID\tNAME", func(w io.Writer) {
			for _, p := range s.Data {
				fmt.Fprintf(w, "%s\t%s\n", p.ID, p.Name)
			}
		})
		c.collectionStatus(s.Status, s.Error)
		return nil

	case "add":
		if len(args) == 0 {
			return usage("perms add <name>")
		}
		p, err := c.app.Matrix().CreatePermission(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		c.printf("created permission %s (%s)\n", p.ID, p.Name)
		return nil
	}

	return usage("perms [list|add]")
}

func (c *Console) matrix(ctx context.Context, args []string) error {
	sub, args := subcommand(args)

	switch sub {
	case "show", "list":
		c.grid(c.app.Matrix().Grid())
		return nil

	case "toggle":
		if len(args) != 2 {
			return usage("matrix toggle <role> <permission>")
		}
		r, ok := c.role(args[0])
		if !ok {
			return fmt.Errorf("%w: role %s", rbacsdk.ErrNotFound, args[0])
		}
		p, ok := c.permission(args[1])
		if !ok {
			return fmt.Errorf("%w: %s", matrix.ErrUnknownPermission, args[1])
		}
		granted, err := c.app.Matrix().Toggle(ctx, r.ID, p.ID)
		if err != nil {
			return err
		}
		if granted {
			c.printf("%s now holds %s\n", r.Name, p.Name)
		} else {
			c.printf("%s no longer holds %s\n", r.Name, p.Name)
		}
		return nil
	}

	return usage("matrix [show|toggle]")
}

// ============================================================================
// Rendering
// ============================================================================

func subcommand(args []string) (string, []string) {
	if len(args) == 0 {
		return "list", nil
	}
	return strings.ToLower(args[0]), args[1:]
}

func (c *Console) table(header string, rows func(w io.Writer)) {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	if header != "" {
		fmt.Fprintln(tw, header)
	}
	rows(tw)
	_ = tw.Flush()
	c.printf("%s", buf.String())
}

func (c *Console) grid(g matrix.Grid) {
	header := "ROLE"
	for _, p := range g.Permissions {
		header += "\t" + p.Name
	}
	c.table(header, func(w io.Writer) {
		for _, row := range g.Rows {
			line := row.Role.Name
			for _, held := range row.Cells {
				mark := "."
				if held {
					mark = "x"
				}
				line += "\t" + mark
			}
			fmt.Fprintln(w, line)
		}
	})
}

func (c *Console) collectionStatus(status store.Status, errMsg string) {
	switch status {
	case store.StatusFailed:
		c.printf("(last request failed: %s; run fetch to retry)\n", errMsg)
	case store.StatusLoading:
		c.printf("(loading)\n")
	case store.StatusIdle:
		c.printf("(not loaded; run fetch)\n")
	}
}

// describe turns an error into a line for the operator.
func describe(err error) string {
	var (
		verr   *rbacsdk.ValidationError
		netErr *rbacsdk.NetworkError
		apiErr *rbacsdk.APIError
	)
	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		return "not logged in, use login"
	case errors.Is(err, errUsage):
		return err.Error()
	case errors.Is(err, store.ErrStale):
		return "a newer change superseded this one"
	case errors.Is(err, store.ErrNotFoundOnUpdate):
		return "no such entry, run fetch to reload"
	case errors.As(err, &verr):
		return "invalid input: " + strings.TrimPrefix(verr.Error(), "validation failed: ")
	case errors.As(err, &netErr):
		return "cannot reach " + netErr.URL + ": " + netErr.Err.Error()
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return fmt.Sprintf("server answered %d: %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Sprintf("server answered %d: %s", apiErr.StatusCode, apiErr.Code)
	}
	return err.Error()
}
