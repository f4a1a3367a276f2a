// Package matrix derives the role × permission grid from the role and
// permission collections and mutates membership through them.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/rbacadmin/internal/console/store"
	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownPermission is returned when toggling a permission that is not in
// the loaded catalog.
var ErrUnknownPermission = errors.New("matrix: permission not in catalog")

// Row is one role and whether it holds each permission of the grid header.
type Row struct {
	Role  rbacsdk.Role
	Cells []bool
}

// Grid is the membership table. Cells line up with Permissions.
type Grid struct {
	Permissions []rbacsdk.Permission
	Rows        []Row
}

// Has reports the cell for roleID and permissionID.
func (g Grid) Has(roleID, permissionID rbacsdk.ID) bool {
	for _, row := range g.Rows {
		if row.Role.ID != roleID {
			continue
		}
		for i, p := range g.Permissions {
			if p.ID == permissionID {
				return row.Cells[i]
			}
		}
	}
	return false
}

// View is the permission matrix over a role and a permission collection.
type View struct {
	roles  *store.Roles
	perms  *store.Permissions
	logger *slog.Logger
}

// New creates a matrix view.
func New(roles *store.Roles, perms *store.Permissions, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}
	return &View{roles: roles, perms: perms, logger: logger.With("component", "matrix")}
}

// Load fetches roles and permissions concurrently, then resolves the roles'
// refs against the fresh catalog. A stale response is not a failure; the
// newer one has already been applied.
func (v *View) Load(ctx context.Context) error {
	// A failure stays on the store that owns it; the sibling fetch runs on.
	var g errgroup.Group
	g.Go(func() error { return ignoreStale(v.roles.Fetch(ctx)) })
	g.Go(func() error { return ignoreStale(v.perms.Fetch(ctx)) })
	err := g.Wait()

	v.roles.Resolve()
	if err != nil {
		return fmt.Errorf("load matrix: %w", err)
	}
	return nil
}

func ignoreStale(err error) error {
	if errors.Is(err, store.ErrStale) {
		return nil
	}
	return err
}

// Has reports whether role roleID holds permission permissionID. Refs match
// on id, or on name when either side lacks an id.
func (v *View) Has(roleID, permissionID rbacsdk.ID) bool {
	role, ok := v.roles.Find(roleID)
	if !ok {
		return false
	}

	perm, ok := v.perms.Find(permissionID)
	if !ok {
		perm = rbacsdk.Permission{ID: permissionID}
	}
	return rbacsdk.HasPermission(role.Permissions, perm)
}

// Grid computes the current table.
func (v *View) Grid() Grid {
	return build(v.roles.Snapshot().Data, v.perms.Snapshot().Data)
}

func build(roles []rbacsdk.Role, perms []rbacsdk.Permission) Grid {
	g := Grid{Permissions: perms, Rows: make([]Row, len(roles))}
	for i, role := range roles {
		cells := make([]bool, len(perms))
		for j, p := range perms {
			cells[j] = rbacsdk.HasPermission(role.Permissions, p)
		}
		g.Rows[i] = Row{Role: role, Cells: cells}
	}
	return g
}

// Toggle flips one cell with a single server call. The grid changes only
// after the server confirms. It returns the new membership.
func (v *View) Toggle(ctx context.Context, roleID, permissionID rbacsdk.ID) (bool, error) {
	perm, ok := v.perms.Find(permissionID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPermission, permissionID)
	}

	granted, err := v.roles.TogglePermission(ctx, roleID, perm)
	if err != nil {
		return false, err
	}

	v.logger.Debug("permission toggled", "role_id", roleID, "permission", perm.Name, "granted", granted)
	return granted, nil
}

// CreatePermission adds a permission to the catalog. The name is trimmed;
// an empty name fails validation without a request.
func (v *View) CreatePermission(ctx context.Context, name string) (rbacsdk.Permission, error) {
	p, err := v.perms.Create(ctx, rbacsdk.PermissionFields{Name: name})
	if err != nil {
		return rbacsdk.Permission{}, err
	}

	// Roles may hold name-only refs to it already.
	v.roles.Resolve()
	return p, nil
}

// Subscribe calls fn with a recomputed grid after any change to either
// collection.
func (v *View) Subscribe(fn func(Grid)) (cancel func()) {
	update := func() { fn(v.Grid()) }

	cancelRoles := v.roles.Subscribe(func(store.State[rbacsdk.Role]) { update() })
	cancelPerms := v.perms.Subscribe(func(store.State[rbacsdk.Permission]) { update() })

	return func() {
		cancelRoles()
		cancelPerms()
	}
}
