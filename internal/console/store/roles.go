package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
)

// Toggler flips a role's permission membership on the server.
type Toggler interface {
	Toggle(ctx context.Context, roleID, permissionID rbacsdk.ID) (rbacsdk.ToggleResult, error)
}

// Roles is the role collection. Permission refs are kept canonical against
// the catalog: every role coming from the server, and every toggle, goes
// through rbacsdk.NormalizeRefs.
type Roles struct {
	*Collection[rbacsdk.Role, rbacsdk.RoleFields]

	toggler Toggler
	catalog *Permissions
}

// NewRoles creates the role collection. catalog may be nil, in which case
// refs are only de-duplicated.
func NewRoles(api Backend[rbacsdk.Role, rbacsdk.RoleFields], toggler Toggler, catalog *Permissions, logger *slog.Logger) *Roles {
	r := &Roles{toggler: toggler, catalog: catalog}
	r.Collection = NewCollection("roles", api, Hooks[rbacsdk.Role, rbacsdk.RoleFields]{
		Normalize: func(f rbacsdk.RoleFields) rbacsdk.RoleFields { return f.Normalize(r.permissions()) },
		Canon:     r.canonical,
		Clone:     cloneRole,
	}, logger)
	return r
}

// Create adds a role. A new role needs at least one permission; Update may
// later leave it with none.
func (r *Roles) Create(ctx context.Context, fields rbacsdk.RoleFields) (rbacsdk.Role, error) {
	if err := rbacsdk.ValidateNewRole(fields.Normalize(r.permissions())); err != nil {
		return rbacsdk.Role{}, err
	}
	return r.Collection.Create(ctx, fields)
}

func (r *Roles) permissions() []rbacsdk.Permission {
	if r.catalog == nil {
		return nil
	}
	return r.catalog.Catalog()
}

func (r *Roles) canonical(role rbacsdk.Role) rbacsdk.Role {
	role.Permissions = rbacsdk.NormalizeRefs(role.Permissions, r.permissions())
	return role
}

func cloneRole(role rbacsdk.Role) rbacsdk.Role {
	role.Permissions = slices.Clone(role.Permissions)
	return role
}

// TogglePermission flips whether role roleID holds perm. The local role
// changes only once the server confirms. When the server says which way the
// membership went that answer wins; otherwise the confirmed local state is
// flipped. The returned bool is the new membership.
func (r *Roles) TogglePermission(ctx context.Context, roleID rbacsdk.ID, perm rbacsdk.Permission) (bool, error) {
	if r.toggler == nil {
		return false, fmt.Errorf("toggle permission: %w", rbacsdk.ErrUnsupported)
	}

	var (
		res     rbacsdk.ToggleResult
		granted bool
	)
	_, err := r.modify(ctx, "toggle", roleID,
		func(ctx context.Context) error {
			var err error
			res, err = r.toggler.Toggle(ctx, roleID, perm.ID)
			return err
		},
		func(role rbacsdk.Role) rbacsdk.Role {
			granted = !rbacsdk.HasPermission(role.Permissions, perm)
			if res.Granted != nil {
				granted = *res.Granted
			}

			role.Permissions = slices.DeleteFunc(role.Permissions, func(ref rbacsdk.PermissionRef) bool {
				return ref.Matches(perm)
			})
			if granted {
				role.Permissions = append(role.Permissions, perm.Ref())
			}
			return role
		},
	)
	return granted, err
}

// Resolve re-canonicalises every role's refs against the current catalog,
// for when the catalog arrives after the roles.
func (r *Roles) Resolve() {
	r.rewrite(r.canonical)
}

// PermissionLabels returns the display names of a role's permissions.
func (r *Roles) PermissionLabels(role rbacsdk.Role) []string {
	refs := rbacsdk.NormalizeRefs(role.Permissions, r.permissions())
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = ref.Label()
	}
	return out
}
