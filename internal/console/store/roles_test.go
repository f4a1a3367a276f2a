package store_test

import (
	"context"
	"slices"
	"testing"

	"github.com/aussiebroadwan/rbacadmin/internal/console/store"
	"github.com/aussiebroadwan/rbacadmin/internal/devapi/devapitest"
	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
	"github.com/aussiebroadwan/rbacadmin/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func newStores(t *testing.T, srv *devapitest.Server) (*store.Roles, *store.Permissions) {
	t.Helper()

	c := rbacsdk.NewClient(srv.URL)
	perms := store.NewPermissions(c.Permissions(), slogx.Discard())
	roles := store.NewRoles(c.Roles(), c.Permissions(), perms, slogx.Discard())

	ctx := context.Background()
	require.NoError(t, perms.Fetch(ctx))
	require.NoError(t, roles.Fetch(ctx))
	return roles, perms
}

func roleNamed(t *testing.T, roles *store.Roles, name string) rbacsdk.Role {
	t.Helper()

	i := slices.IndexFunc(roles.Snapshot().Data, func(r rbacsdk.Role) bool { return r.Name == name })
	require.GreaterOrEqual(t, i, 0, "role %q", name)
	return roles.Snapshot().Data[i]
}

func permNamed(t *testing.T, perms *store.Permissions, name string) rbacsdk.Permission {
	t.Helper()

	for _, p := range perms.Catalog() {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("permission %q not found", name)
	return rbacsdk.Permission{}
}

func TestTogglePermissionRoundTrip(t *testing.T) {
	t.Parallel()

	srv := devapitest.Start(t, devapitest.WithSeed())
	roles, perms := newStores(t, srv)
	ctx := context.Background()

	viewer := roleNamed(t, roles, "Viewer")
	write := permNamed(t, perms, "write")
	require.False(t, rbacsdk.HasPermission(viewer.Permissions, write))

	granted, err := roles.TogglePermission(ctx, viewer.ID, write)
	require.NoError(t, err)
	require.True(t, granted)

	after, _ := roles.Find(viewer.ID)
	require.Contains(t, after.Permissions, write.Ref(), "added refs carry id and name")

	granted, err = roles.TogglePermission(ctx, viewer.ID, write)
	require.NoError(t, err)
	require.False(t, granted)

	restored, _ := roles.Find(viewer.ID)
	require.Equal(t, viewer.Permissions, restored.Permissions)

	// The server agrees with the local copy.
	require.NoError(t, roles.Fetch(ctx))
	fetched, _ := roles.Find(viewer.ID)
	require.Equal(t, viewer.Permissions, fetched.Permissions)
}

type fixedToggler struct {
	granted *bool
	calls   int
}

func (f *fixedToggler) Toggle(_ context.Context, roleID, permissionID rbacsdk.ID) (rbacsdk.ToggleResult, error) {
	f.calls++
	return rbacsdk.ToggleResult{RoleID: roleID, PermissionID: permissionID, Granted: f.granted}, nil
}

type fakeRoles struct {
	roles []rbacsdk.Role
}

func (f *fakeRoles) List(context.Context) ([]rbacsdk.Role, error) { return f.roles, nil }
func (f *fakeRoles) Create(context.Context, rbacsdk.RoleFields) (rbacsdk.Role, error) {
	return rbacsdk.Role{}, rbacsdk.ErrUnsupported
}
func (f *fakeRoles) Update(context.Context, rbacsdk.ID, rbacsdk.RoleFields) (rbacsdk.Role, error) {
	return rbacsdk.Role{}, rbacsdk.ErrUnsupported
}
func (f *fakeRoles) Delete(context.Context, rbacsdk.ID) (rbacsdk.ID, error) {
	return "", rbacsdk.ErrUnsupported
}

func TestToggleHonoursServerAnswer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	read := rbacsdk.Permission{ID: "1", Name: "read"}

	perms := store.NewPermissions(&fakePermissions{perms: []rbacsdk.Permission{read}}, slogx.Discard())
	require.NoError(t, perms.Fetch(ctx))

	yes := true
	toggler := &fixedToggler{granted: &yes}
	roles := store.NewRoles(&fakeRoles{roles: []rbacsdk.Role{
		{ID: "10", Name: "Admin", Permissions: []rbacsdk.PermissionRef{{Name: "read"}}},
	}}, toggler, perms, slogx.Discard())
	require.NoError(t, roles.Fetch(ctx))

	admin, _ := roles.Find("10")
	require.Equal(t, []rbacsdk.PermissionRef{read.Ref()}, admin.Permissions, "name-only refs are resolved")

	// Local state says "has it", server says "granted": keep it, once.
	granted, err := roles.TogglePermission(ctx, "10", read)
	require.NoError(t, err)
	require.True(t, granted)

	admin, _ = roles.Find("10")
	require.Equal(t, []rbacsdk.PermissionRef{read.Ref()}, admin.Permissions)

	_, err = roles.TogglePermission(ctx, "99", read)
	require.ErrorIs(t, err, store.ErrNotFoundOnUpdate)
	require.Equal(t, 2, toggler.calls)
}

func TestResolveFillsNamesLate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	permAPI := &fakePermissions{}
	perms := store.NewPermissions(permAPI, slogx.Discard())
	roles := store.NewRoles(&fakeRoles{roles: []rbacsdk.Role{
		{ID: "10", Name: "Admin", Permissions: []rbacsdk.PermissionRef{{ID: "1"}}},
	}}, nil, perms, slogx.Discard())

	require.NoError(t, roles.Fetch(ctx))
	admin, _ := roles.Find("10")
	require.Equal(t, []string{"1"}, roles.PermissionLabels(admin))

	permAPI.perms = []rbacsdk.Permission{{ID: "1", Name: "read"}}
	require.NoError(t, perms.Fetch(ctx))
	roles.Resolve()

	admin, _ = roles.Find("10")
	require.Equal(t, []rbacsdk.PermissionRef{{ID: "1", Name: "read"}}, admin.Permissions)
	require.Equal(t, []string{"read"}, roles.PermissionLabels(admin))
}

func TestRoleCreateRequiresPermission(t *testing.T) {
	t.Parallel()

	srv := devapitest.Start(t, devapitest.WithSeed())
	roles, _ := newStores(t, srv)

	_, err := roles.Create(context.Background(), rbacsdk.RoleFields{Name: "Empty"})
	var verr *rbacsdk.ValidationError
	require.ErrorAs(t, err, &verr)

	role, err := roles.Create(context.Background(), rbacsdk.RoleFields{
		Name:        " Auditor ",
		Permissions: []rbacsdk.PermissionRef{{Name: "read"}},
	})
	require.NoError(t, err)
	require.Equal(t, "Auditor", role.Name)
	require.False(t, role.Permissions[0].ID.IsZero())
}

func TestRoleUpdateMayLeaveNoPermissions(t *testing.T) {
	t.Parallel()

	srv := devapitest.Start(t, devapitest.WithSeed())
	roles, _ := newStores(t, srv)
	ctx := context.Background()

	viewer := roleNamed(t, roles, "Viewer")
	fields := viewer.Fields()
	fields.Permissions = nil
	_, err := roles.Update(ctx, viewer.ID, fields)
	require.NoError(t, err)

	fields.Name = "Guest"
	renamed, err := roles.Update(ctx, viewer.ID, fields)
	require.NoError(t, err)
	require.Equal(t, "Guest", renamed.Name)
	require.Empty(t, renamed.Permissions)
}

func TestRoleSnapshotIsDeep(t *testing.T) {
	t.Parallel()

	srv := devapitest.Start(t, devapitest.WithSeed())
	roles, _ := newStores(t, srv)

	s := roles.Snapshot()
	s.Data[0].Permissions[0].Name = "mutated"
	require.NotEqual(t, "mutated", roles.Snapshot().Data[0].Permissions[0].Name)
}
