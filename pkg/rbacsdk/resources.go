package rbacsdk

import (
	"context"
	"net/http"
	"net/url"
)

// resource implements the list/create/update/delete contract shared by every
// collection endpoint.
type resource[T any, F any] struct {
	c    *Client
	path string
}

func (r resource[T, F]) itemPath(id ID) string {
	return r.path + "/" + url.PathEscape(id.String())
}

// List returns the whole collection.
func (r resource[T, F]) List(ctx context.Context) ([]T, error) {
	var out []T
	if err := r.c.do(ctx, http.MethodGet, r.path, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// Create posts fields and returns the stored entity with its server id.
func (r resource[T, F]) Create(ctx context.Context, fields F) (T, error) {
	var out T
	err := r.c.do(ctx, http.MethodPost, r.path, fields, &out)
	return out, err
}

// Update replaces the entity with fields. An unknown id fails with an
// *APIError matching ErrNotFound.
func (r resource[T, F]) Update(ctx context.Context, id ID, fields F) (T, error) {
	var out T
	err := r.c.do(ctx, http.MethodPut, r.itemPath(id), fields, &out)
	return out, err
}

// Delete removes the entity and echoes its id.
func (r resource[T, F]) Delete(ctx context.Context, id ID) (ID, error) {
	if err := r.c.do(ctx, http.MethodDelete, r.itemPath(id), nil, nil); err != nil {
		return "", err
	}
	return id, nil
}

// UsersAPI is the /users endpoint.
type UsersAPI struct{ resource[User, UserFields] }

// RolesAPI is the /roles endpoint.
type RolesAPI struct{ resource[Role, RoleFields] }

// PermissionsAPI is the /permissions endpoint plus the role membership toggle.
type PermissionsAPI struct{ resource[Permission, PermissionFields] }

// Update is not offered by the API.
func (p *PermissionsAPI) Update(context.Context, ID, PermissionFields) (Permission, error) {
	return Permission{}, ErrUnsupported
}

// Delete is not offered by the API.
func (p *PermissionsAPI) Delete(context.Context, ID) (ID, error) {
	return "", ErrUnsupported
}

// Toggle flips whether roleID holds permissionID via
// PATCH /roles/{roleId}/permissions.
func (p *PermissionsAPI) Toggle(ctx context.Context, roleID, permissionID ID) (ToggleResult, error) {
	in := struct {
		PermissionID ID `json:"permissionId"`
	}{permissionID}

	var out ToggleResult
	path := "/roles/" + url.PathEscape(roleID.String()) + "/permissions"
	if err := p.c.do(ctx, http.MethodPatch, path, in, &out); err != nil {
		return ToggleResult{}, err
	}

	if out.RoleID.IsZero() {
		out.RoleID = roleID
	}
	if out.PermissionID.IsZero() {
		out.PermissionID = permissionID
	}
	return out, nil
}
