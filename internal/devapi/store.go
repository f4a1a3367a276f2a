package devapi

import (
	"errors"
	"slices"
	"strconv"
	"sync"

	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
)

var (
	ErrNotFound = errors.New("devapi: not found")
	ErrConflict = errors.New("devapi: duplicate name")
)

// Store is the in-memory backing for the resource routes. Ids are integers
// handed out in creation order, as json-server does.
type Store struct {
	mu sync.RWMutex

	nextID      int64
	users       []rbacsdk.User
	roles       []rbacsdk.Role
	permissions []rbacsdk.Permission
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{nextID: 1}
}

func (s *Store) newID() rbacsdk.ID {
	id := rbacsdk.ID(strconv.FormatInt(s.nextID, 10))
	s.nextID++
	return id
}

func indexOf[T interface{ EntityID() rbacsdk.ID }](items []T, id rbacsdk.ID) int {
	return slices.IndexFunc(items, func(it T) bool { return it.EntityID() == id })
}

// ============================================================================
// Users
// ============================================================================

func (s *Store) ListUsers() []rbacsdk.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.users)
}

func (s *Store) CreateUser(f rbacsdk.UserFields) rbacsdk.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := rbacsdk.User{ID: s.newID(), Name: f.Name, Email: f.Email, Role: f.Role, Status: f.Status}
	s.users = append(s.users, u)
	return u
}

func (s *Store) UpdateUser(id rbacsdk.ID, f rbacsdk.UserFields) (rbacsdk.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.users, id)
	if i < 0 {
		return rbacsdk.User{}, ErrNotFound
	}
	s.users[i] = rbacsdk.User{ID: id, Name: f.Name, Email: f.Email, Role: f.Role, Status: f.Status}
	return s.users[i], nil
}

func (s *Store) DeleteUser(id rbacsdk.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.users, id)
	if i < 0 {
		return ErrNotFound
	}
	s.users = slices.Delete(s.users, i, i+1)
	return nil
}

// ============================================================================
// Roles
// ============================================================================

func (s *Store) ListRoles() []rbacsdk.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]rbacsdk.Role, len(s.roles))
	for i, r := range s.roles {
		r.Permissions = slices.Clone(r.Permissions)
		out[i] = r
	}
	return out
}

func (s *Store) CreateRole(f rbacsdk.RoleFields) rbacsdk.Role {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := rbacsdk.Role{
		ID:          s.newID(),
		Name:        f.Name,
		Permissions: rbacsdk.NormalizeRefs(f.Permissions, s.permissions),
	}
	s.roles = append(s.roles, r)
	return r
}

func (s *Store) UpdateRole(id rbacsdk.ID, f rbacsdk.RoleFields) (rbacsdk.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.roles, id)
	if i < 0 {
		return rbacsdk.Role{}, ErrNotFound
	}
	s.roles[i] = rbacsdk.Role{
		ID:          id,
		Name:        f.Name,
		Permissions: rbacsdk.NormalizeRefs(f.Permissions, s.permissions),
	}
	return s.roles[i], nil
}

func (s *Store) DeleteRole(id rbacsdk.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.roles, id)
	if i < 0 {
		return ErrNotFound
	}
	s.roles = slices.Delete(s.roles, i, i+1)
	return nil
}

// ============================================================================
// Permissions
// ============================================================================

func (s *Store) ListPermissions() []rbacsdk.Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.permissions)
}

// CreatePermission rejects names that already exist, ignoring case.
func (s *Store) CreatePermission(f rbacsdk.PermissionFields) (rbacsdk.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := rbacsdk.PermissionRef{Name: f.Name}
	for _, p := range s.permissions {
		if ref.Matches(p) {
			return rbacsdk.Permission{}, ErrConflict
		}
	}

	p := rbacsdk.Permission{ID: s.newID(), Name: f.Name}
	s.permissions = append(s.permissions, p)
	return p, nil
}

// TogglePermission grants permissionID to roleID or takes it away, returning
// the resulting membership.
func (s *Store) TogglePermission(roleID, permissionID rbacsdk.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ri := indexOf(s.roles, roleID)
	pi := indexOf(s.permissions, permissionID)
	if ri < 0 || pi < 0 {
		return false, ErrNotFound
	}

	role := &s.roles[ri]
	perm := s.permissions[pi]

	if j := slices.IndexFunc(role.Permissions, func(r rbacsdk.PermissionRef) bool { return r.Matches(perm) }); j >= 0 {
		role.Permissions = slices.Delete(role.Permissions, j, j+1)
		return false, nil
	}

	role.Permissions = append(role.Permissions, perm.Ref())
	return true, nil
}

// Seed loads a small demo data set.
func (s *Store) Seed() {
	read, _ := s.CreatePermission(rbacsdk.PermissionFields{Name: "read"})
	write, _ := s.CreatePermission(rbacsdk.PermissionFields{Name: "write"})
	del, _ := s.CreatePermission(rbacsdk.PermissionFields{Name: "delete"})

	s.CreateRole(rbacsdk.RoleFields{Name: "Admin", Permissions: []rbacsdk.PermissionRef{read.Ref(), write.Ref(), del.Ref()}})
	s.CreateRole(rbacsdk.RoleFields{Name: "Editor", Permissions: []rbacsdk.PermissionRef{read.Ref(), write.Ref()}})
	s.CreateRole(rbacsdk.RoleFields{Name: "Viewer", Permissions: []rbacsdk.PermissionRef{read.Ref()}})

	s.CreateUser(rbacsdk.UserFields{Name: "Alice Nguyen", Email: "alice@example.com", Role: "Admin", Status: rbacsdk.StatusActive})
	s.CreateUser(rbacsdk.UserFields{Name: "Bruno Costa", Email: "bruno@example.com", Role: "Editor", Status: rbacsdk.StatusActive})
	s.CreateUser(rbacsdk.UserFields{Name: "Chen Wei", Email: "chen@example.com", Role: "Viewer", Status: rbacsdk.StatusInactive})
}
