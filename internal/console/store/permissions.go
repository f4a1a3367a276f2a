package store

import (
	"context"
	"log/slog"

	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
)

// Permissions is the permission catalog. The API can list and create
// permissions but not update or delete them, so neither is offered here.
type Permissions struct {
	c *Collection[rbacsdk.Permission, rbacsdk.PermissionFields]
}

// NewPermissions creates the catalog over api.
func NewPermissions(api Backend[rbacsdk.Permission, rbacsdk.PermissionFields], logger *slog.Logger) *Permissions {
	return &Permissions{c: NewCollection("permissions", api, Hooks[rbacsdk.Permission, rbacsdk.PermissionFields]{
		Normalize: rbacsdk.PermissionFields.Normalize,
	}, logger)}
}

func (p *Permissions) Fetch(ctx context.Context) error { return p.c.Fetch(ctx) }

func (p *Permissions) Create(ctx context.Context, fields rbacsdk.PermissionFields) (rbacsdk.Permission, error) {
	return p.c.Create(ctx, fields)
}

func (p *Permissions) Snapshot() State[rbacsdk.Permission] { return p.c.Snapshot() }

func (p *Permissions) Find(id rbacsdk.ID) (rbacsdk.Permission, bool) { return p.c.Find(id) }

func (p *Permissions) Subscribe(fn func(State[rbacsdk.Permission])) func() { return p.c.Subscribe(fn) }

// Catalog returns the current permission list.
func (p *Permissions) Catalog() []rbacsdk.Permission {
	return p.c.Snapshot().Data
}
