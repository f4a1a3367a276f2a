package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
)

// Users is the user collection.
type Users struct {
	*Collection[rbacsdk.User, rbacsdk.UserFields]
}

// NewUsers creates the user collection over api.
func NewUsers(api Backend[rbacsdk.User, rbacsdk.UserFields], logger *slog.Logger) *Users {
	return &Users{NewCollection("users", api, Hooks[rbacsdk.User, rbacsdk.UserFields]{
		Normalize: rbacsdk.UserFields.Normalize,
	}, logger)}
}

// SetStatus sends a full update of user id with only the status changed.
func (u *Users) SetStatus(ctx context.Context, id rbacsdk.ID, status rbacsdk.Status) (rbacsdk.User, error) {
	user, ok := u.Find(id)
	if !ok {
		return rbacsdk.User{}, fmt.Errorf("%w: users %s", ErrNotFoundOnUpdate, id)
	}

	fields := user.Fields()
	fields.Status = status
	return u.Update(ctx, id, fields)
}

// ActiveCount is the number of users whose status is active.
func (u *Users) ActiveCount() int {
	n := 0
	for _, user := range u.Snapshot().Data {
		if user.Status == rbacsdk.StatusActive {
			n++
		}
	}
	return n
}
