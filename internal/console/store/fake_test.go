package store_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
)

var errBoom = errors.New("connection refused")

// fakeUsers is an in-memory Backend whose calls can be held open with gate.
type fakeUsers struct {
	mu    sync.Mutex
	next  int
	users []rbacsdk.User
	fail  error

	// gate, when set, is called at the start of every request. It blocks
	// until the test lets the request through.
	gate func(op string)
}

func (f *fakeUsers) wait(op string) {
	if f.gate != nil {
		f.gate(op)
	}
}

func (f *fakeUsers) List(ctx context.Context) ([]rbacsdk.User, error) {
	f.mu.Lock()
	out, fail := append([]rbacsdk.User(nil), f.users...), f.fail
	f.mu.Unlock()

	f.wait("list")
	if fail != nil {
		return nil, fail
	}
	return out, nil
}

func (f *fakeUsers) Create(ctx context.Context, fields rbacsdk.UserFields) (rbacsdk.User, error) {
	f.wait("create")

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return rbacsdk.User{}, f.fail
	}
	f.next++
	u := rbacsdk.User{ID: rbacsdk.ID(strconv.Itoa(100 + f.next)), Name: fields.Name, Email: fields.Email, Role: fields.Role, Status: fields.Status}
	f.users = append(f.users, u)
	return u, nil
}

func (f *fakeUsers) Update(ctx context.Context, id rbacsdk.ID, fields rbacsdk.UserFields) (rbacsdk.User, error) {
	f.wait("update")

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return rbacsdk.User{}, f.fail
	}
	u := rbacsdk.User{ID: id, Name: fields.Name, Email: fields.Email, Role: fields.Role, Status: fields.Status}
	for i := range f.users {
		if f.users[i].ID == id {
			f.users[i] = u
		}
	}
	return u, nil
}

func (f *fakeUsers) Delete(ctx context.Context, id rbacsdk.ID) (rbacsdk.ID, error) {
	f.wait("delete")

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	return id, nil
}

// holder parks the first request of one kind until release is closed.
// Later requests of that kind go straight through.
type holder struct {
	op      string
	taken   atomic.Bool
	started chan struct{}
	release chan struct{}
}

func newHolder(op string) *holder {
	return &holder{op: op, started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (h *holder) gate(op string) {
	if op != h.op || !h.taken.CompareAndSwap(false, true) {
		return
	}
	h.started <- struct{}{}
	<-h.release
}

// fakePermissions answers with fixed ids.
type fakePermissions struct {
	nextID int
	perms  []rbacsdk.Permission
}

func (f *fakePermissions) List(context.Context) ([]rbacsdk.Permission, error) {
	return append([]rbacsdk.Permission(nil), f.perms...), nil
}

func (f *fakePermissions) Create(_ context.Context, fields rbacsdk.PermissionFields) (rbacsdk.Permission, error) {
	p := rbacsdk.Permission{ID: rbacsdk.ID(strconv.Itoa(f.nextID)), Name: fields.Name}
	f.nextID++
	f.perms = append(f.perms, p)
	return p, nil
}

func (f *fakePermissions) Update(context.Context, rbacsdk.ID, rbacsdk.PermissionFields) (rbacsdk.Permission, error) {
	return rbacsdk.Permission{}, rbacsdk.ErrUnsupported
}

func (f *fakePermissions) Delete(context.Context, rbacsdk.ID) (rbacsdk.ID, error) {
	return "", rbacsdk.ErrUnsupported
}
