package store_test

import (
	"context"
	"testing"

	"github.com/aussiebroadwan/rbacadmin/internal/console/store"
	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
	"github.com/aussiebroadwan/rbacadmin/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func seedUsers() []rbacsdk.User {
	return []rbacsdk.User{
		{ID: "1", Name: "A", Email: "a@example.com", Role: "Admin", Status: rbacsdk.StatusActive},
		{ID: "2", Name: "B", Email: "b@example.com", Role: "Viewer", Status: rbacsdk.StatusActive},
		{ID: "3", Name: "C", Email: "c@example.com", Role: "Editor", Status: rbacsdk.StatusInactive},
	}
}

func loadedUsers(t *testing.T, api *fakeUsers) *store.Users {
	t.Helper()

	users := store.NewUsers(api, slogx.Discard())
	require.NoError(t, users.Fetch(context.Background()))
	return users
}

func TestNewCollectionIsIdle(t *testing.T) {
	t.Parallel()

	s := store.NewUsers(&fakeUsers{}, slogx.Discard()).Snapshot()
	require.Equal(t, store.StatusIdle, s.Status)
	require.NotNil(t, s.Data)
	require.Empty(t, s.Data)
}

func TestFetch(t *testing.T) {
	t.Parallel()

	t.Run("success replaces data", func(t *testing.T) {
		t.Parallel()

		api := &fakeUsers{users: seedUsers()}
		users := loadedUsers(t, api)
		require.Len(t, users.Snapshot().Data, 3)

		api.users = []rbacsdk.User{{ID: "9", Name: "Z", Email: "z@example.com", Role: "Admin", Status: rbacsdk.StatusActive}}
		require.NoError(t, users.Fetch(context.Background()))

		s := users.Snapshot()
		require.Equal(t, store.StatusSucceeded, s.Status)
		require.Equal(t, api.users, s.Data)
		require.Empty(t, s.Error)
	})

	t.Run("failure keeps data", func(t *testing.T) {
		t.Parallel()

		api := &fakeUsers{users: seedUsers()}
		users := loadedUsers(t, api)
		before := users.Snapshot().Data

		api.fail = errBoom
		err := users.Fetch(context.Background())
		require.ErrorIs(t, err, errBoom)

		s := users.Snapshot()
		require.Equal(t, store.StatusFailed, s.Status)
		require.NotEmpty(t, s.Error)
		require.Equal(t, before, s.Data)

		// Retrying is just fetching again.
		api.fail = nil
		require.NoError(t, users.Fetch(context.Background()))
		require.Equal(t, store.StatusSucceeded, users.Snapshot().Status)
	})
}

func TestCreate(t *testing.T) {
	t.Parallel()

	api := &fakeUsers{users: seedUsers()}
	users := loadedUsers(t, api)
	before := users.Snapshot().Data

	u, err := users.Create(context.Background(), rbacsdk.UserFields{
		Name: " D ", Email: "d@example.com", Role: "Viewer", Status: "Active",
	})
	require.NoError(t, err)
	require.Equal(t, "D", u.Name, "fields are trimmed before sending")
	require.Equal(t, rbacsdk.StatusActive, u.Status)

	after := users.Snapshot().Data
	require.Len(t, after, len(before)+1)
	require.Equal(t, before, after[:len(before)])
	require.Equal(t, u, after[len(after)-1])
}

func TestCreateValidationBlocksDispatch(t *testing.T) {
	t.Parallel()

	calls := 0
	api := &fakeUsers{users: seedUsers(), gate: func(op string) {
		if op == "create" {
			calls++
		}
	}}
	users := loadedUsers(t, api)

	_, err := users.Create(context.Background(), rbacsdk.UserFields{Name: "  ", Email: "nope"})

	var verr *rbacsdk.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "name")
	require.Contains(t, verr.Fields, "email")
	require.Contains(t, verr.Fields, "role")
	require.Zero(t, calls)
	require.Equal(t, store.StatusSucceeded, users.Snapshot().Status, "validation is not a store failure")
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	t.Run("known id replaces only that entity", func(t *testing.T) {
		t.Parallel()

		users := loadedUsers(t, &fakeUsers{users: seedUsers()})
		before := users.Snapshot().Data

		fields := before[1].Fields()
		fields.Name = "Bee"
		_, err := users.Update(context.Background(), "2", fields)
		require.NoError(t, err)

		after := users.Snapshot().Data
		require.Len(t, after, 3)
		require.Equal(t, before[0], after[0])
		require.Equal(t, "Bee", after[1].Name)
		require.Equal(t, before[2], after[2])
	})

	t.Run("unknown id leaves the collection alone", func(t *testing.T) {
		t.Parallel()

		users := loadedUsers(t, &fakeUsers{users: seedUsers()})
		before := users.Snapshot()

		_, err := users.Update(context.Background(), "42", seedUsers()[0].Fields())
		require.ErrorIs(t, err, store.ErrNotFoundOnUpdate)

		after := users.Snapshot()
		require.Equal(t, before.Data, after.Data)
		require.Equal(t, store.StatusSucceeded, after.Status)
	})

	t.Run("server failure is recorded", func(t *testing.T) {
		t.Parallel()

		api := &fakeUsers{users: seedUsers()}
		users := loadedUsers(t, api)
		api.fail = &rbacsdk.APIError{StatusCode: 500, Code: "server_error", Message: "boom"}

		_, err := users.Update(context.Background(), "1", seedUsers()[0].Fields())
		var apiErr *rbacsdk.APIError
		require.ErrorAs(t, err, &apiErr)

		s := users.Snapshot()
		require.Equal(t, store.StatusFailed, s.Status)
		require.Contains(t, s.Error, "boom")
		require.Equal(t, seedUsers(), s.Data)
	})
}

func TestDelete(t *testing.T) {
	t.Parallel()

	t.Run("known id", func(t *testing.T) {
		t.Parallel()

		users := loadedUsers(t, &fakeUsers{users: seedUsers()})

		id, err := users.Delete(context.Background(), "2")
		require.NoError(t, err)
		require.Equal(t, rbacsdk.ID("2"), id)

		data := users.Snapshot().Data
		require.Len(t, data, 2)
		_, found := users.Find("2")
		require.False(t, found)
	})

	t.Run("unknown id is a no-op", func(t *testing.T) {
		t.Parallel()

		users := loadedUsers(t, &fakeUsers{users: seedUsers()})

		_, err := users.Delete(context.Background(), "42")
		require.NoError(t, err)
		require.Equal(t, seedUsers(), users.Snapshot().Data)
	})
}

func TestSetStatusScenario(t *testing.T) {
	t.Parallel()

	api := &fakeUsers{users: []rbacsdk.User{
		{ID: "1", Name: "A", Email: "a@example.com", Role: "Admin", Status: rbacsdk.StatusActive},
	}}
	users := loadedUsers(t, api)

	_, err := users.SetStatus(context.Background(), "1", rbacsdk.StatusInactive)
	require.NoError(t, err)

	require.Equal(t, []rbacsdk.User{
		{ID: "1", Name: "A", Email: "a@example.com", Role: "Admin", Status: rbacsdk.StatusInactive},
	}, users.Snapshot().Data)
	require.Zero(t, users.ActiveCount())

	_, err = users.SetStatus(context.Background(), "2", rbacsdk.StatusInactive)
	require.ErrorIs(t, err, store.ErrNotFoundOnUpdate)
}

func TestAddPermissionScenario(t *testing.T) {
	t.Parallel()

	perms := store.NewPermissions(&fakePermissions{nextID: 7}, slogx.Discard())
	require.NoError(t, perms.Fetch(context.Background()))
	require.Empty(t, perms.Snapshot().Data)

	_, err := perms.Create(context.Background(), rbacsdk.PermissionFields{Name: "edit"})
	require.NoError(t, err)

	require.Equal(t, []rbacsdk.Permission{{ID: "7", Name: "edit"}}, perms.Snapshot().Data)
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	t.Parallel()

	h := newHolder("list")
	api := &fakeUsers{users: seedUsers()}
	users := loadedUsers(t, api)
	api.gate = h.gate

	fetchErr := make(chan error, 1)
	go func() { fetchErr <- users.Fetch(context.Background()) }()
	<-h.started

	// Issued after the fetch, applied before it.
	_, err := users.SetStatus(context.Background(), "1", rbacsdk.StatusInactive)
	require.NoError(t, err)
	require.Equal(t, store.StatusLoading, users.Snapshot().Status, "fetch still in flight")

	close(h.release)
	require.ErrorIs(t, <-fetchErr, store.ErrStale)

	s := users.Snapshot()
	require.Equal(t, store.StatusSucceeded, s.Status)
	u, _ := users.Find("1")
	require.Equal(t, rbacsdk.StatusInactive, u.Status, "the older fetch must not undo the update")
}

func TestMutationOvertakenByFetchIsDiscarded(t *testing.T) {
	t.Parallel()

	h := newHolder("update")
	api := &fakeUsers{users: seedUsers()}
	users := loadedUsers(t, api)
	api.gate = h.gate

	fields := seedUsers()[0].Fields()
	fields.Name = "Late"

	updateErr := make(chan error, 1)
	go func() {
		_, err := users.Update(context.Background(), "1", fields)
		updateErr <- err
	}()
	<-h.started

	require.NoError(t, users.Fetch(context.Background()))

	close(h.release)
	require.ErrorIs(t, <-updateErr, store.ErrStale)

	u, _ := users.Find("1")
	require.Equal(t, "A", u.Name)
}

func TestLaterIssuedUpdateWins(t *testing.T) {
	t.Parallel()

	h := newHolder("update")
	api := &fakeUsers{users: seedUsers()}
	users := loadedUsers(t, api)
	api.gate = h.gate

	first := seedUsers()[0].Fields()
	first.Name = "First"
	second := seedUsers()[0].Fields()
	second.Name = "Second"

	firstErr := make(chan error, 1)
	go func() {
		_, err := users.Update(context.Background(), "1", first)
		firstErr <- err
	}()
	<-h.started

	_, err := users.Update(context.Background(), "1", second)
	require.NoError(t, err)

	close(h.release)
	require.ErrorIs(t, <-firstErr, store.ErrStale)

	u, _ := users.Find("1")
	require.Equal(t, "Second", u.Name)
}

func TestStaleFailureIsNotRecorded(t *testing.T) {
	t.Parallel()

	h := newHolder("update")
	api := &fakeUsers{users: seedUsers()}
	users := loadedUsers(t, api)
	api.gate = h.gate

	updateErr := make(chan error, 1)
	go func() {
		_, err := users.Update(context.Background(), "1", seedUsers()[0].Fields())
		updateErr <- err
	}()
	<-h.started

	require.NoError(t, users.Fetch(context.Background()))

	api.mu.Lock()
	api.fail = errBoom
	api.mu.Unlock()
	close(h.release)

	require.ErrorIs(t, <-updateErr, errBoom)
	require.Equal(t, store.StatusSucceeded, users.Snapshot().Status)
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	users := store.NewUsers(&fakeUsers{users: seedUsers()}, slogx.Discard())

	var seen []store.Status
	cancel := users.Subscribe(func(s store.State[rbacsdk.User]) {
		seen = append(seen, s.Status)
	})

	require.NoError(t, users.Fetch(context.Background()))
	require.Equal(t, []store.Status{store.StatusLoading, store.StatusSucceeded}, seen)

	cancel()
	require.NoError(t, users.Fetch(context.Background()))
	require.Len(t, seen, 2)
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	users := loadedUsers(t, &fakeUsers{users: seedUsers()})
	s := users.Snapshot()
	s.Data[0].Name = "mutated"

	u, _ := users.Find("1")
	require.Equal(t, "A", u.Name)
}
