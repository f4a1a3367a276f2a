package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aussiebroadwan/rbacadmin/pkg/rbacsdk"
)

var (
	// ErrStale is returned when a response arrived after a newer one had
	// already been applied. The response was dropped; the collection did not
	// change.
	ErrStale = errors.New("store: stale response discarded")

	// ErrNotFoundOnUpdate is returned when the server confirmed an update for
	// an entity the collection does not hold. The collection is unchanged.
	ErrNotFoundOnUpdate = errors.New("store: updated entity not in collection")
)

// Entity is anything with a server-assigned id.
type Entity interface {
	EntityID() rbacsdk.ID
}

// Backend is the remote half of a collection. The rbacsdk resource APIs
// satisfy it.
type Backend[T Entity, F any] interface {
	List(ctx context.Context) ([]T, error)
	Create(ctx context.Context, fields F) (T, error)
	Update(ctx context.Context, id rbacsdk.ID, fields F) (T, error)
	Delete(ctx context.Context, id rbacsdk.ID) (rbacsdk.ID, error)
}

// Hooks adapt a Collection to its entity type. Nil hooks are identity
// functions.
type Hooks[T Entity, F any] struct {
	// Normalize cleans command fields before validation.
	Normalize func(F) F
	// Canon rewrites every entity arriving from the server.
	Canon func(T) T
	// Clone deep-copies an entity for snapshots.
	Clone func(T) T
}

// Collection is the local copy of one remote collection plus its fetch
// status.
//
// Every command takes a sequence number when it is issued. A fetch response
// is dropped if anything issued after it has already been applied; a mutation
// response is dropped if a later fetch, or a later mutation of the same
// entity, has been applied. Network calls run without holding the lock.
type Collection[T Entity, F any] struct {
	name   string
	api    Backend[T, F]
	hooks  Hooks[T, F]
	logger *slog.Logger

	mu        sync.RWMutex
	state     State[T]
	issued    uint64
	applied   uint64
	lastFetch uint64
	entitySeq map[rbacsdk.ID]uint64
	fetching  int

	subs subscribers[State[T]]
}

// NewCollection creates an idle, empty collection.
func NewCollection[T Entity, F any](name string, api Backend[T, F], hooks Hooks[T, F], logger *slog.Logger) *Collection[T, F] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collection[T, F]{
		name:      name,
		api:       api,
		hooks:     hooks,
		logger:    logger.With("store", name),
		state:     State[T]{Data: []T{}, Status: StatusIdle},
		entitySeq: make(map[rbacsdk.ID]uint64),
	}
}

// Name is the collection name used in logs.
func (c *Collection[T, F]) Name() string { return c.name }

// Snapshot returns a deep copy of the current state.
func (c *Collection[T, F]) Snapshot() State[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Collection[T, F]) snapshotLocked() State[T] {
	s := c.state
	s.Data = make([]T, len(c.state.Data))
	for i, v := range c.state.Data {
		s.Data[i] = c.clone(v)
	}
	return s
}

// Find returns a copy of the entity with id.
func (c *Collection[T, F]) Find(id rbacsdk.ID) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i := c.indexLocked(id); i >= 0 {
		return c.clone(c.state.Data[i]), true
	}
	var zero T
	return zero, false
}

// Subscribe registers fn to receive the state after every change. fn runs
// outside the collection lock and must not block for long.
func (c *Collection[T, F]) Subscribe(fn func(State[T])) (cancel func()) {
	return c.subs.add(fn)
}

// Fetch replaces the collection with the server's list. On failure the data
// is kept and the error recorded.
func (c *Collection[T, F]) Fetch(ctx context.Context) error {
	c.mu.Lock()
	seq := c.issueLocked()
	c.fetching++
	c.state.Status = StatusLoading
	c.state.Error = ""
	c.mu.Unlock()
	c.notify()

	items, err := c.api.List(ctx)

	c.mu.Lock()
	c.fetching--
	stale := seq < c.applied
	switch {
	case stale:
		if c.fetching == 0 && c.state.Status == StatusLoading {
			c.state.Status = StatusSucceeded
		}
	case err != nil:
		c.failLocked(err)
	default:
		data := make([]T, 0, len(items))
		for _, v := range items {
			data = append(data, c.canon(v))
		}
		c.state.Data = data
		c.state.Seq = seq
		c.applied = seq
		c.lastFetch = seq
		clear(c.entitySeq)
		c.succeedLocked()
	}
	applied := c.applied
	c.mu.Unlock()
	c.notify()

	if err != nil {
		return err
	}
	if stale {
		c.logger.Debug("discarded stale response", "op", "fetch", "seq", seq, "applied", applied)
		return ErrStale
	}
	return nil
}

// Create validates fields, creates the entity on the server and appends it.
// Invalid fields return a *rbacsdk.ValidationError and nothing is sent.
func (c *Collection[T, F]) Create(ctx context.Context, fields F) (T, error) {
	var zero T

	fields = c.normalize(fields)
	if err := rbacsdk.Validate(fields); err != nil {
		return zero, err
	}

	seq := c.begin()
	v, err := c.api.Create(ctx, fields)

	c.mu.Lock()
	if c.settleLocked(seq, "", err) {
		c.mu.Unlock()
		c.notify()
		return zero, err
	}
	if c.staleMutationLocked(seq, v.EntityID()) {
		c.mu.Unlock()
		c.discarded("create", seq, v.EntityID())
		return v, ErrStale
	}

	v = c.canon(v)
	c.state.Data = append(c.state.Data, v)
	c.markAppliedLocked(seq, v.EntityID())
	c.succeedLocked()
	c.mu.Unlock()
	c.notify()

	return c.clone(v), nil
}

// Update replaces the entity with id by the server's answer, keeping its
// position. If the collection does not hold id the server call still
// happened but ErrNotFoundOnUpdate is returned and nothing changes locally.
func (c *Collection[T, F]) Update(ctx context.Context, id rbacsdk.ID, fields F) (T, error) {
	var zero T

	fields = c.normalize(fields)
	if err := rbacsdk.Validate(fields); err != nil {
		return zero, err
	}

	seq := c.begin()
	v, err := c.api.Update(ctx, id, fields)

	c.mu.Lock()
	if c.settleLocked(seq, id, err) {
		c.mu.Unlock()
		c.notify()
		return zero, err
	}
	if c.staleMutationLocked(seq, id) {
		c.mu.Unlock()
		c.discarded("update", seq, id)
		return v, ErrStale
	}

	v = c.canon(v)
	c.succeedLocked()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		c.notify()
		return v, fmt.Errorf("%w: %s %s", ErrNotFoundOnUpdate, c.name, id)
	}
	c.state.Data[i] = v
	c.markAppliedLocked(seq, id)
	c.mu.Unlock()
	c.notify()

	return c.clone(v), nil
}

// Delete removes id on the server and then locally. An id the collection
// does not hold is not an error.
func (c *Collection[T, F]) Delete(ctx context.Context, id rbacsdk.ID) (rbacsdk.ID, error) {
	seq := c.begin()
	deleted, err := c.api.Delete(ctx, id)

	c.mu.Lock()
	if c.settleLocked(seq, id, err) {
		c.mu.Unlock()
		c.notify()
		return "", err
	}
	if c.staleMutationLocked(seq, id) {
		c.mu.Unlock()
		c.discarded("delete", seq, id)
		return deleted, ErrStale
	}

	if i := c.indexLocked(id); i >= 0 {
		c.state.Data = slices.Delete(c.state.Data, i, i+1)
	}
	c.markAppliedLocked(seq, id)
	c.succeedLocked()
	c.mu.Unlock()
	c.notify()

	return id, nil
}

// modify runs a server call that changes one entity in a way the Backend
// contract does not cover, then applies patch to the local copy. patch sees
// the confirmed local state at the time the response is applied.
func (c *Collection[T, F]) modify(ctx context.Context, op string, id rbacsdk.ID, call func(context.Context) error, patch func(T) T) (T, error) {
	var zero T

	seq := c.begin()
	err := call(ctx)

	c.mu.Lock()
	if c.settleLocked(seq, id, err) {
		c.mu.Unlock()
		c.notify()
		return zero, err
	}
	if c.staleMutationLocked(seq, id) {
		c.mu.Unlock()
		c.discarded(op, seq, id)
		return zero, ErrStale
	}

	c.succeedLocked()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		c.notify()
		return zero, fmt.Errorf("%w: %s %s", ErrNotFoundOnUpdate, c.name, id)
	}
	v := c.canon(patch(c.clone(c.state.Data[i])))
	c.state.Data[i] = v
	c.markAppliedLocked(seq, id)
	c.mu.Unlock()
	c.notify()

	return c.clone(v), nil
}

// rewrite applies fn to every entity without a server round trip. It is for
// representation fixes (filling in names from a catalog), not state changes.
func (c *Collection[T, F]) rewrite(fn func(T) T) {
	c.mu.Lock()
	for i, v := range c.state.Data {
		c.state.Data[i] = fn(v)
	}
	c.mu.Unlock()
	c.notify()
}

// ============================================================================
// Sequencing
// ============================================================================

func (c *Collection[T, F]) issueLocked() uint64 {
	c.issued++
	return c.issued
}

func (c *Collection[T, F]) begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.issueLocked()
}

func (c *Collection[T, F]) staleMutationLocked(seq uint64, id rbacsdk.ID) bool {
	if seq < c.lastFetch {
		return true
	}
	return !id.IsZero() && seq < c.entitySeq[id]
}

func (c *Collection[T, F]) markAppliedLocked(seq uint64, id rbacsdk.ID) {
	c.applied = max(c.applied, seq)
	c.state.Seq = c.applied
	if !id.IsZero() {
		c.entitySeq[id] = seq
	}
}

// settleLocked records a failed mutation and reports whether err was set.
// Failures that a newer response has overtaken are returned to the caller
// but not recorded.
func (c *Collection[T, F]) settleLocked(seq uint64, id rbacsdk.ID, err error) bool {
	if err == nil {
		return false
	}
	if !c.staleMutationLocked(seq, id) {
		c.failLocked(err)
	}
	return true
}

func (c *Collection[T, F]) failLocked(err error) {
	msg := err.Error()
	if msg == "" {
		msg = "request failed"
	}
	c.state.Status = StatusFailed
	c.state.Error = msg
}

// succeedLocked marks the collection succeeded unless a fetch is still in
// flight, in which case it stays loading.
func (c *Collection[T, F]) succeedLocked() {
	if c.fetching > 0 {
		return
	}
	c.state.Status = StatusSucceeded
	c.state.Error = ""
}

func (c *Collection[T, F]) discarded(op string, seq uint64, id rbacsdk.ID) {
	c.logger.Debug("discarded stale response", "op", op, "seq", seq, "id", id)
}

// ============================================================================
// Helpers
// ============================================================================

func (c *Collection[T, F]) indexLocked(id rbacsdk.ID) int {
	return slices.IndexFunc(c.state.Data, func(v T) bool { return v.EntityID() == id })
}

func (c *Collection[T, F]) normalize(f F) F {
	if c.hooks.Normalize == nil {
		return f
	}
	return c.hooks.Normalize(f)
}

func (c *Collection[T, F]) canon(v T) T {
	if c.hooks.Canon == nil {
		return v
	}
	return c.hooks.Canon(v)
}

func (c *Collection[T, F]) clone(v T) T {
	if c.hooks.Clone == nil {
		return v
	}
	return c.hooks.Clone(v)
}

func (c *Collection[T, F]) notify() {
	c.subs.publish(c.Snapshot)
}
