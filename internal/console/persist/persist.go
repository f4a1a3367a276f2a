// Package persist holds the console's durable session record: whether the
// operator is logged in, who they are, and a sealed refresh token. It is the
// only state that survives a restart.
package persist

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultKey is the fixed key the record lives under.
const DefaultKey = "rbacadmin:session"

// ErrNotFound means no record has been saved under the key.
var ErrNotFound = errors.New("persist: no session record")

// Record is the durable session record. RefreshToken is sealed by the
// session manager before it gets here.
type Record struct {
	Authenticated bool      `json:"authenticated"`
	SessionID     string    `json:"session_id"`
	Subject       string    `json:"subject"`
	Username      string    `json:"username"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store loads and saves the record. Implementations must be safe for
// concurrent use.
type Store interface {
	// Load returns ErrNotFound when nothing has been saved.
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, r Record) error
	// Clear removes the record. Clearing an absent record is not an error.
	Clear(ctx context.Context) error
	Close() error
}

// Memory keeps the record in process. It is what tests and the
// RBAC_SESSION_DRIVER=memory setting use.
type Memory struct {
	mu  sync.Mutex
	rec *Record
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(context.Context) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rec == nil {
		return Record{}, ErrNotFound
	}
	return *m.rec, nil
}

func (m *Memory) Save(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = &r
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = nil
	return nil
}

func (m *Memory) Close() error { return nil }
