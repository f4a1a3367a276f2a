package store

import "sync"

// Status is where a collection is in its fetch lifecycle.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// State is a copy of a collection at one point in time. Error is set
// whenever Status is StatusFailed. Seq is the sequence number of the last
// applied response.
type State[T any] struct {
	Data   []T
	Status Status
	Error  string
	Seq    uint64
}

// subscribers fans state changes out to listeners. publish calls are
// serialised so listeners never see an older state after a newer one.
type subscribers[S any] struct {
	mu   sync.Mutex
	pub  sync.Mutex
	next int
	fns  map[int]func(S)
}

func (s *subscribers[S]) add(fn func(S)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fns == nil {
		s.fns = make(map[int]func(S))
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *subscribers[S]) publish(snapshot func() S) {
	s.pub.Lock()
	defer s.pub.Unlock()

	s.mu.Lock()
	if len(s.fns) == 0 {
		s.mu.Unlock()
		return
	}
	fns := make([]func(S), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	state := snapshot()
	for _, fn := range fns {
		fn(state)
	}
}
