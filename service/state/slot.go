// Package state provides sequence-gated value slots for overlapping
// asynchronous fetches. When a user action supersedes an in-flight fetch
// (switching token pairs before a cost estimate resolves, refreshing an
// escrow while a refresh is pending), the stale completion must not
// overwrite the newer result. Each fetch takes a monotonic sequence token
// at issue time; a completion is applied only if its token is still the
// latest issued for that slot.
package state

import "sync"

// Slot holds the latest value of one reactive resource.
type Slot[T any] struct {
	mu      sync.Mutex
	issued  uint64
	applied uint64
	value   T
	set     bool
}

// Begin issues a sequence token for a fetch that is about to start.
func (s *Slot[T]) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// Complete applies the fetched value if seq is the latest token issued.
// It reports whether the value was applied; a false return means a newer
// fetch superseded this one and the result was discarded.
func (s *Slot[T]) Complete(seq uint64, v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.issued || seq < s.applied {
		return false
	}
	s.applied = seq
	s.value = v
	s.set = true
	return true
}

// Get returns the current value and whether any completion has applied.
func (s *Slot[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set
}

// Table keys independent slots by resource identity (escrow address, mint
// pair). Slots are created on first use and never share intermediate
// state.
type Table[T any] struct {
	mu    sync.Mutex
	slots map[string]*Slot[T]
}

// NewTable creates an empty slot table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{slots: make(map[string]*Slot[T])}
}

func (t *Table[T]) slot(key string) *Slot[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[key]
	if !ok {
		s = &Slot[T]{}
		t.slots[key] = s
	}
	return s
}

// Begin issues a sequence token for the given key.
func (t *Table[T]) Begin(key string) uint64 {
	return t.slot(key).Begin()
}

// Complete applies a fetched value for the key if seq is still current.
func (t *Table[T]) Complete(key string, seq uint64, v T) bool {
	return t.slot(key).Complete(seq, v)
}

// Get returns the current value for the key.
func (t *Table[T]) Get(key string) (T, bool) {
	return t.slot(key).Get()
}
