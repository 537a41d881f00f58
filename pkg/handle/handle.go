// Package handle maps bridge-owned values to opaque integer handles that are
// safe to hand to a host across an FFI boundary.
//
// A handle packs a slot index with the slot's generation. Removing a value
// bumps the generation, so a stale handle held by the host fails lookup
// instead of aliasing whatever reuses the slot.
package handle

import (
	"errors"
	"fmt"
	"sync"
)

// Handle is an opaque reference to a value stored in a Table. The zero
// Handle is never issued.
type Handle uint64

// ErrInvalid is returned for handles that were never issued, were already
// removed, or belong to a reused slot.
var ErrInvalid = errors.New("handle: invalid handle")

func (h Handle) index() uint32 {
	return uint32(h)
}

func (h Handle) generation() uint32 {
	return uint32(h >> 32)
}

// String renders the handle as index.generation for logs.
func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.index(), h.generation())
}

func makeHandle(index uint32, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

type slot[T any] struct {
	generation uint32
	live       bool
	value      T
}

// Table is a generation-checked arena of values. The zero Table is ready to
// use and safe for concurrent use.
type Table[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
	live  int
}

// Insert stores value and returns its handle.
func (t *Table[T]) Insert(value T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var index uint32
	if n := len(t.free); n > 0 {
		index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		index = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{generation: 1})
	}

	s := &t.slots[index]
	s.live = true
	s.value = value
	t.live++

	return makeHandle(index, s.generation)
}

// Get returns the value referenced by h.
func (t *Table[T]) Get(h Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.lookup(h)
	if !ok {
		var zero T
		return zero, ErrInvalid
	}
	return s.value, nil
}

// Remove deletes the value referenced by h and returns it. Any copy of h
// becomes invalid.
func (t *Table[T]) Remove(h Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	s, ok := t.lookup(h)
	if !ok {
		return zero, ErrInvalid
	}

	value := s.value
	s.value = zero
	s.live = false
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	t.free = append(t.free, h.index())
	t.live--

	return value, nil
}

// RemoveAll empties the table and returns the values it held, in slot order.
func (t *Table[T]) RemoveAll() []T {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	values := make([]T, 0, t.live)
	for index := range t.slots {
		s := &t.slots[index]
		if !s.live {
			continue
		}
		values = append(values, s.value)
		s.value = zero
		s.live = false
		s.generation++
		if s.generation == 0 {
			s.generation = 1
		}
		t.free = append(t.free, uint32(index))
	}
	t.live = 0

	return values
}

// Len reports the number of live values.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *Table[T]) lookup(h Handle) (*slot[T], bool) {
	if h == 0 {
		return nil, false
	}
	index := h.index()
	if int(index) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[index]
	if !s.live || s.generation != h.generation() {
		return nil, false
	}
	return s, true
}
