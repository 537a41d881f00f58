package record

import (
	"errors"
	"sync"
)

// ErrUnknownAllocation is returned when releasing memory the ledger never
// handed out, or already took back.
var ErrUnknownAllocation = errors.New("record: unknown allocation")

// Allocator produces host-visible copies of strings.
type Allocator[P comparable] interface {
	Alloc(s string) P
	Free(p P)
}

// Ledger tracks strings transferred to the host until the host releases
// them. Release of an untracked pointer is refused rather than freed twice.
type Ledger[P comparable] struct {
	alloc Allocator[P]

	mu   sync.Mutex
	live map[P]struct{}
}

func NewLedger[P comparable](alloc Allocator[P]) *Ledger[P] {
	return &Ledger[P]{
		alloc: alloc,
		live:  make(map[P]struct{}),
	}
}

// Transfer allocates a host copy of s and records it as outstanding.
func (l *Ledger[P]) Transfer(s string) P {
	p := l.alloc.Alloc(s)

	l.mu.Lock()
	l.live[p] = struct{}{}
	l.mu.Unlock()

	return p
}

// Release frees p if it is outstanding.
func (l *Ledger[P]) Release(p P) error {
	l.mu.Lock()
	_, ok := l.live[p]
	delete(l.live, p)
	l.mu.Unlock()

	if !ok {
		return ErrUnknownAllocation
	}
	l.alloc.Free(p)
	return nil
}

// Outstanding reports how many transferred strings the host still holds.
func (l *Ledger[P]) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}
