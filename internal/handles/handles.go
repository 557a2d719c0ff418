// Package handles provides an arena of resource slots addressed by small integer handles.
//
// Released slots are reused. A handle carries the generation of its slot, so a stale
// handle resolves to ErrClosed instead of aliasing the newer resource in the same slot.
package handles

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalid is returned for a handle that was never issued by the table.
	ErrInvalid = errors.New("invalid handle")

	// ErrClosed is returned for a handle whose slot was already released.
	ErrClosed = errors.New("handle already closed")
)

// Handle identifies a slot. Zero is never issued.
// The low indexBits hold the slot index plus one and the rest hold its generation.
type Handle = uint32

const (
	indexBits     = 20
	indexMask     = 1<<indexBits - 1
	maxSlots      = indexMask
	maxGeneration = 1<<(32-indexBits) - 1
)

type slot[T any] struct {
	value T
	gen   uint32
	live  bool
}

// Table is a concurrency-safe arena of values of type T.
type Table[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
	live  int
}

// NewTable creates an empty Table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{}
}

// Insert stores v in a free slot and returns its handle.
// It panics when every slot is live or retired.
func (t *Table[T]) Insert(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if len(t.slots) >= maxSlots {
			panic("handles: table exhausted")
		}
		t.slots = append(t.slots, slot[T]{})
		idx = uint32(len(t.slots) - 1) //nolint:gosec // G115: bounded by maxSlots
	}

	s := &t.slots[idx]
	s.value = v
	s.live = true
	t.live++
	return s.gen<<indexBits | (idx + 1)
}

// Get returns the value stored under h.
func (t *Table[T]) Get(h Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookup(h)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.value, nil
}

// Remove releases the slot for h and returns the value it held.
// Releasing the same handle twice returns ErrClosed.
func (t *Table[T]) Remove(h Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	s, err := t.lookup(h)
	if err != nil {
		return zero, err
	}
	v := s.value
	t.release(h&indexMask - 1)
	return v, nil
}

// Drain releases every live slot and returns the values in slot order.
func (t *Table[T]) Drain() []T {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]T, 0, t.live)
	for i := range t.slots {
		if !t.slots[i].live {
			continue
		}
		out = append(out, t.slots[i].value)
		t.release(uint32(i)) //nolint:gosec // G115: bounded by maxSlots
	}
	return out
}

// Len returns the number of live slots.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// release frees the slot at idx. A slot whose generation is exhausted is retired
// instead of reused.
func (t *Table[T]) release(idx uint32) {
	var zero T
	s := &t.slots[idx]
	s.value = zero
	s.live = false
	t.live--
	if s.gen == maxGeneration {
		return
	}
	s.gen++
	t.free = append(t.free, idx)
}

func (t *Table[T]) lookup(h Handle) (*slot[T], error) {
	idx := h & indexMask
	if idx == 0 || int(idx) > len(t.slots) {
		return nil, fmt.Errorf("%w: %d", ErrInvalid, h)
	}
	s := &t.slots[idx-1]
	gen := h >> indexBits
	switch {
	case gen > s.gen:
		return nil, fmt.Errorf("%w: %d", ErrInvalid, h)
	case gen < s.gen || !s.live:
		return nil, fmt.Errorf("%w: %d", ErrClosed, h)
	}
	return s, nil
}
