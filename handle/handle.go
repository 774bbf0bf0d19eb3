// Package handle implements generation-checked handles into a table of
// values.
//
// A handle is an (index, generation) pair packed into 64 bits. Releasing
// a slot bumps its generation, so any handle issued before the release
// no longer resolves and Get reports ErrStale rather than returning
// whatever now occupies the slot.
package handle

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ErrStale is returned when a handle refers to a released slot.
var ErrStale = errors.New("stale handle")

// ID is an opaque 64-bit handle. The zero ID is never issued.
type ID uint64

func makeID(index, gen uint32) ID {
	return ID(uint64(gen)<<32 | uint64(index))
}

// Index is the table slot of the handle.
func (id ID) Index() uint32 { return uint32(id) }

// Generation is the slot generation the handle was issued under.
func (id ID) Generation() uint32 { return uint32(id >> 32) }

// IsZero reports whether id is the invalid handle.
func (id ID) IsZero() bool { return id == 0 }

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// MarshalText encodes the handle as a decimal string, which survives
// JSON consumers that only have float64 numbers.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(d []byte) error {
	v, err := ParseID(string(d))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// ParseID parses a decimal handle as produced by String.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	return ID(v), nil
}

type slot[T any] struct {
	gen  uint32
	live bool
	v    T
}

// Table maps IDs to values of type T. It is safe for concurrent use.
type Table[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	free  []uint32
	n     int
}

// Alloc stores v and returns a fresh handle for it.
func (t *Table[T]) Alloc(v T) ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n++
	if k := len(t.free); k > 0 {
		i := t.free[k-1]
		t.free = t.free[:k-1]
		s := &t.slots[i]
		s.live = true
		s.v = v
		return makeID(i, s.gen)
	}
	i := uint32(len(t.slots))
	t.slots = append(t.slots, slot[T]{gen: 1, live: true, v: v})
	return makeID(i, 1)
}

// Get resolves id.
func (t *Table[T]) Get(id ID) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var zero T
	i := id.Index()
	if id.IsZero() || int(i) >= len(t.slots) {
		return zero, fmt.Errorf("%w: %s", ErrStale, id)
	}
	s := &t.slots[i]
	if !s.live || s.gen != id.Generation() {
		return zero, fmt.Errorf("%w: %s", ErrStale, id)
	}
	return s.v, nil
}

// Valid reports whether id currently resolves.
func (t *Table[T]) Valid(id ID) bool {
	_, err := t.Get(id)
	return err == nil
}

// Release frees the slot of id. It reports false if id was already
// stale.
func (t *Table[T]) Release(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := id.Index()
	if id.IsZero() || int(i) >= len(t.slots) {
		return false
	}
	s := &t.slots[i]
	if !s.live || s.gen != id.Generation() {
		return false
	}
	var zero T
	s.v = zero
	s.live = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	t.free = append(t.free, i)
	t.n--
	return true
}

// Len returns the number of live handles.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.n
}
